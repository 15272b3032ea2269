package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/courier/job"
)

func (a *API) createJob(w http.ResponseWriter, r *http.Request) {
	q, err := pathParam(r, "queue")
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	var req CreateJobRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		a.writeError(w, r, fmt.Errorf("%w: %w", errInvalidRequest, err))
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		a.writeError(w, r, err)
		return
	}

	opts, err := req.options()
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	j, err := a.eng.Create(r.Context(), q, req.Body, opts...)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	q, err := pathParam(r, "queue")
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	query := r.URL.Query()
	limit, err := intQuery(query, "limit", 100)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	req := ListJobsRequest{State: query.Get("state"), Cursor: query.Get("cursor"), Limit: limit}
	if err := a.validate.Struct(&req); err != nil {
		a.writeError(w, r, err)
		return
	}

	jobs, next, err := a.eng.List(r.Context(), job.ListOpts{
		Queue:  q,
		State:  job.State(req.State),
		Cursor: req.Cursor,
		Limit:  req.Limit,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	writeJSON(w, http.StatusOK, JobListResponse{Jobs: jobs, NextCursor: next})
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	q, jobID, err := jobKey(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	j, err := a.eng.Get(r.Context(), q, jobID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (a *API) deleteJob(w http.ResponseWriter, r *http.Request) {
	q, jobID, err := jobKey(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	if err := a.eng.Delete(r.Context(), q, jobID); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func jobKey(r *http.Request) (string, string, error) {
	q, err := pathParam(r, "queue")
	if err != nil {
		return "", "", err
	}
	jobID, err := pathParam(r, "jobId")
	if err != nil {
		return "", "", err
	}
	return q, jobID, nil
}

// pathParam returns the decoded value of a route parameter. chi matches on
// the escaped path whenever the request carries one.
func pathParam(r *http.Request, name string) (string, error) {
	v := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return v, nil
	}
	s, err := url.PathUnescape(v)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", errInvalidRequest, name, err)
	}
	return s, nil
}

func intQuery(q url.Values, name string, def int) (int, error) {
	s := q.Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", errInvalidRequest, name, err)
	}
	return n, nil
}
