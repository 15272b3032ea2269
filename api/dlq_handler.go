package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/id"
)

func (a *API) listDLQ(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := intQuery(query, "limit", 100)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	req := ListDLQRequest{Queue: query.Get("queue"), Cursor: query.Get("cursor"), Limit: limit}
	if err := a.validate.Struct(&req); err != nil {
		a.writeError(w, r, err)
		return
	}

	entries, next, err := a.eng.DLQService().List(r.Context(), dlq.ListOpts{
		Queue:  req.Queue,
		Cursor: req.Cursor,
		Limit:  req.Limit,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*dlq.Entry{}
	}
	writeJSON(w, http.StatusOK, DLQListResponse{Entries: entries, NextCursor: next})
}

func (a *API) getDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := dlqEntryID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	entry, err := a.eng.DLQService().Get(r.Context(), entryID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) replayDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := dlqEntryID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	j, err := a.eng.Replay(r.Context(), entryID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

// purgeDLQ removes entries older than the older_than duration.
func (a *API) purgeDLQ(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("older_than")
	if raw == "" {
		a.writeError(w, r, fmt.Errorf("%w: older_than is required", errInvalidRequest))
		return
	}
	olderThan, err := time.ParseDuration(raw)
	if err != nil || olderThan < 0 {
		a.writeError(w, r, fmt.Errorf("%w: older_than must be a non-negative duration", errInvalidRequest))
		return
	}

	n, err := a.eng.DLQService().Purge(r.Context(), olderThan)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.logger.Info("dlq purged", slog.Int64("purged", n), slog.Duration("older_than", olderThan))
	writeJSON(w, http.StatusOK, PurgeDLQResponse{Purged: n})
}

func dlqEntryID(r *http.Request) (id.DLQID, error) {
	s, err := pathParam(r, "entryId")
	if err != nil {
		return id.Nil, err
	}
	entryID, err := id.ParseDLQID(s)
	if err != nil {
		return id.Nil, fmt.Errorf("%w: invalid DLQ entry ID: %w", errInvalidRequest, err)
	}
	return entryID, nil
}
