package api

import (
	"net/http"

	"github.com/xraph/courier/cluster"
)

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (a *API) listWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := a.eng.Workers(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if workers == nil {
		workers = []*cluster.Worker{}
	}
	writeJSON(w, http.StatusOK, WorkerListResponse{Workers: workers})
}
