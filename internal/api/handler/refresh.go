package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/meshgen/internal/api/response"
	"github.com/kiranshivaraju/meshgen/internal/reconcile"
)

type refreshItem struct {
	jobResponse
	ProviderStatus string `json:"provider_status,omitempty"`
	Expired        bool   `json:"expired"`
	Error          string `json:"error,omitempty"`
}

// NewRefreshHandler returns an http.HandlerFunc for POST /api/v1/jobs/refresh,
// sweeping the caller's open jobs.
func NewRefreshHandler(rec Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := requireOwner(w, r)
		if !ok {
			return
		}
		results, err := rec.RefreshOwner(detach(r), owner)
		writeSweep(w, results, err)
	}
}

// NewRefreshAllHandler returns an http.HandlerFunc for
// POST /api/v1/admin/jobs/refresh, sweeping every owner.
func NewRefreshAllHandler(rec Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results, err := rec.RefreshAll(detach(r))
		writeSweep(w, results, err)
	}
}

func writeSweep(w http.ResponseWriter, results []reconcile.RefreshResult, err error) {
	if err != nil {
		if errors.Is(err, reconcile.ErrRefreshInProgress) {
			response.Error(w, http.StatusConflict, "REFRESH_IN_PROGRESS",
				"A refresh for this scope is already running", nil)
			return
		}
		slog.Error("refresh sweep", "error", err)
		internalError(w)
		return
	}

	items := make([]refreshItem, 0, len(results))
	meta := response.SweepMeta{Total: len(results)}
	for _, res := range results {
		item := refreshItem{
			jobResponse:    toJobResponse(res.Job),
			ProviderStatus: res.ProviderStatus,
			Expired:        res.Expired,
		}
		if res.Expired {
			meta.Expired++
		} else {
			meta.Polled++
		}
		if res.Err != nil {
			item.Error = res.Err.Error()
			meta.Failed++
		}
		items = append(items, item)
	}

	response.Collection(w, items, meta)
}
