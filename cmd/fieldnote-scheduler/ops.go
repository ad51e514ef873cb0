package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fieldnote/fieldnote/pkg/allocation"
	"github.com/fieldnote/fieldnote/pkg/httputil"
	"github.com/fieldnote/fieldnote/pkg/jobs"
	"github.com/fieldnote/fieldnote/pkg/observability"
	"github.com/fieldnote/fieldnote/pkg/schema"
)

// runner is the part of allocation.Poller the ops server drives
type runner interface {
	RunOnce(ctx context.Context) (allocation.RunSummary, error)
}

type jobStatus struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
}

// newOpsHandler serves health probes, metrics and job controls.
// gatherer may be nil when metrics are disabled.
func newOpsHandler(
	registry *jobs.Registry,
	poller runner,
	checker *observability.HealthChecker,
	gatherer prometheus.Gatherer,
	logger *observability.Logger,
) http.Handler {
	router := mux.NewRouter()

	observability.RegisterHealthRoutes(router, checker)
	if gatherer != nil {
		router.Handle("/metrics", observability.Handler(gatherer)).Methods(http.MethodGet)
	}

	router.HandleFunc("/jobs", func(w http.ResponseWriter, r *http.Request) {
		names := registry.Names()
		statuses := make([]jobStatus, 0, len(names))
		for _, name := range names {
			statuses = append(statuses, jobStatus{Name: name, Running: registry.Running(name)})
		}
		httputil.WriteSuccess(w, map[string]interface{}{"jobs": statuses})
	}).Methods(http.MethodGet)

	router.HandleFunc("/jobs/push/run", func(w http.ResponseWriter, r *http.Request) {
		summary, err := poller.RunOnce(r.Context())
		if errors.Is(err, allocation.ErrRunInProgress) {
			httputil.WriteErrorMessage(w, http.StatusConflict, "push run already in progress")
			return
		}
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Error("Manual push run failed")
			httputil.WriteInternalError(w)
			return
		}
		httputil.WriteSuccess(w, summary)
	}).Methods(http.MethodPost)

	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
	)
	return otelhttp.NewHandler(chain(router), "fieldnote-ops")
}

// schemaCheck fails while migrations are pending; run fieldnote migrate or
// start with -migrate
func schemaCheck(db *sql.DB) observability.CheckFunc {
	return func(ctx context.Context) error {
		pending, err := schema.Pending(ctx, db)
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			return fmt.Errorf("%d migrations pending, first is %d", len(pending), pending[0].Version)
		}
		return nil
	}
}

// pushJobCheck degrades readiness while the push job is neither pending nor
// running; the watchdog re-arms it on its next check
func pushJobCheck(registry *jobs.Registry) observability.CheckFunc {
	return func(context.Context) error {
		if !registry.Exists(allocation.JobName) {
			return errors.New("push job is not scheduled")
		}
		return nil
	}
}
