package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/cultiva-erp/cultiva-erp/internal/codes"
	"github.com/cultiva-erp/cultiva-erp/internal/ledger"
	"github.com/cultiva-erp/cultiva-erp/internal/observability"
	"github.com/cultiva-erp/cultiva-erp/internal/reporting"
	"github.com/cultiva-erp/cultiva-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	LedgerHandler    *ledger.Handler
	CodesHandler     *codes.Handler
	ReportingHandler *reporting.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with Cultiva defaults. Everything
// under /api requires a bearer token; /healthz and /metrics stay open
// for probes and scrapers.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		if params.Config != nil && params.Config.APITokenHash != "" {
			api.Use(BearerAuth(params.Logger, params.Config.APITokenHash))
		}
		if params.LedgerHandler != nil {
			api.Route("/ledger", params.LedgerHandler.MountRoutes)
		}
		if params.CodesHandler != nil {
			api.Route("/codes", params.CodesHandler.MountRoutes)
		}
		if params.ReportingHandler != nil {
			api.Route("/reports", params.ReportingHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			api.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
