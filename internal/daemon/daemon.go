package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/agenda-it/agenda/internal/api"
	"github.com/agenda-it/agenda/internal/app/agent"
	"github.com/agenda-it/agenda/internal/app/ledger"
	"github.com/agenda-it/agenda/internal/domain"
	"github.com/agenda-it/agenda/internal/infra/gemini"
	"github.com/agenda-it/agenda/internal/infra/observability"
	"github.com/agenda-it/agenda/internal/infra/sqlite"
)

// Daemon owns every long-lived component of a running Agenda process.
type Daemon struct {
	Config  Config
	DB      *sqlite.DB
	Store   *ledger.Store
	Session *agent.Session // nil when no agent API key is configured
	Tracer  *observability.Tracer
}

// New opens the ledger and connects the Gemini gateway. A missing API key
// is not fatal: the ledger is served without the agent endpoints.
func New(ctx context.Context, cfg Config) (*Daemon, error) {
	var gw domain.Gateway
	g, err := gemini.New(ctx, gemini.Config{
		APIKey:      cfg.Agent.APIKey(),
		Model:       cfg.Agent.Model,
		Temperature: cfg.Agent.Temperature,
	})
	if err != nil {
		log.Printf("[daemon] agent disabled: %v", err)
	} else {
		log.Printf("[daemon] agent gateway %s", g)
		gw = g
	}
	return NewWithGateway(ctx, cfg, gw)
}

// NewWithGateway is New with an explicit gateway. gw may be nil.
func NewWithGateway(ctx context.Context, cfg Config, gw domain.Gateway) (*Daemon, error) {
	db, err := sqlite.Open(cfg.Storage.Dir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	store := ledger.New(db)
	if err := store.Open(ctx); err != nil {
		db.Close()
		return nil, err
	}

	d := &Daemon{
		Config: cfg,
		DB:     db,
		Store:  store,
		Tracer: observability.NewTracer(observability.DefaultTracerConfig()),
	}
	if gw != nil {
		d.Session = agent.New(agent.Config{Timeout: cfg.Agent.TimeoutDuration()}, gw, store, d.Tracer)
	}
	return d, nil
}

// Handler builds the HTTP API over the daemon's components.
func (d *Daemon) Handler() http.Handler {
	srv := api.NewServer(d.Store)
	srv.SetTracer(d.Tracer)
	if d.Session != nil {
		srv.SetSession(d.Session)
	}
	if d.Config.Metrics.Enabled {
		srv.EnableMetrics()
	}
	return srv.Handler()
}

// Serve listens on the configured address until ctx is cancelled, then
// shuts down gracefully.
func (d *Daemon) Serve(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              d.Config.API.Addr(),
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[daemon] listening on http://%s", httpSrv.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Printf("[daemon] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// Close releases the database.
func (d *Daemon) Close() error {
	if d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
