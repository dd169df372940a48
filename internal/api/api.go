// Package api provides HTTP handlers and the main API server logic for SchedulePipe.
//
// It exposes RESTful endpoints for computing scheduled activities, applying
// participant lifecycle updates, and publishing activity events. The API
// integrates with the scheduler engine and store modules.
package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/OpenCohort/SchedulePipe/internal/scheduler"
	"github.com/OpenCohort/SchedulePipe/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string // listen address, e.g. ":8080"
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the API server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// Server routes HTTP requests to the scheduler engine and the store.
type Server struct {
	store store.Store
	svc   *scheduler.Service
	addr  string
}

// NewServer creates an API server over the given store and scheduler service.
func NewServer(st store.Store, svc *scheduler.Service, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{store: st, svc: svc, addr: cfg.Addr}
}

// Handler returns the server's route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/activities", s.activitiesHandler)
	mux.HandleFunc("/v1/events", s.eventsHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Serve listens on the configured address until the listener fails.
func (s *Server) Serve() error {
	slog.Info("SchedulePipe API running", "addr", s.addr)
	return http.ListenAndServe(s.addr, s.Handler())
}

// Run builds the store, scheduler service, and API server from module options
// and serves until failure.
func Run(storeOpts []store.Option, schedOpts []scheduler.Option, apiOpts []Option) error {
	var storeCfg store.Opts
	for _, opt := range storeOpts {
		opt(&storeCfg)
	}

	var (
		st  store.Store
		err error
	)
	switch {
	case storeCfg.DSN == "":
		slog.Info("No database DSN configured, using in-memory store")
		st = store.NewInMemoryStore()
	case store.DetectDSNType(storeCfg.DSN) == "postgres":
		st, err = store.NewPostgresStore(storeOpts...)
	default:
		st, err = store.NewSQLiteStore(storeOpts...)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	svc := scheduler.NewService(st, st, st, st, schedOpts...)
	return NewServer(st, svc, apiOpts...).Serve()
}
