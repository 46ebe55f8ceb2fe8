package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"signalwatch/internal/cache"
	"signalwatch/internal/config"
	"signalwatch/internal/events"
	"signalwatch/internal/logging"
	"signalwatch/internal/metrics"
	"signalwatch/internal/storage"
)

// BreakerReporter exposes the remote classifier's circuit state.
type BreakerReporter interface {
	BreakerState() string
}

type Deps struct {
	Config  *config.Manager
	Events  *events.Service
	Store   storage.Store
	Cache   cache.Cache
	Metrics *metrics.Metrics
	// Remote is nil when the service runs on the fallback classifier only.
	Remote  BreakerReporter
	Logger  *slog.Logger
	Version string
}

type Server struct {
	cfg     *config.Manager
	events  *events.Service
	store   storage.Store
	cache   cache.Cache
	metrics *metrics.Metrics
	remote  BreakerReporter
	logger  *slog.Logger
	version string
	started time.Time
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.Config == nil {
		d.Config = config.NewStaticManager(config.DefaultConfig())
	}
	if d.Cache == nil {
		d.Cache = cache.Nop{}
	}
	return &Server{
		cfg:     d.Config,
		events:  d.Events,
		store:   d.Store,
		cache:   d.Cache,
		metrics: d.Metrics,
		remote:  d.Remote,
		logger:  d.Logger,
		version: d.Version,
		started: time.Now().UTC(),
	}
}

// Handler returns the routed API wrapped in its middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", s.metrics.Handler())

	mux.HandleFunc("POST /api/watch-lists", s.handleCreateWatchList)
	mux.HandleFunc("GET /api/watch-lists", s.handleListWatchLists)
	mux.HandleFunc("GET /api/watch-lists/{id}", s.handleGetWatchList)
	mux.HandleFunc("DELETE /api/watch-lists/{id}", s.handleDeleteWatchList)

	mux.HandleFunc("POST /api/events", s.handleCreateEvent)
	mux.HandleFunc("GET /api/events", s.handleListEvents)
	mux.HandleFunc("GET /api/events/{id}", s.handleGetEvent)

	mux.HandleFunc("/", s.handleNotFound)

	cfg := s.cfg.Get().API
	var h http.Handler = mux
	h = s.recoverPanics(h)
	h = s.logRequests(h)
	h = cors(cfg.FrontendURL, h)
	h = correlate(h)
	return h
}

// Start serves the API until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) *http.Server {
	cfg := s.cfg.Get().API
	s.logger.Info("api listening", "addr", cfg.Addr)
	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("api server error", "err", err)
		}
	}()
	return httpServer
}
