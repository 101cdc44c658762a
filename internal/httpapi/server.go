package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/you/recurse-review/internal/core"
	"github.com/you/recurse-review/internal/pipeline"
)

// Store is the read side plus the by-name journey write.
type Store interface {
	ListPersons(ctx context.Context, filters Filters) ([]core.Person, error)
	CountPersons(ctx context.Context, filters Filters) (int64, error)
	GetPersonByName(ctx context.Context, name string) (*core.Person, error)
	GetPersonBySlug(ctx context.Context, slug string) (*core.Person, error)
	UpdateJourneyByName(ctx context.Context, name, payload string) (core.Person, error)
}

// Generator runs one journey generation.
type Generator interface {
	GenerateJourneyForPerson(ctx context.Context, name string) (pipeline.Result, error)
}

type Options struct {
	Addr        string
	Build       BuildInfo
	CORSOrigins []string
	RateRPS     int
	RateBurst   int
	// TrustProxy keys rate limits on X-Forwarded-For.
	TrustProxy bool
	AccessLog  bool
	// GenerateTimeout bounds one generation run. Zero means no bound.
	GenerateTimeout time.Duration
	// Config returns the redacted configuration served on /config.
	Config func() any
	// Admin registers extra routes on the same mux.
	Admin   func(*http.ServeMux)
	Metrics *Metrics
}

type Server struct {
	httpServer *http.Server
	store      Store
	gen        Generator
	opts       Options
	metrics    *Metrics
	limiter    *limiter
	cors       *corsPolicy
	pages      *pages
	mux        *http.ServeMux
	inflight   singleflight.Group

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	ch        chan core.JourneyEvent
	transport string
}

func New(store Store, gen Generator, opts Options) *Server {
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	srv := &Server{
		store:   store,
		gen:     gen,
		opts:    opts,
		metrics: opts.Metrics,
		limiter: newLimiter(opts.RateRPS, opts.RateBurst, opts.TrustProxy),
		cors:    newCORSPolicy(opts.CORSOrigins),
		pages:   mustParsePages(),
		clients: make(map[*client]struct{}),
	}

	mux := http.NewServeMux()
	srv.handle(mux, "/healthz", "healthz", srv.handleHealthz, false)
	srv.handle(mux, "/info", "info", srv.handleInfo, false)
	srv.handle(mux, "/config", "config", srv.handleConfig, false)
	mux.Handle("/metrics", srv.metrics.Handler())

	srv.handle(mux, "/api/recursers", "recursers", srv.handleRecursers, true)
	srv.handle(mux, "/api/db", "db", srv.handleDB, true)
	srv.handle(mux, "/api/journey", "journey", srv.handleJourney, true)
	srv.handle(mux, "/api/generate-journey", "generate", srv.handleGenerate, true)
	srv.handle(mux, "/stream", "stream", srv.handleStream, true)
	srv.handle(mux, "/ws", "ws", srv.handleWS, true)

	srv.handle(mux, "GET /p/{slug}", "profile", srv.handleProfile, true)
	srv.handle(mux, "GET /{$}", "index", srv.handleIndex, true)

	if opts.Admin != nil {
		opts.Admin(mux)
	}
	srv.mux = mux

	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv
}

// Handler exposes the routed mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Metrics returns the collectors shared with the pipeline.
func (s *Server) Metrics() *Metrics { return s.metrics }

// handle wraps h with CORS, rate limiting, compression, metrics and the
// access log.
func (s *Server) handle(mux *http.ServeMux, pattern, route string, h http.HandlerFunc, limited bool) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := newStatusRecorder(w)
		defer func() {
			dur := time.Since(start)
			s.metrics.ObserveRequest(route, r.Method, rec.Status(), dur)
			if s.opts.AccessLog {
				log.Printf("http: %s %s route=%s status=%d bytes=%d dur=%s", r.Method, r.URL.Path, route, rec.Status(), rec.Bytes(), dur.Round(time.Millisecond))
			}
		}()

		if !s.cors.check(rec, r) {
			return
		}
		if limited {
			if ok, wait := s.limiter.allow(r, start); !ok {
				s.metrics.IncThrottled()
				rec.Header().Set("Retry-After", retryAfterSeconds(wait))
				writeError(rec, http.StatusTooManyRequests, "rate limited")
				return
			}
		}
		if release := compress(rec, r); release != nil {
			defer release()
		}
		h(rec, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Config == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Config())
}

// Broadcast fans ev out to live clients. Clients whose buffer is full miss it.
func (s *Server) Broadcast(ev core.JourneyEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.clients {
		select {
		case c.ch <- ev:
		default:
			s.metrics.LiveEvent(c.transport, false)
		}
	}
}

func (s *Server) subscribe(transport string) (*client, bool) {
	c := &client{ch: make(chan core.JourneyEvent, 64), transport: transport}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	s.clients[c] = struct{}{}
	return c, true
}

func (s *Server) unsubscribe(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) Start() error {
	log.Printf("http api listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for c := range s.clients {
		close(c.ch)
		delete(s.clients, c)
	}
	s.mu.Unlock()
	return s.httpServer.Shutdown(ctx)
}

