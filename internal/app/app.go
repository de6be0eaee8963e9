// Package app wires all scribe subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens the session archive and
// builds the transcriber from config, Run serves the HTTP API (and follows
// config changes when a watcher is attached), and Shutdown archives active
// sessions and tears everything down in order.
//
// For testing, inject implementations via functional options
// (WithSessionStore, WithTranscriber, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/scribe/internal/batch"
	"github.com/MrWong99/scribe/internal/config"
	"github.com/MrWong99/scribe/internal/diarize"
	"github.com/MrWong99/scribe/internal/health"
	"github.com/MrWong99/scribe/internal/observe"
	"github.com/MrWong99/scribe/internal/transcriber"
	"github.com/MrWong99/scribe/internal/transcript"
	"github.com/MrWong99/scribe/pkg/memory"
	"github.com/MrWong99/scribe/pkg/memory/postgres"
	"github.com/MrWong99/scribe/pkg/memory/sqlite"
)

// ErrBatchRootRequired is returned by the HTTP batch endpoint when unit paths
// would be read from anywhere on the host because batch.root is unset.
var ErrBatchRootRequired = errors.New("app: batch requests need batch.root to be configured")

// shutdownGrace bounds how long Run waits for in-flight requests after its
// context is cancelled.
const shutdownGrace = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	watcher   *config.Watcher
	providers *Providers

	store       memory.SessionStore
	transcriber batch.Transcriber
	// hostPaths is set when the transcriber reads unit paths from the host
	// filesystem without a batch.root.
	hostPaths bool
	telemetry   *observe.Telemetry
	metrics     *observe.Metrics
	sessions    *SessionManager
	handler     http.Handler
	checkers    []health.Checker

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSessionStore injects a session archive instead of opening one from
// config. The injected store is not closed by Shutdown.
func WithSessionStore(s memory.SessionStore) Option {
	return func(a *App) { a.store = s }
}

// WithTranscriber injects the batch transcriber instead of building one from
// config and providers.
func WithTranscriber(t batch.Transcriber) Option {
	return func(a *App) { a.transcriber = t }
}

// WithTelemetry attaches initialised telemetry. Metrics are recorded through
// its meter provider, /metrics serves its registry, and Shutdown flushes it.
func WithTelemetry(t *observe.Telemetry) Option {
	return func(a *App) { a.telemetry = t }
}

// WithWatcher makes the app read the current config from w on every request
// and batch, so hot-reloadable settings apply without a restart. Run keeps
// the watcher polling.
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// WithCheckers adds readiness checks to /readyz.
func WithCheckers(checkers ...health.Checker) Option {
	return func(a *App) { a.checkers = append(a.checkers, checkers...) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (see [BuildProviders]) and may be nil when no provider
// is configured.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Metrics ───────────────────────────────────────────────────────
	if err := a.initMetrics(); err != nil {
		return nil, fmt.Errorf("app: init metrics: %w", err)
	}

	// ── 2. Session archive ───────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 3. Transcriber ───────────────────────────────────────────────────
	if err := a.initTranscriber(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init transcriber: %w", err)
	}

	// ── 4. Sessions ──────────────────────────────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		Store:          a.store,
		SessionOptions: a.sessionOptions,
		Metrics:        a.metrics,
	})

	// ── 5. HTTP handler ──────────────────────────────────────────────────
	a.handler = a.buildHandler()

	slog.Info("app initialised",
		"store", a.config().Store.Driver,
		"source", a.config().Batch.Source,
		"llm", a.providers.LLMName,
		"stt", a.providers.STTName,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initMetrics() error {
	if a.telemetry == nil {
		a.metrics = observe.DefaultMetrics()
		return nil
	}
	m, err := observe.NewMetrics(a.telemetry.MeterProvider())
	if err != nil {
		return err
	}
	a.metrics = m
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.telemetry.Shutdown(ctx)
	})
	return nil
}

// initStore opens the configured session archive unless one was injected.
// The "memory" driver is an in-process SQLite database that lives as long as
// the app.
func (a *App) initStore(ctx context.Context) error {
	if a.store == nil {
		sc := a.config().Store
		var err error
		switch sc.Driver {
		case config.StorePostgres:
			a.store, err = postgres.NewStore(ctx, sc.DSN, postgres.WithMaxConns(sc.MaxConns))
		case config.StoreSQLite:
			a.store, err = sqlite.Open(ctx, sc.DSN)
		default:
			a.store, err = sqlite.Open(ctx, sqlite.MemoryPath)
		}
		if err != nil {
			return err
		}
		a.closers = append(a.closers, a.store.Close)
	}

	if p, ok := a.store.(health.Pinger); ok {
		a.checkers = append(a.checkers, health.Ping("store", p))
	}
	return nil
}

// initTranscriber builds the batch transcriber for batch.source unless one
// was injected.
func (a *App) initTranscriber() error {
	a.checkers = append(a.checkers, a.providers.checkers()...)
	if a.transcriber != nil {
		return nil
	}

	bc := a.config().Batch
	var fsys fs.FS
	if bc.Root != "" {
		fsys = os.DirFS(bc.Root)
	}
	a.hostPaths = fsys == nil

	if bc.Source != config.SourceAudio {
		a.transcriber = transcriber.NewTextFiles(fsys)
		return nil
	}

	if a.providers.STT == nil {
		return errors.New("batch source audio requires an stt provider")
	}
	opts := []transcriber.AudioOption{
		transcriber.WithLanguage(bc.Language),
		transcriber.WithMetrics(a.metrics),
		transcriber.WithProviderName(a.providers.STTName),
	}
	if fsys != nil {
		opts = append(opts, transcriber.WithOpener(func(path string) (io.ReadCloser, error) {
			return fsys.Open(path)
		}))
	}
	if a.providers.LLM != nil {
		opts = append(opts, transcriber.WithDiarizer(diarize.New(a.providers.LLM,
			diarize.WithMetrics(a.metrics),
			diarize.WithProviderName(a.providers.LLMName),
		)))
	}
	a.transcriber = transcriber.NewAudio(a.providers.STT, opts...)
	return nil
}

func (a *App) buildHandler() http.Handler {
	mux := http.NewServeMux()
	a.registerRoutes(mux)
	health.New(a.checkers...).Register(mux)
	if a.telemetry != nil {
		mux.Handle("GET /metrics", a.telemetry.Handler())
	}
	return observe.Middleware(a.metrics)(mux)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// config returns the current configuration. With a watcher attached it is
// the latest valid reload.
func (a *App) config() *config.Config {
	if a.watcher != nil {
		return a.watcher.Current()
	}
	return a.cfg
}

// sessionOptions builds the seed registry options from the current config.
func (a *App) sessionOptions() []transcript.SessionOption {
	return []transcript.SessionOption{transcript.WithRegistryOptions(a.config().Transcript.RegistryOptions()...)}
}

// newController returns a batch controller bound to the current config.
// progress may be nil.
func (a *App) newController(progress batch.ProgressFunc) *batch.Controller {
	opts := []batch.Option{
		batch.WithOptions(func() transcript.Options { return a.config().Transcript.Options() }),
		batch.WithUnitTimeout(a.config().Batch.UnitTimeout),
		batch.WithMetrics(a.metrics),
	}
	if progress != nil {
		opts = append(opts, batch.WithProgress(progress))
	}
	return batch.New(a.transcriber, opts...)
}

// Handler returns the HTTP handler serving the API, health, and metrics
// endpoints.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the per-note session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Store returns the session archive.
func (a *App) Store() memory.SessionStore { return a.store }

// RunBatch processes units against the active session of noteID, creating
// one when needed. progress may be nil.
func (a *App) RunBatch(ctx context.Context, noteID string, units []batch.Unit, progress batch.ProgressFunc) (batch.Report, string, error) {
	sess, release, err := a.sessions.Acquire(ctx, noteID)
	if err != nil {
		return batch.Report{}, "", err
	}
	defer release()
	ctx = observe.WithSession(ctx, noteID, sess.ID())
	return a.newController(progress).Run(ctx, sess, units), sess.ID(), nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API on server.listen_addr until ctx is cancelled or
// the server fails. In-flight requests get a grace period to finish.
func (a *App) Run(ctx context.Context) error {
	sc := a.config().Server
	srv := &http.Server{
		Addr:              sc.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", sc.ListenAddr, "tls", sc.TLS != nil)
		var err error
		if sc.TLS != nil {
			err = srv.ListenAndServeTLS(sc.TLS.CertFile, sc.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: http server: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if a.watcher != nil {
		g.Go(func() error {
			return a.watcher.Run(gctx)
		})
	}

	err := g.Wait()
	if err == nil || errors.Is(err, context.Canceled) {
		return ctx.Err()
	}
	return err
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown archives active sessions and releases every resource New
// acquired. It is safe to call more than once; only the first call acts.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", len(a.sessions.List()), "closers", len(a.closers))

		if err := a.sessions.Shutdown(ctx); err != nil {
			slog.Warn("archiving sessions failed", "err", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = errors.Join(shutdownErr, ctx.Err())
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers collected so far; used when New fails midway.
func (a *App) closeAll() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "err", err)
		}
	}
	a.closers = nil
}
