package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/iron-manus/jarvis"
	"github.com/iron-manus/jarvis/pkg/auth"
	"github.com/iron-manus/jarvis/pkg/config"
	"github.com/iron-manus/jarvis/pkg/endpoints"
	"github.com/iron-manus/jarvis/pkg/endpoints/provider"
	"github.com/iron-manus/jarvis/pkg/fsm"
	"github.com/iron-manus/jarvis/pkg/graph"
	"github.com/iron-manus/jarvis/pkg/httpclient"
	"github.com/iron-manus/jarvis/pkg/knowledge"
	"github.com/iron-manus/jarvis/pkg/observability"
	"github.com/iron-manus/jarvis/pkg/prompt"
	"github.com/iron-manus/jarvis/pkg/session"
	"github.com/iron-manus/jarvis/pkg/urlguard"
)

// Transport names accepted by Options.Transport.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Options select how one server run behaves beyond what configuration
// already decides.
type Options struct {
	// Transport is stdio (default) or http.
	Transport string
	// WatchRegistry reloads the endpoint registry when the provider signals
	// a document change.
	WatchRegistry bool
}

// Server owns every component of one Iron Manus instance and the transport
// it is served over.
type Server struct {
	cfg  *config.Config
	opts Options

	obs       *observability.Manager
	provider  provider.Provider
	registry  *endpoints.Registry
	store     *session.Store
	fetcher   *httpclient.Client
	knowledge *knowledge.Orchestrator
	prompts   *prompt.Assembler
	ctrl      *fsm.Controller
	validator *auth.Validator
	mcp       *mcpserver.MCPServer

	watchStop context.CancelFunc
	watchDone chan struct{}
}

// New builds a fully wired server. The context bounds startup work such as
// the initial registry load and the JWKS fetch; it does not bound the
// server's lifetime.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	switch opts.Transport {
	case "":
		opts.Transport = TransportStdio
	case TransportStdio, TransportHTTP:
	default:
		return nil, fmt.Errorf("unknown transport %q", opts.Transport)
	}

	obs := observability.New(cfg.Observability, jarvis.Version)
	if err := obs.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting observability: %w", err)
	}

	s := &Server{cfg: cfg, opts: opts, obs: obs}
	if err := s.initialize(ctx); err != nil {
		_ = s.Close(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Server) initialize(ctx context.Context) error {
	p, err := provider.New(s.cfg.Registry)
	if err != nil {
		return fmt.Errorf("building registry provider: %w", err)
	}
	s.provider = p

	registry, err := endpoints.Load(ctx, p)
	if err != nil {
		return err
	}
	s.registry = registry

	backend, err := graph.New(s.cfg.Graph)
	if err != nil {
		return fmt.Errorf("opening session graph: %w", err)
	}
	recorder := s.obs.Recorder()
	s.store = session.NewStore(backend,
		session.WithObserver(recorder),
		session.WithTracer(s.obs.Tracer("jarvis/session")),
		session.WithInitialEffectiveness(s.cfg.Reasoning.InitialEffectiveness),
	)

	guard := urlguard.New(s.cfg.Security, s.cfg.Runtime.IsProduction())
	s.fetcher = httpclient.New(s.cfg, guard, httpclient.WithTransport(s.obs.WrapTransport(nil)))
	s.knowledge = knowledge.New(s.cfg, registry, s.fetcher)
	s.prompts = prompt.New(s.cfg.Runtime.SessionWorkspaceRoot,
		prompt.WithTokenRecorder(recorder.RecordPromptTokens))
	s.ctrl = fsm.New(s.cfg, s.store, s.knowledge, s.prompts,
		fsm.WithObserver(recorder),
		fsm.WithTracer(s.obs.Tracer("jarvis/fsm")),
	)

	validator, err := auth.NewFromConfig(ctx, s.cfg.Auth)
	if err != nil {
		return fmt.Errorf("configuring auth: %w", err)
	}
	s.validator = validator

	s.mcp = s.buildMCPServer()

	if s.opts.WatchRegistry {
		s.startWatch()
	}

	slog.Info("Server initialized",
		"transport", s.opts.Transport,
		"registry_provider", p.Type(),
		"endpoints", registry.Len(),
		"graph_backend", s.cfg.Graph.Backend,
		"auth", s.validator != nil,
	)
	return nil
}

// startWatch reloads the registry in the background until Close. Providers
// without change detection log once and stop.
func (s *Server) startWatch() {
	ctx, cancel := context.WithCancel(context.Background())
	s.watchStop = cancel
	s.watchDone = make(chan struct{})
	go func() {
		defer close(s.watchDone)
		err := s.registry.Watch(ctx, s.provider)
		switch {
		case err == nil, errors.Is(err, context.Canceled):
		case errors.Is(err, provider.ErrWatchUnsupported):
			slog.Warn("Registry watching not supported", "provider", s.provider.Type())
		default:
			slog.Error("Registry watch stopped", "error", err)
		}
	}()
}

// Run serves the configured transport until ctx is cancelled. It returns
// once the transport has stopped; resources are released by Close.
func (s *Server) Run(ctx context.Context) error {
	switch s.opts.Transport {
	case TransportHTTP:
		return s.runHTTP(ctx)
	default:
		return s.runStdio(ctx)
	}
}

func (s *Server) runStdio(ctx context.Context) error {
	slog.Info("Serving MCP over stdio", "version", jarvis.Version)
	stdio := mcpserver.NewStdioServer(s.mcp)
	err := stdio.Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("stdio transport: %w", err)
	}
	return nil
}

// Close releases everything New acquired: the registry watcher, the session
// store (which drains pending persists into the graph), the provider, and
// the observability pipelines. Safe to call after a failed New.
func (s *Server) Close(ctx context.Context) error {
	var errs []error
	if s.watchStop != nil {
		s.watchStop()
		<-s.watchDone
	}
	if s.store != nil {
		if err := s.store.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing session store: %w", err))
		}
	}
	if s.provider != nil {
		if err := s.provider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing registry provider: %w", err))
		}
	}
	if s.obs != nil {
		if err := s.obs.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down observability: %w", err))
		}
	}
	return errors.Join(errs...)
}
