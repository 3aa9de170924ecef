// Package server wires together every component of the agent runtime
// (spec.md §2 "SYSTEM OVERVIEW") into one process: the Model Adapter, MCP
// Client Pool, Tool Dispatcher, Compactor, Reasoning Loop, UI Event
// Writer, Session Registry, Rate Limiter, and Local MCP Server, behind the
// HTTP surface in internal/api. Grounded on the teacher's
// server.buildServer: one function building every collaborator in
// dependency order and handing the finished bundle to NewRouter.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/aggregatorclient"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/api"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/api/handlers"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/auth"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/catalogclient"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/compactor"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/config"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/dispatcher"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/localmcp"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/mcppool"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/modeladapter"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/observability"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/ratelimit"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/reasoning"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/sessionregistry"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/store"
	"github.com/browseros-ai/BrowserOS-agent-sub003/internal/telemetry"
	"github.com/browseros-ai/BrowserOS-agent-sub003/pkg/models"
	"github.com/rs/zerolog/log"
)

// defaultContextWindow bounds compaction when a conversation's own
// Config.ContextWindow isn't threaded into the shared, process-wide Loop
// instance; per-conversation overrides would require a Loop per session.
const defaultContextWindow = 200000

// Server is the fully wired agent runtime, ready for http.Server to serve
// Handler on Port.
type Server struct {
	Handler http.Handler
	Port    int

	// ShutdownRequested closes when a client calls POST /shutdown, so
	// main.go can select on it alongside OS signals.
	ShutdownRequested chan struct{}

	store            *store.Store
	catalogClient    *catalogclient.Client
	localMCPStore    *localmcp.Store
	telemetryStop    func(context.Context) error
	cancelBackground context.CancelFunc
}

// New loads configuration from the environment and builds the Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig builds the Server from an explicit configuration, mainly
// so tests can override env-derived defaults.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	bgCtx, cancelBackground := context.WithCancel(ctx)

	telemetryStop, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		cancelBackground()
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	st, err := store.Open(cfg.RateLimit.DBPath)
	if err != nil {
		cancelBackground()
		return nil, fmt.Errorf("open rate limit store: %w", err)
	}

	catalogClient := catalogclient.New(cfg.RateLimit.CatalogServiceURL, cfg.RateLimit.DefaultDailyLimit)
	catalogClient.Start(bgCtx)

	limiter := ratelimit.New(st, catalogClient, cfg.RateLimit.Environment, cfg.RateLimit.DevBypassLimit)

	errorReporter := observability.NewErrorReporter(cfg.Observability.ErrorReportingDSN)
	analyticsSink := observability.NewAnalyticsSink(cfg.Observability.AnalyticsEndpoint, cfg.Observability.AnalyticsKey)

	probeCache := mcppool.NewProbeCache()
	sessions := sessionregistry.New()
	modelRegistry := modeladapter.NewRegistry()

	toolTimeout, err := time.ParseDuration(cfg.Dispatcher.ToolCallTimeout)
	if err != nil {
		toolTimeout = 60 * time.Second
	}
	disp := dispatcher.New(toolTimeout, errorReporter)

	loop := reasoning.New(modelRegistry, disp, reasoning.Config{
		MaxTurns:      cfg.ReasoningLoop.MaxTurns,
		ContextWindow: defaultContextWindow,
		Compactor: compactor.Config{
			MaxToolOutputChars:    cfg.Compactor.MaxToolOutputChars,
			CompactionThreshold:   cfg.Compactor.CompactionThreshold,
			CharsPerTokenEstimate: cfg.Compactor.CharsPerTokenEstimate,
		},
	})

	localStore := localmcp.NewStore(localmcp.DefaultStateTTL)
	extensionBridge := localmcp.NewExtensionBridge()
	localMCP := localmcp.New(localStore, extensionBridge, cfg.RelaxMCPLocalhost)
	go localStore.Start(bgCtx, localmcp.DefaultSweepInterval)

	localMCPSpec := models.MCPServerSpec{
		Source: models.MCPSourceLocal,
		URL:    cfg.MCP.LocalServerURL,
	}

	providerChain := auth.NewProviderChain()
	providerChain.RegisterProvider(auth.NewAPIKeyProvider())

	var aggregator mcppool.AggregatorClient
	if cfg.MCP.AggregatorURL != "" {
		reListInterval, err := time.ParseDuration(cfg.MCP.AggregatorReListInterval)
		if err != nil {
			reListInterval = 5 * time.Minute
		}
		aggregator = aggregatorclient.New(cfg.MCP.AggregatorURL, reListInterval)
	}

	h := handlers.New(
		sessions,
		modelRegistry,
		loop,
		probeCache,
		limiter,
		extensionBridge,
		extensionBridge,
		localMCP,
		aggregator,
		localMCPSpec,
		analyticsSink,
		errorReporter,
	)

	router := api.NewRouter(cfg, h, providerChain)

	srv := &Server{
		Handler:           router,
		Port:              cfg.Port,
		ShutdownRequested: make(chan struct{}),
		store:             st,
		catalogClient:     catalogClient,
		localMCPStore:     localStore,
		telemetryStop:     telemetryStop,
		cancelBackground:  cancelBackground,
	}

	var closeOnce sync.Once
	h.OnShutdown = func() {
		log.Info().Msg("server: shutdown requested via POST /shutdown")
		closeOnce.Do(func() { close(srv.ShutdownRequested) })
	}

	return srv, nil
}

// Shutdown releases every background resource the server started: the
// rate-limit store, the catalog client's refresh loop, the local MCP
// state sweeper, and the telemetry exporter.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelBackground()
	s.catalogClient.Stop()

	var firstErr error
	if err := s.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.telemetryStop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
