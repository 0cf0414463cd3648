// Package server is the composition root: it assembles the Home Assistant
// clients, the live sync engine with its channel adapter and response cache,
// and the tool surface, and serves it all over MCP on stdio.
package server

import (
	"context"
	"io"
	"log/slog"

	"github.com/germanamz/hearth/pkg/cache"
	"github.com/germanamz/hearth/pkg/channel"
	"github.com/germanamz/hearth/pkg/hass"
	"github.com/germanamz/hearth/pkg/logsearch"
	"github.com/germanamz/hearth/pkg/statesync"
	"github.com/germanamz/hearth/pkg/tools/hatools"
	"github.com/germanamz/hearth/pkg/tools/logtools"
	"github.com/germanamz/hearth/pkg/tools/mcpserver"
	"github.com/germanamz/hearth/pkg/tools/synctools"
	"github.com/germanamz/hearth/pkg/tools/toolbox"
)

// Name and Version identify the MCP implementation to clients.
const (
	Name    = "hearth"
	Version = "0.1.0"
)

// Server wires the full tool adapter together.
type Server struct {
	cfg     Config
	log     *slog.Logger
	ha      *hass.Client
	logs    *logsearch.Client
	cache   *cache.Cache
	engine  *statesync.Engine
	adapter *channel.Adapter
	mcp     *mcpserver.MCPServer
}

// New creates a Server from the given configuration. It validates the
// config and assembles every component; nothing connects until Run.
func New(cfg Config, log *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if log == nil {
		log = slog.Default()
	}

	// Validate has already vetted both duration strings.
	reconnect, _ := parseDuration("sync.reconnect_interval", cfg.Sync.ReconnectInterval)
	cacheTTL, _ := parseDuration("sync.cache_ttl", cfg.Sync.CacheTTL)

	s := &Server{
		cfg:   cfg,
		log:   log,
		ha:    hass.New(cfg.HomeAssistant.BaseURL, cfg.HomeAssistant.Token),
		cache: cache.New(cacheTTL),
	}

	if cfg.LogSearch.BaseURL != "" {
		s.logs = logsearch.New(cfg.LogSearch.BaseURL, cfg.LogSearch.Token)
	}

	s.engine = statesync.NewEngine(statesync.EngineConfig{
		Cache:         s.cache,
		EntityKey:     cache.EntityKey,
		CollectionKey: cache.CollectionKey,
		Logger:        log,
	})

	s.adapter = channel.NewAdapter(s.dial, channel.AdapterConfig{
		ReconnectInterval: reconnect,
		Logger:            log,
	})
	s.adapter.OnBatch(func(b channel.Batch) { s.engine.HandleBatch(b) })
	s.engine.BindTransport(s.adapter)

	tb := toolbox.New()
	tb.Merge(hatools.New(s.ha, s.cache).Tools())
	tb.Merge(logtools.New(s.logs, s.ha).Tools())
	tb.Merge(synctools.New(s.engine).Tools())

	s.mcp = mcpserver.New(Name, Version)
	s.mcp.RegisterBox(tb)

	return s, nil
}

// dial opens the Home Assistant websocket as the sync channel.
func (s *Server) dial(ctx context.Context) (channel.Channel, error) {
	return s.ha.DialSocket(ctx, s.log)
}

// Engine returns the live sync engine.
func (s *Server) Engine() *statesync.Engine { return s.engine }

// Run connects the sync channel and serves MCP requests from in to out
// until ctx is cancelled or the transport closes. A failed initial connect
// is logged and left to the adapter's reconnect loop; tool callers still
// get REST-backed answers meanwhile.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	if err := s.adapter.Connect(ctx); err != nil {
		s.log.Warn("server: initial sync connect failed, retrying in background", "error", err)
	}

	return s.mcp.Serve(ctx, in, out)
}

// Close tears everything down. The engine closes the bound adapter, which
// stops the reconnect loop and the websocket.
func (s *Server) Close() error {
	return s.engine.Close()
}
