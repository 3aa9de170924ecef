package localmcp

import (
	"net"
	"net/http"
	"strconv"

	"github.com/browseros-ai/BrowserOS-agent-sub003/pkg/models"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
)

// Server hosts the browser-control tool surface behind an MCP
// StreamableHTTP endpoint (spec §4.9), rejecting non-loopback callers
// unless relaxed. Grounded on dorcha-inc-orla's OrlaServer: a
// per-request *mcp.Server factory wrapped by mcp.NewStreamableHTTPHandler,
// generalized so each factory call builds tool closures scoped to the
// requesting conversation instead of a fixed global tool set.
type Server struct {
	store          *Store
	bridge         BrowserBridge
	relaxLocalhost bool
	streamableHTTP http.Handler
}

// New builds a Local MCP Server. relaxLocalhost disables the loopback
// check (config.RelaxMCPLocalhost, set by env var BROWSEROS_MCP_ALLOW_REMOTE).
func New(store *Store, bridge BrowserBridge, relaxLocalhost bool) *Server {
	s := &Server{store: store, bridge: bridge, relaxLocalhost: relaxLocalhost}
	s.streamableHTTP = mcp.NewStreamableHTTPHandler(s.serverForRequest, &mcp.StreamableHTTPOptions{Stateless: true})
	return s
}

// ServeHTTP implements the `ALL /mcp` endpoint (spec §6).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.relaxLocalhost && !isLoopback(r) {
		http.Error(w, "local MCP server accepts loopback requests only", http.StatusForbidden)
		return
	}
	s.streamableHTTP.ServeHTTP(w, r)
}

// serverForRequest builds a fresh *mcp.Server whose tool handlers close
// over this request's scope and active-window id (spec §4.9: "each
// inbound MCP request carries a scope header").
func (s *Server) serverForRequest(r *http.Request) *mcp.Server {
	scope := r.Header.Get(models.ScopeHeader)
	windowID, _ := strconv.Atoi(r.Header.Get(models.ActiveWindowHeader))

	srv := mcp.NewServer(&mcp.Implementation{Name: "browseros-local", Version: "1.0.0"}, nil)
	registerTools(srv, toolDeps{store: s.store, bridge: s.bridge, scope: scope, windowID: windowID})
	return srv
}

func isLoopback(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		log.Warn().Str("remoteAddr", r.RemoteAddr).Msg("localmcp: could not parse remote address, rejecting")
		return false
	}
	return ip.IsLoopback()
}
