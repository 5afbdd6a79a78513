package mcpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

const instructions = "Certificate registry tools: verify a certificate file, inspect records and statistics, and revoke or restore certificates. Issuer tools need an X-API-Key header on the MCP session."

// Server is the MCP server that proxies tool calls to the REST API.
type Server struct {
	router chi.Router
	logger zerolog.Logger
	cfg    *Config
}

// New creates and configures a new MCP server from the given config.
func New(cfg *Config, logger zerolog.Logger) *Server {
	proxy := NewProxyHandler(cfg.APIURL, logger)
	tools := BuildTools(cfg, proxy.Handler)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	mcpSrv := server.NewMCPServer(
		"certverify",
		"1.0.0",
		server.WithInstructions(instructions),
	)
	mcpSrv.AddTools(tools...)
	router.Mount("/mcp", server.NewStreamableHTTPServer(mcpSrv, server.WithEndpointPath("/")))

	logger.Info().Int("tools", len(tools)).Str("api_url", cfg.APIURL).Msg("mounted MCP endpoint at /mcp")

	return &Server{
		router: router,
		logger: logger,
		cfg:    cfg,
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
