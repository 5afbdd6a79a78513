package mcpserver

import (
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Parameter describes one tool argument and where the proxy puts it.
type Parameter struct {
	Name        string
	In          string // "path", "query" or "body"
	Type        string // "string" or "integer"
	Required    bool
	Description string
	Enum        []string
}

// ToolOperation holds the data needed to proxy a tool call.
type ToolOperation struct {
	Name        string
	Description string
	Method      string
	Path        string // URL path template with {param} placeholders
	Parameters  []Parameter
}

var idParam = Parameter{Name: "id", In: "path", Type: "string", Required: true, Description: "Certificate ID"}

var operations = []ToolOperation{
	{
		Name:        "verify_certificate",
		Description: "Check whether a certificate file matches an active registered certificate. Revoked and unknown files both return verified=false.",
		Method:      http.MethodPost,
		Path:        "/certificates/verify",
		Parameters: []Parameter{
			{Name: "fileData", In: "body", Type: "string", Required: true, Description: "The file as a base64 data URI (data:image/png;base64,...)"},
		},
	},
	{
		Name:        "get_certificate",
		Description: "Get the full record of a certificate, including its status and extracted text.",
		Method:      http.MethodGet,
		Path:        "/certificates/{id}",
		Parameters:  []Parameter{idParam},
	},
	{
		Name:        "get_certificate_stats",
		Description: "Get registry totals by status and file type.",
		Method:      http.MethodGet,
		Path:        "/certificates/stats",
	},
	{
		Name:        "list_certificates",
		Description: "List certificates with optional filters, sorting and offset pagination.",
		Method:      http.MethodGet,
		Path:        "/certificates",
		Parameters: []Parameter{
			{Name: "limit", In: "query", Type: "integer", Description: "Page size (max 100)"},
			{Name: "offset", In: "query", Type: "integer", Description: "Number of records to skip"},
			{Name: "sortBy", In: "query", Type: "string", Enum: []string{"createdAt", "fileSize", "mimeType", "status"}},
			{Name: "sortOrder", In: "query", Type: "string", Enum: []string{"asc", "desc"}},
			{Name: "fileType", In: "query", Type: "string", Description: "image, pdf or an exact MIME type"},
			{Name: "status", In: "query", Type: "string", Enum: []string{"active", "revoked"}},
			{Name: "search", In: "query", Type: "string", Description: "Case-insensitive match on the extracted text"},
		},
	},
	{
		Name:        "revoke_certificate",
		Description: "Revoke an active certificate so it no longer verifies.",
		Method:      http.MethodPost,
		Path:        "/certificates/{id}/revoke",
		Parameters:  []Parameter{idParam},
	},
	{
		Name:        "unrevoke_certificate",
		Description: "Restore a revoked certificate. Fails if another active certificate has the same file.",
		Method:      http.MethodPost,
		Path:        "/certificates/{id}/unrevoke",
		Parameters:  []Parameter{idParam},
	},
}

var destructiveTools = map[string]bool{"revoke_certificate": true}

// BuildTools creates one MCP tool per proxied API operation.
func BuildTools(cfg *Config, proxyFn func(op ToolOperation) server.ToolHandlerFunc) []server.ServerTool {
	tools := make([]server.ServerTool, 0, len(operations))
	for _, op := range operations {
		override, hasOverride := cfg.Overrides[op.Name]

		desc := op.Description
		if hasOverride && override.Description != "" {
			desc = override.Description
		}

		toolOpts := []mcp.ToolOption{mcp.WithDescription(desc)}
		toolOpts = append(toolOpts, buildAnnotations(op, cfg, override, hasOverride)...)
		toolOpts = append(toolOpts, buildParams(op.Parameters)...)

		tools = append(tools, server.ServerTool{
			Tool:    mcp.NewTool(op.Name, toolOpts...),
			Handler: proxyFn(op),
		})
	}
	return tools
}

// buildAnnotations creates MCP annotation options from config defaults and overrides.
func buildAnnotations(op ToolOperation, cfg *Config, override ToolOverride, hasOverride bool) []mcp.ToolOption {
	var opts []mcp.ToolOption

	defaults := cfg.Defaults[op.Method]

	readOnly := defaults.ReadOnly
	destructive := defaults.Destructive
	idempotent := defaults.Idempotent

	if op.Method != http.MethodGet && destructive == nil {
		d := destructiveTools[op.Name]
		destructive = &d
	}

	if hasOverride {
		if override.ReadOnly != nil {
			readOnly = override.ReadOnly
		}
		if override.Destructive != nil {
			destructive = override.Destructive
		}
		if override.Idempotent != nil {
			idempotent = override.Idempotent
		}
	}

	if readOnly != nil {
		opts = append(opts, mcp.WithReadOnlyHintAnnotation(*readOnly))
	}
	if destructive != nil {
		opts = append(opts, mcp.WithDestructiveHintAnnotation(*destructive))
	}
	if idempotent != nil {
		opts = append(opts, mcp.WithIdempotentHintAnnotation(*idempotent))
	}

	return opts
}

// buildParams converts API parameters to MCP tool parameter options.
func buildParams(params []Parameter) []mcp.ToolOption {
	var opts []mcp.ToolOption
	for _, p := range params {
		popts := paramOpts(p)
		switch p.Type {
		case "integer":
			opts = append(opts, mcp.WithNumber(p.Name, popts...))
		default:
			opts = append(opts, mcp.WithString(p.Name, popts...))
		}
	}
	return opts
}

func paramOpts(p Parameter) []mcp.PropertyOption {
	desc := p.Description
	if desc == "" {
		desc = p.Name
	}
	opts := []mcp.PropertyOption{mcp.Description(desc)}

	if p.Required {
		opts = append(opts, mcp.Required())
	}
	if len(p.Enum) > 0 {
		opts = append(opts, mcp.Enum(p.Enum...))
	}

	return opts
}

// formatArg renders a tool argument for a URL. JSON numbers arrive as
// float64, so whole numbers are printed without a fraction.
func formatArg(v any) string {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%v", v)
}
