package toolexecutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
)

// MCPConfig points at a remote MCP server acting as the capability registry.
type MCPConfig struct {
	Endpoint string
	// APIKey is sent as "Authorization: apikey <key>" when set.
	APIKey string
	// Transport is "streamable", "sse" or empty to try streamable then sse.
	Transport string
	// Timeout bounds connecting and listing tools. Tool calls only follow
	// the caller's context.
	Timeout time.Duration
	Logger  zerolog.Logger
	// Version is reported to the server during initialization.
	Version string
}

// MCPRegistry lists and calls tools exposed by an MCP server.
type MCPRegistry struct {
	cfg        MCPConfig
	client     *sdkmcp.Client
	transports func() []namedTransport

	mu      sync.Mutex
	session *sdkmcp.ClientSession
}

type namedTransport struct {
	name      string
	transport sdkmcp.Transport
}

// NewMCPRegistry creates a registry. No connection is made until
// Capabilities is called.
func NewMCPRegistry(cfg MCPConfig) *MCPRegistry {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	r := &MCPRegistry{
		cfg:    cfg,
		client: sdkmcp.NewClient(&sdkmcp.Implementation{Name: "parley", Version: cfg.Version}, nil),
	}
	r.transports = r.remoteTransports
	return r
}

func (r *MCPRegistry) remoteTransports() []namedTransport {
	headers := map[string]string{}
	if r.cfg.APIKey != "" {
		headers["Authorization"] = "apikey " + r.cfg.APIKey
	}
	httpClient := httpClientWithHeaders(headers)

	streamable := namedTransport{"streamable", &sdkmcp.StreamableClientTransport{Endpoint: r.cfg.Endpoint, HTTPClient: httpClient}}
	sse := namedTransport{"sse", &sdkmcp.SSEClientTransport{Endpoint: r.cfg.Endpoint, HTTPClient: httpClient}}

	switch r.cfg.Transport {
	case "streamable":
		return []namedTransport{streamable}
	case "sse":
		return []namedTransport{sse}
	default:
		return []namedTransport{streamable, sse}
	}
}

// Capabilities connects, lists every tool (following pagination) and wraps
// each as a Capability that calls back into the same session.
func (r *MCPRegistry) Capabilities(ctx context.Context) ([]Capability, error) {
	session, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}

	listCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	var caps []Capability
	params := &sdkmcp.ListToolsParams{}
	for {
		res, err := session.ListTools(listCtx, params)
		if err != nil {
			return nil, fmt.Errorf("failed to list MCP tools: %w", err)
		}
		for _, t := range res.Tools {
			if t == nil || t.Name == "" {
				continue
			}
			schema, err := schemaMap(t.InputSchema)
			if err != nil {
				r.cfg.Logger.Warn().Err(err).Str("tool", t.Name).Msg("Ignoring unreadable MCP tool schema")
			}
			name := t.Name
			caps = append(caps, Capability{
				Spec: ToolSpec{
					Name:        name,
					Description: t.Description,
					InputSchema: schema,
				},
				Handler: func(ctx context.Context, args map[string]any) (string, error) {
					return r.callTool(ctx, name, args)
				},
			})
		}
		if res.NextCursor == "" {
			break
		}
		params = &sdkmcp.ListToolsParams{Cursor: res.NextCursor}
	}

	return caps, nil
}

func (r *MCPRegistry) connect(ctx context.Context) (*sdkmcp.ClientSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil {
		return r.session, nil
	}

	var errs []error
	for _, candidate := range r.transports() {
		connectCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		session, err := r.client.Connect(connectCtx, candidate.transport, nil)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s transport: %w", candidate.name, err))
			continue
		}

		r.session = session
		logger := r.cfg.Logger.Info().Str("transport", candidate.name).Str("endpoint", r.cfg.Endpoint)
		if init := session.InitializeResult(); init != nil && init.ServerInfo != nil {
			logger = logger.Str("server", init.ServerInfo.Name).Str("server_version", init.ServerInfo.Version)
		}
		logger.Msg("Connected to capability registry")
		return session, nil
	}

	if len(errs) == 0 {
		return nil, fmt.Errorf("no MCP transport configured")
	}
	return nil, fmt.Errorf("failed to connect to MCP server: %w", errors.Join(errs...))
}

func (r *MCPRegistry) callTool(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.Lock()
	session := r.session
	r.mu.Unlock()
	if session == nil {
		return "", fmt.Errorf("MCP session is not connected")
	}

	res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", err
	}

	text := contentText(res.Content)
	if res.IsError {
		if text == "" {
			text = "tool execution failed"
		}
		return "", errors.New(text)
	}
	if text == "" && res.StructuredContent != nil {
		data, err := json.Marshal(res.StructuredContent)
		if err == nil {
			text = string(data)
		}
	}
	return text, nil
}

// Close ends the MCP session.
func (r *MCPRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return nil
	}
	err := r.session.Close()
	r.session = nil
	return err
}

func contentText(content []sdkmcp.Content) string {
	var sb strings.Builder
	for _, c := range content {
		if tc, ok := c.(*sdkmcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

// schemaMap normalizes whatever the SDK decoded into a plain JSON map.
func schemaMap(schema any) (map[string]any, error) {
	if schema == nil {
		return nil, nil
	}
	if m, ok := schema.(map[string]any); ok {
		return m, nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func httpClientWithHeaders(headers map[string]string) *http.Client {
	client := &http.Client{}
	if len(headers) == 0 {
		return client
	}
	client.Transport = &headerRoundTripper{headers: headers, next: http.DefaultTransport}
	return client
}

type headerRoundTripper struct {
	headers map[string]string
	next    http.RoundTripper
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	for k, v := range h.headers {
		cloned.Header.Set(k, v)
	}
	return h.next.RoundTrip(cloned)
}
