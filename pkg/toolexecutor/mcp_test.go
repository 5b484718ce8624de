package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greetInput struct {
	Name string `json:"name" jsonschema:"the person to greet"`
}

// newInMemoryRegistry serves tools from an in-process go-sdk server.
func newInMemoryRegistry(t *testing.T, opts *sdkmcp.ServerOptions) *MCPRegistry {
	t.Helper()

	srv := sdkmcp.NewServer(&sdkmcp.Implementation{Name: "test-registry", Version: "1.0.0"}, opts)
	sdkmcp.AddTool(srv, &sdkmcp.Tool{Name: "greet", Description: "Greets someone"},
		func(ctx context.Context, req *sdkmcp.CallToolRequest, in greetInput) (*sdkmcp.CallToolResult, any, error) {
			return &sdkmcp.CallToolResult{
				Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: "Hello, " + in.Name}},
			}, nil, nil
		})
	sdkmcp.AddTool(srv, &sdkmcp.Tool{Name: "fail", Description: "Always fails"},
		func(ctx context.Context, req *sdkmcp.CallToolRequest, in struct{}) (*sdkmcp.CallToolResult, any, error) {
			return nil, nil, errors.New("upstream exploded")
		})

	clientTransport, serverTransport := sdkmcp.NewInMemoryTransports()
	_, err := srv.Connect(context.Background(), serverTransport, nil)
	require.NoError(t, err)

	reg := NewMCPRegistry(MCPConfig{Endpoint: "memory", Logger: zerolog.Nop()})
	reg.transports = func() []namedTransport {
		return []namedTransport{{name: "memory", transport: clientTransport}}
	}
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func TestMCPRegistry_Capabilities(t *testing.T) {
	reg := newInMemoryRegistry(t, nil)
	ctx := context.Background()

	caps, err := reg.Capabilities(ctx)
	require.NoError(t, err)
	require.Len(t, caps, 2)

	byName := map[string]Capability{}
	for _, c := range caps {
		byName[c.Spec.Name] = c
	}
	greet, ok := byName["greet"]
	require.True(t, ok)
	assert.Equal(t, "Greets someone", greet.Spec.Description)
	assert.Equal(t, "object", greet.Spec.InputSchema["type"])
	props, ok := greet.Spec.InputSchema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "name")

	out, err := greet.Handler(ctx, map[string]any{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Hello, Ada", out)

	_, err = byName["fail"].Handler(ctx, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestMCPRegistry_Pagination(t *testing.T) {
	reg := newInMemoryRegistry(t, &sdkmcp.ServerOptions{PageSize: 1})

	caps, err := reg.Capabilities(context.Background())
	require.NoError(t, err)
	assert.Len(t, caps, 2)
}

func TestMCPRegistry_WithInvoker(t *testing.T) {
	reg := newInMemoryRegistry(t, nil)
	inv := NewInvoker(context.Background(), Config{Registry: reg, Logger: zerolog.Nop()})

	assert.Equal(t, []string{"fail", "greet"}, inv.Names())

	out, err := inv.Call(context.Background(), "greet", map[string]any{"name": "Grace"})
	require.NoError(t, err)
	assert.Equal(t, "Hello, Grace", out)
}

func TestMCPRegistry_ConnectFailure(t *testing.T) {
	reg := NewMCPRegistry(MCPConfig{
		Endpoint: "http://127.0.0.1:1/mcp",
		Timeout:  500 * time.Millisecond,
		Logger:   zerolog.Nop(),
	})

	_, err := reg.Capabilities(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "streamable transport")
	assert.Contains(t, err.Error(), "sse transport")

	inv := NewInvoker(context.Background(), Config{Registry: reg, Logger: zerolog.Nop()})
	assert.Equal(t, 0, inv.Len())
}

func TestMCPRegistry_StreamableHTTPWithAPIKey(t *testing.T) {
	mcpServer := server.NewMCPServer("calculator", "1.0.0", server.WithToolCapabilities(true))
	mcpServer.AddTool(
		mcp.NewTool("sum",
			mcp.WithDescription("Adds two numbers"),
			mcp.WithNumber("a", mcp.Required()),
			mcp.WithNumber("b", mcp.Required()),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			a, _ := args["a"].(float64)
			b, _ := args["b"].(float64)
			return mcp.NewToolResultText(fmt.Sprintf("%g", a+b)), nil
		},
	)

	var unauthorized atomic.Int32
	handler := server.NewStreamableHTTPServer(mcpServer)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "apikey secret" {
			unauthorized.Add(1)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	}))
	defer ts.Close()

	reg := NewMCPRegistry(MCPConfig{
		Endpoint:  ts.URL,
		APIKey:    "secret",
		Transport: "streamable",
		Logger:    zerolog.Nop(),
	})
	defer reg.Close()

	caps, err := reg.Capabilities(context.Background())
	require.NoError(t, err)
	require.Len(t, caps, 1)
	assert.Equal(t, "sum", caps[0].Spec.Name)
	assert.ElementsMatch(t, []string{"a", "b"}, caps[0].Spec.RequiredFields())

	out, err := caps[0].Handler(context.Background(), map[string]any{"a": 2, "b": 3})
	require.NoError(t, err)
	assert.Equal(t, "5", out)
	assert.Equal(t, int32(0), unauthorized.Load())
}
