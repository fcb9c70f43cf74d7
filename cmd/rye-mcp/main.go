// Command rye-mcp exposes the dispatcher's tool artifacts over the Model
// Context Protocol: MCP list_tools enumerates tool.* artifacts via
// Dispatcher.Search, and MCP call_tool maps to Dispatcher.Execute
// (SPEC_FULL.md [DISPATCHER] "supplemented with two external surfaces").
package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ryehost/rye/internal/artifact"
	"github.com/ryehost/rye/internal/chain"
	"github.com/ryehost/rye/internal/config"
	"github.com/ryehost/rye/internal/dispatcher"
	"github.com/ryehost/rye/internal/ledger"
	"github.com/ryehost/rye/internal/orchestrator"
	"github.com/ryehost/rye/internal/resolver"
	"github.com/ryehost/rye/internal/signer"
	"github.com/ryehost/rye/internal/store"
	"github.com/ryehost/rye/internal/threadstore"
	"github.com/ryehost/rye/internal/trust"
)

func main() {
	ctx := context.Background()

	configPath := "rye.toml"
	if v := os.Getenv("RYE_CONFIG"); v != "" {
		configPath = v
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	trustStore, err := trust.Load(cfg.Roots.Project, cfg.Roots.User)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	r := resolver.New(cfg.ResolverLayout(), trustStore)
	chains := chain.New(r)

	dbPath := os.Getenv("RYE_STATE_DB")
	db, err := store.Open(ctx, dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer db.Close()
	if _, err := trustStore.WithPersistence(ctx, db); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	threads := threadstore.New(db)
	led := ledger.New(db)
	var orchOpts []orchestrator.Option
	if dbPath != "" {
		orchOpts = append(orchOpts, orchestrator.WithWatchDir(filepath.Dir(dbPath)))
	}
	o := orchestrator.New(threads, led, chains, orchOpts...)

	var opts []dispatcher.Option
	if raw := os.Getenv("RYE_SIGNING_KEY"); raw != "" {
		priv := ed25519.PrivateKey([]byte(raw))
		opts = append(opts, dispatcher.WithSigningKey(signer.KeyPair{
			Public: priv.Public().(ed25519.PublicKey), Private: priv,
		}))
	}
	d := dispatcher.New(r, chains, o, opts...)

	s := server.NewMCPServer("rye", "0.1.0")

	results, err := d.Search(ctx, dispatcher.SearchRequest{Scope: "tool"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	for _, res := range results {
		res := res
		tool := mcp.NewTool(mcpToolName(res.ID),
			mcp.WithDescription(res.Preview),
			mcp.WithObject("params", mcp.Description("tool invocation parameters")),
		)
		s.AddTool(tool, execHandler(d, res.ID))
	}

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func execHandler(d *dispatcher.Dispatcher, id string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		params := map[string]string{}
		for k, v := range req.GetArguments() {
			params[k] = fmt.Sprintf("%v", v)
		}
		res, err := d.Execute(ctx, dispatcher.ExecuteRequest{
			Kind: artifact.Tool, ID: id, Params: params,
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("spawned thread %s", res.ThreadID)), nil
	}
}

// mcpToolName flattens an artifact id's "/" path separator into MCP's
// conventional tool-name separator.
func mcpToolName(id string) string {
	out := make([]byte, len(id))
	for i := 0; i < len(id); i++ {
		if id[i] == '/' {
			out[i] = '.'
		} else {
			out[i] = id[i]
		}
	}
	return string(out)
}
