// Command rye is the host's cobra CLI, translating search/load/execute/sign
// subcommands 1:1 into Dispatcher calls (SPEC_FULL.md [DISPATCHER]).
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

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

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "rye",
		Short: "rye drives the artifact-store / chain / thread-orchestrator host",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "rye.toml", "path to rye.toml")
	root.AddCommand(searchCmd(), loadCmd(), executeCmd(), signCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildDispatcher(ctx context.Context) (*dispatcher.Dispatcher, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	trustStore, err := trust.Load(cfg.Roots.Project, cfg.Roots.User)
	if err != nil {
		return nil, err
	}
	r := resolver.New(cfg.ResolverLayout(), trustStore)
	chains := chain.New(r)

	dbPath := os.Getenv("RYE_STATE_DB")
	db, err := store.Open(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := trustStore.WithPersistence(ctx, db); err != nil {
		return nil, err
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
	return dispatcher.New(r, chains, o, opts...), nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func searchCmd() *cobra.Command {
	var scope, space string
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "search artifacts by query and scope",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var query string
			if len(args) > 0 {
				query = args[0]
			}
			d, err := buildDispatcher(cmd.Context())
			if err != nil {
				return err
			}
			var sp *artifact.Space
			if space != "" {
				sp = &artifact.Space{Tier: space}
			}
			results, err := d.Search(cmd.Context(), dispatcher.SearchRequest{
				Query: query, Scope: scope, Space: sp,
				Page: resolver.Pagination{Offset: offset, Limit: limit},
			})
			if err != nil {
				return err
			}
			return printJSON(results)
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "tool", "artifact kind scope, e.g. tool or tool.files.*")
	cmd.Flags().StringVar(&space, "space", "", "restrict to one tier: project|user|system")
	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}

func loadCmd() *cobra.Command {
	var kind, space, destination string
	cmd := &cobra.Command{
		Use:   "load <id>",
		Short: "load an artifact's body and metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDispatcher(cmd.Context())
			if err != nil {
				return err
			}
			req := dispatcher.LoadRequest{Kind: artifact.Kind(kind), ID: args[0]}
			if space != "" {
				req.Space = &artifact.Space{Tier: space}
			}
			if destination != "" {
				req.Destination = &artifact.Space{Tier: destination}
			}
			res, err := d.Load(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "tool", "artifact kind: workflow|tool|knowledge")
	cmd.Flags().StringVar(&space, "space", "", "restrict to one tier: project|user|system")
	cmd.Flags().StringVar(&destination, "to", "", "copy into this tier after loading")
	return cmd
}

func executeCmd() *cobra.Command {
	var kind, space string
	var dryRun bool
	var maxSpend int64
	cmd := &cobra.Command{
		Use:   "execute <id>",
		Short: "execute a tool's chain, or dry-run its plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDispatcher(cmd.Context())
			if err != nil {
				return err
			}
			req := dispatcher.ExecuteRequest{Kind: artifact.Kind(kind), ID: args[0], DryRun: dryRun, MaxSpend: maxSpend}
			if space != "" {
				req.Space = &artifact.Space{Tier: space}
			}
			res, err := d.Execute(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "tool", "artifact kind")
	cmd.Flags().StringVar(&space, "space", "", "restrict to one tier")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "build and print the plan without spawning")
	cmd.Flags().Int64Var(&maxSpend, "max-spend", 0, "budget units to reserve for the spawned thread")
	return cmd
}

func signCmd() *cobra.Command {
	var kind, space string
	cmd := &cobra.Command{
		Use:   "sign <id-or-glob>",
		Short: "re-sign one or more artifacts under the configured private key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDispatcher(cmd.Context())
			if err != nil {
				return err
			}
			res, err := d.Sign(cmd.Context(), dispatcher.SignRequest{
				Kind: artifact.Kind(kind), ID: args[0], Space: artifact.Space{Tier: space},
			})
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "tool", "artifact kind")
	cmd.Flags().StringVar(&space, "space", "project", "tier to sign within")
	return cmd
}
