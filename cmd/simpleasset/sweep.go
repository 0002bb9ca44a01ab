package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-asset/pkg/simpleasset"
	"github.com/tendant/simple-asset/pkg/simpleasset/api"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	var (
		target  int64
		server  string
		offline bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Evict least recently used cached bytes once and exit",
		Long: `Evict least recently used cached bytes once.

With --server the sweep runs inside that server, which knows which assets
have transfers in flight. Without it the sweep builds the store in this
process and refuses to run unless the store is locked to it (a SQLite
database or a filesystem cache). For a shared store, such as Postgres with
S3 or GCS storage, pass --offline only when no server is running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.load()
			if err != nil {
				return err
			}
			if target <= 0 {
				target = cfg.EvictionTargetFreeBytes
			}
			if target <= 0 {
				return fmt.Errorf("--target-bytes or SIMPLEASSET_EVICTION_TARGET_FREE_BYTES is required")
			}

			var res *api.SweepResponse
			if server != "" {
				res, err = remoteSweep(cmd.Context(), server, target)
				if err != nil {
					return err
				}
			} else {
				if !cfg.Exclusive() && !offline {
					return fmt.Errorf("%s database with %s storage may be shared with a running server; use --server, or --offline when none is running",
						cfg.DatabaseType, cfg.Storage.Type)
				}
				rt, err := cfg.BuildStore(cmd.Context(), ctx.logger(cfg))
				if err != nil {
					return err
				}
				defer rt.Close()

				evicted, err := rt.Store.Evictor().Sweep(cmd.Context(), target)
				if err != nil {
					return err
				}
				stats, err := rt.Store.Evictor().Stats(cmd.Context())
				if err != nil {
					return err
				}
				res = &api.SweepResponse{Evicted: evicted, Stats: stats}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Evicted: %d\n", res.Evicted)
			if res.Stats != nil {
				fmt.Fprintf(out, "Entries: %d\n", res.Stats.Entries)
				fmt.Fprintf(out, "Bytes:   %d\n", res.Stats.Bytes)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&target, "target-bytes", 0, "bytes to reclaim (defaults to the configured eviction target)")
	cmd.Flags().StringVar(&server, "server", "", "base URL of a running simpleasset server to sweep through")
	cmd.Flags().BoolVar(&offline, "offline", false, "sweep a shared store directly; only safe when no server is running")
	return cmd
}

// remoteSweep asks a running server to sweep its own cache.
func remoteSweep(ctx context.Context, server string, target int64) (*api.SweepResponse, error) {
	body, err := json.Marshal(api.SweepRequest{TargetFreeBytes: target})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()
	url := strings.TrimRight(server, "/") + "/cache/sweep"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build sweep request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sweep request to %s: %w", server, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr api.ErrorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("server responded %d: %s: %s", resp.StatusCode, apiErr.Error.Code, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("server responded %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var res api.SweepResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode sweep response: %w", err)
	}
	if res.Stats == nil {
		res.Stats = &simpleasset.CacheStats{}
	}
	return &res, nil
}
