package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/matzehuels/testmap/pkg/api"
	"github.com/matzehuels/testmap/pkg/source/fixture"
)

// serveCommand runs the HTTP API.
func (c *CLI) serveCommand() *cobra.Command {
	var (
		addr        string
		fixturePath string
		watch       bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve node positions and diagrams over HTTP",
		Long: `Serve node positions and computed diagrams over HTTP.

With --fixture the projects come from a fixture file; --watch reloads it
whenever it changes on disk.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch && fixturePath == "" {
				return errors.New("--watch needs --fixture")
			}
			return c.runServe(cmd.Context(), addr, fixturePath, watch)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, 127.0.0.1:8080)")
	cmd.Flags().StringVar(&fixturePath, "fixture", "", "read projects from a fixture file")
	cmd.Flags().BoolVar(&watch, "watch", false, "reload the fixture when it changes")
	return cmd
}

func (c *CLI) runServe(ctx context.Context, addr, fixturePath string, watch bool) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.Server.Addr
	}
	logger := loggerFromContext(ctx)

	b, err := c.openBackend(ctx, cfg, fixturePath)
	if err != nil {
		return err
	}
	defer b.Close()

	srv, err := api.New(api.Options{
		Positions: b.repo,
		Source:    b.src,
		Layout:    cfg.Layout,
		Cache:     b.cache,
		Keyer:     b.keyer,
		CacheTTL:  cfg.CacheTTL(),
		BulkRate:  rate.Limit(cfg.Server.BulkRate),
		BulkBurst: cfg.Server.BulkBurst,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	printSuccess("Serving on %s", StyleHighlight.Render("http://"+addr+"/api/v1"))
	printDetail("store: %s", cfg.Store.Kind)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout())
		defer cancel()
		logger.Info("shutting down", "timeout", cfg.ShutdownTimeout())
		return srv.Shutdown(sctx)
	})
	if watch {
		g.Go(func() error {
			return fixture.Watch(gctx, fixturePath, fixture.WatchOptions{Logger: logger}, func(f *fixture.File) {
				f.Fill(b.mem)
				srv.Invalidate(gctx, f.Project.ID)
				logger.Info("reloaded fixture", "project", f.Project.ID, "features", len(f.Features), "tests", len(f.Tests))
			})
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
