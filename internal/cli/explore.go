package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/matzehuels/testmap/pkg/controller"
	"github.com/matzehuels/testmap/pkg/domain"
	"github.com/matzehuels/testmap/pkg/notify"
	"github.com/matzehuels/testmap/pkg/persist"
	"github.com/matzehuels/testmap/pkg/source/fixture"
)

// exploreCommand opens the interactive diagram explorer.
func (c *CLI) exploreCommand() *cobra.Command {
	var (
		fixturePath string
		watch       bool
		logFile     string
	)
	cmd := &cobra.Command{
		Use:   "explore <project-id>",
		Short: "Browse a project's diagram and move nodes interactively",
		Long: `Browse a project's diagram in the terminal.

Select a node with tab, move it with the arrow keys and the new position is
saved shortly after you stop. Enter shows the node's details, r puts the
node back where the layout wants it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch && fixturePath == "" {
				return errors.New("--watch needs --fixture")
			}
			return c.runExplore(cmd.Context(), args[0], fixturePath, watch, logFile)
		},
	}
	cmd.Flags().StringVar(&fixturePath, "fixture", "", "read the project from a fixture file")
	cmd.Flags().BoolVar(&watch, "watch", false, "reload the fixture when it changes")
	cmd.Flags().StringVar(&logFile, "log-file", "", "write logs here while the explorer runs")
	return cmd
}

func (c *CLI) runExplore(ctx context.Context, projectArg, fixturePath string, watch bool, logFile string) error {
	pid, err := domain.ParseID(projectArg)
	if err != nil || pid.IsZero() {
		return fmt.Errorf("invalid project id %q", projectArg)
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	// The terminal belongs to the explorer, so logs go to a file or nowhere.
	var logOut io.Writer = io.Discard
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	logger := newLogger(logOut, c.Logger.GetLevel())
	ctx = withLogger(ctx, logger)

	b, err := c.openBackend(ctx, cfg, fixturePath)
	if err != nil {
		return err
	}
	defer b.Close()
	if _, err := b.src.Projects.GetProject(ctx, pid); err != nil {
		return fmt.Errorf("project %s: %w", pid, err)
	}

	events := newExploreEvents(64, logger)

	opts := controllerOptions(cfg, b, logger, notify.Multi{
		notify.LogSink{Logger: logger},
		notify.Func(func(message string, severity notify.Severity) {
			events.send(noteMsg{text: message, severity: severity})
		}),
	})
	opts.Persist.OnStatus = func(s persist.Status) { events.send(statusMsg(s)) }
	ctrl, err := controller.New(opts)
	if err != nil {
		return err
	}
	defer ctrl.Close(context.WithoutCancel(ctx))

	unsubscribe := ctrl.Subscribe(events.publishDiagram)
	defer unsubscribe()

	if err := ctrl.Open(ctx, pid); err != nil {
		return err
	}

	var watchers sync.WaitGroup
	defer watchers.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if watch {
		watchers.Add(1)
		go func() {
			defer watchers.Done()
			err := fixture.Watch(ctx, fixturePath, fixture.WatchOptions{Logger: logger}, func(f *fixture.File) {
				f.Fill(b.mem)
				if err := ctrl.Refresh(ctx); err != nil {
					logger.Warn("refresh after fixture change failed", "err", err)
					return
				}
				events.send(noteMsg{text: "Fixture reloaded", severity: notify.SeverityInfo})
			})
			if err != nil {
				logger.Error("fixture watch stopped", "err", err)
			}
		}()
	}

	m := newExploreModel(ctx, ctrl, events)
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil && ctx.Err() == nil {
		return err
	}

	if w := ctrl.Writer(); w != nil && w.Pending() {
		printInfo("Saving positions...")
	}
	return nil
}
