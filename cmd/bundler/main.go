// ====================================
// File: cmd/bundler/main.go
// ====================================
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rovshanmuradov/curve-bundler/internal/app"
	"github.com/rovshanmuradov/curve-bundler/internal/config"
	"github.com/rovshanmuradov/curve-bundler/internal/logger"
	"github.com/rovshanmuradov/curve-bundler/internal/ui/style"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	ConfigKey = "config"
	DebugKey  = "debug"
)

const closeTimeout = 15 * time.Second

// session is shared by every subcommand once the root has loaded config.
type session struct {
	cfg    *config.Config
	log    *logger.Logger
	logger *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := &session{}
	err := rootCommand(s).ExecuteContext(ctx)
	s.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, style.Error(err.Error()))
		os.Exit(1)
	}
}

func rootCommand(s *session) *cobra.Command {
	root := &cobra.Command{
		Use:           "bundler",
		Short:         "Atomic settlement for constant-product bonding curves",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(c *cobra.Command, _ []string) error {
			return s.open(c)
		},
	}

	flags := root.PersistentFlags()
	flags.String(ConfigKey, "", "Path to a YAML or JSON config file")
	flags.Bool(DebugKey, false, "Enable debug logging")

	root.AddCommand(
		createAndBuyCommand(s),
		runCommand(s),
		exportCommand(s),
	)
	return root
}

func (s *session) open(c *cobra.Command) error {
	flags := c.Flags()
	path, err := flags.GetString(ConfigKey)
	if err != nil {
		return err
	}
	debug, err := flags.GetBool(DebugKey)
	if err != nil {
		return err
	}

	s.cfg, err = config.LoadConfig(path)
	if err != nil {
		return err
	}

	logCfg := logger.DefaultConfig()
	logCfg.LogFile = s.cfg.LogFile
	logCfg.Development = debug || s.cfg.DebugLogging
	logCfg.Pretty = true
	// results go to stdout, logs to stderr
	logCfg.Console = os.Stderr

	s.log, err = logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	s.logger = s.log.WithComponent(c.Name())
	return nil
}

func (s *session) close() {
	if s.log == nil {
		return
	}
	if err := s.log.Sync(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
	}
	_ = s.log.Close()
}

// withApp builds the settlement stack, serves metrics next to fn and closes
// the stack once fn returns.
func (s *session) withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.New(ctx, s.cfg, s.logger)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return a.ServeMetrics(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return fn(gctx, a)
	})
	runErr := g.Wait()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), closeTimeout)
	defer closeCancel()
	if err := a.Close(closeCtx); err != nil {
		s.logger.Warn("Settlement stack did not close cleanly", zap.Error(err))
	}
	return runErr
}
