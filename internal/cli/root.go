// Package cli holds the cobra command tree for the warden binary. Stateful
// operations talk to the daemon over its unix socket, spawning it on first
// use; --standalone runs them against a throwaway in-process engine
// instead, which is handy for scripting and tests but keeps no trust state
// between invocations.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/warden-project/warden/internal/client"
	"github.com/warden-project/warden/internal/config"
	"github.com/warden-project/warden/internal/daemon"
	"github.com/warden-project/warden/internal/engine"
	"github.com/warden-project/warden/internal/ipc"
)

// Version is stamped by the build; "dev" otherwise.
var Version = "dev"

var (
	cfgPath    string
	verbose    bool
	jsonOutput bool
	standalone bool

	logger *zap.Logger

	rootCmd = &cobra.Command{
		Use:   "warden",
		Short: "warden - trust-gated action governance for autonomous agents",
		Long: `warden decides what an autonomous agent may do. Actions are checked
against capability contracts, constitutional locks and the current trust
score; approved mutating actions are snapshotted before execution and can
be rolled back when they fail. Every decision lands in a hash-chained
audit log.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			lc := zap.NewProductionConfig()
			lc.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
			if cmd.Name() == "daemon" {
				lc.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
			}
			if verbose {
				lc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			var err error
			logger, err = lc.Build()
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&standalone, "standalone", false, "run against an in-process engine instead of the daemon")
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warden: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if cfgPath != "" {
		return config.LoadFrom(cfgPath)
	}
	return config.Load()
}

// callEngine runs one operation against the daemon (spawning it if
// necessary) or, with --standalone, against a fresh in-process engine.
// The result is decoded into out when out is non-nil.
func callEngine(ctx context.Context, op string, payload, out any) error {
	if standalone {
		return standaloneCall(ctx, op, payload, out)
	}

	selfPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate binary: %w", err)
	}
	conn, err := client.ConnectOrSpawn(ctx, selfPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	return client.Call(conn, op, payload, out)
}

func standaloneCall(ctx context.Context, op string, payload, out any) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, err := engine.New(cfg, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	req := ipc.Request{Op: op}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		req.Payload = data
	}

	result, err := daemon.New(eng, logger, time.Minute).Dispatch(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return json.Unmarshal(data, out)
}

// outputJSON prints v as indented JSON on stdout.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
