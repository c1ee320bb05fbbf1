// Command dp3t is a development CLI for the tracing SDK: it drives the
// session orchestrator against a real backend without a radio attached.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eric-w/dp3t-sdk-go/internal/client"
	"github.com/eric-w/dp3t-sdk-go/internal/config"
	"github.com/eric-w/dp3t-sdk-go/internal/crypto"
	"github.com/eric-w/dp3t-sdk-go/internal/defaults"
	"github.com/eric-w/dp3t-sdk-go/internal/storage"
	"github.com/eric-w/dp3t-sdk-go/internal/syncer"
	"github.com/eric-w/dp3t-sdk-go/internal/tracing"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "dp3t",
		Short:        "Proximity-tracing session orchestrator CLI",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	root.AddCommand(newStatusCmd(&configPath))
	root.AddCommand(newSyncCmd(&configPath))
	root.AddCommand(newReportCmd(&configPath))
	root.AddCommand(newResetCmd(&configPath))
	return root
}

func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the current session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracer(*configPath, func(ctx context.Context, tr *tracing.Tracer) error {
				snap, err := tr.Status(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("tracking:    %s\n", snap.TrackingState)
				if snap.InactiveReason != "" {
					fmt.Printf("reason:      %s\n", snap.InactiveReason)
				}
				fmt.Printf("infection:   %s\n", snap.InfectionStatus)
				fmt.Printf("handshakes:  %d\n", snap.HandshakeCount)
				fmt.Printf("contacts:    %d\n", snap.ContactCount)
				if snap.LastSync != nil {
					fmt.Printf("last sync:   %s\n", snap.LastSync.Format(time.RFC3339))
				} else {
					fmt.Println("last sync:   never")
				}
				return nil
			})
		},
	}
}

func newSyncCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one synchronization cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracer(*configPath, func(ctx context.Context, tr *tracing.Tracer) error {
				return tr.SyncNow(ctx)
			})
		},
	}
}

func newReportCmd(configPath *string) *cobra.Command {
	var onsetStr, auth string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Self-report exposure with an authorization code",
		RunE: func(cmd *cobra.Command, args []string) error {
			onset, err := time.ParseInLocation("2006-01-02", onsetStr, time.UTC)
			if err != nil {
				return fmt.Errorf("invalid onset date: %w", err)
			}
			return withTracer(*configPath, func(ctx context.Context, tr *tracing.Tracer) error {
				return tr.ReportNow(ctx, onset, auth)
			})
		},
	}
	cmd.Flags().StringVar(&onsetStr, "onset", "", "onset date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&auth, "auth", "", "authorization code")
	_ = cmd.MarkFlagRequired("onset")
	_ = cmd.MarkFlagRequired("auth")
	return cmd
}

func newResetCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Wipe all local tracing state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTracer(*configPath, func(ctx context.Context, tr *tracing.Tracer) error {
				return tr.Reset(ctx)
			})
		},
	}
}

// withTracer builds the full collaborator set from config, runs fn, and
// tears everything down again.
func withTracer(configPath string, fn func(context.Context, *tracing.Tracer) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := storage.NewSQLiteStore(cfg.Paths.Database, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	keyChain, err := crypto.NewKeyChain(cfg.Paths.KeyChain, nil, logger)
	if err != nil {
		return err
	}

	persisted, err := defaults.NewFileStore(cfg.Paths.Defaults)
	if err != nil {
		return err
	}

	known, err := syncer.NewHTTPKnownCases(logKeyHandler{logger: logger}, cfg.Sync.Days, nil, logger)
	if err != nil {
		return err
	}

	opts := tracing.Options{
		Storage:     store,
		Crypto:      keyChain,
		Defaults:    persisted,
		Broadcast:   tracing.NopBroadcast{},
		Discovery:   tracing.NopDiscovery{},
		KnownCases:  known,
		Calibration: cfg.Calibration,
		Logger:      logger,
	}

	if cfg.App.Manual() {
		opts.Config = client.NewManualConfig(client.Descriptor{
			AppID:          cfg.App.AppID,
			BackendBaseURL: cfg.App.BackendBaseURL,
			BucketBaseURL:  cfg.App.BucketBaseURL,
		})
	} else {
		opts.Config = client.NewDiscoveryConfig(cfg.App.AppID)
		appSync, err := client.NewHTTPApplicationSynchronizer(cfg.App.DiscoveryURL, nil, store, logger)
		if err != nil {
			return err
		}
		opts.AppSync = appSync
	}

	tr, err := tracing.New(opts)
	if err != nil {
		return err
	}
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Sync.HTTPTimeout.Duration()*4)
	defer cancel()
	return fn(ctx, tr)
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.Set(cfg.Level); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

// logKeyHandler stands in for the matching engine in the CLI: it only
// reports batch sizes. Real integrations inject their matcher through
// the SDK, not the CLI.
type logKeyHandler struct {
	logger *zap.Logger
}

func (h logKeyHandler) HandleExposedKeys(ctx context.Context, day string, keys []client.ExposedKey) error {
	h.logger.Info("received exposed keys", zap.String("day", day), zap.Int("count", len(keys)))
	return nil
}
