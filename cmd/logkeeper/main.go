// logkeeper keeps a recording device's data volume from filling up.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/logkeeper/logkeeper/internal/config"
	"github.com/logkeeper/logkeeper/internal/eviction"
	"github.com/logkeeper/logkeeper/internal/metrics"
	"github.com/logkeeper/logkeeper/internal/preserve"
	"github.com/logkeeper/logkeeper/internal/svc"
	"github.com/logkeeper/logkeeper/internal/volume"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	cfgFile  string
	logLevel string

	// Hidden flag set by the service manager
	serviceRun bool
)

func main() {
	if svc.IsServiceMode(os.Args) {
		runAsService()
		return
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "logkeeper",
		Short: "logkeeper - storage lifecycle manager for recording devices",
		Long: `logkeeper watches the recording volume and keeps it below its fill limits.

When space runs low it deletes the least valuable segments, or moves them to an
attached USB or NVMe drive when one is present. Segments flagged for
preservation, and the segment before each of them, are kept.

QUICK START:

  # Run in the foreground with defaults
  sudo logkeeper run

  # Inspect free space, the external drive and the preserved set
  logkeeper status

  # Install as a system service
  sudo logkeeper service install --config /etc/logkeeper/logkeeper.yaml`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level")

	rootCmd.PersistentFlags().BoolVar(&serviceRun, "service-run", false, "Run as a service (internal use)")
	_ = rootCmd.PersistentFlags().MarkHidden("service-run")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the eviction engine and volume manager",
		RunE:  runRun,
	}
	rootCmd.AddCommand(runCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show free space, external volume and preserved segments",
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	rootCmd.AddCommand(newPreserveCmd())
	rootCmd.AddCommand(newServiceCmd())

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

func printVersion(w io.Writer) {
	_, _ = fmt.Fprintf(w, "logkeeper %s\n", Version)
	_, _ = fmt.Fprintf(w, "  Commit:     %s\n", Commit)
	_, _ = fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
}

// nolint:revive // args required by cobra.Command RunE signature
func runRun(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		config.ApplyLogLevel(logLevel)
	} else if config.ApplyLogLevel(cfg.LogLevel) {
		log.Debug().Str("level", cfg.LogLevel).Msg("log level configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runDaemon(ctx, cfg)
}

// runDaemon starts the eviction engine, the volume manager and the metrics
// endpoint and waits for all of them after ctx is cancelled.
func runDaemon(ctx context.Context, cfg *config.Config) error {
	log.Info().
		Str("device", cfg.Name).
		Str("internal_root", cfg.Paths.InternalRoot).
		Str("external_root", cfg.ExternalRoot()).
		Bool("external", cfg.ExternalEnabled()).
		Msg("starting logkeeper")

	m := metrics.InitMetrics(cfg.Name, Version)
	flags := preserve.NewXattrStore(cfg.Paths.InternalRoot)
	engine := eviction.New(eviction.OptionsFromConfig(cfg), flags, m)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := engine.Run(ctx); err != nil {
			log.Error().Err(err).Msg("eviction engine exited")
		}
	}()

	if cfg.ExternalEnabled() {
		manager := volume.NewManager(volume.OptionsFromConfig(cfg), m)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := manager.Run(ctx); err != nil {
				log.Error().Err(err).Msg("volume manager exited")
			}
		}()
	}

	if cfg.Metrics.Listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(ctx, cfg.Metrics.Listen); err != nil {
				log.Error().Err(err).Str("listen", cfg.Metrics.Listen).Msg("metrics endpoint failed")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")
	wg.Wait()
	return nil
}

// loadConfig reads path, or the default config file if it exists, or falls
// back to built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case path != "":
		cfg, err = config.Load(path)
	default:
		cfg, err = config.Load(svc.DefaultConfigPath)
		if errors.Is(err, fs.ErrNotExist) {
			cfg, err = config.Default(), nil
		}
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// runAsService runs the daemon under the service manager.
// This is called when the service manager starts the binary with --service-run.
func runAsService() {
	setupServiceLogging()
	logStartupBanner()

	configPath := svc.DefaultConfigPath
	for i, arg := range os.Args {
		if (arg == "--config" || arg == "-c") && i+1 < len(os.Args) {
			configPath = os.Args[i+1]
		}
	}

	log.Info().Str("config", configPath).Msg("starting as service")

	cfg := svc.DefaultServiceConfig()
	cfg.ConfigPath = configPath

	prg := &svc.Program{
		ConfigPath: configPath,
		Run:        runFromService,
	}

	if err := svc.Run(prg, cfg); err != nil {
		log.Fatal().Err(err).Msg("service error")
	}
}

func runFromService(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if config.ApplyLogLevel(cfg.LogLevel) {
		log.Info().Str("level", cfg.LogLevel).Msg("log level configured")
	}
	return runDaemon(ctx, cfg)
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// logStartupBanner logs version information at service start.
func logStartupBanner() {
	fmt.Fprintf(os.Stderr, "\n  logkeeper %s\n", Version)
	fmt.Fprintf(os.Stderr, "  Commit:     %s\n", Commit)
	fmt.Fprintf(os.Stderr, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(os.Stderr, "  Go:         %s\n", runtime.Version())
	fmt.Fprintf(os.Stderr, "  OS/Arch:    %s/%s\n\n", runtime.GOOS, runtime.GOARCH)
}

// setupServiceLogging configures logging for service mode.
// This writes directly to a file because the service manager
// may not properly redirect stderr.
func setupServiceLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logFile, err := os.OpenFile(svc.DefaultLogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		return
	}

	multi := io.MultiWriter(logFile, os.Stderr)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: multi, TimeFormat: time.RFC3339})
}
