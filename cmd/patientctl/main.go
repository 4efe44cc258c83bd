package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/patientctl/internal/config"
	"github.com/ehr/patientctl/internal/platform/apiclient"
	"github.com/ehr/patientctl/internal/platform/auth"
	"github.com/ehr/patientctl/internal/platform/kv"
	"github.com/ehr/patientctl/internal/platform/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	envFiles []string
	output   string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "patientctl",
		Short:         "Patient health-tracking client",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.output {
			case outputTable, outputJSON:
				return nil
			}
			return fmt.Errorf("--output must be %q or %q, got %q", outputTable, outputJSON, opts.output)
		},
	}
	rootCmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "extra env files to load before .env")
	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", outputTable, "output format: table or json")

	rootCmd.AddCommand(signinCmd(opts))
	rootCmd.AddCommand(sessionCmd(opts))
	rootCmd.AddCommand(callCmd(opts))
	rootCmd.AddCommand(reportsCmd(opts))
	rootCmd.AddCommand(healthCmd(opts))
	rootCmd.AddCommand(medsCmd(opts))
	rootCmd.AddCommand(doctorsCmd(opts))
	rootCmd.AddCommand(careCmd(opts))
	rootCmd.AddCommand(accountCmd(opts))
	rootCmd.AddCommand(proxyCmd(opts))

	return rootCmd
}

// ---------------------------------------------------------------------------
// Application wiring
// ---------------------------------------------------------------------------

// app holds everything a command needs. It is built per invocation and
// released with close.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	store   kv.Store
	session *auth.Manager
	metrics *telemetry.Provider
	api     *apiclient.Client
	out     *printer
}

func setup(cmd *cobra.Command, opts *globalOptions) (*app, error) {
	ctx := cmd.Context()

	cfg, err := config.Load(opts.envFiles...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger(cfg, cmd.ErrOrStderr())

	store, err := kv.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.StorageDriver, err)
	}
	logger.Debug().Str("driver", cfg.StorageDriver).Msg("storage opened")

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	sessionOpts := []auth.Option{
		auth.WithLogger(logger),
		auth.WithRefreshPath(cfg.RefreshPath),
		auth.WithHTTPClient(httpClient),
	}
	if cfg.LogoutPath != "" {
		sessionOpts = append(sessionOpts, auth.WithSignOut(auth.BackendSignOut(httpClient, cfg.BackendURL, cfg.LogoutPath)))
	}
	session := auth.NewManager(store, cfg.BackendURL, sessionOpts...)
	session.Restore(ctx)

	statuses, err := cfg.FailureStatuses()
	if err != nil {
		store.Close()
		return nil, err
	}

	metrics := telemetry.New()
	api := apiclient.New(cfg.BackendURL, session,
		apiclient.WithHTTPClient(httpClient),
		apiclient.WithAuthFailureStatuses(statuses...),
		apiclient.WithRecorder(metrics),
		apiclient.WithLogger(logger),
	)
	api.Tracker().Subscribe(func(s apiclient.State) {
		ev := logger.Debug().Bool("loading", s.Loading)
		if s.Err != nil {
			ev = ev.AnErr("last_error", s.Err)
		}
		ev.Msg("request state")
	})

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		session: session,
		metrics: metrics,
		api:     api,
		out:     newPrinter(cmd.OutOrStdout(), opts.output),
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("close storage")
	}
}

// run builds the app, hands it to fn and releases it afterwards.
func run(opts *globalOptions, fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd, opts)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(cmd.Context(), a, args)
	}
}

// newLogger writes JSON to w, or console output in development or when
// LOG_FORMAT=console. stdout stays reserved for command output.
func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.IsDev() || cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(w).With().Timestamp().Logger()
	}
	return logger.Level(level)
}
