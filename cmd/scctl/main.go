// Command scctl drives the supply-chain API from the terminal. With
// --live=false every command is answered from built-in mock data.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/supplychain/backend/internal/apiclient"
)

// app holds the global flags and the client built from them
type app struct {
	live        bool
	baseURL     string
	sessionPath string
	output      string
	timeout     time.Duration
	verbose     bool

	out    io.Writer
	logger *zap.Logger
	client *apiclient.Client
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out, logger: zap.NewNop()}

	root := &cobra.Command{
		Use:   "scctl",
		Short: "Command line client for the supply-chain integration API",
		Long: `scctl manages integrations, notifications, KYC and onboarding through the
/api/v1 REST API.

Run with --live=false to use built-in mock responses instead of a server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.BoolVar(&a.live, "live", true, "call the server; false answers from mock data")
	flags.StringVar(&a.baseURL, "base-url", envOr("SCCTL_BASE_URL", apiclient.DefaultBaseURL), "API server root")
	flags.StringVar(&a.sessionPath, "session", apiclient.DefaultSessionPath(), "file holding the login session")
	flags.StringVarP(&a.output, "output", "o", "table", "output format: table, json or yaml")
	flags.DurationVar(&a.timeout, "timeout", 2*time.Minute, "overall command timeout")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log retries and token refreshes")

	root.AddCommand(
		a.loginCmd(),
		a.logoutCmd(),
		a.meCmd(),
		a.integrationsCmd(),
		a.notificationsCmd(),
		a.kycCmd(),
		a.onboardingCmd(),
	)
	return root
}

func (a *app) init() error {
	switch a.output {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("unknown output format %q", a.output)
	}

	if a.verbose {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		l, err := cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		a.logger = l
	}

	store, err := apiclient.NewFileTokenStore(a.sessionPath)
	if err != nil {
		return err
	}
	a.client, err = apiclient.New(a.baseURL,
		apiclient.WithLive(a.live),
		apiclient.WithTokenStore(store),
		apiclient.WithLogger(a.logger),
	)
	return err
}

// context returns the command context bounded by --timeout
func (a *app) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), a.timeout)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if apiErr, ok := apiclient.AsAPIError(err); errors.Is(err, apiclient.ErrSessionExpired) || ok && apiErr.Status == 401 {
			fmt.Fprintln(os.Stderr, "Run `scctl login` to start a new session.")
		}
		stop()
		os.Exit(1)
	}
}
