package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/skimmr/cli/pkg/api"
	"github.com/skimmr/cli/pkg/auth"
	"github.com/skimmr/cli/pkg/bus"
	"github.com/skimmr/cli/pkg/gateway"
	"github.com/skimmr/cli/pkg/status"
	"github.com/skimmr/cli/pkg/store"
)

// metadata is stamped at build time via -ldflags.
var metadata = struct {
	Version string
}{
	Version: "0.0.0-dev",
}

var rootCmd = &cobra.Command{
	Use:           "skimmr",
	Short:         "Summarize email and chat threads with the Skimmr service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(func() {
		// Best-effort; a missing .env is the normal case.
		_ = godotenv.Load()
	})
	rootCmd.PersistentFlags().String("base-url", "", "Override the Skimmr API base URL (defaults to $SKIMMR_BASE_URL)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(upgradeCmd)
}

// Execute runs the CLI.
func Execute() error {
	return fang.Execute(context.Background(), rootCmd, fang.WithVersion(metadata.Version))
}

func getLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func getAPIClient(cmd *cobra.Command) *api.Client {
	base, _ := cmd.Flags().GetString("base-url")
	return api.NewClient(base, api.WithLogger(getLogger(cmd)))
}

// cliRuntime bundles the state owners for one short-lived CLI context. Unlike
// the agent it skips the bbolt state database, so a running agent keeps its
// exclusive lock; the keyring and the shared session directory are enough
// for the command-scoped operations.
type cliRuntime struct {
	log     *slog.Logger
	client  *api.Client
	store   *store.CredentialStore
	bus     bus.Bus
	session *auth.SessionManager
	monitor *status.Monitor
	gateway *gateway.Gateway
}

func newRuntime(cmd *cobra.Command) (*cliRuntime, error) {
	log := getLogger(cmd)
	client := getAPIClient(cmd)

	fast, err := store.NewSessionStore("")
	if err != nil {
		return nil, err
	}
	durable := store.NewKeyringStore(nil, log)
	cs := store.NewCredentialStore(fast, durable, log)

	b := bus.NewMemoryBus()
	session := auth.NewSessionManager(client, cs, b, log)
	monitor := status.NewMonitor(client, session, b, nil, log)

	return &cliRuntime{
		log:     log,
		client:  client,
		store:   cs,
		bus:     b,
		session: session,
		monitor: monitor,
		gateway: gateway.New(client, session, monitor, log),
	}, nil
}
