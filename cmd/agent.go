package cmd

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/skimmr/cli/pkg/agentserver"
	"github.com/skimmr/cli/pkg/auth"
	"github.com/skimmr/cli/pkg/bus"
	"github.com/skimmr/cli/pkg/gateway"
	"github.com/skimmr/cli/pkg/status"
	"github.com/skimmr/cli/pkg/store"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the background agent (health polling, event stream, local API)",
	Long: `Run the long-lived background agent.

The agent polls the Skimmr service on a fixed interval, merges reachability
and credential validity into a single status, and serves a local API that UI
contexts use to pull current state and stream change notifications.`,
	Args: cobra.NoArgs,
	RunE: runAgent,
}

func init() {
	agentCmd.Flags().String("listen", agentserver.DefaultAddr, "Local API listen address")
	agentCmd.Flags().Duration("poll-interval", status.DefaultPollInterval, "Health check interval")
	rootCmd.AddCommand(agentCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	listen, _ := cmd.Flags().GetString("listen")
	pollInterval, _ := cmd.Flags().GetDuration("poll-interval")

	log := getLogger(cmd)
	client := getAPIClient(cmd)

	fast, err := store.NewSessionStore("")
	if err != nil {
		return err
	}

	statePath, err := store.DefaultStatePath()
	if err != nil {
		return err
	}
	db, err := store.OpenBolt(statePath)
	if err != nil {
		return err
	}
	defer db.Close()

	durable := store.NewKeyringStore(store.NewBoltStore(db, "credential"), log)
	cs := store.NewCredentialStore(fast, durable, log)

	b := bus.NewMemoryBus()
	defer b.Close()

	session := auth.NewSessionManager(client, cs, b, log)
	monitor := status.NewMonitor(client, session, b, store.NewBoltStore(db, "status"), log)
	gw := gateway.New(client, session, monitor, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	state := session.LoadPersistedSession(ctx)
	if state.IsAuthenticated {
		pterm.Info.Printf("Restored session (%s)\n", state.CredentialPreview)
	} else {
		pterm.Warning.Println("No stored credential; run 'skimmr auth login'")
	}

	poller := status.NewPoller(monitor, pollInterval, log)
	go poller.Run(ctx)

	pterm.Info.Printf("Agent listening on %s (poll every %s)\n", listen, pollInterval.Round(time.Second))
	srv := agentserver.New(listen, session, monitor, gw, b, log)
	return srv.Run(ctx)
}
