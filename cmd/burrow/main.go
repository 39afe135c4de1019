package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/burrowctl/burrow/pkg/agent"
	"github.com/burrowctl/burrow/pkg/api"
	"github.com/burrowctl/burrow/pkg/client"
	"github.com/burrowctl/burrow/pkg/config"
	"github.com/burrowctl/burrow/pkg/deploy"
	"github.com/burrowctl/burrow/pkg/events"
	"github.com/burrowctl/burrow/pkg/log"
	"github.com/burrowctl/burrow/pkg/manager"
	"github.com/burrowctl/burrow/pkg/metrics"
	"github.com/burrowctl/burrow/pkg/runtime"
	"github.com/burrowctl/burrow/pkg/security"
	"github.com/burrowctl/burrow/pkg/storage"
	"github.com/burrowctl/burrow/pkg/vpn"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow - container fleet orchestration over a mesh VPN",
	Long: `Burrow runs a small fleet of container hosts joined over a mesh VPN.
One leader owns cluster state and the operator API; every other host
runs a worker agent that heartbeats to the leader and executes
deployments.`,
	Version: Version,
}

var jsonLogs bool

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit JSON logs instead of console output")

	rootCmd.AddCommand(leaderCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(tokenCmd)
}

func initLogging() {
	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: jsonLogs})
	agent.Version = Version
	metrics.SetVersion(Version)
}

var leaderCmd = &cobra.Command{
	Use:   "leader",
	Short: "Run the cluster leader",
	Long: `Run the leader process: the bolt-backed cluster store, the operator
API, the stale worker reaper, and the metrics collector.

Requires BURROW_MASTER_SECRET in the environment.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		initLogging()

		cfg, err := config.LeaderFromEnv()
		if err != nil {
			return err
		}
		if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
			cfg.DataDir = v
		}
		if v, _ := cmd.Flags().GetInt("port"); v != 0 {
			cfg.Port = v
		}

		return runLeader(cfg)
	},
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the worker agent",
	Long: `Run the worker agent: the containerd-backed runtime, the agent
control API, and the heartbeat loop.

An agent bound to a leader (via LEADER_URL/NODE_SECRET, a previous
join, or a claim) heartbeats immediately; an unbound agent serves its
API and waits to be joined or claimed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		initLogging()

		cfg, err := config.AgentFromEnv()
		if err != nil {
			return err
		}
		if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
			cfg.DataDir = v
		}

		leaderURL, _ := cmd.Flags().GetString("leader-url")
		joinToken, _ := cmd.Flags().GetString("join-token")
		socket, _ := cmd.Flags().GetString("containerd-socket")
		return runAgent(cfg, socket, leaderURL, joinToken)
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage join tokens",
}

var tokenCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a join token against a running leader",
	RunE: func(cmd *cobra.Command, args []string) error {
		leaderURL, _ := cmd.Flags().GetString("leader")
		operatorToken := os.Getenv("BURROW_OPERATOR_TOKEN")
		if operatorToken == "" {
			operatorToken = os.Getenv("BURROW_MASTER_SECRET")
		}
		if operatorToken == "" {
			return fmt.Errorf("BURROW_OPERATOR_TOKEN or BURROW_MASTER_SECRET is required")
		}
		maxUses, _ := cmd.Flags().GetInt("max-uses")
		ttl, _ := cmd.Flags().GetInt("ttl-minutes")

		resp, err := client.NewOperatorClient(leaderURL, operatorToken).CreateToken(cmd.Context(), maxUses, ttl)
		if err != nil {
			return err
		}

		fmt.Printf("Token:   %s\n", resp.Token)
		fmt.Printf("Expires: %s\n", resp.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
		fmt.Println()
		fmt.Println("Join an existing host (runtime + VPN already installed):")
		fmt.Printf("  %s\n", resp.JoinCommand)
		fmt.Printf("  %s\n", resp.JoinCommandPS)
		fmt.Println()
		fmt.Println("Bootstrap a fresh host:")
		fmt.Printf("  %s\n", resp.BootstrapCommand)
		fmt.Printf("  %s\n", resp.BootstrapCmdPS)
		return nil
	},
}

func init() {
	leaderCmd.Flags().String("data-dir", "", "Override DATA_DIR")
	leaderCmd.Flags().Int("port", 0, "Override MANAGER_PORT")

	agentCmd.Flags().String("data-dir", "", "Override DATA_DIR")
	agentCmd.Flags().String("leader-url", "", "Leader URL to join at startup")
	agentCmd.Flags().String("join-token", "", "Join token for --leader-url")
	agentCmd.Flags().String("containerd-socket", runtime.DefaultSocketPath, "Containerd socket path")

	tokenCmd.AddCommand(tokenCreateCmd)
	tokenCreateCmd.Flags().String("leader", "http://localhost:8443", "Leader URL")
	tokenCreateCmd.Flags().Int("max-uses", 1, "Permitted registrations")
	tokenCreateCmd.Flags().Int("ttl-minutes", 0, "Token lifetime in minutes (0 = default 24h)")
}

// runLeader is the leader composition root. Every component is built
// here and threaded through explicitly.
func runLeader(cfg *config.Leader) error {
	logger := log.WithComponent("main")

	vault, err := security.NewVaultFromMasterSecret(cfg.MasterSecret)
	if err != nil {
		return fmt.Errorf("init vault: %w", err)
	}
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	blobs, err := security.NewBlobStore(filepath.Join(cfg.DataDir, "credentials"), vault)
	if err != nil {
		return fmt.Errorf("open credential store: %w", err)
	}

	mesh := &vpn.TailscaleMesh{}
	mgr := manager.New(cfg, store, vault, broker, mesh)
	engine := deploy.NewEngine(store, mgr, broker)
	server := api.NewServer(cfg, mgr, engine, blobs, fmt.Sprintf(":%d", cfg.Port))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mgr.Startup(ctx); err != nil {
		return err
	}
	metrics.RegisterComponent("store", true, "")
	metrics.RegisterComponent("manager", true, "")

	reaper := manager.NewStaleReaper(store, broker, 0, 0)
	go reaper.Run(ctx)

	collector := metrics.NewCollector(store)
	collector.Start()
	defer collector.Stop()

	go engine.RunHealthChecks(ctx, 0)

	logger.Info().
		Str("hostname", cfg.Hostname).
		Int("port", cfg.Port).
		Str("data_dir", cfg.DataDir).
		Msg("Leader starting")
	err = server.ListenAndServe(ctx)
	logger.Info().Msg("Leader stopped")
	return err
}

// runAgent is the agent composition root.
func runAgent(cfg *config.Agent, containerdSocket, leaderURL, joinToken string) error {
	logger := log.WithComponent("main")

	rt, err := runtime.NewContainerdRuntime(containerdSocket, filepath.Join(cfg.DataDir, "logs"))
	if err != nil {
		return fmt.Errorf("connect containerd: %w", err)
	}
	defer rt.Close()

	wa, err := agent.New(cfg, rt)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if joinToken != "" {
		if leaderURL == "" {
			return fmt.Errorf("--join-token requires --leader-url")
		}
		if err := wa.Join(ctx, leaderURL, joinToken); err != nil {
			return fmt.Errorf("join %s: %w", leaderURL, err)
		}
		logger.Info().Str("leader_url", leaderURL).Msg("Joined leader")
	}

	go func() {
		if err := wa.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("Heartbeat loop exited")
		}
	}()

	server := agent.NewServer(wa, fmt.Sprintf(":%d", cfg.Port))
	logger.Info().
		Str("hostname", cfg.Hostname).
		Int("port", cfg.Port).
		Bool("bound", wa.Bound()).
		Msg("Agent starting")
	err = server.ListenAndServe(ctx)
	logger.Info().Msg("Agent stopped")
	return err
}
