package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	livemonitor "github.com/Project-GHOSTLINE/live-monitor-sub001"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/cce"
	"github.com/Project-GHOSTLINE/live-monitor-sub001/internal/config"
	cceclient "github.com/Project-GHOSTLINE/live-monitor-sub001/sdk/go/cce"
)

// errTickFailed marks a cycle that ran but reported failures.
var errTickFailed = errors.New("update cycle completed with failures")

// cli holds state shared by every subcommand.
type cli struct {
	cfg      config.Config
	logger   *slog.Logger
	closeLog func() error

	// Global flag overrides.
	storeDriver string
	sqlitePath  string
	refPath     string
}

func (c *cli) close() {
	if c.closeLog != nil {
		_ = c.closeLog()
	}
}

// appOptions turns the loaded config and global flags into App options.
func (c *cli) appOptions(extra ...livemonitor.Option) []livemonitor.Option {
	opts := []livemonitor.Option{
		livemonitor.WithConfig(c.cfg),
		livemonitor.WithLogger(c.logger),
		livemonitor.WithVersion(version),
		livemonitor.WithStoreDriver(c.storeDriver),
		livemonitor.WithSQLitePath(c.sqlitePath),
		livemonitor.WithReferenceDataPath(c.refPath),
	}
	return append(opts, extra...)
}

func newRootCmd() (*cobra.Command, *cli) {
	c := &cli{}

	root := &cobra.Command{
		Use:   "cce",
		Short: "Conflict & Context Engine",
		Long: `cce turns extracted conflict signals into decayed, aggregated state:
per-conflict tension and momentum, relation edges, theatre rollups,
alliance pressure, front lines and a world summary.

Configuration comes from the environment (and a .env file if present);
flags override the matching variables.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip config for commands that never open a store.
			if cmd.Name() == "version" || cmd.Name() == "help" || cmd.Name() == "status" {
				return nil
			}

			// Load .env file if present (non-fatal; production won't have one).
			_ = godotenv.Load()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.logger, c.closeLog = config.SetupLogger(cfg.LogFile, cfg.LogLevel)
			slog.SetDefault(c.logger)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&c.storeDriver, "store", "", "store driver: postgres, sqlite or memory (STORE_DRIVER)")
	root.PersistentFlags().StringVar(&c.sqlitePath, "sqlite-path", "", "SQLite database file (SQLITE_PATH)")
	root.PersistentFlags().StringVar(&c.refPath, "ref", "", "alliance/front reference data YAML (REFERENCE_DATA_PATH)")

	root.AddCommand(newTickCmd(c))
	root.AddCommand(newServeCmd(c))
	root.AddCommand(newMigrateCmd(c))
	root.AddCommand(newStatusCmd())
	root.AddCommand(newVersionCmd())
	return root, c
}

func newTickCmd(c *cli) *cobra.Command {
	var (
		minTension float64
		maxAge     time.Duration
		v2         bool
	)
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one update cycle and print the result as JSON",
		Long: `Run one full update cycle (ingest, conflicts, edges, theatres, alliances,
fronts, world) and print the tick result to stdout.

Exits 1 when the cycle could not start or completed with failures.

Examples:
  cce tick
  cce tick --store sqlite --sqlite-path ./cce.db --ref ./reference.yaml
  cce tick --min-tension 0.2 --max-age 24h --v2=false`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts cce.RunOptions
			if cmd.Flags().Changed("min-tension") {
				opts.MinTension = &minTension
			}
			if cmd.Flags().Changed("max-age") {
				opts.MaxAge = &maxAge
			}
			if cmd.Flags().Changed("v2") {
				opts.V2Enabled = &v2
			}

			app, err := livemonitor.New(c.appOptions()...)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.RunOnce(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("tick: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return fmt.Errorf("tick: write result: %w", err)
			}
			if !res.Success && !res.Disabled {
				return errTickFailed
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&minTension, "min-tension", 0, "override CCE_MIN_TENSION for this cycle")
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "override CCE_MAX_AGE for this cycle")
	cmd.Flags().BoolVar(&v2, "v2", true, "override CCE_V2_ENABLED for this cycle")
	return cmd
}

func newServeCmd(c *cli) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and MCP, running a cycle every CCE_UPDATE_INTERVAL",
		RunE: func(cmd *cobra.Command, args []string) error {
			var extra []livemonitor.Option
			if port != 0 {
				extra = append(extra, livemonitor.WithPort(port))
			}
			app, err := livemonitor.New(c.appOptions(extra...)...)
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (PORT)")
	return cmd
}

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema to the configured store and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return livemonitor.Migrate(cmd.Context(), c.appOptions()...)
		},
	}
}

// statusReport is what status prints.
type statusReport struct {
	Health    *cceclient.HealthResponse `json:"health"`
	World     *cceclient.WorldState     `json:"world,omitempty"`
	LastCycle *cceclient.TickResult     `json:"last_cycle,omitempty"`
}

func newStatusCmd() *cobra.Command {
	var (
		serverURL string
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running server for health, world state and the last cycle",
		Long: `Query a running cce server and print its health, the current world
state and the last cycle result as JSON.

Examples:
  cce status
  cce status --url http://cce.internal:8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cceclient.NewClient(cceclient.Config{BaseURL: serverURL, Timeout: timeout})
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var report statusReport
			report.Health, err = client.Health(ctx)
			if report.Health == nil {
				return fmt.Errorf("status: %w", err)
			}
			// Both views 404 until the first cycle completes.
			if report.World, err = client.World(ctx); err != nil && !cceclient.IsNotFound(err) {
				return fmt.Errorf("status: world: %w", err)
			}
			if report.LastCycle, err = client.LastCycle(ctx); err != nil && !cceclient.IsNotFound(err) {
				return fmt.Errorf("status: last cycle: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("status: write report: %w", err)
			}
			if report.Health.Status != "healthy" {
				return fmt.Errorf("status: server is %s", report.Health.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "url", "http://localhost:8080", "server base URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "cce", version)
		},
	}
}
