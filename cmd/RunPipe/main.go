package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/BTreeMap/RunPipe/internal/api"
	"github.com/BTreeMap/RunPipe/internal/config"
	"github.com/BTreeMap/RunPipe/internal/connector"
	"github.com/BTreeMap/RunPipe/internal/lockfile"
	"github.com/BTreeMap/RunPipe/internal/models"
	"github.com/BTreeMap/RunPipe/internal/rapidpro"
	"github.com/BTreeMap/RunPipe/internal/store"
	"github.com/BTreeMap/RunPipe/internal/util"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for RunPipe state data
	DefaultStateDir = "/var/lib/runpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "runpipe.db"
)

func main() {
	envConfig := loadEnvironmentConfig()
	initializeLogger(envConfig.Debug)

	rootCmd := newRootCmd(envConfig)
	if err := rootCmd.Execute(); err != nil {
		if ue, ok := connector.AsUserError(err); ok {
			fmt.Fprintf(os.Stderr, "error: %s\n", ue.Message)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

// Config holds environment configuration
type Config struct {
	StateDir    string
	DatabaseURL string
	APIAddr     string
	HTTPTimeout time.Duration
	Debug       bool
}

// Flags holds command line flag values of the serve command
type Flags struct {
	stateDir *string
	dbDSN    *string
	apiAddr  *string
}

// initializeLogger installs a text slog handler on stderr so stdout stays
// free for command output.
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	envErr := godotenv.Load()

	config := Config{
		StateDir:    os.Getenv("RUNPIPE_STATE_DIR"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		APIAddr:     os.Getenv("API_ADDR"),
		HTTPTimeout: util.ParseDurationEnv("RAPIDPRO_HTTP_TIMEOUT", rapidpro.DefaultTimeout),
		Debug:       util.ParseBoolEnv("RUNPIPE_DEBUG", false),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}

	slog.Debug("environment variables loaded",
		"dotenv_loaded", envErr == nil,
		"RUNPIPE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"API_ADDR", config.APIAddr,
		"RAPIDPRO_HTTP_TIMEOUT", config.HTTPTimeout,
		"RUNPIPE_DEBUG", config.Debug)

	return config
}

// resolveDSN returns the explicit DSN or an SQLite file under the state directory.
func resolveDSN(flags Flags) string {
	if *flags.dbDSN != "" {
		return *flags.dbDSN
	}
	return filepath.Join(*flags.stateDir, DefaultDBFileName)
}

// ensureDirectoriesExist creates the state directory for file-based storage
func ensureDirectoriesExist(dsn string) error {
	if store.DetectDSNType(dsn) == "postgres" {
		return nil
	}
	stateDir := filepath.Dir(dsn)
	slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
		return err
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(dsn string) []store.Option {
	var storeOpts []store.Option
	if dsn == "" {
		slog.Debug("No database DSN provided, will use in-memory store")
		return storeOpts
	}
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
		storeOpts = append(storeOpts, store.WithPostgresDSN(dsn))
	} else {
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", dsn)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(dsn))
	}
	return storeOpts
}

// buildClientOptions constructs RapidPro client options
func buildClientOptions(config Config) []rapidpro.Option {
	return []rapidpro.Option{rapidpro.WithTimeout(config.HTTPTimeout)}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	return apiOpts
}

func newRootCmd(cfg Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "runpipe",
		Short:         "Pull RapidPro flow runs into reporting tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("connection", config.DefaultConnectionPath(), "connection YAML file (overrides $RUNPIPE_CONFIG)")

	rootCmd.AddCommand(
		serveCmd(cfg),
		flowsCmd(cfg),
		configCmd(cfg),
		schemaCmd(cfg),
		pullCmd(cfg),
	)
	return rootCmd
}

func serveCmd(cfg Config) *cobra.Command {
	var flags Flags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the connector HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn := resolveDSN(flags)
			if err := ensureDirectoriesExist(dsn); err != nil {
				return fmt.Errorf("failed to create required directories: %w", err)
			}
			if store.DetectDSNType(dsn) == "sqlite" {
				lock, err := lockfile.Acquire(filepath.Dir(dsn), *flags.apiAddr)
				if err != nil {
					return err
				}
				defer lock.Release()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			slog.Info("Bootstrapping RunPipe", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr)
			if err := api.Run(ctx, buildClientOptions(cfg), buildStoreOptions(dsn), buildAPIOptions(flags)); err != nil {
				return err
			}
			slog.Info("RunPipe exited successfully")
			return nil
		},
	}
	flags.stateDir = cmd.Flags().String("state-dir", cfg.StateDir, "state directory for RunPipe data (overrides $RUNPIPE_STATE_DIR)")
	flags.dbDSN = cmd.Flags().String("db-dsn", cfg.DatabaseURL, "database DSN, Postgres URL or SQLite path (overrides $DATABASE_URL)")
	flags.apiAddr = cmd.Flags().String("api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)")
	return cmd
}

// loadConnection reads the --connection file if it exists, plus env overrides.
func loadConnection(cmd *cobra.Command) (models.ConnectionConfig, error) {
	path, _ := cmd.Flags().GetString("connection")
	if _, err := os.Stat(path); err != nil {
		slog.Debug("connection file not found, using environment only", "path", path)
		path = ""
	}
	return config.LoadConnection(path)
}

func newConnector(cfg Config) (*rapidpro.Client, *connector.RapidPro) {
	client := rapidpro.NewClient(buildClientOptions(cfg)...)
	return client, connector.NewRapidPro(client)
}

func flowsCmd(cfg Config) *cobra.Command {
	return &cobra.Command{
		Use:   "flows",
		Short: "List the account's active flows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := loadConnection(cmd)
			if err != nil {
				return err
			}
			client, _ := newConnector(cfg)
			flows, err := client.ListFlows(cmd.Context(), conn)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "UUID\tNAME\tRESULTS")
			for _, f := range flows {
				fmt.Fprintf(tw, "%s\t%s\t%d\n", f.UUID, f.Name, len(f.Results))
			}
			return tw.Flush()
		},
	}
}

func configCmd(cfg Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the setup form for the current connection settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := loadConnection(cmd)
			if err != nil {
				return err
			}
			_, c := newConnector(cfg)
			form, err := c.Config(cmd.Context(), conn)
			if err != nil {
				return err
			}
			if save, _ := cmd.Flags().GetBool("save"); save {
				path, _ := cmd.Flags().GetString("connection")
				if err := config.SaveConnection(path, conn); err != nil {
					return err
				}
				slog.Info("connection settings saved", "path", path)
			}
			return writeJSON(cmd.OutOrStdout(), form)
		},
	}
	cmd.Flags().Bool("save", false, "write the effective settings to the connection file")
	return cmd
}

func schemaCmd(cfg Config) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the field catalog of the configured flow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := loadConnection(cmd)
			if err != nil {
				return err
			}
			_, c := newConnector(cfg)
			sch, err := c.Schema(cmd.Context(), conn)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), sch)
		},
	}
}

func pullCmd(cfg Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull [field...]",
		Short: "Fetch every run of the configured flow",
		Long:  "Fetch every run of the configured flow projected onto the given field ids. With --all every field of the schema is returned.",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := loadConnection(cmd)
			if err != nil {
				return err
			}
			_, c := newConnector(cfg)

			ids := args
			if all, _ := cmd.Flags().GetBool("all"); all {
				sch, err := c.Schema(cmd.Context(), conn)
				if err != nil {
					return err
				}
				ids = sch.IDs()
			}

			req := models.DataRequest{Config: conn}
			for _, id := range ids {
				req.Fields = append(req.Fields, models.RequestedField{Name: strings.TrimSpace(id)})
			}
			resp, err := c.Data(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().Bool("all", false, "request every field of the schema")
	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
