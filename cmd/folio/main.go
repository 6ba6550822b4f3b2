package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"portfolioshare/internal/app"
	"portfolioshare/internal/config"
	"portfolioshare/internal/engine"
	"portfolioshare/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "folio",
	Short: "Folio CLI",
	Long: `Folio keeps an apprentice's evidence portfolio and shares it for review.
- Portfolio: the owner's collection of entries, each with evidence files.
- Share: a revocable link token. Anyone holding it can read the visible entries, comment, and review pending submissions; nothing else.
- Submission: a category bundle sent for review. Reviewers approve it or send it back; the owner resubmits or signs off.
- Reviewer commands (view, comment, review) talk to a running server with the public key and a share token only.`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	_ = godotenv.Load(".env")
	viper.SetEnvPrefix("FOLIO")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(portfolioCmd())
	rootCmd.AddCommand(entryCmd())
	rootCmd.AddCommand(fileCmd())
	rootCmd.AddCommand(shareCmd())
	rootCmd.AddCommand(submissionCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(viewCmd())
	rootCmd.AddCommand(commentCmd())
	rootCmd.AddCommand(reviewCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default folio.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Server.JWTSecret = redactValue(cfg.Server.JWTSecret)
			cfg.Storage.S3.SecretAccessKey = redactValue(cfg.Storage.S3.SecretAccessKey)
			for i := range cfg.Webhooks {
				cfg.Webhooks[i].Secret = redactValue(cfg.Webhooks[i].Secret)
			}
			return printJSON(cfg)
		},
	}
}

func redactValue(v string) string {
	if v == "" {
		return ""
	}
	return "[redacted]"
}

// loadConfig reads folio.yml from the workspace and applies FOLIO_* overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("jwt-secret"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if v := viper.GetString("endpoint"); v != "" {
		cfg.Client.Endpoint = v
	}
	if v := viper.GetString("anon-key"); v != "" {
		cfg.Client.AnonKey = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := viper.GetString("s3-access-key-id"); v != "" {
		cfg.Storage.S3.AccessKeyID = v
	}
	if v := viper.GetString("s3-secret-access-key"); v != "" {
		cfg.Storage.S3.SecretAccessKey = v
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level := cfg.Log.Level
	if level == "" {
		level = "info"
	}
	return logging.New(level, cfg.Log.Format)
}

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()
	ws, err := app.Open(ctx, app.Options{Workspace: viper.GetString("workspace"), Config: cfg, Logger: log})
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withWorkspace(ctx, func(ctx context.Context, ws *app.Workspace) error {
		return fn(ctx, ws.Engine)
	})
}

func jsonOutput() bool { return viper.GetBool("json") }

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTable(header table.Row, rows []table.Row) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.Render()
}
