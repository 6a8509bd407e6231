// Package main provides the intake service entry point: the HTTP server, the
// migration runner and a terminal chat for trying prompts locally.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"triage-intake/internal/config"
	"triage-intake/internal/core"
	"triage-intake/internal/db"
	httpserver "triage-intake/internal/http"
	"triage-intake/internal/llm"
	"triage-intake/internal/logger"
)

var (
	logLevel string
	logFile  string
	envFile  string
	version  = "0.1.0" // This could be set at build time
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "intake",
	Short: "Pre-consultation symptom intake service",
	Long: `intake talks to patients before their appointment, collects every symptom with its
severity, duration and frequency, and hands the structured record to the doctor.`,
	RunE: runServe, // Default behavior is to serve HTTP
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE:  runMigrate,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the intake engine in the terminal",
	Long: `Run the conversation engine against the configured provider without any storage.
Type /record to print the collected data and /quit to leave.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		engine, prompts, err := buildEngine(cfg)
		if err != nil {
			return err
		}
		return runChat(context.Background(), os.Stdin, os.Stdout, engine, prompts)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("intake v%s\n", version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (debug|info|warn|error) [default: info]")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to file instead of stderr")
	rootCmd.PersistentFlags().StringVar(&envFile, "config", "", "Load environment from this file instead of ./.env")
	rootCmd.PersistentFlags().String("port", "", "HTTP port [default: 8080]")
	rootCmd.PersistentFlags().String("provider", "", "Completion provider (openai|groq|anthropic|gemini|mock)")

	// Bind flags to viper under the keys config.Load reads
	for key, flag := range map[string]string{
		"log_level":    "log-level",
		"log_file":     "log-file",
		"port":         "port",
		"llm_provider": "provider",
	} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			fmt.Fprintf(os.Stderr, "Error binding %s flag: %v\n", flag, err)
			os.Exit(1)
		}
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(versionCmd)

	// Configure logger before any command execution
	cobra.OnInitialize(initLogger)
}

func initLogger() {
	if err := logger.Configure(logLevel, logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logger: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves configuration and re-applies logging settings that
// may have come from the env file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper(), envFile)
	if err != nil {
		return nil, err
	}
	if err := logger.Configure(cfg.LogLevel, cfg.LogFile); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildEngine(cfg *config.Config) (*core.Engine, core.Prompts, error) {
	completer, err := llm.New(llm.Config{
		Provider: cfg.LLMProvider,
		Model:    cfg.LLMModel,
		APIKey:   cfg.LLMAPIKey,
		BaseURL:  cfg.LLMBaseURL,
		Timeout:  cfg.LLMTimeout,
	})
	if err != nil {
		return nil, core.Prompts{}, err
	}
	prompts, err := core.LoadPrompts(cfg.PromptsFile)
	if err != nil {
		return nil, core.Prompts{}, err
	}
	engine := core.NewEngine(completer, core.Config{
		Prompts:            prompts,
		ExtractTemperature: cfg.ExtractTemperature,
		PhraseTemperature:  cfg.PhraseTemperature,
		HistoryWindow:      cfg.HistoryWindow,
	})
	return engine, prompts, nil
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := db.Migrate(context.Background(), cfg.StorageBackend, cfg.DSN()); err != nil {
		return err
	}
	logger.Info("migrations applied", "backend", cfg.StorageBackend)
	return nil
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("starting intake", "version", version, "backend", cfg.StorageBackend, "provider", cfg.LLMProvider)

	engine, prompts, err := buildEngine(cfg)
	if err != nil {
		return err
	}

	if err := db.Migrate(ctx, cfg.StorageBackend, cfg.DSN()); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	conn, err := db.Open(ctx, cfg.StorageBackend, cfg.DSN())
	if err != nil {
		return err
	}
	defer conn.Close()
	repo := db.NewRepository(conn, cfg.StorageBackend)

	var notifier db.Notifier
	if cfg.StorageBackend == config.BackendPostgres {
		pg := db.NewPGNotifier(conn, cfg.DSN(), cfg.NotifyChannel)
		go func() {
			if err := pg.Listen(ctx); err != nil {
				logger.Error("record update listener stopped", "err", err)
			}
		}()
		notifier = pg
	} else {
		notifier = db.NewLocalNotifier()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpserver.NewServer(repo, engine, notifier, prompts, cfg.MessageCap),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
