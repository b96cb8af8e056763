package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"chesscoach/internal/coach"
	"chesscoach/internal/config"
	"chesscoach/internal/insight"
	"chesscoach/internal/llm"
	"chesscoach/internal/logging"
	"chesscoach/internal/memory"
	"chesscoach/internal/server"
	"chesscoach/internal/store"
)

const version = "1.0.0"

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "coach",
	Short: "chesscoach - conversational chess coaching engine",
	Long: `chesscoach persists coaching conversations, rebuilds model context
from durable storage on every request, and extracts board/progress/lesson
directives from model replies.

Run 'coach serve' to start the HTTP API, or 'coach chat' for a terminal
session.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if err := logging.Initialize(workspace); err != nil {
			logger.Warn("categorized logging disabled", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// serveCmd runs the HTTP API server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the coaching HTTP API server",
	RunE:  runServe,
}

// chatCmd runs an interactive terminal session against the engine.
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the coach from the terminal",
	RunE:  runChat,
}

// versionCmd prints the version.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("chesscoach %s\n", version)
	},
}

type engine struct {
	cfg          *config.Config
	store        *store.LocalStore
	orchestrator *coach.Orchestrator
	insights     *insight.Aggregator
}

// buildEngine wires the full stack from configuration.
func buildEngine() (*engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Logging.Level != "" {
		logging.SetLevel(cfg.Logging.Level)
	}

	s, err := store.NewLocalStore(cfg.Memory.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	client, err := llm.NewClient(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	logging.Boot("Engine wired: provider=%s model=%s db=%s",
		cfg.LLM.Provider, client.Model(), cfg.Memory.DatabasePath)

	return &engine{
		cfg:          cfg,
		store:        s,
		orchestrator: coach.NewOrchestrator(s, memory.NewReconstructor(s, cfg.Coaching.MaxHistoryTurns), client),
		insights:     insight.NewAggregator(s),
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.store.Close()

	srv := server.New(eng.cfg, eng.orchestrator, eng.store, eng.insights)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("serving", zap.String("addr", eng.cfg.Addr()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.store.Close()

	userID := os.Getenv("COACH_USER")
	if userID == "" {
		userID = "local"
	}

	fmt.Println("chesscoach - type your question, 'exit' to quit")

	scanner := bufio.NewScanner(os.Stdin)
	conversationID := ""
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		result, err := eng.orchestrator.Chat(cmd.Context(), &coach.ChatRequest{
			UserID:         userID,
			ConversationID: conversationID,
			Message:        line,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		conversationID = result.ConversationID

		fmt.Println(result.Reply)
		if result.Board != nil {
			fmt.Printf("[board] %s\n", result.Board.FEN)
		}
		if result.Progress != nil {
			fmt.Printf("[progress] completed=%v score=%.2f\n", result.Progress.Completed, result.Progress.Score)
		}
		if result.Lesson != nil {
			fmt.Printf("[lesson] %s\n", result.Lesson.Action)
		}
	}
	return scanner.Err()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "coach.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "Workspace directory for logs")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
