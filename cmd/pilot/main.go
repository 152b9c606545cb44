package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"localpilot/internal/audit"
	"localpilot/internal/config"
	"localpilot/internal/llm"
	"localpilot/internal/logging"
	"localpilot/internal/memory"
	"localpilot/internal/pilot"
	"localpilot/internal/sandbox"
	"localpilot/internal/tools"
)

// =============================================================================
// PILOT CLI
// =============================================================================

var (
	flagConfig       string
	flagDebug        bool
	flagConversation string
)

func main() {
	root := &cobra.Command{
		Use:   "pilot",
		Short: "A local assistant that plans, acts through sandboxed tools, and remembers",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := "info"
			if flagDebug {
				level = "debug"
			}
			return logging.Init(level, flagDebug)
		},
	}

	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "pilot.yaml", "path to the config file")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVar(&flagConversation, "conversation", "", "conversation id (default: a new one per invocation)")

	root.AddCommand(
		askCmd(),
		chatCmd(),
		memoryCmd(),
		auditCmd(),
		statusCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logging.Sync()
}

// =============================================================================
// WIRING
// =============================================================================

// app is the assembled runtime. close releases everything in reverse order.
type app struct {
	cfg   *config.Config
	store *memory.Store
	trail *audit.Logger
	pilot *pilot.Pilot
	log   *zap.Logger
}

func (a *app) close() {
	a.trail.Close()
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close", zap.Error(err))
	}
}

func loadConfig() (*config.Config, error) {
	if _, err := os.Stat(flagConfig); os.IsNotExist(err) {
		cfg := config.Default()
		cfg.ApplyEnv()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.Load(flagConfig)
}

// buildApp assembles the store, audit trail, sandbox, tools and the
// orchestrator. withLLM controls whether the inference client is required;
// memory and audit commands work without one.
func buildApp(ctx context.Context, withLLM bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := logging.Named("pilot")

	store, err := memory.Open(cfg.Memory.Path, logging.Named("memory"))
	if err != nil {
		return nil, err
	}

	trail, err := audit.New(cfg.Logging.AuditPath, pilot.TableSink{Store: store}, logging.Named("audit"))
	if err != nil {
		store.Close()
		return nil, err
	}

	var client llm.Client
	if withLLM {
		client, err = llm.NewGeminiClient(ctx, cfg.LLM.APIKey, cfg.LLM.Model)
		if err != nil {
			trail.Close()
			store.Close()
			return nil, fmt.Errorf("set PILOT_API_KEY or llm.api_key: %w", err)
		}
	}

	policy, err := sandbox.NewPolicy(cfg.Sandbox.Root,
		cfg.Sandbox.AllowedCommands, cfg.Sandbox.AllowedEnv, cfg.Sandbox.ScriptPackages)
	if err != nil {
		trail.Close()
		store.Close()
		return nil, err
	}

	reg := tools.NewRegistry()
	tools.RegisterAll(reg)
	exec := tools.NewExecutor(reg, &tools.Env{
		Policy:         policy,
		Memory:         store,
		HTTP:           &http.Client{Timeout: cfg.ToolTimeout()},
		Timeout:        cfg.ToolTimeout(),
		MaxOutputBytes: cfg.Runtime.MaxOutputBytes,
		TopK:           cfg.Memory.TopK,
		Log:            logging.Named("tools"),
	}, logging.Named("tools"))

	return &app{
		cfg:   cfg,
		store: store,
		trail: trail,
		pilot: pilot.New(cfg, client, exec, store, trail, log),
		log:   log,
	}, nil
}

func conversationID() string {
	if flagConversation != "" {
		return flagConversation
	}
	return uuid.NewString()
}

// =============================================================================
// ASK
// =============================================================================

func askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <message>",
		Short: "Ask one question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			message := strings.Join(args, " ")
			for ev := range a.pilot.ProcessStream(ctx, conversationID(), message) {
				switch ev.Type {
				case pilot.EventStatus:
					fmt.Fprintf(os.Stderr, "· %s\n", ev.Text)
				case pilot.EventAnswer:
					fmt.Println(renderMarkdown(ev.Text))
				case pilot.EventError:
					return fmt.Errorf("%s", ev.Text)
				}
			}
			return nil
		},
	}
}

// =============================================================================
// STATUS
// =============================================================================

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show store statistics and the active configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			stats, err := a.store.Stats(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("%s v%s\n", a.cfg.Meta.Name, a.cfg.Meta.Version)
			fmt.Printf("  model:          %s\n", a.cfg.LLM.Model)
			fmt.Printf("  sandbox root:   %s\n", a.cfg.Sandbox.Root)
			fmt.Printf("  max tool calls: %d\n", a.cfg.Runtime.MaxToolCalls)
			fmt.Printf("  facts:          %d\n", stats["facts"])
			fmt.Printf("  turns:          %d\n", stats["turns"])
			fmt.Printf("  extractions:    %d\n", stats["extractions"])
			fmt.Printf("  audit entries:  %d\n", stats["audit_log"])
			return nil
		},
	}
}
