// Command agentctl wires a config file into a running agent and drives it
// from the terminal. Grounded on haasonsaas-nexus/cmd/nexus/main.go's cobra
// command tree (root command with a persistent --config flag, one
// subcommand per mode of operation) and goadesign-goa-ai/cmd/demo/main.go's
// registry-then-client wiring order.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/spf13/cobra"

	"goa.design/agentcore/agent"
	"goa.design/agentcore/config"
	"goa.design/agentcore/model"
	"goa.design/agentcore/model/anthropic"
	"goa.design/agentcore/model/bedrock"
	"goa.design/agentcore/model/middleware"
	"goa.design/agentcore/model/openai"
	"goa.design/agentcore/runner"
	"goa.design/agentcore/session"
	"goa.design/agentcore/supervisor"
	"goa.design/agentcore/telemetry"
	"goa.design/agentcore/telemetry/pubsub"
	"goa.design/agentcore/tool"
	"goa.design/agentcore/tool/executor"
)

var configPath string

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agentctl",
		Short: "Drive an agent configured in YAML from the terminal",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "agentcore.yaml", "Path to YAML configuration file")
	root.AddCommand(runCmd(), chatCmd(), agentsCmd())
	return root
}

func runCmd() *cobra.Command {
	var agentName string
	cmd := &cobra.Command{
		Use:   "run [message]",
		Short: "Run a single message through an agent and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			f, err := config.Load(configPath)
			if err != nil {
				return err
			}
			r, _, cfg, err := buildRunner(cmd.Context(), f, agentName, logger)
			if err != nil {
				return err
			}
			res, err := r.Run(cmd.Context(), cfg, runner.Input{
				SessionID: "agentctl",
				RunID:     "agentctl/run",
				Text:      args[0],
			})
			if err != nil {
				return err
			}
			fmt.Println(res.Output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&agentName, "agent", "a", "main", "Agent name from the config's agents section")
	return cmd
}

func chatCmd() *cobra.Command {
	var agentName string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive session against an agent, with approval prompts",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			f, err := config.Load(configPath)
			if err != nil {
				return err
			}
			r, exec, cfg, err := buildRunner(cmd.Context(), f, agentName, logger)
			if err != nil {
				return err
			}

			bus := pubsub.NewBus()
			_, err = bus.Register(pubsub.SubscriberFunc(func(ctx context.Context, ev pubsub.Event) error {
				printEvent(ev)
				return nil
			}))
			if err != nil {
				return err
			}

			sup := supervisor.New(supervisor.WithBus(bus), supervisor.WithLogger(logger))
			sess, err := sup.StartSession("chat", cfg, r, session.WithApprovalTimeout(f.Server.ApprovalTimeout))
			if err != nil {
				return err
			}
			exec.SetApprover(sess)

			return runChatLoop(cmd.Context(), sup, sess)
		},
	}
	cmd.Flags().StringVarP(&agentName, "agent", "a", "main", "Agent name from the config's agents section")
	return cmd
}

func runChatLoop(ctx context.Context, sup *supervisor.Supervisor, sess *session.Session) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("agentctl chat — type a message, or /approve <call_id> / /reject <call_id> / /edit <call_id> <json args>. Ctrl-D to quit.")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/approve ") {
			sess.Approve(strings.TrimPrefix(line, "/approve "))
			continue
		}
		if strings.HasPrefix(line, "/reject ") {
			sess.Reject(strings.TrimPrefix(line, "/reject "))
			continue
		}
		if strings.HasPrefix(line, "/edit ") {
			callID, args, ok := strings.Cut(strings.TrimPrefix(line, "/edit "), " ")
			if !ok {
				fmt.Fprintln(os.Stderr, "usage: /edit <call_id> <json args>")
				continue
			}
			sess.Edit(callID, []byte(args))
			continue
		}
		if err := sup.SendMessage(ctx, sess.ID(), line); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
}

func agentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List the agents defined in the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := config.Load(configPath)
			if err != nil {
				return err
			}
			for name, a := range f.Agents {
				fmt.Printf("%s\t%s\n", name, a.Model)
			}
			return nil
		},
	}
}

func newLogger() telemetry.Logger {
	return telemetry.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

// buildRunner resolves agentName from f, constructs the model client its
// provider needs, and assembles a Runner over an empty tool registry (tools
// are registered by embedding agentctl as a library; the CLI itself has none
// built in). It also returns the Executor so callers needing human-in-the-loop
// approval (chatCmd) can wire a Session into it after construction.
func buildRunner(ctx context.Context, f *config.File, agentName string, logger telemetry.Logger) (*runner.Runner, *executor.Executor, agent.Config, error) {
	cfg, err := f.Build(agentName)
	if err != nil {
		return nil, nil, agent.Config{}, err
	}

	provider, _, err := model.ParseModelID(cfg.Model)
	if err != nil {
		return nil, nil, agent.Config{}, err
	}

	models := model.NewRegistry()
	client, err := buildClient(ctx, f, provider)
	if err != nil {
		return nil, nil, agent.Config{}, err
	}
	if a := f.Agents[agentName]; a.RateLimit.Enabled {
		limiter := middleware.NewAdaptiveRateLimiter(a.RateLimit.InitialTPM, a.RateLimit.MaxTPM)
		client = limiter.Middleware()(client)
	}
	models.Register(provider, client)

	exec := executor.New(tool.NewRegistry(), executor.WithLogger(logger))
	r := runner.New(models, exec, runner.WithLogger(logger))
	return r, exec, cfg, nil
}

func buildClient(ctx context.Context, f *config.File, provider string) (model.Client, error) {
	switch provider {
	case "anthropic":
		return anthropic.NewFromAPIKey(f.Providers.Anthropic.APIKey, anthropic.Options{MaxTokens: f.Providers.Anthropic.MaxTokens})
	case "openai":
		return openai.NewFromAPIKey(f.Providers.OpenAI.APIKey)
	case "bedrock":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(f.Providers.Bedrock.Region))
		if err != nil {
			return nil, fmt.Errorf("agentctl: load aws config: %w", err)
		}
		return bedrock.New(bedrockruntime.NewFromConfig(awsCfg))
	default:
		return nil, fmt.Errorf("agentctl: unknown provider %q", provider)
	}
}

func printEvent(ev pubsub.Event) {
	switch e := ev.(type) {
	case pubsub.TextDeltaEvent:
		fmt.Print(e.Text)
	case pubsub.ToolCallStartedEvent:
		fmt.Printf("\n[tool] %s started (%s)\n", e.ToolName, e.ToolCallID)
	case pubsub.ToolCallCompletedEvent:
		status := "ok"
		if e.Failed {
			status = "failed"
		}
		fmt.Printf("[tool] %s %s in %dms\n", e.ToolName, status, e.DurationMs)
	case pubsub.ApprovalRequestedEvent:
		fmt.Printf("\n[approval] %s wants to call %s — /approve %s or /reject %s\n", ev.SessionID(), e.ToolName, e.ToolCallID, e.ToolCallID)
	case pubsub.RunCompletedEvent:
		fmt.Println()
	case pubsub.RunFailedEvent:
		fmt.Fprintln(os.Stderr, "\nrun failed:", e.Err)
	case pubsub.AgentErrorEvent:
		fmt.Fprintln(os.Stderr, "\nagent error:", e.Err)
	}
}
