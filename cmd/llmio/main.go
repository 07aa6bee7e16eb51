// Command llmio is an interactive calculator chat backed by an LLM that calls Go tools.
//
// Configuration comes from the environment (a .env file in the working directory is
// loaded first) and can be overridden with flags:
//
//	LLMIO_PROVIDER     ollama (default), openai, azure or anthropic
//	LLMIO_MODEL        model name, or the deployment name for azure
//	LLMIO_BASE_URL     provider endpoint
//	LLMIO_API_VERSION  azure API version
//	LLMIO_MAX_TURNS    model calls per message (default 10, 0 = unlimited)
//	LLMIO_PARALLEL_TOOLS  run the tool calls of one turn concurrently
//	LLMIO_LOG_LEVEL    debug, info, warn (default) or error
//	OPENAI_API_KEY / ANTHROPIC_API_KEY
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/skosovsky/llmio"
)

const instruction = "You are a calculating agent. Use the tools for every arithmetic operation."

func main() {
	_ = godotenv.Load()
	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err = newRootCmd(cfg).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg config) *cobra.Command {
	root := &cobra.Command{
		Use:          "llmio",
		Short:        "Chat with a calculator agent",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		PreRunE: func(*cobra.Command, []string) error {
			return cfg.validate()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	f := root.Flags()
	f.StringVar(&cfg.Provider, "provider", cfg.Provider, "ollama, openai, azure or anthropic")
	f.StringVar(&cfg.Model, "model", cfg.Model, "model or azure deployment name")
	f.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "provider endpoint")
	f.StringVar(&cfg.APIVersion, "api-version", cfg.APIVersion, "azure API version")
	f.IntVar(&cfg.MaxTurns, "max-turns", cfg.MaxTurns, "model calls per message (0 = unlimited)")
	f.BoolVar(&cfg.Parallel, "parallel", cfg.Parallel, "run the tool calls of one turn concurrently")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")

	root.AddCommand(&cobra.Command{
		Use:   "tools",
		Short: "Print the tool schemas sent to the model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printTools(cmd.OutOrStdout())
		},
	})
	return root
}

func newAgent(cfg config, c llmio.Completer, logger *slog.Logger) (*llmio.Agent, error) {
	tools, err := calculatorTools()
	if err != nil {
		return nil, err
	}
	reg := llmio.NewRegistry(llmio.WithDefaultTimeout(30 * time.Second))
	reg.Use(llmio.WithLogging(logger))
	opts := []llmio.AgentOption{
		llmio.WithInstruction(instruction),
		llmio.WithMaxTurns(cfg.MaxTurns),
		llmio.WithRegistry(reg),
		llmio.WithLogger(logger),
	}
	if cfg.Parallel {
		opts = append(opts, llmio.WithParallelToolCalls())
	}
	agent := llmio.NewAgent(c, opts...)
	if err := agent.Register(tools...); err != nil {
		return nil, err
	}
	return agent, nil
}

func runChat(ctx context.Context, cfg config, in io.Reader, out, errOut io.Writer) error {
	level, err := cfg.level()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))
	completer, err := newCompleter(cfg)
	if err != nil {
		return fmt.Errorf("init %s provider: %w", cfg.Provider, err)
	}
	completer = llmio.WithRetry(completer, llmio.RetryPolicy{
		Attempts:   3,
		NewBackOff: llmio.ExponentialBackoff(500*time.Millisecond, 5*time.Second),
	})
	agent, err := newAgent(cfg, completer, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = agent.Registry().Shutdown(shutdownCtx)
	}()
	agent.OnMessage(func(_ context.Context, text string) error {
		_, err := fmt.Fprintln(out, text)
		return err
	})

	fmt.Fprintf(out, "llmio calculator (provider=%s). Type /exit to quit, /clear to reset context.\n", cfg.Provider)
	return chatLoop(ctx, agent, in, out, errOut)
}

// chatLoop reads one message per line and continues the conversation across lines.
func chatLoop(ctx context.Context, agent *llmio.Agent, in io.Reader, out, errOut io.Writer) error {
	var history []llmio.Message
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "/exit", "exit", "quit":
			return nil
		case "/clear":
			history = nil
			fmt.Fprintln(out, "context cleared")
			continue
		}

		turnCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		res, err := agent.Speak(turnCtx, input, llmio.WithHistory(history))
		cancel()
		if res != nil {
			history = res.History
		}
		if err != nil {
			fmt.Fprintf(errOut, "error: %v\n", err)
			if errors.Is(err, llmio.ErrInvalidHistory) {
				history = nil
			}
		}
	}
}

func printTools(out io.Writer) error {
	tools, err := calculatorTools()
	if err != nil {
		return err
	}
	reg := llmio.NewRegistry()
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(reg.Schemas())
}

