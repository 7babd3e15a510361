// Package main provides the modelstream CLI: it streams one prompt to a
// provider and prints the canonical events as they arrive, which is the
// quickest way to eyeball a provider's normalization end to end.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/router-for-me/modelstream"
	"github.com/router-for-me/modelstream/internal/config"
	"github.com/router-for-me/modelstream/internal/logging"
	"github.com/router-for-me/modelstream/internal/registry"
	"github.com/router-for-me/modelstream/sdk/stream"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	var (
		configPath string
		provider   string
		model      string
		system     string
		maxTokens  int
		thinking   int
		reasoning  string
		quiet      bool
		version    bool
	)
	flag.StringVar(&configPath, "config", "", "path to the YAML settings file")
	flag.StringVar(&provider, "provider", "", "provider identifier (default: resolved from the model)")
	flag.StringVar(&model, "model", "", "model to stream from")
	flag.StringVar(&system, "system", "", "system prompt")
	flag.IntVar(&maxTokens, "max-tokens", 0, "completion token cap")
	flag.IntVar(&thinking, "thinking", 0, "thinking budget in tokens")
	flag.StringVar(&reasoning, "reasoning", "", "reasoning effort: low, medium or high")
	flag.BoolVar(&quiet, "quiet", false, "print only text deltas and the final state")
	flag.BoolVar(&version, "version", false, "print version and exit")
	flag.Parse()

	if version {
		fmt.Printf("modelstream %s, commit %s, built %s\n", Version, Commit, BuildDate)
		return
	}
	if model == "" || flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: modelstream -model <id> [flags] <prompt>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	prompt := strings.Join(flag.Args(), " ")

	// .env keeps credentials out of the settings file.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("could not load .env: %v", err)
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}
	logging.Configure(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Quiet: quiet})
	ring := logging.NewRingBuffer(0)
	log.AddHook(ring)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.PricingFile != "" {
		if err := registry.LoadPricingFile(cfg.PricingFile); err != nil {
			log.Warnf("load pricing overrides: %v", err)
		}
		go func() {
			err := config.Watch(ctx, cfg.PricingFile, func(path string) {
				if err := registry.LoadPricingFile(path); err != nil {
					log.Warnf("reload pricing overrides: %v", err)
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warnf("watch pricing overrides: %v", err)
			}
		}()
	}

	if provider == "" {
		if info := registry.Get(model); info != nil {
			provider = info.Provider
		}
	}
	opts := buildOptions(cfg, provider, maxTokens, thinking, reasoning)
	reqCtx := &stream.Context{
		SystemPrompt: system,
		Messages: []stream.Message{
			{Role: stream.RoleUser, Content: []stream.Content{{Type: stream.ContentText, Text: prompt}}},
		},
	}

	var (
		es  *stream.EventStream
		err error
	)
	if provider != "" {
		es, err = modelstream.StreamWith(ctx, provider, model, reqCtx, opts)
	} else {
		es, err = modelstream.Stream(ctx, model, reqCtx, opts)
	}
	if err != nil {
		log.Fatalf("open stream: %v", err)
	}

	if err := printEvents(ctx, es, quiet); err != nil {
		for _, line := range ring.Dump() {
			fmt.Fprintln(os.Stderr, line)
		}
		log.Fatalf("stream: %v", err)
	}
}

func printEvents(ctx context.Context, es *stream.EventStream, quiet bool) error {
	for {
		ev, ok := es.Next(ctx)
		if !ok {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.New("stream ended without a terminal event")
		}
		switch ev.Type {
		case stream.EventTextDelta:
			fmt.Print(ev.Delta)
		case stream.EventThinkingDelta:
			if !quiet {
				fmt.Fprint(os.Stderr, ev.Delta)
			}
		case stream.EventToolCallEnd:
			if ev.Content != nil {
				fmt.Printf("\n[tool call %s(%v)]\n", ev.Content.Name, ev.Content.Arguments)
			}
		case stream.EventStatus:
			if !quiet {
				fmt.Fprintf(os.Stderr, "\n%s\n", ev.Status)
			}
		case stream.EventDone:
			fmt.Println()
			printFinal(ev, quiet)
			return nil
		case stream.EventError:
			fmt.Println()
			printFinal(ev, quiet)
			if ev.Message != nil && ev.Message.ErrorMessage != "" {
				return errors.New(ev.Message.ErrorMessage)
			}
			return fmt.Errorf("stream ended with stop reason %s", ev.StopReason)
		}
	}
}

func printFinal(ev stream.Event, quiet bool) {
	if quiet || ev.Message == nil {
		return
	}
	u := ev.Message.Usage
	fmt.Fprintf(os.Stderr, "stop=%s input=%d output=%d cacheRead=%d cost=$%.6f\n",
		ev.StopReason, u.Input, u.Output, u.CacheRead, u.Cost.Total)
}

// buildOptions assembles per-invocation options from the settings file and
// the conventional environment variables for each provider family.
func buildOptions(cfg *config.Config, provider string, maxTokens, thinking int, reasoning string) *stream.Options {
	opts := &stream.Options{
		ProxyURL:       cfg.ProxyURL,
		BaseURL:        cfg.BaseURL(provider),
		MaxTokens:      maxTokens,
		ThinkingBudget: thinking,
		Project:        os.Getenv("GOOGLE_CLOUD_PROJECT"),
		Region:         os.Getenv("CLOUD_REGION"),
		MaxAttempts:    cfg.Retry.MaxAttempts,
		RetryDelay:     cfg.Retry.InitialDelay,
		BackoffFactor:  cfg.Retry.BackoffFactor,
		IdleTimeout:    cfg.Retry.IdleTimeout,
	}
	if reasoning != "" {
		opts.Reasoning = stream.ReasoningEffort(reasoning)
	}
	switch provider {
	case "claude":
		opts.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		if token := os.Getenv("ANTHROPIC_OAUTH_TOKEN"); token != "" {
			opts.OAuthToken = &oauth2.Token{AccessToken: token}
		}
	case "bedrock":
		opts.APIKey = os.Getenv("AWS_BEARER_TOKEN_BEDROCK")
	case "gemini", "vertex", "gemini-cca":
		opts.APIKey = os.Getenv("GEMINI_API_KEY")
		if token := os.Getenv("GOOGLE_OAUTH_TOKEN"); token != "" {
			opts.OAuthToken = &oauth2.Token{AccessToken: token}
		}
	case "openai-responses", "openai-chat":
		opts.APIKey = os.Getenv("OPENAI_API_KEY")
	case "kiro":
		if token := os.Getenv("KIRO_ACCESS_TOKEN"); token != "" {
			opts.OAuthToken = &oauth2.Token{AccessToken: token}
		}
	}
	return opts
}
