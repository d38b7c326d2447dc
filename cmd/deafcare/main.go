// Command deafcare is the command-line front end for the DeafCare sign
// language assistant.
//
// Usage:
//
//	deafcare [-config config.yaml] [-env .env] <command> [flags] [args]
//
// Run "deafcare help" for the list of commands.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"golang.org/x/term"

	"github.com/lionelramela/deafcare/internal/app"
	"github.com/lionelramela/deafcare/internal/config"
	"github.com/lionelramela/deafcare/internal/credentials"
	"github.com/lionelramela/deafcare/internal/observe"
	"github.com/lionelramela/deafcare/pkg/inference/gemini"
	"github.com/lionelramela/deafcare/pkg/provider/llm"
	"github.com/lionelramela/deafcare/pkg/provider/llm/anyllm"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// ── Global flags ──────────────────────────────────────────────────────────
	fs := flag.NewFlagSet("deafcare", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := fs.String("env", ".env", "path to a .env file with API keys")
	fs.Usage = func() { usage(fs.Output(), fs) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() == 0 || fs.Arg(0) == "help" {
		usage(os.Stdout, fs)
		return 0
	}
	name, cmdArgs := fs.Arg(0), fs.Args()[1:]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "deafcare: unknown command %q\n", name)
		usage(os.Stderr, fs)
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "deafcare: %v\n", err)
		return 1
	}
	cfg, err := loadConfig(*configPath, flagSet(fs, "config"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "deafcare: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(cfg.Server.LogFormat, &level))

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "deafcare",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(sctx)
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := application.Shutdown(sctx); err != nil {
			slog.Warn("shutdown error", "err", err)
		}
	}()

	env := &cmdEnv{
		app:        application,
		cfg:        cfg,
		configPath: *configPath,
		level:      &level,
		out:        os.Stdout,
	}
	if err := cmd.run(ctx, env, cmdArgs); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		if errors.Is(err, context.Canceled) {
			slog.Info("interrupted")
			return 130
		}
		fmt.Fprintf(os.Stderr, "deafcare %s: %v\n", name, err)
		return 1
	}
	return 0
}

// loadConfig reads path. A missing default config file falls back to the
// built-in defaults; a missing explicit one is an error.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) && !explicit {
		return config.Default(), nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func flagSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires every any-llm-go backend into reg as a text
// fallback factory.
func registerBuiltinProviders(reg *config.Registry) {
	for _, backend := range anyllm.Backends {
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}
}

// buildProviders creates the Gemini service over a key ring and the text
// fallbacks named in cfg.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	gc := cfg.Providers.Gemini
	keys := credentials.NewKeyRing(gc.APIKeys, terminalPrompter)

	var opts []gemini.Option
	if gc.BaseURL != "" {
		opts = append(opts, gemini.WithBaseURL(gc.BaseURL))
	}
	if gc.LiveBaseURL != "" {
		opts = append(opts, gemini.WithLiveBaseURL(gc.LiveBaseURL))
	}
	if gc.Voice != "" {
		opts = append(opts, gemini.WithVoice(gc.Voice))
	}
	opts = append(opts, gemini.WithModels(gemini.Models{
		Text:      gc.Models.Text,
		Image:     gc.Models.Image,
		Speech:    gc.Models.Speech,
		Live:      gc.Models.Live,
		Video:     gc.Models.Video,
		Grounding: gc.Models.Grounding,
	}))

	ps := &app.Providers{Inference: gemini.New(keys, opts...)}
	slog.Info("provider created", "kind", "inference", "name", "gemini", "keys", keys.Len())

	for _, entry := range cfg.Providers.TextFallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create text fallback %q: %w", entry.Name, err)
		}
		ps.TextFallbacks = append(ps.TextFallbacks, app.NamedLLM{Name: entry.Name, Provider: p})
		slog.Info("provider created", "kind", "text_fallback", "name", entry.Name, "model", entry.Model)
	}
	return ps, nil
}

// terminalPrompter asks for a replacement API key without echoing it. It
// fails when stdin is not a terminal.
func terminalPrompter(ctx context.Context) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal to prompt for an API key")
	}
	type answer struct {
		key string
		err error
	}
	ch := make(chan answer, 1)
	go func() {
		fmt.Fprint(os.Stderr, "Gemini API key: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		ch <- answer{string(b), err}
	}()
	select {
	case a := <-ch:
		return a.key, a.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ── Logger ────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(format config.LogFormat, level slog.Leveler) *slog.Logger {
	switch format {
	case config.LogFormatTint:
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: "15:04:05",
		}))
	case config.LogFormatJSON:
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	default:
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
}

// ── Usage ─────────────────────────────────────────────────────────────────────

func usage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "Usage: deafcare [flags] <command> [command flags] [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, name := range commandOrder {
		fmt.Fprintf(w, "  %-11s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fs.SetOutput(w)
	fs.PrintDefaults()
}
