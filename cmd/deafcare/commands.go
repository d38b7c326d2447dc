package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lionelramela/deafcare/internal/app"
	"github.com/lionelramela/deafcare/internal/cache"
	"github.com/lionelramela/deafcare/internal/community"
	"github.com/lionelramela/deafcare/internal/config"
	"github.com/lionelramela/deafcare/internal/recognize"
	"github.com/lionelramela/deafcare/internal/render"
	"github.com/lionelramela/deafcare/internal/synth"
	"github.com/lionelramela/deafcare/internal/transcribe"
	"github.com/lionelramela/deafcare/pkg/audio"
	"github.com/lionelramela/deafcare/pkg/inference"
)

// cmdEnv is what every command receives.
type cmdEnv struct {
	app        *app.App
	cfg        *config.Config
	configPath string
	level      *slog.LevelVar
	out        io.Writer
}

type command struct {
	summary string
	run     func(ctx context.Context, env *cmdEnv, args []string) error
}

var commands = map[string]command{
	"letter":     {"show the sign for one or more letters (generated on first use)", runLetter},
	"regen":      {"regenerate a letter's sign, replacing the cached one", runRegen},
	"sync":       {"generate every missing letter of the alphabet", runSync},
	"word":       {"show the sign for a word", runWord},
	"gloss":      {"translate English sentences to ASL gloss, one per line", runGloss},
	"translate":  {"detect the language of a text and translate it", runTranslate},
	"speak":      {"synthesize speech to a WAV file", runSpeak},
	"transcribe": {"live-transcribe a WAV or raw PCM16 file (- for stdin)", runTranscribe},
	"render":     {"render an ASL demonstration video for a gloss", runRender},
	"recognize":  {"recognize ASL signs in JPEG frames", runRecognize},
	"refine":     {"polish a community post", runRefine},
	"news":       {"list recent Deaf healthcare news", runNews},
	"nearby":     {"find Deaf-friendly care near a location", runNearby},
	"serve":      {"run scheduled sync with health and metrics endpoints", runServe},
}

var commandOrder = []string{
	"letter", "regen", "sync", "word", "gloss", "translate", "speak",
	"transcribe", "render", "recognize", "refine", "news", "nearby", "serve",
}

func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

// textArg joins the positional arguments, or reads stdin when they are
// absent or a single "-".
func textArg(args []string) (string, error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	}
	return strings.Join(args, " "), nil
}

// preferredExt overrides the alphabetical first pick of mime.ExtensionsByType
// for types with several registered extensions.
var preferredExt = map[string]string{
	"image/jpeg": ".jpg",
	"video/mp4":  ".mp4",
	"audio/wav":  ".wav",
}

// writeArtifact stores data under dir as name plus an extension derived from
// mimeType, and returns the path.
func writeArtifact(dir, name, mimeType string, data []byte) (string, error) {
	ext, ok := preferredExt[mimeType]
	if !ok {
		ext = ".bin"
		if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
			ext = exts[0]
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name+ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// ── Signs ─────────────────────────────────────────────────────────────────────

func printEntry(env *cmdEnv, dir string, e cache.Entry) error {
	path, err := writeArtifact(dir, e.Key, e.Artifact.MIMEType, e.Artifact.Data)
	if err != nil {
		return err
	}
	if e.Description != "" {
		fmt.Fprintf(env.out, "%s  %s  %s\n", e.Key, path, e.Description)
	} else {
		fmt.Fprintf(env.out, "%s  %s\n", e.Key, path)
	}
	return nil
}

func runLetter(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlags("letter")
	dir := fs.String("o", ".", "directory for sign images")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("usage: letter [-o dir] <letter>...")
	}
	var errs []error
	for _, key := range fs.Args() {
		e, err := env.app.Alphabet().Get(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := printEntry(env, *dir, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func runRegen(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlags("regen")
	dir := fs.String("o", ".", "directory for sign images")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: regen [-o dir] <letter>")
	}
	e, err := env.app.Alphabet().Regenerate(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	return printEntry(env, *dir, e)
}

func runSync(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlags("sync")
	letters := fs.String("letters", "", "letters to sync instead of A-Z")
	if err := fs.Parse(args); err != nil {
		return err
	}
	keys := synth.AlphabetKeys()
	if *letters != "" {
		keys = strings.Split(strings.ToUpper(*letters), "")
	}
	report, err := env.app.Alphabet().SyncAll(ctx, keys, func(p synth.Progress) {
		switch {
		case p.Err != nil:
			fmt.Fprintf(env.out, "[%3d%%] %s failed: %v\n", p.Percent, p.Key, p.Err)
		case p.Skipped:
			fmt.Fprintf(env.out, "[%3d%%] %s cached\n", p.Percent, p.Key)
		default:
			fmt.Fprintf(env.out, "[%3d%%] %s generated\n", p.Percent, p.Key)
		}
	})
	fmt.Fprintf(env.out, "generated %d, cached %d, failed %d of %d\n",
		report.Generated, report.Skipped, len(report.Failed), report.Total)
	return err
}

func runWord(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlags("word")
	dir := fs.String("o", ".", "directory for sign images")
	regen := fs.Bool("regen", false, "replace the cached sign")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("usage: word [-o dir] [-regen] <word>")
	}
	term := strings.Join(fs.Args(), " ")
	get := env.app.Words().Get
	if *regen {
		get = env.app.Words().Regenerate
	}
	e, err := get(ctx, term)
	if err != nil {
		return err
	}
	return printEntry(env, *dir, e)
}

// ── Language ──────────────────────────────────────────────────────────────────

func runGloss(ctx context.Context, env *cmdEnv, args []string) error {
	text, err := textArg(args)
	if err != nil {
		return err
	}
	lines, err := env.app.Gloss().TranslateLines(ctx, text)
	for _, l := range lines {
		if l.Err != nil {
			fmt.Fprintf(env.out, "%s\n  error: %v\n", l.Input, l.Err)
			continue
		}
		fmt.Fprintf(env.out, "%s\n  gloss: %s\n  %s\n", l.Input, l.Result.Gloss, l.Result.Description)
		for i, m := range l.Result.Movements {
			fmt.Fprintf(env.out, "  %d. %s\n", i+1, m)
		}
	}
	return err
}

func runTranslate(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlags("translate")
	to := fs.String("to", "", "target language name or BCP-47 code (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	text, err := textArg(fs.Args())
	if err != nil {
		return err
	}
	res, err := env.app.Translator().DetectAndTranslate(ctx, text, *to)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.out, "detected: %s\n%s\n", res.DetectedLanguage, res.TranslatedText)
	return nil
}

func runSpeak(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlags("speak")
	out := fs.String("o", "speech.wav", "output WAV file")
	voice := fs.String("voice", "", "prebuilt voice (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	text, err := textArg(fs.Args())
	if err != nil {
		return err
	}
	if *voice == "" {
		*voice = env.cfg.Providers.Gemini.Voice
	}
	blob, err := env.app.Speech().SynthesizeSpeech(ctx, inference.SayClearly(text), *voice)
	if err != nil {
		return err
	}
	return writeWAV(*out, blob)
}

func writeWAV(path string, blob inference.Blob) error {
	wav := audio.EncodeWAV(blob.Data, audio.Format{SampleRate: inference.SpeechSampleRate, Channels: 1})
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		return err
	}
	slog.Info("speech written", "path", path, "bytes", len(wav))
	return nil
}

// ── Transcription ─────────────────────────────────────────────────────────────

func runTranscribe(ctx context.Context, env *cmdEnv, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: transcribe <file.wav|->")
	}
	session := env.app.NewTranscriber(audio.FileAcquirer(args[0]))
	cancel := session.Transcript().Subscribe(func(u transcribe.Update) {
		switch u.Kind {
		case transcribe.UpdatePreview:
			if u.Preview != "" {
				fmt.Fprintf(env.out, "\r… %s", u.Preview)
			}
		case transcribe.UpdateCommit:
			fmt.Fprintf(env.out, "\r%s  %s\n", u.Message.Timestamp.Format("15:04:05"), u.Message.Text)
		}
	})
	defer cancel()

	if err := session.Start(ctx); err != nil {
		return err
	}
	select {
	case <-session.Done():
	case <-ctx.Done():
		_ = session.Stop()
	}
	if p := session.Transcript().Preview(); p != "" {
		fmt.Fprintln(env.out)
	}
	return session.Err()
}

// ── Video ─────────────────────────────────────────────────────────────────────

func runRender(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlags("render")
	dir := fs.String("o", ".", "directory for the video")
	movement := fs.Bool("movement", false, "treat the argument as a single movement description")
	aspect := fs.String("aspect", "", "aspect ratio (default from config)")
	resolution := fs.String("resolution", "", "resolution (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	text, err := textArg(fs.Args())
	if err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("usage: render [-movement] [-o dir] <gloss>")
	}
	prompt := render.FullPhrasePrompt(text)
	if *movement {
		prompt = render.MovementPrompt(text)
	}
	req := render.Request{Prompt: prompt, AspectRatio: *aspect, Resolution: *resolution}

	res, err := env.app.Render().Render(ctx, req)
	if err == nil && res.State == render.StateCredentialReselected {
		slog.Info("credential reselected; retrying render")
		res, err = env.app.Render().Render(ctx, req)
	}
	if err != nil {
		return err
	}
	if res.State != render.StateSucceeded {
		return fmt.Errorf("render ended in state %s", res.State)
	}
	path, err := writeArtifact(*dir, "sign-"+filepath.Base(res.Job.Handle), res.MIMEType, res.Video)
	if err != nil {
		return err
	}
	fmt.Fprintln(env.out, path)
	return nil
}

// ── Recognition ───────────────────────────────────────────────────────────────

func runRecognize(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlags("recognize")
	speechDir := fs.String("speech", "", "directory for spoken announcements as WAV")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("usage: recognize [-speech dir] <frame.jpg>...")
	}

	r, err := env.app.NewRecognizer(func(a recognize.Announcement) {
		fmt.Fprintf(env.out, "sign: %s\n", a.Word)
		if a.Speech == nil || *speechDir == "" {
			return
		}
		if err := os.MkdirAll(*speechDir, 0o755); err != nil {
			slog.Warn("speech directory", "err", err)
			return
		}
		if err := writeWAV(filepath.Join(*speechDir, strings.ToLower(a.Word)+".wav"), *a.Speech); err != nil {
			slog.Warn("write speech", "word", a.Word, "err", err)
		}
	})
	if err != nil {
		return err
	}

	var errs []error
	for _, path := range fs.Args() {
		frame, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		word, _, err := r.ProcessFrame(ctx, frame)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		if word == "" {
			slog.Debug("no sign in frame", "path", path)
		}
	}
	return errors.Join(errs...)
}

// ── Community ─────────────────────────────────────────────────────────────────

func runRefine(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlags("refine")
	category := fs.String("category", "update", "post category: news, update or testimonial")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var cat community.Category
	switch strings.ToLower(*category) {
	case "news":
		cat = community.CategoryNews
	case "update":
		cat = community.CategoryUpdate
	case "testimonial":
		cat = community.CategoryTestimonial
	default:
		return fmt.Errorf("unknown category %q", *category)
	}
	text, err := textArg(fs.Args())
	if err != nil {
		return err
	}
	fmt.Fprintln(env.out, env.app.Community().Refine(ctx, text, cat))
	return nil
}

func runNews(ctx context.Context, env *cmdEnv, _ []string) error {
	links, err := env.app.Community().News(ctx)
	if err != nil {
		return err
	}
	for _, l := range links {
		fmt.Fprintf(env.out, "%s\n  %s\n", l.Title, l.URI)
	}
	return nil
}

func runNearby(ctx context.Context, env *cmdEnv, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: nearby <latitude> <longitude>")
	}
	lat, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("longitude: %w", err)
	}
	care, err := env.app.Community().NearbyCare(ctx, lat, lng)
	if err != nil {
		return err
	}
	fmt.Fprintln(env.out, care.Summary)
	for _, p := range care.Places {
		fmt.Fprintf(env.out, "  %s\n    %s\n", p.Title, p.URI)
	}
	return nil
}

// ── Serve ─────────────────────────────────────────────────────────────────────

func runServe(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlags("serve")
	addr := fs.String("addr", env.cfg.Server.MetricsAddr, "listen address for /metrics, /healthz and /readyz")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := os.Stat(env.configPath); err == nil {
		w, err := config.NewWatcher(env.configPath, func(_, _ *config.Config, d config.ConfigDiff) {
			if d.LogLevelChanged {
				env.level.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			if err := env.app.ApplyConfig(d); err != nil {
				slog.Warn("config change rejected", "err", err)
			}
		})
		if err != nil {
			return err
		}
		defer w.Stop()
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	errCh := make(chan error, 1)
	if *addr != "" {
		go func() {
			err := env.app.Serve(ctx, *addr)
			if err != nil {
				cancel(err)
			}
			errCh <- err
		}()
	}

	if spec := env.app.Scheduler().Spec(); spec == "" {
		slog.Info("no sync schedule configured; serving probes only")
	}
	slog.Info("ready, press Ctrl+C to shut down")

	runErr := env.app.Run(ctx)
	if *addr != "" {
		if err := <-errCh; err != nil {
			return err
		}
	}
	return runErr
}
