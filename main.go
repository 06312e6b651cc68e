package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/goccy/go-json"
	"github.com/thejerf/suture/v4"

	"auto-eq/internal/classifier"
	"auto-eq/internal/config"
	"auto-eq/internal/dataset"
	"auto-eq/internal/dsp"
	"auto-eq/internal/engine"
	"auto-eq/internal/logging"
	"auto-eq/internal/metrics"
	"auto-eq/internal/obd"
	"auto-eq/internal/predcache"
	"auto-eq/internal/presets"
	"auto-eq/internal/preview"
	"auto-eq/internal/profile"
	"auto-eq/internal/report"
	"auto-eq/internal/resolver"
	"auto-eq/internal/shaper"
	"auto-eq/internal/spotify"
	"auto-eq/internal/voice"
)

type CLI struct {
	Config    string        `short:"c" type:"path" help:"Path to YAML config file (optional)"`
	NoVoice   bool          `help:"Disable voice announcements"`
	NoML      bool          `name:"no-ml" help:"Disable the ML fallback stages"`
	NoConsole bool          `help:"Do not read manual preset changes from stdin"`
	Driving   bool          `help:"Driving mode: short phrases and a long voice cooldown"`
	Interval  time.Duration `help:"Poll interval, overrides the config file"`
	LogLevel  string        `help:"Log level: trace, debug, info, warn, error"`
	Login     bool          `help:"Authorize with Spotify and exit"`

	Stats          bool   `help:"Print prediction cache statistics and exit"`
	Prune          int    `placeholder:"N" default:"-1" help:"Keep only the newest N cached predictions and exit"`
	Profile        bool   `help:"Print the listener profile and exit"`
	ExportTraining string `type:"path" placeholder:"FILE" help:"Write profile feedback as labelled training samples (JSON) and exit"`
	Search         string `placeholder:"QUERY" help:"Search the local dataset and exit"`
	ShowPreset     string `placeholder:"NAME" help:"Print a preset's bands and exit"`
	Format         string `default:"generic" enum:"generic,equalizer_apo,minidsp,json" help:"Output format for --show-preset"`
	ConvertModel   string `type:"path" placeholder:"SRC" help:"Re-encode a model file and exit, the format follows --model-out's extension"`
	ModelOut       string `type:"path" placeholder:"DST" help:"Destination for --convert-model"`
}

func (c *CLI) oneShot() bool {
	return c.Prune >= 0 || c.Stats || c.Profile || c.ExportTraining != "" ||
		c.Search != "" || c.ShowPreset != "" || c.ConvertModel != ""
}

func main() {
	cli := &CLI{}
	kong.Parse(cli,
		kong.Name("auto-eq"),
		kong.Description("Adaptive equalizer that follows what you are listening to"),
		kong.UsageOnError(),
	)

	if err := run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", report.TitleStyle.UnsetMarginBottom().Render("Error:"), err)
		os.Exit(1)
	}
}

func run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	applyFlags(cfg, cli)

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cli.Login {
		return spotify.Login(ctx, cfg.Spotify, func(u string) {
			fmt.Printf("Open this URL to authorize auto-eq:\n\n  %s\n\n", u)
		})
	}
	if cli.oneShot() {
		return oneShot(cfg, cli, os.Stdout)
	}
	return serve(ctx, cfg, cli)
}

func applyFlags(cfg *config.Config, cli *CLI) {
	if cli.NoVoice {
		cfg.Voice.Enabled = false
	}
	if cli.NoML {
		cfg.Models.DisableML = true
	}
	if cli.Driving {
		cfg.Voice.Driving = true
	}
	if cli.NoConsole {
		cfg.Poll.Console = false
	}
	if cli.Interval > 0 {
		cfg.Poll.Interval = cli.Interval
	}
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
}

func openCache(cfg config.CacheConfig) (*predcache.Cache, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	l, err := predcache.OpenLog(cfg.Backend, cfg.Path)
	if err != nil {
		return nil, err
	}
	return predcache.Open(l, cfg.MaxEntries)
}

// oneShot runs the reporting and maintenance actions. Prune runs before
// stats so the stats reflect the pruned cache.
func oneShot(cfg *config.Config, cli *CLI, w io.Writer) error {
	if cli.ConvertModel != "" {
		if cli.ModelOut == "" {
			return errors.New("--convert-model needs --model-out")
		}
		kind, err := classifier.ConvertModel(cli.ConvertModel, cli.ModelOut)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s model written to %s\n", kind, cli.ModelOut)
	}
	if cli.ShowPreset != "" {
		p, ok := presets.NewCatalog().Get(cli.ShowPreset)
		if !ok {
			return fmt.Errorf("%w: %s", dsp.ErrUnknownPreset, cli.ShowPreset)
		}
		out, err := presets.Format(p.Bands, cli.Format)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, strings.TrimRight(out, "\n"))
	}
	if cli.Search != "" {
		ds, err := dataset.Load(cfg.Dataset.Path)
		if err != nil {
			return err
		}
		mapping := presets.LoadMapping(cfg.Mapping.Path, presets.NewCatalog(), cfg.Resolver.Fallback)
		presetFor := func(r dataset.Row) string {
			if m, ok := mapping.Match(r.Genres); ok {
				return m.Preset
			}
			if r.Cluster != dataset.NoCluster {
				return ds.ClusterPreset(r.Cluster, mapping) + fmt.Sprintf(" (cluster %d)", r.Cluster)
			}
			return mapping.Fallback()
		}
		report.Print(w, report.DatasetMatches(cli.Search, ds.Search(cli.Search, 20), presetFor))
	}
	if cli.Prune >= 0 || cli.Stats {
		cache, err := openCache(cfg.Cache)
		if err != nil {
			return err
		}
		defer cache.Close()

		if cli.Prune >= 0 {
			kept, pruned, err := cache.Prune(cli.Prune)
			if err != nil {
				return err
			}
			report.Print(w, report.Pruned(kept, pruned, cli.Prune))
		}
		if cli.Stats {
			s, err := cache.Stats()
			if err != nil {
				return err
			}
			report.Print(w, report.CacheStats(s, cache.MaxEntries()))
		}
	}
	if cli.Profile || cli.ExportTraining != "" {
		p := profile.Load(cfg.Profile.Path)
		if cli.Profile {
			report.Print(w, report.Profile(p, 10, profile.NewMonitor(p).TrainingConfidence()))
		}
		if cli.ExportTraining != "" {
			n, err := exportTraining(p, cli.ExportTraining)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%d training samples written to %s\n", n, cli.ExportTraining)
		}
	}
	return nil
}

func exportTraining(p *profile.Profile, path string) (int, error) {
	samples := p.ExportFeedbackForTraining(profile.TrainingMinPerGenre)
	if samples == nil {
		samples = []profile.TrainingSample{}
	}
	raw, err := json.MarshalIndent(samples, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode training samples: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create export dir: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return 0, fmt.Errorf("write training samples: %w", err)
	}
	return len(samples), nil
}

func serve(ctx context.Context, cfg *config.Config, cli *CLI) error {
	log := logging.Component("main")

	source, err := spotify.New(ctx, cfg.Spotify)
	if err != nil {
		return err
	}

	catalog := presets.NewCatalog()
	mapping := presets.LoadMapping(cfg.Mapping.Path, catalog, cfg.Resolver.Fallback)

	ds, err := dataset.Load(cfg.Dataset.Path)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.Dataset.Path).Msg("local dataset unavailable")
	}

	cache, err := openCache(cfg.Cache)
	if err != nil {
		return err
	}
	defer cache.Close()

	prof := profile.Load(cfg.Profile.Path)
	if err := prof.StartSession(); err != nil {
		log.Warn().Err(err).Msg("profile not saved")
	}
	defer prof.Flush()

	deps := resolver.Deps{
		Catalog: catalog,
		Mapping: mapping,
		Dataset: ds,
		Cache:   cache,
		Profile: prof,
	}
	if !cfg.Models.DisableML {
		deps.Classifiers = classifier.NewPool(cfg.Models)
		deps.Preview = preview.New(cfg.Preview, ds)
	}

	controller := dsp.NewController(cfg.DSP)
	defer controller.Close()

	rpm := obd.NewRPMSource(cfg.OBD)
	if c, ok := rpm.(io.Closer); ok {
		defer c.Close()
	}

	var speaker voice.Speaker = voice.NoopSpeaker{}
	if cfg.Voice.Enabled {
		speaker = voice.NewCommandSpeaker(cfg.Voice.Command, cfg.Voice.Timeout)
	}

	loopDeps := engine.Deps{
		Source:    source,
		Resolver:  resolver.New(cfg.Resolver, deps),
		Catalog:   catalog,
		Shaper:    shaper.New(cfg.Shaper),
		DSP:       controller,
		Announcer: voice.NewAnnouncer(cfg.Voice, speaker),
		Monitor:   profile.NewMonitor(prof),
		RPM:       rpm,
	}
	if cfg.APO.Enabled {
		loopDeps.Writer = dsp.NewAPOWriter(cfg.APO.Dir)
	}
	loop := engine.New(cfg.Poll, loopDeps)

	sup := suture.New("auto-eq", suture.Spec{
		EventHook: func(e suture.Event) {
			log.Warn().Str("event", e.String()).Msg("supervisor event")
		},
		Timeout: 15 * time.Second,
	})
	sup.Add(loop)
	if cfg.Poll.Console {
		sup.Add(engine.NewConsole(loop, os.Stdin, os.Stdout))
	}
	if cfg.Metrics.Enabled {
		sup.Add(metrics.NewServer(cfg.Metrics.Addr))
	}

	log.Info().
		Bool("ml", !cfg.Models.DisableML).
		Bool("voice", cfg.Voice.Enabled).
		Bool("driving", cfg.Voice.Driving).
		Str("cache", cfg.Cache.Backend).
		Int("dataset_rows", ds.Len()).
		Msg("auto eq running, ctrl+c to stop")

	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
