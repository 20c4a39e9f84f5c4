package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/t-sasatani/elp-camera/internal/config"
)

// cliOptions carries the flags every subcommand shares. Flags override the
// config file only when set on the command line, so a snapshot from -config
// survives untouched defaults.
type cliOptions struct {
	fs *flag.FlagSet

	configPath string
	debug      bool

	camera    int
	resIndex  int
	width     int
	height    int
	fps       int
	format    string
	output    string
	backend   string
	budget    int
	force     bool
	autoRest  bool
	hardReset bool

	mjpegAddr string
	noDisplay bool
	watch     bool
}

func newFlags(name string) *cliOptions {
	o := &cliOptions{fs: flag.NewFlagSet(name, flag.ExitOnError)}
	o.fs.StringVar(&o.configPath, "config", "", "path to a yaml config file")
	o.fs.BoolVar(&o.debug, "debug", false, "enable debug logging")
	o.fs.IntVar(&o.camera, "camera", 0, "camera index")
	o.fs.IntVar(&o.resIndex, "resolution", -1, "resolution catalog index")
	o.fs.IntVar(&o.width, "width", 0, "explicit frame width")
	o.fs.IntVar(&o.height, "height", 0, "explicit frame height")
	o.fs.IntVar(&o.fps, "fps", 0, "frame rate")
	o.fs.StringVar(&o.format, "format", "", "video format (MJPEG or YUY2)")
	o.fs.StringVar(&o.output, "output", "", "recording output directory")
	o.fs.StringVar(&o.backend, "backend", "", "capture backend (opencv, v4l2, sim)")
	o.fs.IntVar(&o.budget, "failure-budget", 0, "consecutive frame failures before giving up")
	o.fs.BoolVar(&o.force, "force", false, "apply every negotiation step even on mismatch")
	o.fs.BoolVar(&o.autoRest, "auto-restart", false, "recover automatically on capture failure")
	o.fs.BoolVar(&o.hardReset, "hard-reset", false, "scrub the device state during recovery")
	o.fs.StringVar(&o.mjpegAddr, "mjpeg", "", "serve the feed as http mjpeg on this address instead of a window")
	o.fs.BoolVar(&o.noDisplay, "no-display", false, "run without any display")
	o.fs.BoolVar(&o.watch, "watch", false, "reload -config on change and restart the stream")
	return o
}

// resolve parses args, loads the config file if any, and overlays the flags
// that were explicitly set. It also installs the process logger.
func (o *cliOptions) resolve(args []string) (*config.Config, error) {
	if err := o.fs.Parse(args); err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if o.debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	var cfg *config.Config
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	o.fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "camera":
			cfg.CameraIndex = o.camera
		case "resolution":
			idx := o.resIndex
			cfg.ResolutionIndex = &idx
		case "width":
			cfg.Width = o.width
		case "height":
			cfg.Height = o.height
		case "fps":
			cfg.FPS = o.fps
		case "format":
			cfg.VideoFormat = o.format
		case "output":
			cfg.OutputDir = o.output
		case "backend":
			cfg.Backend = o.backend
		case "failure-budget":
			cfg.FailureBudget = o.budget
		case "force":
			cfg.Force = o.force
		case "auto-restart":
			cfg.AutoRestart = o.autoRest
		case "hard-reset":
			cfg.HardReset = o.hardReset
		}
	})

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
