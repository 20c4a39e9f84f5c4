// Command elpcam drives an ELP IMX179 USB camera: preview, record,
// resolution and property control, property-space scanning, and recovery of
// a wedged device.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/t-sasatani/elp-camera/internal/backend/opencv"
	"github.com/t-sasatani/elp-camera/internal/backend/v4l2cam"
	"github.com/t-sasatani/elp-camera/internal/camera"
	"github.com/t-sasatani/elp-camera/internal/camera/simcam"
	"github.com/t-sasatani/elp-camera/internal/config"
	"github.com/t-sasatani/elp-camera/internal/session"
)

const listProbeMax = 10

func usage() {
	fmt.Fprintf(os.Stderr, `usage: elpcam <command> [flags]

commands:
  list            list working video devices
  resolutions     list the published resolution catalog
  preview         show the camera feed
  record          record the camera feed to a timestamped file
  set-resolution  negotiate a capture mode and report the result
  set-fps         set only the frame rate
  set-property    set a control by name or numeric id
  get-properties  read all named controls
  scan            classify a numeric property id range
  deep-scan       scan and correlate ids with width/height/fps effects
  restart         recover the device without replugging

run 'elpcam <command> -h' for command flags
`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1], os.Args[2:]); err != nil {
		slog.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, args []string) error {
	switch command {
	case "list":
		return cmdList(args)
	case "resolutions":
		return cmdResolutions(args)
	case "preview":
		return cmdStream(ctx, "preview", args)
	case "record":
		return cmdStream(ctx, "record", args)
	case "set-resolution":
		return cmdSetResolution(ctx, args)
	case "set-fps":
		return cmdSetFPS(ctx, args)
	case "set-property":
		return cmdSetProperty(ctx, args)
	case "get-properties":
		return cmdGetProperties(ctx, args)
	case "scan":
		return cmdScan(ctx, args, false)
	case "deep-scan":
		return cmdScan(ctx, args, true)
	case "restart":
		return cmdRestart(ctx, args)
	case "-h", "--help", "help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func cmdList(args []string) error {
	opts := newFlags("list")
	cfg, err := opts.resolve(args)
	if err != nil {
		return err
	}
	b, err := buildBackend(cfg.Backend)
	if err != nil {
		return err
	}
	devices := camera.ListDevices(b, listProbeMax)
	if len(devices) == 0 {
		fmt.Println("no working video devices found")
		return nil
	}
	for _, d := range devices {
		fmt.Printf("device %d: %dx%d\n", d.Index, d.Width, d.Height)
	}
	return nil
}

func cmdResolutions(args []string) error {
	opts := newFlags("resolutions")
	if _, err := opts.resolve(args); err != nil {
		return err
	}
	for i, m := range camera.Resolutions {
		marker := ""
		if i == camera.KnownGoodIndex {
			marker = "  (known good)"
		}
		fmt.Printf("%2d: %s%s\n", i, m, marker)
	}
	return nil
}

func cmdSetResolution(ctx context.Context, args []string) error {
	opts := newFlags("set-resolution")
	cfg, err := opts.resolve(args)
	if err != nil {
		return err
	}
	s, mode, err := newSession(cfg)
	if err != nil {
		return err
	}
	resolved, err := s.SetResolution(ctx, mode)
	if err != nil {
		return err
	}
	fmt.Printf("negotiated %s\n", resolved)
	return nil
}

func cmdSetFPS(ctx context.Context, args []string) error {
	opts := newFlags("set-fps")
	cfg, err := opts.resolve(args)
	if err != nil {
		return err
	}
	if cfg.FPS <= 0 {
		return fmt.Errorf("set-fps requires -fps")
	}
	s, _, err := newSession(cfg)
	if err != nil {
		return err
	}
	achieved, err := s.SetFPS(ctx, cfg.FPS)
	if err != nil {
		return err
	}
	fmt.Printf("fps now %.3g\n", achieved)
	return nil
}

func cmdSetProperty(ctx context.Context, args []string) error {
	opts := newFlags("set-property")
	name := opts.fs.String("name", "", "property name (e.g. GAIN, EXPOSURE)")
	id := opts.fs.Int("id", -1, "raw numeric property id")
	value := opts.fs.Float64("value", 0, "value to write")
	cfg, err := opts.resolve(args)
	if err != nil {
		return err
	}
	s, _, err := newSession(cfg)
	if err != nil {
		return err
	}
	switch {
	case *name != "":
		if err := s.SetNamedProperty(ctx, *name, *value); err != nil {
			return err
		}
		fmt.Printf("%s set to %g\n", *name, *value)
	case *id >= 0:
		if err := s.SetPropertyID(ctx, camera.PropID(*id), *value); err != nil {
			return err
		}
		fmt.Printf("property %d set to %g\n", *id, *value)
	default:
		return fmt.Errorf("set-property requires -name or -id")
	}
	return nil
}

func cmdGetProperties(ctx context.Context, args []string) error {
	opts := newFlags("get-properties")
	cfg, err := opts.resolve(args)
	if err != nil {
		return err
	}
	s, _, err := newSession(cfg)
	if err != nil {
		return err
	}
	values, err := s.GetProperties(ctx)
	if err != nil {
		return err
	}
	for _, v := range values {
		if !v.OK {
			fmt.Printf("%-14s (id %4d)  n/a\n", v.Name, v.ID)
			continue
		}
		fmt.Printf("%-14s (id %4d)  %g\n", v.Name, v.ID, v.Value)
	}
	return nil
}

func cmdScan(ctx context.Context, args []string, deep bool) error {
	name := "scan"
	if deep {
		name = "deep-scan"
	}
	opts := newFlags(name)
	from := opts.fs.Int("from", 0, "first property id")
	to := opts.fs.Int("to", 50, "last property id")
	step := opts.fs.Int("step", 1, "id increment")
	cfg, err := opts.resolve(args)
	if err != nil {
		return err
	}
	s, _, err := newSession(cfg)
	if err != nil {
		return err
	}
	obs, err := s.ScanProperties(ctx, camera.PropID(*from), camera.PropID(*to), camera.PropID(*step), deep)
	for _, o := range obs {
		fmt.Println(o)
	}
	return err
}

func cmdRestart(ctx context.Context, args []string) error {
	opts := newFlags("restart")
	cfg, err := opts.resolve(args)
	if err != nil {
		return err
	}
	s, _, err := newSession(cfg)
	if err != nil {
		return err
	}
	attempt, err := s.Restart(ctx, cfg.HardReset)
	if err != nil {
		return err
	}
	fmt.Printf("camera restarted (%s, hard_reset=%v, trace %s)\n",
		attempt.Outcome, attempt.HardReset, attempt.TraceID)
	return nil
}

// newSession builds a session from a resolved config snapshot.
func newSession(cfg *config.Config) (*session.Session, camera.ResolutionMode, error) {
	b, err := buildBackend(cfg.Backend)
	if err != nil {
		return nil, camera.ResolutionMode{}, err
	}
	mode, err := cfg.Mode()
	if err != nil {
		return nil, camera.ResolutionMode{}, err
	}
	s := session.New(session.Options{
		Backend:       b,
		Index:         cfg.CameraIndex,
		Mode:          mode,
		Force:         cfg.Force,
		AutoRestart:   cfg.AutoRestart,
		HardReset:     cfg.HardReset,
		FailureBudget: cfg.FailureBudget,
	})
	return s, mode, nil
}

func buildBackend(name string) (camera.Backend, error) {
	switch name {
	case "opencv":
		return opencv.Backend{}, nil
	case "v4l2":
		return v4l2cam.Backend{}, nil
	case "sim":
		return &simcam.Backend{Dev: simcam.NewDevice()}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}
