package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/t-sasatani/elp-camera/internal/camera"
	"github.com/t-sasatani/elp-camera/internal/config"
	"github.com/t-sasatani/elp-camera/internal/display"
	"github.com/t-sasatani/elp-camera/internal/record"
)

// cmdStream runs preview or record. With -watch it restarts the stream
// whenever the config file changes; without it the stream runs until the
// context is cancelled or the window is closed.
func cmdStream(ctx context.Context, kind string, args []string) error {
	opts := newFlags(kind)
	cfg, err := opts.resolve(args)
	if err != nil {
		return err
	}

	if !opts.watch {
		return streamOnce(ctx, kind, cfg, opts)
	}
	if opts.configPath == "" {
		return errors.New("-watch requires -config")
	}

	updates, err := config.Watch(ctx, opts.configPath)
	if err != nil {
		return err
	}
	for {
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- streamOnce(runCtx, kind, cfg, opts) }()

		select {
		case next, ok := <-updates:
			cancel()
			if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			if !ok {
				return ctx.Err()
			}
			slog.Info("config reloaded, restarting stream", "kind", kind)
			cfg = next
		case err := <-done:
			cancel()
			return err
		}
	}
}

func streamOnce(ctx context.Context, kind string, cfg *config.Config, opts *cliOptions) error {
	s, _, err := newSession(cfg)
	if err != nil {
		return err
	}

	disp := newDisplay(kind, opts)
	defer disp.Close()

	if kind == "preview" {
		return s.Preview(ctx, disp)
	}

	var rec *record.Recorder
	err = s.Record(ctx, func(mode camera.ResolvedMode) (camera.FrameSink, error) {
		r, err := record.New(cfg.OutputDir, mode)
		if err != nil {
			return nil, err
		}
		rec = r
		return r, nil
	}, disp)
	if rec != nil {
		fmt.Printf("recorded %d frames to %s\n", rec.Frames(), rec.Path())
	}
	return err
}

func newDisplay(kind string, opts *cliOptions) camera.Display {
	switch {
	case opts.noDisplay:
		return display.Nop{}
	case opts.mjpegAddr != "":
		return display.NewStream(opts.mjpegAddr)
	default:
		return display.NewWindow("elpcam " + kind)
	}
}
