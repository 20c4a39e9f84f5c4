// Package session composes negotiation, probing, and recovery into the
// operations the CLI exposes: preview, record, and the one-shot property
// commands.
//
// Everything runs single-threaded and cooperative. One blocking frame read
// per loop iteration, cancellation observed between reads, and the one open
// handle owned exclusively by the running operation. The only defense
// against a device that silently stops producing frames is the consecutive
// read failure budget.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/t-sasatani/elp-camera/internal/camera"
	"github.com/t-sasatani/elp-camera/internal/negotiate"
	"github.com/t-sasatani/elp-camera/internal/recovery"
)

// DefaultFailureBudget is the consecutive frame read failures tolerated
// before a session gives up (or triggers recovery).
const DefaultFailureBudget = 10

// stabilityBurst is how many consecutive frames a device must deliver
// before recording starts. High modes on this sensor sometimes negotiate
// but cannot sustain streaming.
const stabilityBurst = 5

// Options is the resolved option bag a session runs with.
type Options struct {
	Backend camera.Backend
	Index   int
	Mode    camera.ResolutionMode
	// Force pushes negotiation through readback mismatches and enables
	// brute-force retries.
	Force bool
	// AutoRestart enables automatic recovery on open failure, on
	// negotiation failure, and on an exhausted frame failure budget.
	AutoRestart bool
	// HardReset makes auto-triggered recovery scrub driver state. It is
	// chosen up front; a failed soft attempt never silently escalates.
	HardReset bool
	// FailureBudget overrides DefaultFailureBudget when positive.
	FailureBudget int
}

// Session owns one device for the duration of one operation.
type Session struct {
	id   string
	opts Options
	dev  *camera.Device
	neg  *negotiate.Negotiator
	rec  *recovery.Controller
}

// New builds a session. The negotiator is shared with the recovery
// controller so reconfiguration after a restart behaves identically to
// first-time negotiation.
func New(opts Options) *Session {
	if opts.FailureBudget <= 0 {
		opts.FailureBudget = DefaultFailureBudget
	}
	neg := negotiate.New()
	rec := recovery.New()
	rec.Negotiator = neg
	return &Session{
		id:   uuid.NewString(),
		opts: opts,
		dev:  camera.NewDevice(opts.Backend, opts.Index),
		neg:  neg,
		rec:  rec,
	}
}

// ID returns the session trace ID.
func (s *Session) ID() string { return s.id }

// Device exposes the underlying device, primarily for tests.
func (s *Session) Device() *camera.Device { return s.dev }

// Recovery exposes the recovery controller so callers (and tests) can tune
// its timing.
func (s *Session) Recovery() *recovery.Controller { return s.rec }

// Negotiator exposes the negotiator for timing tuning.
func (s *Session) Negotiator() *negotiate.Negotiator { return s.neg }

// open acquires the device, going through recovery when the initial open
// fails and auto-restart is enabled.
func (s *Session) open(ctx context.Context) error {
	err := s.dev.Open()
	if err == nil {
		return nil
	}
	if !s.opts.AutoRestart {
		return err
	}
	slog.Warn("open failed, attempting recovery", "session", s.id, "device", s.opts.Index, "error", err)
	_, rerr := s.rec.Run(ctx, s.dev, recovery.Request{
		Trigger:   camera.TriggerOpenFailure,
		HardReset: s.opts.HardReset,
	})
	return rerr
}

// configure negotiates the session mode. A NegotiationError surfaces to the
// caller unless auto-restart is enabled, in which case one recovery attempt
// (which replays the mode with force) is tried and only its failure
// surfaces.
func (s *Session) configure(ctx context.Context) error {
	_, err := s.neg.Negotiate(ctx, s.dev, s.opts.Mode, s.opts.Force)
	if err == nil {
		return nil
	}
	if !s.opts.AutoRestart {
		return err
	}
	slog.Warn("negotiation failed, attempting recovery", "session", s.id, "error", err)
	mode := s.opts.Mode
	_, rerr := s.rec.Run(ctx, s.dev, recovery.Request{
		Trigger:    camera.TriggerConfigureFailure,
		HardReset:  s.opts.HardReset,
		TargetMode: &mode,
	})
	return rerr
}

// Preview opens, negotiates, and shows frames until the display reports
// quit or the context is cancelled.
func (s *Session) Preview(ctx context.Context, disp camera.Display) error {
	if err := s.open(ctx); err != nil {
		return err
	}
	defer s.dev.Close()
	if err := s.configure(ctx); err != nil {
		return err
	}
	slog.Info("preview starting", "session", s.id, "mode", s.dev.Current().String())
	return s.loop(ctx, disp, nil)
}

// SinkFactory builds a frame sink once the mode is known. It runs exactly
// once, at record start, and fixes the output identity (the Unix timestamp
// file name) for the whole session.
type SinkFactory func(mode camera.ResolvedMode) (camera.FrameSink, error)

// Record is Preview plus a frame sink. The device must pass a short
// stability burst before the sink is created; a device that negotiated a
// mode it cannot sustain fails here instead of producing an empty file.
// Once recording has started, whatever was written stays on disk no matter
// how the session ends.
func (s *Session) Record(ctx context.Context, newSink SinkFactory, disp camera.Display) error {
	if err := s.open(ctx); err != nil {
		return err
	}
	defer s.dev.Close()
	if err := s.configure(ctx); err != nil {
		return err
	}

	for i := 0; i < stabilityBurst; i++ {
		if _, err := s.dev.Handle().ReadFrame(); err != nil {
			return fmt.Errorf("device unstable at %s (failed burst frame %d/%d): %w",
				s.dev.Current().String(), i+1, stabilityBurst, err)
		}
	}

	sink, err := newSink(*s.dev.Current())
	if err != nil {
		return fmt.Errorf("create frame sink: %w", err)
	}
	defer sink.Close()

	slog.Info("recording starting", "session", s.id, "mode", s.dev.Current().String())
	return s.loop(ctx, disp, sink)
}

// loop is the shared frame pump. Display errors are advisory and ignored;
// sink errors end the session because losing frames silently would defeat
// the point of recording.
func (s *Session) loop(ctx context.Context, disp camera.Display, sink camera.FrameSink) error {
	var (
		failures int
		frames   int
		start    = time.Now()
	)
	defer func() {
		elapsed := time.Since(start)
		if frames > 0 && elapsed > 0 {
			slog.Info("session finished",
				"session", s.id,
				"frames", frames,
				"elapsed", elapsed.Round(time.Millisecond),
				"avg_fps", fmt.Sprintf("%.2f", float64(frames)/elapsed.Seconds()),
			)
		}
	}()

	for {
		if ctx.Err() != nil {
			slog.Info("session cancelled", "session", s.id)
			return nil
		}

		f, err := s.dev.Handle().ReadFrame()
		if err != nil {
			failures++
			slog.Debug("frame read failed", "session", s.id, "consecutive", failures, "error", err)
			if failures < s.opts.FailureBudget {
				continue
			}
			readErr := &camera.FrameReadError{Consecutive: failures, Err: err}
			if !s.opts.AutoRestart {
				return readErr
			}
			slog.Warn("frame failure budget exhausted, attempting recovery", "session", s.id, "error", readErr)
			mode := s.opts.Mode
			if _, rerr := s.rec.Run(ctx, s.dev, recovery.Request{
				Trigger:    camera.TriggerConfigureFailure,
				HardReset:  s.opts.HardReset,
				TargetMode: &mode,
			}); rerr != nil {
				return rerr
			}
			failures = 0
			continue
		}
		failures = 0
		frames++

		if sink != nil {
			if err := sink.WriteFrame(f); err != nil {
				return fmt.Errorf("write frame %d: %w", f.Seq, err)
			}
		}
		if disp != nil {
			quit, derr := disp.Show(f)
			if derr != nil {
				slog.Debug("display error", "session", s.id, "error", derr)
			}
			if quit {
				slog.Info("quit requested", "session", s.id)
				return nil
			}
		}

		if frames%30 == 0 {
			elapsed := time.Since(start).Seconds()
			slog.Debug("session rate", "session", s.id, "frames", frames,
				"measured_fps", fmt.Sprintf("%.2f", float64(frames)/elapsed))
		}
	}
}
