package session

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/t-sasatani/elp-camera/internal/camera"
	"github.com/t-sasatani/elp-camera/internal/probe"
	"github.com/t-sasatani/elp-camera/internal/recovery"
)

// withOpen runs fn against an open device and closes it afterwards. The
// one-shot commands all share this open-once/close-once shape.
func (s *Session) withOpen(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.open(ctx); err != nil {
		return err
	}
	defer s.dev.Close()
	return fn(ctx)
}

// PropertyValue is one named control reading for listings.
type PropertyValue struct {
	Name  string
	ID    camera.PropID
	Value float64
	// OK is false when the backend could not report the control.
	OK bool
}

// GetProperties reads every named control, in name order.
func (s *Session) GetProperties(ctx context.Context) ([]PropertyValue, error) {
	var out []PropertyValue
	err := s.withOpen(ctx, func(ctx context.Context) error {
		h := s.dev.Handle()
		for _, name := range camera.PropertyNames() {
			id := camera.NamedProperties[name]
			v, err := h.GetProperty(id)
			pv := PropertyValue{Name: name, ID: id, Value: v, OK: err == nil}
			if err != nil {
				pv.Value = math.NaN()
			}
			out = append(out, pv)
		}
		return nil
	})
	return out, err
}

// SetNamedProperty sets a control by name, walking the alternate ID ladder
// when the documented ID does not move the device. Every rung is verified
// by readback; acceptance alone proves nothing on this hardware.
func (s *Session) SetNamedProperty(ctx context.Context, name string, value float64) error {
	id, err := camera.LookupProperty(name)
	if err != nil {
		return err
	}
	return s.withOpen(ctx, func(ctx context.Context) error {
		h := s.dev.Handle()

		initial, _ := h.GetProperty(id)
		if setAndVerify(h, id, value) {
			return nil
		}
		slog.Debug("primary property id had no effect, trying alternates",
			"session", s.id, "name", name, "id", int(id))

		for _, alt := range camera.AlternateProperties[name] {
			if alt == id {
				continue
			}
			altInitial, gerr := h.GetProperty(alt)
			if !h.SetProperty(alt, value) {
				continue
			}
			after, aerr := h.GetProperty(alt)
			if gerr == nil && aerr == nil && after != altInitial {
				slog.Info("property set via alternate id",
					"session", s.id, "name", name, "alt_id", int(alt), "value", after)
				return nil
			}
		}

		// Exposure has one more trick: the write is often ignored only
		// because some auto-exposure control is still engaged.
		if name == "EXPOSURE" {
			for _, aeID := range camera.AutoExposureIDs {
				h.SetProperty(aeID, 0)
			}
			if h.SetProperty(id, value) {
				if retry, rerr := h.GetProperty(id); rerr == nil && retry != initial {
					slog.Info("exposure set after disabling auto exposure",
						"session", s.id, "value", retry)
					return nil
				}
			}
		}

		return &camera.PropertyError{ID: id, Op: "set",
			Err: fmt.Errorf("no observable change writing %g to %s (initial %g)", value, name, initial)}
	})
}

// setAndVerify writes one ID and confirms the readback landed near the
// requested value.
func setAndVerify(h camera.Handle, id camera.PropID, value float64) bool {
	if !h.SetProperty(id, value) {
		return false
	}
	after, err := h.GetProperty(id)
	return err == nil && math.Abs(after-value) < 0.1
}

// SetPropertyID sets a raw numeric ID with readback verification, for
// driving the undocumented controls a scan discovered.
func (s *Session) SetPropertyID(ctx context.Context, id camera.PropID, value float64) error {
	return s.withOpen(ctx, func(ctx context.Context) error {
		h := s.dev.Handle()
		initial, _ := h.GetProperty(id)
		if !h.SetProperty(id, value) {
			return &camera.PropertyError{ID: id, Op: "set", Err: fmt.Errorf("backend rejected write")}
		}
		after, err := h.GetProperty(id)
		if err != nil {
			return &camera.PropertyError{ID: id, Op: "get", Err: err}
		}
		if after == initial && initial != value {
			return &camera.PropertyError{ID: id, Op: "set",
				Err: fmt.Errorf("write accepted but value unchanged at %g", initial)}
		}
		return nil
	})
}

// GetPropertyID reads one raw numeric ID.
func (s *Session) GetPropertyID(ctx context.Context, id camera.PropID) (float64, error) {
	var value float64
	err := s.withOpen(ctx, func(ctx context.Context) error {
		v, err := s.dev.Handle().GetProperty(id)
		if err != nil {
			return &camera.PropertyError{ID: id, Op: "get", Err: err}
		}
		value = v
		return nil
	})
	return value, err
}

// SetResolution performs a one-shot negotiation of mode and reports what
// the device settled on.
func (s *Session) SetResolution(ctx context.Context, mode camera.ResolutionMode) (camera.ResolvedMode, error) {
	var resolved camera.ResolvedMode
	s.opts.Mode = mode
	err := s.withOpen(ctx, func(ctx context.Context) error {
		if err := s.configure(ctx); err != nil {
			return err
		}
		resolved = *s.dev.Current()
		return nil
	})
	return resolved, err
}

// SetFPS sets only the frame rate on the current mode. A few frames are
// read after the write because some drivers apply rate changes lazily.
func (s *Session) SetFPS(ctx context.Context, fps int) (float64, error) {
	var achieved float64
	err := s.withOpen(ctx, func(ctx context.Context) error {
		h := s.dev.Handle()
		initial, _ := h.GetProperty(camera.PropFPS)
		if !h.SetProperty(camera.PropFPS, float64(fps)) {
			return &camera.PropertyError{ID: camera.PropFPS, Op: "set", Err: fmt.Errorf("backend rejected write")}
		}
		for i := 0; i < 3; i++ {
			if _, err := h.ReadFrame(); err != nil {
				break
			}
		}
		after, err := h.GetProperty(camera.PropFPS)
		if err != nil {
			return &camera.PropertyError{ID: camera.PropFPS, Op: "get", Err: err}
		}
		if after == initial && initial != float64(fps) {
			return &camera.PropertyError{ID: camera.PropFPS, Op: "set",
				Err: fmt.Errorf("fps unchanged at %g after requesting %d", initial, fps)}
		}
		achieved = after
		return nil
	})
	return achieved, err
}

// ScanProperties probes [lo, hi] and returns the classification table. The
// scan leaves device properties wherever probing put them, so the session
// renegotiates its mode afterwards, best effort, before closing.
func (s *Session) ScanProperties(ctx context.Context, lo, hi, step camera.PropID, deep bool) ([]camera.PropertyObservation, error) {
	var obs []camera.PropertyObservation
	err := s.withOpen(ctx, func(ctx context.Context) error {
		var err error
		if deep {
			obs, err = probe.DeepScan(ctx, s.dev.Handle(), lo, hi, step)
		} else {
			obs, err = probe.Scan(ctx, s.dev.Handle(), lo, hi, step)
		}
		if _, nerr := s.neg.Negotiate(ctx, s.dev, s.opts.Mode, true); nerr != nil {
			slog.Warn("post-scan mode restore failed", "session", s.id, "error", nerr)
		}
		return err
	})
	return obs, err
}

// Restart runs a manual recovery attempt, replaying the session mode, and
// leaves the device closed (one-shot semantics).
func (s *Session) Restart(ctx context.Context, hard bool) (camera.RecoveryAttempt, error) {
	mode := s.opts.Mode
	attempt, err := s.rec.Run(ctx, s.dev, recovery.Request{
		Trigger:    camera.TriggerManual,
		HardReset:  hard,
		TargetMode: &mode,
	})
	s.dev.Close()
	return attempt, err
}
