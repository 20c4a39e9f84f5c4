// Package recovery restarts a wedged camera without a physical replug.
//
// A stuck UVC device usually survives a plain close/reopen ("soft" restart);
// the stubborn cases need the driver state scrubbed first by cycling the
// device through a trivially safe low mode ("hard" reset). Either way the
// sequence is a small state machine: close, optionally scrub, reopen with
// bounded backoff, then replay the target configuration.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/t-sasatani/elp-camera/internal/camera"
	"github.com/t-sasatani/elp-camera/internal/negotiate"
)

// State is the controller's position in a recovery attempt.
type State int

const (
	StateIdle State = iota
	StateClosing
	StateHardResetting
	StateReopening
	StateReconfiguring
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateClosing:
		return "closing"
	case StateHardResetting:
		return "hard-resetting"
	case StateReopening:
		return "reopening"
	case StateReconfiguring:
		return "reconfiguring"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Request describes one recovery attempt.
type Request struct {
	Trigger   camera.RecoveryTrigger
	HardReset bool
	// TargetMode, when set, is replayed through the negotiator with
	// force once the device is open again.
	TargetMode *camera.ResolutionMode
}

// Controller runs recovery attempts. One controller serves one device at a
// time; attempts never overlap (the whole system is cooperative and
// single-threaded).
type Controller struct {
	// MaxReopenAttempts bounds the reopen loop.
	MaxReopenAttempts int
	// ReopenBackoff is the initial delay between reopen attempts; it
	// doubles per attempt.
	ReopenBackoff time.Duration
	// SettleDelay is the pause after close and between scrub cycles,
	// giving the driver time to actually release the device.
	SettleDelay time.Duration
	// ScrubCycles is how many low-mode open/read/close cycles a hard
	// reset performs.
	ScrubCycles int

	Negotiator *negotiate.Negotiator

	state State
}

// New returns a Controller with production timing.
func New() *Controller {
	return &Controller{
		MaxReopenAttempts: 3,
		ReopenBackoff:     time.Second,
		SettleDelay:       time.Second,
		ScrubCycles:       2,
		Negotiator:        negotiate.New(),
	}
}

// State returns the controller's current state. Outside a running attempt
// it is Idle or, after an exhausted attempt, Failed.
func (c *Controller) State() State { return c.state }

func (c *Controller) to(s State, dev *camera.Device) {
	c.state = s
	slog.Debug("recovery state", "device", dev.Index, "state", s.String())
}

// Run executes one recovery attempt on dev. Whatever the outcome, at most
// one handle exists for the device afterwards: either the reopened one, or
// none when reopening itself was exhausted. The returned attempt record is
// also embedded in the error on failure.
func (c *Controller) Run(ctx context.Context, dev *camera.Device, req Request) (camera.RecoveryAttempt, error) {
	attempt := camera.RecoveryAttempt{
		TraceID:    uuid.NewString(),
		Trigger:    req.Trigger,
		HardReset:  req.HardReset,
		TargetMode: req.TargetMode,
		Outcome:    camera.OutcomeFailed,
	}
	slog.Info("recovery attempt starting",
		"device", dev.Index,
		"trace_id", attempt.TraceID,
		"trigger", attempt.Trigger.String(),
		"hard_reset", req.HardReset,
	)

	// Closing always succeeds; a broken handle must not be able to
	// fail its own recovery.
	c.to(StateClosing, dev)
	dev.Close()
	if err := sleep(ctx, c.SettleDelay); err != nil {
		c.to(StateFailed, dev)
		return attempt, &camera.RecoveryFailure{Attempt: attempt, Err: err}
	}

	if req.HardReset {
		c.to(StateHardResetting, dev)
		if err := c.hardReset(ctx, dev); err != nil {
			c.to(StateFailed, dev)
			return attempt, &camera.RecoveryFailure{Attempt: attempt, Err: err}
		}
	}

	c.to(StateReopening, dev)
	if err := c.reopen(ctx, dev); err != nil {
		c.to(StateFailed, dev)
		return attempt, &camera.RecoveryFailure{Attempt: attempt, Err: fmt.Errorf("reopen exhausted: %w", err)}
	}

	if req.TargetMode != nil {
		c.to(StateReconfiguring, dev)
		if _, err := c.Negotiator.Negotiate(ctx, dev, *req.TargetMode, true); err != nil {
			// The handle stays open in whatever mode it ended up
			// in. When there is no prior known-good mode for the
			// negotiator to have restored, park the device in the
			// catalog's known-good mode so it is at least usable.
			if dev.LastGood == nil {
				if _, kerr := c.Negotiator.Negotiate(ctx, dev, camera.KnownGoodMode(), true); kerr == nil {
					slog.Warn("device left in fallback mode",
						"device", dev.Index, "mode", camera.KnownGoodMode().String())
				}
			}
			c.to(StateFailed, dev)
			return attempt, &camera.RecoveryFailure{Attempt: attempt, Err: err}
		}
	}

	c.to(StateIdle, dev)
	attempt.Outcome = camera.OutcomeRecovered
	slog.Info("recovery attempt succeeded", "device", dev.Index, "trace_id", attempt.TraceID)
	return attempt, nil
}

// hardReset scrubs driver state by cycling the device through the lowest
// catalog mode: open, force 640x480 MJPEG, read one frame, close, settle.
// Cycles that fail to open are skipped; the scrub is preparation, not a
// gate.
func (c *Controller) hardReset(ctx context.Context, dev *camera.Device) error {
	low := camera.Resolutions[len(camera.Resolutions)-1]
	for cycle := 1; cycle <= c.ScrubCycles; cycle++ {
		h, err := dev.Backend.Open(dev.Index)
		if err != nil {
			slog.Debug("hard reset scrub open failed", "device", dev.Index, "cycle", cycle, "error", err)
		} else {
			h.SetProperty(camera.PropFourCC, low.Format.FourCCValue())
			h.SetProperty(camera.PropWidth, float64(low.Width))
			h.SetProperty(camera.PropHeight, float64(low.Height))
			if _, rerr := h.ReadFrame(); rerr != nil {
				slog.Debug("hard reset scrub read failed", "device", dev.Index, "cycle", cycle, "error", rerr)
			}
			if cerr := h.Close(); cerr != nil {
				slog.Debug("hard reset scrub close failed", "device", dev.Index, "cycle", cycle, "error", cerr)
			}
		}
		if err := sleep(ctx, c.SettleDelay); err != nil {
			return err
		}
	}
	return nil
}

// reopen reacquires the handle with bounded attempts and doubling backoff.
func (c *Controller) reopen(ctx context.Context, dev *camera.Device) error {
	var err error
	backoff := c.ReopenBackoff
	for attempt := 1; attempt <= c.MaxReopenAttempts; attempt++ {
		if err = dev.Open(); err == nil {
			return nil
		}
		slog.Warn("reopen attempt failed",
			"device", dev.Index,
			"attempt", attempt,
			"max_attempts", c.MaxReopenAttempts,
			"error", err,
		)
		if attempt < c.MaxReopenAttempts {
			if serr := sleep(ctx, backoff); serr != nil {
				return serr
			}
			backoff *= 2
		}
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
