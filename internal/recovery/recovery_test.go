package recovery

import (
	"context"
	"errors"
	"testing"

	"github.com/t-sasatani/elp-camera/internal/camera"
	"github.com/t-sasatani/elp-camera/internal/camera/simcam"
)

func newController() *Controller {
	c := New()
	c.ReopenBackoff = 0
	c.SettleDelay = 0
	c.Negotiator.SettleDelay = 0
	return c
}

func TestSoftRecoveryAfterFlakyOpen(t *testing.T) {
	d := simcam.NewDevice()
	d.OpenFailures = 2 // two reopen attempts fail, the third lands
	dev := camera.NewDevice(&simcam.Backend{Dev: d}, 0)

	c := newController()
	attempt, err := c.Run(context.Background(), dev, Request{Trigger: camera.TriggerManual})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if attempt.Outcome != camera.OutcomeRecovered {
		t.Errorf("outcome = %s, want recovered", attempt.Outcome)
	}
	if attempt.TraceID == "" {
		t.Error("attempt has no trace id")
	}
	if c.State() != StateIdle {
		t.Errorf("state = %s, want idle", c.State())
	}
	if !dev.IsOpen() || d.OpenHandles() != 1 {
		t.Errorf("open=%v handles=%d, want exactly one live handle", dev.IsOpen(), d.OpenHandles())
	}
}

func TestReopenExhausted(t *testing.T) {
	d := simcam.NewDevice()
	d.OpenFailures = 10
	dev := camera.NewDevice(&simcam.Backend{Dev: d}, 0)

	c := newController()
	attempt, err := c.Run(context.Background(), dev, Request{Trigger: camera.TriggerOpenFailure})
	var rfail *camera.RecoveryFailure
	if !errors.As(err, &rfail) {
		t.Fatalf("want *camera.RecoveryFailure, got %v", err)
	}
	if attempt.Outcome != camera.OutcomeFailed || rfail.Attempt.Outcome != camera.OutcomeFailed {
		t.Error("exhausted attempt must report failed outcome")
	}
	if c.State() != StateFailed {
		t.Errorf("state = %s, want failed", c.State())
	}
	if dev.IsOpen() || d.OpenHandles() != 0 {
		t.Errorf("open=%v handles=%d, want no live handle after exhaustion", dev.IsOpen(), d.OpenHandles())
	}
	// Only MaxReopenAttempts opens were consumed.
	if d.OpenFailures != 10-c.MaxReopenAttempts {
		t.Errorf("reopen attempts consumed = %d, want %d", 10-d.OpenFailures, c.MaxReopenAttempts)
	}
}

func TestHardResetScrubCycles(t *testing.T) {
	d := simcam.NewDevice()
	dev := camera.NewDevice(&simcam.Backend{Dev: d}, 0)
	if err := dev.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}

	c := newController()
	attempt, err := c.Run(context.Background(), dev, Request{Trigger: camera.TriggerManual, HardReset: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !attempt.HardReset {
		t.Error("attempt record lost the hard reset flag")
	}
	// One original open, ScrubCycles scrub opens, one final reopen; every
	// scrub cycle read a frame and closed its handle.
	wantOpens := 1 + c.ScrubCycles + 1
	if d.Opens != wantOpens {
		t.Errorf("opens = %d, want %d", d.Opens, wantOpens)
	}
	if d.FramesRead < c.ScrubCycles {
		t.Errorf("frames read = %d, want at least %d scrub frames", d.FramesRead, c.ScrubCycles)
	}
	if d.OpenHandles() != 1 {
		t.Errorf("open handles = %d, want 1", d.OpenHandles())
	}
	// The scrub leaves the device in the low mode until reconfiguration.
	if w := d.PropValue(camera.PropWidth); w != 640 {
		t.Errorf("scrub left width %g, want 640", w)
	}
}

func TestReconfigureReplaysTargetMode(t *testing.T) {
	d := simcam.NewDevice()
	dev := camera.NewDevice(&simcam.Backend{Dev: d}, 0)
	if err := dev.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}

	mode := camera.ResolutionMode{Width: 1280, Height: 720, FPS: 30, Format: camera.FormatMJPEG}
	c := newController()
	if _, err := c.Run(context.Background(), dev, Request{
		Trigger:    camera.TriggerConfigureFailure,
		TargetMode: &mode,
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if dev.Current() == nil || !dev.Current().Matches(mode) {
		t.Errorf("device current = %v, want replayed %v", dev.Current(), mode)
	}
}

func TestReconfigureFailureLeavesHandleOpen(t *testing.T) {
	d := simcam.NewDevice()
	d.MaxHeight = 480
	dev := camera.NewDevice(&simcam.Backend{Dev: d}, 0)
	if err := dev.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}

	mode := camera.ResolutionMode{Width: 1920, Height: 1080, FPS: 30, Format: camera.FormatMJPEG}
	c := newController()
	_, err := c.Run(context.Background(), dev, Request{
		Trigger:    camera.TriggerConfigureFailure,
		TargetMode: &mode,
	})
	var rfail *camera.RecoveryFailure
	if !errors.As(err, &rfail) {
		t.Fatalf("want *camera.RecoveryFailure, got %v", err)
	}
	if c.State() != StateFailed {
		t.Errorf("state = %s, want failed", c.State())
	}
	// Reopening succeeded, so the handle survives the failed
	// reconfiguration for the caller to inspect or retry.
	if !dev.IsOpen() || d.OpenHandles() != 1 {
		t.Errorf("open=%v handles=%d, want the reopened handle kept", dev.IsOpen(), d.OpenHandles())
	}
}

func TestTraceIDsDifferPerAttempt(t *testing.T) {
	d := simcam.NewDevice()
	dev := camera.NewDevice(&simcam.Backend{Dev: d}, 0)
	c := newController()

	a1, err := c.Run(context.Background(), dev, Request{Trigger: camera.TriggerManual})
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	a2, err := c.Run(context.Background(), dev, Request{Trigger: camera.TriggerManual})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if a1.TraceID == a2.TraceID {
		t.Errorf("attempts share trace id %q", a1.TraceID)
	}
}
