// Package negotiate puts a device into a requested capture mode.
//
// UVC property writes are not transactional: drivers accept a write, report
// success, and keep streaming the old mode. The only trustworthy signal is
// reading the property back, so every write here is verified by readback and
// the whole negotiation is an ordered sequence of fallback strategies rather
// than a single configure call.
package negotiate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/t-sasatani/elp-camera/internal/camera"
)

// Negotiator applies modes to open devices. The zero value negotiates with
// production delays; tests shrink SettleDelay to keep forced retries fast.
type Negotiator struct {
	// SettleDelay is the pause between forced retries and after a
	// reopen, covering device re-enumeration latency.
	SettleDelay time.Duration
	// ForceRetries bounds the brute-force strategy.
	ForceRetries int
}

// New returns a Negotiator with production timing.
func New() *Negotiator {
	return &Negotiator{SettleDelay: 500 * time.Millisecond, ForceRetries: 3}
}

// step is one property write in a strategy's fixed order.
type step struct {
	id    camera.PropID
	value func(camera.ResolutionMode) float64
}

var (
	formatStep = step{camera.PropFourCC, func(m camera.ResolutionMode) float64 { return m.Format.FourCCValue() }}
	widthStep  = step{camera.PropWidth, func(m camera.ResolutionMode) float64 { return float64(m.Width) }}
	heightStep = step{camera.PropHeight, func(m camera.ResolutionMode) float64 { return float64(m.Height) }}
	fpsStep    = step{camera.PropFPS, func(m camera.ResolutionMode) float64 { return float64(m.FPS) }}

	formatFirst = []step{formatStep, widthStep, heightStep, fpsStep}
	// Some drivers only honor a format change after the dimensions
	// already match a frame size that format supports.
	dimsFirst = []step{widthStep, heightStep, fpsStep, formatStep}
)

// Negotiate drives dev into mode, trying strategies in fixed priority order
// and verifying each by readback. On success the resolved mode is recorded
// as the device's current and last known-good mode. On total failure it
// returns a *camera.NegotiationError carrying the last observed mode, after
// a best-effort restore of the previous known-good mode; the handle is left
// open and readable either way.
func (n *Negotiator) Negotiate(ctx context.Context, dev *camera.Device, mode camera.ResolutionMode, force bool) (camera.ResolvedMode, error) {
	if !dev.IsOpen() {
		return camera.ResolvedMode{}, fmt.Errorf("negotiate %s: device %d not open", mode, dev.Index)
	}

	// Re-negotiating the current mode is a no-op, verified by readback
	// rather than trusted from cached state.
	observed := readMode(dev.Handle(), mode)
	if observed.Matches(mode) {
		dev.SetCurrent(observed)
		return observed, nil
	}
	last := observed

	try := func(name string, resolved camera.ResolvedMode) (camera.ResolvedMode, bool) {
		last = resolved
		if resolved.Matches(mode) {
			slog.Info("mode negotiated", "device", dev.Index, "strategy", name, "mode", resolved.String())
			dev.SetCurrent(resolved)
			return resolved, true
		}
		slog.Debug("negotiation strategy mismatch",
			"device", dev.Index, "strategy", name,
			"requested", mode.String(), "observed", resolved.String())
		return camera.ResolvedMode{}, false
	}

	if r, ok := try("format-first", n.applySteps(dev.Handle(), mode, formatFirst, force)); ok {
		return r, nil
	}
	if r, ok := try("dims-first", n.applySteps(dev.Handle(), mode, dimsFirst, force)); ok {
		return r, nil
	}
	if hinter, ok := dev.Backend.(camera.ModeHintOpener); ok {
		if err := ctx.Err(); err != nil {
			return camera.ResolvedMode{}, err
		}
		if err := n.reopenWithHint(ctx, dev, hinter, mode); err != nil {
			return camera.ResolvedMode{}, err
		}
		if r, ok := try("reopen-hint", readMode(dev.Handle(), mode)); ok {
			return r, nil
		}
	}
	if force {
		for attempt := 1; attempt <= n.ForceRetries; attempt++ {
			if err := sleep(ctx, n.SettleDelay); err != nil {
				return camera.ResolvedMode{}, err
			}
			name := fmt.Sprintf("forced-retry-%d", attempt)
			if r, ok := try(name, n.applySteps(dev.Handle(), mode, formatFirst, true)); ok {
				return r, nil
			}
		}
	}

	n.restoreLastGood(dev)
	return camera.ResolvedMode{}, &camera.NegotiationError{Requested: mode, LastObserved: last}
}

// applySteps performs one strategy: write each property in order, read it
// back, and without force abort the strategy at the first mismatch. With
// force it pushes every write through and lets the final readback decide.
func (n *Negotiator) applySteps(h camera.Handle, mode camera.ResolutionMode, steps []step, force bool) camera.ResolvedMode {
	for _, s := range steps {
		want := s.value(mode)
		accepted := h.SetProperty(s.id, want)
		got, err := h.GetProperty(s.id)
		if force {
			continue
		}
		if !accepted || err != nil || !stepMatches(s.id, want, got) {
			break
		}
	}
	return readMode(h, mode)
}

func stepMatches(id camera.PropID, want, got float64) bool {
	if id == camera.PropFPS {
		return got > 0
	}
	return got == want
}

// reopenWithHint swaps the live handle for one opened with the mode applied
// at open time. The old handle is gone once we commit to this strategy, so
// a failed hint open falls back to plain reopens: the contract is that the
// device never ends up half-closed.
func (n *Negotiator) reopenWithHint(ctx context.Context, dev *camera.Device, hinter camera.ModeHintOpener, mode camera.ResolutionMode) error {
	dev.Close()
	h, err := hinter.OpenWithMode(dev.Index, mode)
	if err == nil {
		dev.Swap(h)
		return nil
	}
	slog.Warn("hinted reopen failed, reopening plain", "device", dev.Index, "error", err)
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			if serr := sleep(ctx, n.SettleDelay); serr != nil {
				return serr
			}
		}
		if err = dev.Open(); err == nil {
			return nil
		}
	}
	return fmt.Errorf("device lost during hinted reopen: %w", err)
}

// restoreLastGood tries to put the device back into its last verified mode.
// Best effort only: failure to restore is logged and the device keeps
// whatever mode the failed negotiation left it in.
func (n *Negotiator) restoreLastGood(dev *camera.Device) {
	if dev.LastGood == nil || !dev.IsOpen() {
		return
	}
	prev := dev.LastGood.Requested
	resolved := n.applySteps(dev.Handle(), prev, formatFirst, true)
	if resolved.Matches(prev) {
		slog.Info("restored last known-good mode", "device", dev.Index, "mode", resolved.String())
		return
	}
	slog.Warn("could not restore last known-good mode",
		"device", dev.Index, "wanted", prev.String(), "observed", resolved.String())
}

// readMode reads the four mode properties back from the device. Read
// failures surface as zero values, which can never satisfy a match. A
// fourcc the backend cannot report is assumed unchanged from the request,
// so dims-only backends are not spuriously failed on format.
func readMode(h camera.Handle, req camera.ResolutionMode) camera.ResolvedMode {
	w, _ := h.GetProperty(camera.PropWidth)
	ht, _ := h.GetProperty(camera.PropHeight)
	fps, _ := h.GetProperty(camera.PropFPS)
	format := req.Format
	if fcc, err := h.GetProperty(camera.PropFourCC); err == nil {
		if tag, ok := camera.FormatFromFourCC(fcc); ok {
			format = tag
		}
	}
	return camera.ResolvedMode{
		Requested:   req,
		Width:       int(w),
		Height:      int(ht),
		AchievedFPS: fps,
		Format:      format,
	}
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
