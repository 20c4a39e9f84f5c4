// Package probe empirically maps a device's numeric property space.
//
// Most of the interesting controls on an ELP module are not in any
// documentation: they are vendor IDs that only reveal themselves when a
// write visibly changes something. The prober writes candidate values at
// each ID, reads back, and classifies what it saw. It deliberately mutates
// the live device and does not restore anything afterwards; callers
// renegotiate a known-good mode when the scan is done.
package probe

import (
	"context"
	"log/slog"
	"math"

	"github.com/t-sasatani/elp-camera/internal/camera"
)

// candidateOffsets are the write deltas tried at each ID, in increasing
// order. Whether raising works better than lowering on this hardware is
// folklore; the prober only reports what it observed and encodes no
// directionality rule.
var candidateOffsets = []float64{1, 16, 256}

// Scanner walks an ID range one property at a time, in the manner of
// bufio.Scanner. Observations are immutable and produced in ID order, so a
// scan can be resumed from any boundary by constructing a new Scanner at
// that ID.
type Scanner struct {
	h    camera.Handle
	next camera.PropID
	hi   camera.PropID
	step camera.PropID
	deep bool
	obs  camera.PropertyObservation
}

// NewScanner scans [lo, hi] with the given step (minimum 1).
func NewScanner(h camera.Handle, lo, hi, step camera.PropID) *Scanner {
	if step < 1 {
		step = 1
	}
	return &Scanner{h: h, next: lo, hi: hi, step: step}
}

// NewDeepScanner additionally correlates each ID with live width, height,
// and fps readings.
func NewDeepScanner(h camera.Handle, lo, hi, step camera.PropID) *Scanner {
	s := NewScanner(h, lo, hi, step)
	s.deep = true
	return s
}

// Next probes the next ID. It returns false when the range is exhausted.
func (s *Scanner) Next() bool {
	if s.next > s.hi {
		return false
	}
	s.obs = probeOne(s.h, s.next, s.deep)
	s.next += s.step
	return true
}

// Observation returns the result of the last Next call.
func (s *Scanner) Observation() camera.PropertyObservation { return s.obs }

// Scan probes every ID in [lo, hi] and collects the observations. The
// context is checked between IDs only; individual property calls are
// trusted to return.
func Scan(ctx context.Context, h camera.Handle, lo, hi, step camera.PropID) ([]camera.PropertyObservation, error) {
	return collect(ctx, NewScanner(h, lo, hi, step))
}

// DeepScan is Scan with secondary width/height/fps correlation.
func DeepScan(ctx context.Context, h camera.Handle, lo, hi, step camera.PropID) ([]camera.PropertyObservation, error) {
	return collect(ctx, NewDeepScanner(h, lo, hi, step))
}

// ScanOne probes a single ID, with correlation.
func ScanOne(h camera.Handle, id camera.PropID) camera.PropertyObservation {
	return probeOne(h, id, true)
}

func collect(ctx context.Context, s *Scanner) ([]camera.PropertyObservation, error) {
	var out []camera.PropertyObservation
	for s.Next() {
		out = append(out, s.Observation())
		if err := ctx.Err(); err != nil {
			return out, err
		}
	}
	return out, nil
}

// secondary is the width/height/fps snapshot used by deep scans.
type secondary struct {
	w, h, fps float64
}

func readSecondary(h camera.Handle) secondary {
	w, _ := h.GetProperty(camera.PropWidth)
	ht, _ := h.GetProperty(camera.PropHeight)
	fps, _ := h.GetProperty(camera.PropFPS)
	return secondary{w, ht, fps}
}

// probeOne classifies one ID. Write failures are evidence, not faults: an
// ID that rejects every write is read-only and the scan moves on.
func probeOne(h camera.Handle, id camera.PropID, deep bool) camera.PropertyObservation {
	obs := camera.PropertyObservation{ID: id, Classification: camera.ClassReadOnly}

	initial, err := h.GetProperty(id)
	if err != nil {
		// Unreadable and therefore unverifiable; recorded as
		// read-only so the scan output still covers the full range.
		obs.Initial = math.NaN()
		slog.Debug("probe: id unreadable", "id", int(id))
		return obs
	}
	obs.Initial = initial

	accepted := false
	for _, off := range candidateOffsets {
		attempt := initial + off
		var before secondary
		if deep {
			before = readSecondary(h)
		}
		if !h.SetProperty(id, attempt) {
			continue
		}
		accepted = true
		after, rerr := h.GetProperty(id)
		if rerr != nil {
			continue
		}
		obs.Attempted = attempt
		obs.Observed = after
		moved := (attempt > initial && after > initial) || (attempt < initial && after < initial)
		if !moved {
			continue
		}
		obs.Classification = camera.ClassWritable
		if deep {
			now := readSecondary(h)
			switch {
			case now.w != before.w:
				obs.Classification = camera.ClassDimWidth
			case now.h != before.h:
				obs.Classification = camera.ClassDimHeight
			case now.fps != before.fps:
				obs.Classification = camera.ClassFPS
			}
		}
		return obs
	}

	if accepted {
		// The driver said yes to at least one write and nothing
		// observable changed.
		obs.Classification = camera.ClassInert
	}
	return obs
}
