// Package simcam is a deterministic scripted capture backend. It stands in
// for a real UVC device in tests: every quirk the negotiator, prober, and
// recovery controller defend against (silently ignored writes, clamped
// dimensions, flaky opens, stalled frame reads) is a knob here.
//
// State lives on the Device and survives close/reopen, the way driver state
// does on real hardware. Handles are cheap views over it.
package simcam

import (
	"errors"
	"fmt"
	"time"

	"github.com/t-sasatani/elp-camera/internal/camera"
)

// Prop models one numeric property on the simulated device.
type Prop struct {
	Value float64
	// Writable makes writes actually move the value.
	Writable bool
	// AcceptWrite makes SetProperty report success regardless of
	// Writable. AcceptWrite without Writable is the classic inert UVC
	// control: the driver says yes and changes nothing.
	AcceptWrite bool
	// ReadErr makes GetProperty fail for this ID.
	ReadErr bool
	// OnWrite, if set, runs after a successful write with the stored
	// value. Used to couple vendor IDs to secondary readings.
	OnWrite func(d *Device, v float64)
}

// Device is the shared simulated camera state.
type Device struct {
	// OpenFailures fails this many Open calls before letting one
	// succeed.
	OpenFailures int
	// FailReads fails this many ReadFrame calls before frames flow
	// again.
	FailReads int
	// MaxWidth and MaxHeight clamp dimension writes when nonzero. A
	// clamped write is still "accepted" by the backend, matching how
	// UVC drivers negotiate dimensions down without reporting failure.
	MaxWidth  int
	MaxHeight int
	// RejectFormats makes fourcc writes for these tags no-op silently.
	RejectFormats map[camera.FormatTag]bool
	// GateExposure makes exposure (ID 15) writes inert until the
	// auto-exposure control reads 0.
	GateExposure bool

	// Counters for assertions.
	Opens       int
	Closes      int
	FramesRead  int
	openHandles int

	props map[camera.PropID]*Prop
	seq   uint64
}

// NewDevice returns a device streaming 640x480 MJPEG at 30fps with the
// usual writable picture controls.
func NewDevice() *Device {
	d := &Device{props: make(map[camera.PropID]*Prop)}
	d.props[camera.PropWidth] = &Prop{Value: 640, Writable: true, AcceptWrite: true}
	d.props[camera.PropHeight] = &Prop{Value: 480, Writable: true, AcceptWrite: true}
	d.props[camera.PropFPS] = &Prop{Value: 30, Writable: true, AcceptWrite: true}
	d.props[camera.PropFourCC] = &Prop{Value: camera.FormatMJPEG.FourCCValue(), Writable: true, AcceptWrite: true}
	d.props[camera.PropBrightness] = &Prop{Value: 50, Writable: true, AcceptWrite: true}
	d.props[camera.PropContrast] = &Prop{Value: 32, Writable: true, AcceptWrite: true}
	d.props[camera.PropGain] = &Prop{Value: 0, Writable: true, AcceptWrite: true}
	d.props[camera.PropExposure] = &Prop{Value: -4, Writable: true, AcceptWrite: true}
	d.props[camera.PropAutoExposure] = &Prop{Value: 1, Writable: true, AcceptWrite: true}
	return d
}

// SetProp installs or replaces a property.
func (d *Device) SetProp(id camera.PropID, p *Prop) { d.props[id] = p }

// PropValue reads a property value directly, bypassing the handle.
func (d *Device) PropValue(id camera.PropID) float64 {
	if p, ok := d.props[id]; ok {
		return p.Value
	}
	return 0
}

// OpenHandles reports how many handles are currently live. The invariant
// under test is that this never exceeds one.
func (d *Device) OpenHandles() int { return d.openHandles }

func (d *Device) mode() (w, h int) {
	return int(d.props[camera.PropWidth].Value), int(d.props[camera.PropHeight].Value)
}

// Backend opens handles on a single simulated device; the index is
// accepted but ignored.
type Backend struct {
	Dev *Device
}

func (b *Backend) Name() string { return "sim" }

func (b *Backend) Open(index int) (camera.Handle, error) {
	d := b.Dev
	if d.OpenFailures > 0 {
		d.OpenFailures--
		return nil, errors.New("simulated open failure")
	}
	if d.openHandles > 0 {
		return nil, fmt.Errorf("device busy: %d handle(s) still open", d.openHandles)
	}
	d.Opens++
	d.openHandles++
	return &Handle{dev: d}, nil
}

// HintBackend additionally supports mode hints at open time, for exercising
// the reopen negotiation strategy.
type HintBackend struct {
	Backend
}

func (b *HintBackend) OpenWithMode(index int, mode camera.ResolutionMode) (camera.Handle, error) {
	h, err := b.Open(index)
	if err != nil {
		return nil, err
	}
	h.SetProperty(camera.PropFourCC, mode.Format.FourCCValue())
	h.SetProperty(camera.PropWidth, float64(mode.Width))
	h.SetProperty(camera.PropHeight, float64(mode.Height))
	h.SetProperty(camera.PropFPS, float64(mode.FPS))
	return h, nil
}

// Handle is one open session on the simulated device.
type Handle struct {
	dev    *Device
	closed bool
}

func (h *Handle) ReadFrame() (camera.Frame, error) {
	if h.closed {
		return camera.Frame{}, errors.New("handle closed")
	}
	d := h.dev
	if d.FailReads > 0 {
		d.FailReads--
		return camera.Frame{}, errors.New("simulated read failure")
	}
	d.seq++
	d.FramesRead++
	w, ht := d.mode()
	return camera.Frame{
		Seq:       d.seq,
		Timestamp: time.Now(),
		Width:     w,
		Height:    ht,
		Data:      []byte{0xff, 0xd8, byte(d.seq), 0xff, 0xd9},
	}, nil
}

func (h *Handle) GetProperty(id camera.PropID) (float64, error) {
	if h.closed {
		return 0, errors.New("handle closed")
	}
	p, ok := h.dev.props[id]
	if !ok {
		return 0, fmt.Errorf("unsupported property %d", id)
	}
	if p.ReadErr {
		return 0, fmt.Errorf("read of property %d failed", id)
	}
	return p.Value, nil
}

func (h *Handle) SetProperty(id camera.PropID, value float64) bool {
	if h.closed {
		return false
	}
	d := h.dev
	p, ok := d.props[id]
	if !ok {
		return false
	}
	if !p.AcceptWrite {
		return false
	}
	if !p.Writable {
		return true // accepted and ignored
	}
	switch id {
	case camera.PropWidth:
		if d.MaxWidth > 0 && value > float64(d.MaxWidth) {
			value = float64(d.MaxWidth)
		}
	case camera.PropHeight:
		if d.MaxHeight > 0 && value > float64(d.MaxHeight) {
			value = float64(d.MaxHeight)
		}
	case camera.PropFourCC:
		if tag, ok := camera.FormatFromFourCC(value); ok && d.RejectFormats[tag] {
			return true // silently keep the old format
		}
	case camera.PropExposure:
		if d.GateExposure && d.props[camera.PropAutoExposure].Value != 0 {
			return true // auto exposure still engaged
		}
	}
	p.Value = value
	if p.OnWrite != nil {
		p.OnWrite(d, value)
	}
	return true
}

func (h *Handle) Close() error {
	if h.closed {
		return errors.New("handle already closed")
	}
	h.closed = true
	h.dev.Closes++
	h.dev.openHandles--
	return nil
}
