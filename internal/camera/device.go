package camera

import (
	"fmt"
	"log/slog"
)

// Device is the logical camera: a backend ordinal plus the one live Handle
// allowed for it. The negotiator and prober operate on an open Device; only
// the recovery controller (and the negotiator's reopen strategy, which swaps
// atomically) may take a Device through close and back to open.
//
// LastGood carries the most recent mode the device verifiably accepted. It
// lives here rather than in package state so independent devices negotiate
// independently and tests can inject arbitrary prior state.
type Device struct {
	Backend Backend
	Index   int

	handle   Handle
	current  *ResolvedMode
	LastGood *ResolvedMode
}

// NewDevice returns a closed Device for the given backend ordinal.
func NewDevice(b Backend, index int) *Device {
	return &Device{Backend: b, Index: index}
}

// Open acquires the device handle. Opening an already open device is an
// error; callers go through recovery for close-and-reopen cycles.
func (d *Device) Open() error {
	if d.handle != nil {
		return fmt.Errorf("device %d already open", d.Index)
	}
	h, err := d.Backend.Open(d.Index)
	if err != nil {
		return &OpenError{Backend: d.Backend.Name(), Index: d.Index, Err: err}
	}
	d.handle = h
	return nil
}

// Close releases the handle. Errors from a broken handle are logged and
// swallowed: a close that cannot fail is what makes recovery composable.
func (d *Device) Close() {
	if d.handle == nil {
		return
	}
	if err := d.handle.Close(); err != nil {
		slog.Debug("device close", "device", d.Index, "error", err)
	}
	d.handle = nil
	d.current = nil
}

// Swap installs a replacement handle, closing the old one first. The old
// handle is invalidated before the new one is visible, so at most one live
// handle exists at any point.
func (d *Device) Swap(h Handle) {
	d.Close()
	d.handle = h
}

// Handle returns the live handle, or nil when closed.
func (d *Device) Handle() Handle { return d.handle }

// IsOpen reports whether a handle is live.
func (d *Device) IsOpen() bool { return d.handle != nil }

// Current returns the mode the device last verified, or nil.
func (d *Device) Current() *ResolvedMode { return d.current }

// SetCurrent records a verified mode and promotes it to LastGood.
func (d *Device) SetCurrent(m ResolvedMode) {
	mc := m
	d.current = &mc
	lg := m
	d.LastGood = &lg
}

// DeviceInfo describes one enumerated device for listings.
type DeviceInfo struct {
	Index  int
	Width  int
	Height int
}

// ListDevices probes ordinals [0,max) by opening each and reading one frame,
// the only enumeration a generic capture API offers. Devices that open but
// produce no frame are skipped.
func ListDevices(b Backend, max int) []DeviceInfo {
	var found []DeviceInfo
	for i := 0; i < max; i++ {
		h, err := b.Open(i)
		if err != nil {
			continue
		}
		f, err := h.ReadFrame()
		if err == nil {
			found = append(found, DeviceInfo{Index: i, Width: f.Width, Height: f.Height})
		}
		if err := h.Close(); err != nil {
			slog.Debug("list devices close", "device", i, "error", err)
		}
	}
	return found
}
