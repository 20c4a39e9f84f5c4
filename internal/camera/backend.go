package camera

import "time"

// PropID is a numeric index into a backend's property space. The well-known
// constants below follow the OpenCV capture property numbering, which the
// primary backend exposes directly; other backends translate. Vendor and
// driver specific IDs outside this list exist and are discoverable only by
// probing.
type PropID int

const (
	PropWidth        PropID = 3
	PropHeight       PropID = 4
	PropFPS          PropID = 5
	PropFourCC       PropID = 6
	PropBrightness   PropID = 10
	PropContrast     PropID = 11
	PropSaturation   PropID = 12
	PropHue          PropID = 13
	PropGain         PropID = 14
	PropExposure     PropID = 15
	PropSharpness    PropID = 20
	PropAutoExposure PropID = 21
	PropGamma        PropID = 22
	PropTemperature  PropID = 23
	PropZoom         PropID = 27
	PropFocus        PropID = 28
	PropBacklight    PropID = 32
	PropAutoFocus    PropID = 39
)

// Frame is one captured frame. Data holds the encoded image bytes in the
// negotiated format (JPEG for MJPEG modes, raw packed 4:2:2 for YUY2).
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte
}

// Handle is one open capture session on a device. A Handle is owned by
// exactly one operation at a time and is never shared between goroutines.
// After Close the handle is dead; reopening always yields a new Handle.
type Handle interface {
	// ReadFrame blocks for the next frame. Failures are transient from
	// the caller's point of view and are counted, not acted on, here.
	ReadFrame() (Frame, error)

	// GetProperty reads the current value of a numeric property.
	// Backends that cannot report an ID return an error, which the
	// prober treats as classification evidence rather than a fault.
	GetProperty(id PropID) (float64, error)

	// SetProperty writes a numeric property and reports whether the
	// backend accepted the write. Acceptance is not success: UVC
	// devices routinely accept writes and ignore them, so every caller
	// must verify by reading back.
	SetProperty(id PropID, value float64) bool

	// Close releases the session. Closing an already broken handle
	// must not fail in a way the caller has to care about.
	Close() error
}

// Backend opens capture sessions on enumerated video devices.
type Backend interface {
	// Name identifies the backend in logs and configuration.
	Name() string

	// Open acquires a handle on the device at the given ordinal.
	Open(index int) (Handle, error)
}

// ModeHintOpener is implemented by backends that can apply a mode at open
// time, before streaming starts. Drivers that wedge on live reconfiguration
// often honor the same mode when it is supplied this way, so the negotiator
// uses it as a dedicated strategy.
type ModeHintOpener interface {
	OpenWithMode(index int, mode ResolutionMode) (Handle, error)
}

// FrameSink consumes captured frames, typically writing them to a container
// file. Sinks must keep whatever was written so far if the session ends in
// an error; partial recordings are kept, never deleted.
type FrameSink interface {
	WriteFrame(f Frame) error
	Close() error
}

// Display renders frames for a human and reports the quit signal. Displays
// are advisory: a failing or absent display must not break recording, so
// Show errors other than the quit signal are logged and ignored by callers.
type Display interface {
	// Show renders one frame. quit is true when the user asked to stop.
	Show(f Frame) (quit bool, err error)
	Close() error
}
