// Package camera defines the shared data model for driving an ELP IMX179
// UVC camera through a generic capture backend: resolution modes and the
// catalog the module ships, the numeric property space, property scan
// observations, and recovery attempt records.
//
// Everything here is backend-agnostic. The concrete capture implementations
// live under internal/backend and only meet this package through the Backend
// and Handle interfaces in backend.go.
package camera

import (
	"fmt"
	"strings"
)

// FormatTag identifies the pixel format requested from the camera.
type FormatTag int

const (
	// FormatMJPEG is motion JPEG, the format the IMX179 sustains at
	// full resolution.
	FormatMJPEG FormatTag = iota
	// FormatYUY2 is uncompressed 4:2:2, limited to low frame rates on
	// this sensor.
	FormatYUY2
)

// String returns the tag name as used in configuration files.
func (f FormatTag) String() string {
	switch f {
	case FormatMJPEG:
		return "MJPEG"
	case FormatYUY2:
		return "YUY2"
	default:
		return "MJPEG"
	}
}

// FourCC returns the four character codec code for the tag.
func (f FormatTag) FourCC() string {
	switch f {
	case FormatYUY2:
		return "YUY2"
	default:
		return "MJPG"
	}
}

// FourCCValue returns the packed little-endian numeric code for the tag,
// the encoding capture backends use for the fourcc property.
func (f FormatTag) FourCCValue() float64 {
	return PackFourCC(f.FourCC())
}

// PackFourCC packs a four character code into its numeric property value.
func PackFourCC(code string) float64 {
	if len(code) != 4 {
		return 0
	}
	return float64(uint32(code[0]) | uint32(code[1])<<8 | uint32(code[2])<<16 | uint32(code[3])<<24)
}

// FormatFromFourCC maps a numeric fourcc property value back to a tag.
func FormatFromFourCC(v float64) (FormatTag, bool) {
	switch v {
	case PackFourCC("MJPG"):
		return FormatMJPEG, true
	case PackFourCC("YUY2"), PackFourCC("YUYV"):
		return FormatYUY2, true
	default:
		return FormatMJPEG, false
	}
}

// ParseFormatTag parses a configuration value into a FormatTag. The V4L2
// spelling YUYV is accepted as an alias.
func ParseFormatTag(s string) (FormatTag, error) {
	switch strings.ToUpper(s) {
	case "MJPEG", "MJPG":
		return FormatMJPEG, nil
	case "YUY2", "YUYV":
		return FormatYUY2, nil
	default:
		return FormatMJPEG, fmt.Errorf("unknown video format %q (must be MJPEG or YUY2)", s)
	}
}

// ResolutionMode is an immutable capture mode request.
type ResolutionMode struct {
	Width  int
	Height int
	FPS    int
	Format FormatTag
}

func (m ResolutionMode) String() string {
	return fmt.Sprintf("%dx%d@%dfps %s", m.Width, m.Height, m.FPS, m.Format)
}

// ResolvedMode is the mode a device actually reported after negotiation.
// AchievedFPS carries whatever positive rate the device settled on, which
// frequently differs from the request.
type ResolvedMode struct {
	Requested   ResolutionMode
	Width       int
	Height      int
	AchievedFPS float64
	Format      FormatTag
}

func (m ResolvedMode) String() string {
	return fmt.Sprintf("%dx%d@%.3gfps %s", m.Width, m.Height, m.AchievedFPS, m.Format)
}

// Matches reports whether the resolved mode satisfies the request. Width and
// height must match exactly; any positive achieved rate is accepted.
func (m ResolvedMode) Matches(req ResolutionMode) bool {
	return m.Width == req.Width && m.Height == req.Height &&
		m.Format == req.Format && m.AchievedFPS > 0
}

// Resolutions is the mode catalog published for the ELP IMX179 module,
// highest resolution first. Indexes are stable and referenced from
// configuration files.
var Resolutions = []ResolutionMode{
	{4656, 3496, 10, FormatMJPEG},
	{4656, 3496, 1, FormatYUY2},
	{4208, 3120, 10, FormatMJPEG},
	{4208, 3120, 1, FormatYUY2},
	{4160, 3120, 10, FormatMJPEG},
	{4000, 3000, 10, FormatMJPEG},
	{3840, 2160, 10, FormatMJPEG},
	{3264, 2448, 10, FormatMJPEG},
	{2592, 1944, 10, FormatMJPEG},
	{2320, 1744, 30, FormatMJPEG},
	{2048, 1536, 30, FormatMJPEG},
	{1920, 1080, 30, FormatMJPEG},
	{1600, 1200, 30, FormatMJPEG},
	{1280, 960, 30, FormatMJPEG},
	{1280, 720, 30, FormatMJPEG},
	{1024, 768, 30, FormatMJPEG},
	{800, 600, 30, FormatMJPEG},
	{640, 480, 30, FormatMJPEG},
}

// KnownGoodIndex is the catalog index recovery falls back to when a custom
// mode cannot be restored. 1920x1080 MJPEG@30 is the one mode this sensor
// has never refused in practice.
const KnownGoodIndex = 11

// ModeByIndex returns the catalog mode at index i.
func ModeByIndex(i int) (ResolutionMode, error) {
	if i < 0 || i >= len(Resolutions) {
		return ResolutionMode{}, fmt.Errorf("resolution index %d out of range [0,%d]", i, len(Resolutions)-1)
	}
	return Resolutions[i], nil
}

// KnownGoodMode returns the fallback catalog mode.
func KnownGoodMode() ResolutionMode {
	return Resolutions[KnownGoodIndex]
}

// Classification is the empirical verdict for one probed property ID.
type Classification int

const (
	// ClassReadOnly means writes fail outright or never move the value.
	ClassReadOnly Classification = iota
	// ClassWritable means the value followed at least one write.
	ClassWritable
	// ClassInert means writes are accepted without error but nothing
	// observable changes.
	ClassInert
	// ClassDimWidth means writes to this ID move the live frame width.
	ClassDimWidth
	// ClassDimHeight means writes to this ID move the live frame height.
	ClassDimHeight
	// ClassFPS means writes to this ID move the live frame rate.
	ClassFPS
)

func (c Classification) String() string {
	switch c {
	case ClassReadOnly:
		return "read-only"
	case ClassWritable:
		return "writable"
	case ClassInert:
		return "inert"
	case ClassDimWidth:
		return "dimension-width"
	case ClassDimHeight:
		return "dimension-height"
	case ClassFPS:
		return "fps"
	default:
		return "unknown"
	}
}

// PropertyObservation records the probe result for one numeric property ID.
// Observations are immutable once produced; a scan run yields them in ID
// order so a later run may resume from any boundary.
type PropertyObservation struct {
	ID             PropID
	Initial        float64
	Attempted      float64
	Observed       float64
	Classification Classification
}

func (o PropertyObservation) String() string {
	return fmt.Sprintf("id=%d initial=%g attempted=%g observed=%g %s",
		o.ID, o.Initial, o.Attempted, o.Observed, o.Classification)
}

// RecoveryTrigger records why a recovery attempt ran.
type RecoveryTrigger int

const (
	TriggerManual RecoveryTrigger = iota
	TriggerOpenFailure
	TriggerConfigureFailure
)

func (t RecoveryTrigger) String() string {
	switch t {
	case TriggerManual:
		return "manual"
	case TriggerOpenFailure:
		return "auto-on-open-failure"
	case TriggerConfigureFailure:
		return "auto-on-configure-failure"
	default:
		return "unknown"
	}
}

// RecoveryOutcome is the terminal result of one recovery attempt.
type RecoveryOutcome int

const (
	OutcomeRecovered RecoveryOutcome = iota
	OutcomeFailed
)

func (o RecoveryOutcome) String() string {
	if o == OutcomeRecovered {
		return "recovered"
	}
	return "failed"
}

// RecoveryAttempt is the ephemeral record of one close/reset/reopen cycle.
// It is logged and returned to the caller, never persisted.
type RecoveryAttempt struct {
	TraceID    string
	Trigger    RecoveryTrigger
	HardReset  bool
	TargetMode *ResolutionMode
	Outcome    RecoveryOutcome
}
