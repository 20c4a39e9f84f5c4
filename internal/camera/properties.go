package camera

import (
	"fmt"
	"sort"
	"strings"
)

// NamedProperties maps the documented control names onto their primary IDs.
var NamedProperties = map[string]PropID{
	"BRIGHTNESS":    PropBrightness,
	"CONTRAST":      PropContrast,
	"SATURATION":    PropSaturation,
	"HUE":           PropHue,
	"GAIN":          PropGain,
	"EXPOSURE":      PropExposure,
	"AUTO_EXPOSURE": PropAutoExposure,
	"GAMMA":         PropGamma,
	"BACKLIGHT":     PropBacklight,
	"TEMPERATURE":   PropTemperature,
	"ZOOM":          PropZoom,
	"FOCUS":         PropFocus,
	"AUTOFOCUS":     PropAutoFocus,
	"SHARPNESS":     PropSharpness,
}

// AlternateProperties lists IDs that have been observed to drive the same
// control as the named one on some driver stacks. The entries are empirical:
// they come from probing real devices, not from any datasheet, and a
// given device usually honors only one of them. Callers walk the list with
// readback verification until something moves. IDs 3 through 6 are the mode
// properties and must never appear here: a ladder write to them would move
// the live resolution and still pass readback.
var AlternateProperties = map[string][]PropID{
	"BRIGHTNESS":    {10, 101},
	"CONTRAST":      {11, 102},
	"SATURATION":    {12, 103},
	"HUE":           {13, 104},
	"GAIN":          {14, 105, 81},
	"EXPOSURE":      {15, 106, 204},
	"AUTO_EXPOSURE": {21, 39, 1024},
}

// AutoExposureIDs are the IDs that have switched a device out of automatic
// exposure somewhere in the wild. Writing 0 to all of them is the ladder's
// last resort before retrying a manual exposure write.
var AutoExposureIDs = []PropID{PropAutoExposure, 21, 39, 1024}

// LookupProperty resolves a control name (case insensitive) to its primary
// ID.
func LookupProperty(name string) (PropID, error) {
	id, ok := NamedProperties[strings.ToUpper(name)]
	if !ok {
		return 0, fmt.Errorf("unknown property %q", name)
	}
	return id, nil
}

// PropertyNames returns the known control names sorted for stable output.
func PropertyNames() []string {
	names := make([]string, 0, len(NamedProperties))
	for name := range NamedProperties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
