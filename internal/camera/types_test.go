package camera

import (
	"math"
	"testing"
)

func TestFourCCRoundTrip(t *testing.T) {
	cases := []struct {
		code string
		want FormatTag
	}{
		{"MJPG", FormatMJPEG},
		{"YUY2", FormatYUY2},
		{"YUYV", FormatYUY2},
	}
	for _, tc := range cases {
		got, ok := FormatFromFourCC(PackFourCC(tc.code))
		if !ok || got != tc.want {
			t.Errorf("FormatFromFourCC(PackFourCC(%q)) = %v, %v, want %v", tc.code, got, ok, tc.want)
		}
	}
	if _, ok := FormatFromFourCC(PackFourCC("H264")); ok {
		t.Error("unknown fourcc should not map to a format tag")
	}
	if _, ok := FormatFromFourCC(math.NaN()); ok {
		t.Error("NaN fourcc should not map to a format tag")
	}
}

func TestParseFormatTag(t *testing.T) {
	cases := []struct {
		in      string
		want    FormatTag
		wantErr bool
	}{
		{"MJPEG", FormatMJPEG, false},
		{"mjpeg", FormatMJPEG, false},
		{"MJPG", FormatMJPEG, false},
		{"YUY2", FormatYUY2, false},
		{"yuyv", FormatYUY2, false},
		{"H264", 0, true},
		{"", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseFormatTag(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseFormatTag(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if err == nil && got != tc.want {
			t.Errorf("ParseFormatTag(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestModeByIndex(t *testing.T) {
	if _, err := ModeByIndex(-1); err == nil {
		t.Error("negative index should fail")
	}
	if _, err := ModeByIndex(len(Resolutions)); err == nil {
		t.Error("out of range index should fail")
	}
	got, err := ModeByIndex(KnownGoodIndex)
	if err != nil {
		t.Fatalf("ModeByIndex(KnownGoodIndex): %v", err)
	}
	if got != KnownGoodMode() {
		t.Errorf("ModeByIndex(KnownGoodIndex) = %v, want %v", got, KnownGoodMode())
	}
	if got.Width != 1920 || got.Height != 1080 || got.Format != FormatMJPEG {
		t.Errorf("known-good mode = %v, want 1920x1080 MJPEG", got)
	}
}

func TestResolvedModeMatches(t *testing.T) {
	req := ResolutionMode{Width: 1920, Height: 1080, FPS: 30, Format: FormatMJPEG}
	cases := []struct {
		name string
		got  ResolvedMode
		want bool
	}{
		{"exact", ResolvedMode{Width: 1920, Height: 1080, AchievedFPS: 30, Format: FormatMJPEG}, true},
		{"lower fps still matches", ResolvedMode{Width: 1920, Height: 1080, AchievedFPS: 7.5, Format: FormatMJPEG}, true},
		{"zero fps", ResolvedMode{Width: 1920, Height: 1080, AchievedFPS: 0, Format: FormatMJPEG}, false},
		{"clamped height", ResolvedMode{Width: 1920, Height: 720, AchievedFPS: 30, Format: FormatMJPEG}, false},
		{"wrong format", ResolvedMode{Width: 1920, Height: 1080, AchievedFPS: 30, Format: FormatYUY2}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.got.Matches(req); got != tc.want {
				t.Errorf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAlternatePropertiesExcludeModeIDs(t *testing.T) {
	for name, alts := range AlternateProperties {
		for _, id := range alts {
			if id >= PropWidth && id <= PropFourCC {
				t.Errorf("%s alternate %d collides with a mode property", name, id)
			}
		}
	}
}
