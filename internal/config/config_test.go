package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/t-sasatani/elp-camera/internal/camera"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "elpcam.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Backend != "opencv" {
		t.Errorf("backend = %q, want opencv", cfg.Backend)
	}
	if cfg.FailureBudget != 10 {
		t.Errorf("failure budget = %d, want 10", cfg.FailureBudget)
	}
	if cfg.ResolutionIndex == nil || *cfg.ResolutionIndex != camera.KnownGoodIndex {
		t.Errorf("resolution index = %v, want known-good %d", cfg.ResolutionIndex, camera.KnownGoodIndex)
	}
	mode, err := cfg.Mode()
	if err != nil {
		t.Fatalf("Mode: %v", err)
	}
	if mode != camera.KnownGoodMode() {
		t.Errorf("default mode = %v, want %v", mode, camera.KnownGoodMode())
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
camera_index: 1
width: 3840
height: 2160
fps: 10
video_format: MJPEG
output_dir: /tmp/caps
auto_restart: true
hard_reset: true
backend: sim
frame_failure_budget: 4
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CameraIndex != 1 || !cfg.AutoRestart || !cfg.HardReset || cfg.FailureBudget != 4 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	mode, err := cfg.Mode()
	if err != nil {
		t.Fatalf("Mode: %v", err)
	}
	want := camera.ResolutionMode{Width: 3840, Height: 2160, FPS: 10, Format: camera.FormatMJPEG}
	if mode != want {
		t.Errorf("mode = %v, want %v", mode, want)
	}
}

func TestLoadInvalid(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"bad yaml", "camera_index: [\n"},
		{"negative index", "camera_index: -1\n"},
		{"unknown format", "video_format: H264\n"},
		{"width without height", "width: 1920\n"},
		{"resolution index out of range", "resolution_index: 99\n"},
		{"unknown backend", "backend: gstreamer\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.body)); err == nil {
				t.Error("Load should fail")
			}
		})
	}
}

func TestModeResolution(t *testing.T) {
	idx := 17 // 640x480@30 MJPEG
	cases := []struct {
		name string
		cfg  Config
		want camera.ResolutionMode
	}{
		{
			"catalog index",
			Config{ResolutionIndex: &idx},
			camera.ResolutionMode{Width: 640, Height: 480, FPS: 30, Format: camera.FormatMJPEG},
		},
		{
			"catalog index with fps override",
			Config{ResolutionIndex: &idx, FPS: 15},
			camera.ResolutionMode{Width: 640, Height: 480, FPS: 15, Format: camera.FormatMJPEG},
		},
		{
			"explicit dimensions beat the index",
			Config{ResolutionIndex: &idx, Width: 1920, Height: 1080, FPS: 30},
			camera.ResolutionMode{Width: 1920, Height: 1080, FPS: 30, Format: camera.FormatMJPEG},
		},
		{
			"explicit dimensions default to 30fps",
			Config{Width: 1280, Height: 720},
			camera.ResolutionMode{Width: 1280, Height: 720, FPS: 30, Format: camera.FormatMJPEG},
		},
		{
			"format applies either way",
			Config{Width: 640, Height: 480, VideoFormat: "YUY2"},
			camera.ResolutionMode{Width: 640, Height: 480, FPS: 30, Format: camera.FormatYUY2},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := Validate(&tc.cfg); err != nil {
				t.Fatalf("Validate: %v", err)
			}
			mode, err := tc.cfg.Mode()
			if err != nil {
				t.Fatalf("Mode: %v", err)
			}
			if mode != tc.want {
				t.Errorf("mode = %v, want %v", mode, tc.want)
			}
		})
	}
}
