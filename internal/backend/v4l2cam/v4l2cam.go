// Package v4l2cam is a Video4Linux capture backend. Unlike the OpenCV
// backend, V4L2 has no flat numeric property space: width, height, fps and
// the pixel format live in the device config, and everything else is a
// control addressed by CID. This backend folds both halves into the
// module's property space: the four well-known IDs map onto config
// round-trips, any other ID is passed through as a raw CID, which makes the
// prober a scanner of the driver's real control space.
package v4l2cam

import (
	"fmt"
	"sort"
	"time"

	"github.com/korandiz/v4l"

	"github.com/t-sasatani/elp-camera/internal/camera"
)

// Backend opens V4L2 capture sessions. Ordinals index the sorted list of
// enumerated camera device nodes.
type Backend struct{}

var (
	_ camera.Backend        = Backend{}
	_ camera.ModeHintOpener = Backend{}
)

func (Backend) Name() string { return "v4l2" }

func devicePath(index int) (string, error) {
	list := v4l.FindDevices()
	var paths []string
	for _, info := range list {
		if info.Camera {
			paths = append(paths, info.Path)
		}
	}
	sort.Strings(paths)
	if index < 0 || index >= len(paths) {
		return "", fmt.Errorf("device index %d out of range (%d cameras found)", index, len(paths))
	}
	return paths[index], nil
}

func (Backend) Open(index int) (camera.Handle, error) {
	return open(index, nil)
}

// OpenWithMode applies the mode to the device config before streaming
// starts. Drivers that wedge on live reconfiguration usually accept the
// same mode this way.
func (Backend) OpenWithMode(index int, mode camera.ResolutionMode) (camera.Handle, error) {
	return open(index, &mode)
}

func open(index int, mode *camera.ResolutionMode) (camera.Handle, error) {
	path, err := devicePath(index)
	if err != nil {
		return nil, err
	}
	dev, err := v4l.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	h := &handle{dev: dev, path: path, controls: map[uint32]v4l.ControlInfo{}}
	if controls, err := dev.ListControls(); err == nil {
		for _, c := range controls {
			h.controls[c.CID] = c
		}
	}

	if mode != nil {
		cfg := v4l.DeviceConfig{
			Format: v4lFourCC(mode.Format.FourCCValue()),
			Width:  mode.Width,
			Height: mode.Height,
			FPS:    v4l.Frac{N: uint32(mode.FPS), D: 1},
		}
		if err := dev.SetConfig(cfg); err != nil {
			dev.Close()
			return nil, fmt.Errorf("config %s at open: %w", mode, err)
		}
	}
	if err := h.startStreaming(); err != nil {
		dev.Close()
		return nil, err
	}
	return h, nil
}

type handle struct {
	dev      *v4l.Device
	path     string
	controls map[uint32]v4l.ControlInfo
	buf      []byte
	seq      uint64
}

func (h *handle) startStreaming() error {
	info, err := h.dev.BufferInfo()
	if err != nil {
		return fmt.Errorf("buffer info %s: %w", h.path, err)
	}
	h.buf = make([]byte, info.BufferSize)
	if err := h.dev.TurnOn(); err != nil {
		return fmt.Errorf("turn on %s: %w", h.path, err)
	}
	return nil
}

// ReadFrame captures one buffer. In MJPEG modes the bytes are a complete
// JPEG as handed over by the driver; YUY2 modes deliver raw packed 4:2:2.
func (h *handle) ReadFrame() (camera.Frame, error) {
	vbuf, err := h.dev.Capture()
	if err != nil {
		return camera.Frame{}, fmt.Errorf("capture %s: %w", h.path, err)
	}
	n, err := vbuf.Read(h.buf)
	if err != nil {
		return camera.Frame{}, fmt.Errorf("read buffer %s: %w", h.path, err)
	}
	cfg, err := h.dev.GetConfig()
	if err != nil {
		return camera.Frame{}, fmt.Errorf("config %s: %w", h.path, err)
	}
	data := make([]byte, n)
	copy(data, h.buf[:n])

	h.seq++
	return camera.Frame{
		Seq:       h.seq,
		Timestamp: time.Now(),
		Width:     cfg.Width,
		Height:    cfg.Height,
		Data:      data,
	}, nil
}

func (h *handle) GetProperty(id camera.PropID) (float64, error) {
	switch id {
	case camera.PropWidth, camera.PropHeight, camera.PropFPS, camera.PropFourCC:
		cfg, err := h.dev.GetConfig()
		if err != nil {
			return 0, fmt.Errorf("get config: %w", err)
		}
		switch id {
		case camera.PropWidth:
			return float64(cfg.Width), nil
		case camera.PropHeight:
			return float64(cfg.Height), nil
		case camera.PropFPS:
			if cfg.FPS.D == 0 {
				return 0, nil
			}
			return float64(cfg.FPS.N) / float64(cfg.FPS.D), nil
		default:
			return float64(cfg.Format), nil
		}
	}
	v, err := h.dev.GetControl(uint32(id))
	if err != nil {
		return 0, fmt.Errorf("control %d: %w", id, err)
	}
	return float64(v), nil
}

func (h *handle) SetProperty(id camera.PropID, value float64) bool {
	switch id {
	case camera.PropWidth, camera.PropHeight, camera.PropFPS, camera.PropFourCC:
		return h.reconfigure(id, value)
	}
	return h.dev.SetControl(uint32(id), int32(value)) == nil
}

// reconfigure rewrites one field of the device config. Streaming has to be
// off for SetConfig to take, so this is a turn-off/set/turn-on cycle;
// whether the driver honored the value shows up in the caller's readback.
func (h *handle) reconfigure(id camera.PropID, value float64) bool {
	cfg, err := h.dev.GetConfig()
	if err != nil {
		return false
	}
	switch id {
	case camera.PropWidth:
		cfg.Width = int(value)
	case camera.PropHeight:
		cfg.Height = int(value)
	case camera.PropFPS:
		cfg.FPS = v4l.Frac{N: uint32(value), D: 1}
	case camera.PropFourCC:
		cfg.Format = v4lFourCC(value)
	}
	h.dev.TurnOff()
	if err := h.dev.SetConfig(cfg); err != nil {
		// Best effort: get frames flowing again in the old config.
		if serr := h.startStreaming(); serr != nil {
			return false
		}
		return false
	}
	return h.startStreaming() == nil
}

// v4lFourCC translates the module's fourcc property value into the code
// V4L2 drivers use; uncompressed 4:2:2 is "YUYV" there, not "YUY2".
func v4lFourCC(value float64) uint32 {
	if tag, ok := camera.FormatFromFourCC(value); ok && tag == camera.FormatYUY2 {
		return uint32(camera.PackFourCC("YUYV"))
	}
	return uint32(value)
}

func (h *handle) Close() error {
	h.dev.TurnOff()
	h.dev.Close()
	return nil
}
