// Package opencv is the primary capture backend, driving devices through
// OpenCV's VideoCapture. Its property space is exactly the numeric ID space
// the rest of the module speaks, so IDs pass through untranslated.
package opencv

import (
	"fmt"
	"time"

	"gocv.io/x/gocv"

	"github.com/t-sasatani/elp-camera/internal/camera"
)

// Backend opens OpenCV capture sessions by device ordinal.
type Backend struct{}

var _ camera.Backend = Backend{}

func (Backend) Name() string { return "opencv" }

func (Backend) Open(index int) (camera.Handle, error) {
	cap, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, fmt.Errorf("videocapture %d: %w", index, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("videocapture %d: device absent or busy", index)
	}
	return &handle{cap: cap, img: gocv.NewMat()}, nil
}

type handle struct {
	cap *gocv.VideoCapture
	img gocv.Mat
	seq uint64
}

func (h *handle) ReadFrame() (camera.Frame, error) {
	if ok := h.cap.Read(&h.img); !ok || h.img.Empty() {
		return camera.Frame{}, fmt.Errorf("read returned no frame")
	}
	// Frames come back as decoded BGR whatever the wire format; re-encode
	// to JPEG so sinks and displays get self-contained bytes.
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, h.img)
	if err != nil {
		return camera.Frame{}, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()
	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())

	h.seq++
	return camera.Frame{
		Seq:       h.seq,
		Timestamp: time.Now(),
		Width:     h.img.Cols(),
		Height:    h.img.Rows(),
		Data:      data,
	}, nil
}

// GetProperty never fails at the API level; OpenCV reads unsupported IDs
// as 0, and 0-vs-absent is exactly the ambiguity probing exists to resolve.
func (h *handle) GetProperty(id camera.PropID) (float64, error) {
	return h.cap.Get(gocv.VideoCaptureProperties(id)), nil
}

// SetProperty always reports acceptance: gocv does not surface the driver
// result, and on this hardware the result would be meaningless anyway.
// Readback is the verification everywhere in this module.
func (h *handle) SetProperty(id camera.PropID, value float64) bool {
	h.cap.Set(gocv.VideoCaptureProperties(id), value)
	return true
}

func (h *handle) Close() error {
	if err := h.img.Close(); err != nil {
		return err
	}
	return h.cap.Close()
}
