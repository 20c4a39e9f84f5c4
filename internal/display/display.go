// Package display renders preview frames. Displays are advisory
// collaborators: recording must work with any of them, including none.
package display

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mattn/go-mjpeg"
	"gocv.io/x/gocv"

	"github.com/t-sasatani/elp-camera/internal/camera"
)

// Window shows frames in an OpenCV window. Pressing 'q' quits.
type Window struct {
	win *gocv.Window
}

var _ camera.Display = (*Window)(nil)

// NewWindow opens a named preview window.
func NewWindow(title string) *Window {
	return &Window{win: gocv.NewWindow(title)}
}

func (w *Window) Show(f camera.Frame) (bool, error) {
	img, err := gocv.IMDecode(f.Data, gocv.IMReadColor)
	if err != nil {
		return false, fmt.Errorf("decode frame %d: %w", f.Seq, err)
	}
	defer img.Close()
	if img.Empty() {
		return false, fmt.Errorf("frame %d decoded empty", f.Seq)
	}
	w.win.IMShow(img)
	key := w.win.WaitKey(1)
	return key == 'q', nil
}

func (w *Window) Close() error {
	return w.win.Close()
}

// Stream serves frames as an MJPEG stream over HTTP, for headless hosts
// where an OpenCV window is unavailable. It never reports quit; sessions
// end via cancellation.
type Stream struct {
	stream *mjpeg.Stream
	server *http.Server
}

var _ camera.Display = (*Stream)(nil)

// NewStream starts an HTTP server on addr serving the stream at /video.
func NewStream(addr string) *Stream {
	s := &Stream{stream: mjpeg.NewStream()}
	mux := http.NewServeMux()
	mux.Handle("/video", s.stream)
	s.server = &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("mjpeg stream server stopped", "addr", addr, "error", err)
		}
	}()
	slog.Info("mjpeg preview available", "url", fmt.Sprintf("http://%s/video", addr))
	return s
}

func (s *Stream) Show(f camera.Frame) (bool, error) {
	// Frames in MJPEG modes are already JPEG; push them through as-is.
	if err := s.stream.Update(f.Data); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Stream) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.stream.Close(); err != nil {
		slog.Debug("mjpeg stream close", "error", err)
	}
	return s.server.Shutdown(ctx)
}

// Nop discards frames. Used when recording without any preview surface.
type Nop struct{}

var _ camera.Display = Nop{}

func (Nop) Show(camera.Frame) (bool, error) { return false, nil }
func (Nop) Close() error                    { return nil }
