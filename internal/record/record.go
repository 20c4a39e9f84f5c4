// Package record writes captured frames into a timestamp-named container
// file.
package record

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gocv.io/x/gocv"

	"github.com/t-sasatani/elp-camera/internal/camera"
)

// Recorder is a camera.FrameSink backed by an OpenCV video writer. The
// output file is named by the Unix timestamp captured once at creation;
// partial files are never removed.
type Recorder struct {
	path    string
	writer  *gocv.VideoWriter
	written int
}

var _ camera.FrameSink = (*Recorder)(nil)

// New creates the output directory if needed and opens a writer for the
// resolved mode. The codec follows the negotiated format tag.
func New(dir string, mode camera.ResolvedMode) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.avi", time.Now().Unix()))

	fps := mode.AchievedFPS
	if fps <= 0 {
		fps = float64(mode.Requested.FPS)
	}
	w, err := gocv.VideoWriterFile(path, mode.Format.FourCC(), fps, mode.Width, mode.Height, true)
	if err != nil {
		return nil, fmt.Errorf("open video writer %s: %w", path, err)
	}
	if !w.IsOpened() {
		w.Close()
		return nil, fmt.Errorf("video writer %s failed to open (codec %s)", path, mode.Format.FourCC())
	}
	return &Recorder{path: path, writer: w}, nil
}

// Path returns the output file path.
func (r *Recorder) Path() string { return r.path }

// Frames returns how many frames were written so far.
func (r *Recorder) Frames() int { return r.written }

// WriteFrame decodes the frame bytes and appends them to the container.
func (r *Recorder) WriteFrame(f camera.Frame) error {
	img, err := gocv.IMDecode(f.Data, gocv.IMReadColor)
	if err != nil {
		return fmt.Errorf("decode frame %d: %w", f.Seq, err)
	}
	defer img.Close()
	if img.Empty() {
		return fmt.Errorf("frame %d decoded empty", f.Seq)
	}
	if err := r.writer.Write(img); err != nil {
		return fmt.Errorf("write frame %d: %w", f.Seq, err)
	}
	r.written++
	return nil
}

// Close flushes and closes the container file.
func (r *Recorder) Close() error {
	return r.writer.Close()
}
