package negotiate

import (
	"context"
	"errors"
	"testing"

	"github.com/t-sasatani/elp-camera/internal/camera"
	"github.com/t-sasatani/elp-camera/internal/camera/simcam"
)

func newNegotiator() *Negotiator {
	n := New()
	n.SettleDelay = 0
	return n
}

func openDevice(t *testing.T, b camera.Backend) *camera.Device {
	t.Helper()
	dev := camera.NewDevice(b, 0)
	if err := dev.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	return dev
}

func mode(w, h, fps int) camera.ResolutionMode {
	return camera.ResolutionMode{Width: w, Height: h, FPS: fps, Format: camera.FormatMJPEG}
}

func TestNegotiateSuccess(t *testing.T) {
	d := simcam.NewDevice()
	dev := openDevice(t, &simcam.Backend{Dev: d})
	defer dev.Close()

	want := mode(1920, 1080, 30)
	resolved, err := newNegotiator().Negotiate(context.Background(), dev, want, false)
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if !resolved.Matches(want) {
		t.Errorf("resolved %v does not match %v", resolved, want)
	}
	if dev.Current() == nil || !dev.Current().Matches(want) {
		t.Error("current mode not recorded")
	}
	if dev.LastGood == nil || !dev.LastGood.Matches(want) {
		t.Error("last known-good mode not recorded")
	}
}

func TestNegotiateIdempotent(t *testing.T) {
	d := simcam.NewDevice()
	widthWrites := 0
	d.SetProp(camera.PropWidth, &simcam.Prop{
		Value: 640, Writable: true, AcceptWrite: true,
		OnWrite: func(*simcam.Device, float64) { widthWrites++ },
	})
	dev := openDevice(t, &simcam.Backend{Dev: d})
	defer dev.Close()

	n := newNegotiator()
	want := mode(1280, 720, 30)
	if _, err := n.Negotiate(context.Background(), dev, want, false); err != nil {
		t.Fatalf("first Negotiate: %v", err)
	}
	after := widthWrites
	if after == 0 {
		t.Fatal("first negotiation wrote nothing")
	}

	// Re-requesting the current mode must be satisfied by readback alone.
	if _, err := n.Negotiate(context.Background(), dev, want, false); err != nil {
		t.Fatalf("second Negotiate: %v", err)
	}
	if widthWrites != after {
		t.Errorf("idempotent negotiation wrote width %d more times", widthWrites-after)
	}
}

func TestNegotiateClampedHeight(t *testing.T) {
	d := simcam.NewDevice()
	d.MaxHeight = 720
	dev := openDevice(t, &simcam.Backend{Dev: d})
	defer dev.Close()

	_, err := newNegotiator().Negotiate(context.Background(), dev, mode(1920, 1080, 30), false)
	var negErr *camera.NegotiationError
	if !errors.As(err, &negErr) {
		t.Fatalf("want *camera.NegotiationError, got %v", err)
	}
	if negErr.Requested.Height != 1080 {
		t.Errorf("requested height = %d, want 1080", negErr.Requested.Height)
	}
	if negErr.LastObserved.Width != 1920 || negErr.LastObserved.Height != 720 {
		t.Errorf("last observed = %dx%d, want 1920x720",
			negErr.LastObserved.Width, negErr.LastObserved.Height)
	}
	if !dev.IsOpen() {
		t.Error("failed negotiation must leave the handle open")
	}
	if d.OpenHandles() != 1 {
		t.Errorf("open handles = %d, want 1", d.OpenHandles())
	}
}

func TestNegotiateRestoresLastGood(t *testing.T) {
	d := simcam.NewDevice()
	dev := openDevice(t, &simcam.Backend{Dev: d})
	defer dev.Close()

	n := newNegotiator()
	good := mode(1280, 720, 30)
	if _, err := n.Negotiate(context.Background(), dev, good, false); err != nil {
		t.Fatalf("negotiate known-good: %v", err)
	}

	d.MaxHeight = 720
	if _, err := n.Negotiate(context.Background(), dev, mode(1920, 1080, 30), false); err == nil {
		t.Fatal("clamped negotiation should fail")
	}
	if w, h := d.PropValue(camera.PropWidth), d.PropValue(camera.PropHeight); w != 1280 || h != 720 {
		t.Errorf("device left at %gx%g, want last good 1280x720 restored", w, h)
	}
}

func TestNegotiateReopenHintKeepsSingleHandle(t *testing.T) {
	d := simcam.NewDevice()
	d.MaxHeight = 720
	b := &simcam.HintBackend{Backend: simcam.Backend{Dev: d}}
	dev := openDevice(t, b)
	defer dev.Close()

	_, err := newNegotiator().Negotiate(context.Background(), dev, mode(1920, 1080, 30), false)
	if err == nil {
		t.Fatal("clamped negotiation should fail")
	}
	// The hinted reopen ran: more than one open happened, and it was
	// bracketed by a close. The busy canary in the sim backend would have
	// failed the reopen outright had the old handle leaked.
	if d.Opens < 2 {
		t.Errorf("opens = %d, want the reopen strategy to have run", d.Opens)
	}
	if !dev.IsOpen() || d.OpenHandles() != 1 {
		t.Errorf("open=%v handles=%d, want exactly one live handle", dev.IsOpen(), d.OpenHandles())
	}
}

func TestNegotiateForcedStillVerifies(t *testing.T) {
	// A format the device silently refuses is unreachable with or
	// without force. Force must push every write through, terminate
	// after its bounded retries, and still report what was observed.
	d := simcam.NewDevice()
	d.RejectFormats = map[camera.FormatTag]bool{camera.FormatYUY2: true}
	n := newNegotiator()
	dev := openDevice(t, &simcam.Backend{Dev: d})
	defer dev.Close()

	req := camera.ResolutionMode{Width: 640, Height: 480, FPS: 30, Format: camera.FormatYUY2}
	_, err := n.Negotiate(context.Background(), dev, req, true)
	var negErr *camera.NegotiationError
	if !errors.As(err, &negErr) {
		t.Fatalf("want *camera.NegotiationError, got %v", err)
	}
	if negErr.LastObserved.Format != camera.FormatMJPEG {
		t.Errorf("last observed format = %v, want the refused write to leave MJPEG", negErr.LastObserved.Format)
	}
}

func TestNegotiateNotOpen(t *testing.T) {
	dev := camera.NewDevice(&simcam.Backend{Dev: simcam.NewDevice()}, 0)
	if _, err := newNegotiator().Negotiate(context.Background(), dev, mode(640, 480, 30), false); err == nil {
		t.Fatal("negotiating a closed device should fail")
	}
}
