package framepump

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"github.com/tomeravgil/guardcar/sdk"
)

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestReadFrameParsesLengthPrefix(t *testing.T) {
	payload := []byte("hello-jpeg-bytes")
	var buf bytes.Buffer
	var lenField [4]byte
	binary.BigEndian.PutUint32(lenField[:], uint32(len(payload)))
	buf.Write(lenField[:])
	buf.Write(payload)

	got, err := readFrame(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("readFrame = %q, want %q", got, payload)
	}
}

func TestReadFrameTruncatedErrors(t *testing.T) {
	var buf bytes.Buffer
	var lenField [4]byte
	binary.BigEndian.PutUint32(lenField[:], 100)
	buf.Write(lenField[:])
	buf.WriteString("short")

	if _, err := readFrame(bufio.NewReader(&buf)); err == nil {
		t.Fatal("expected an error reading a truncated frame")
	}
}

type fakeRouter struct {
	err       error
	score     float64
	lastFrame *sdk.Frame
}

func (f *fakeRouter) Process(ctx context.Context, frame *sdk.Frame) (float64, []sdk.Track, error) {
	f.lastFrame = frame
	if f.err != nil {
		return 0, nil, f.err
	}
	return f.score, nil, nil
}

type fakeSink struct {
	mirrors    int
	suspicions int
	lastScore  float64
}

func (f *fakeSink) PublishFrameMirror(cameraID string, jpeg []byte, ttl time.Duration) {
	f.mirrors++
}
func (f *fakeSink) PublishSuspicionFrame(frame sdk.SuspicionFrame, ttl time.Duration) {
	f.suspicions++
	f.lastScore = frame.Score
}

type fakeRecording struct {
	observed []float64
}

func (f *fakeRecording) Observe(cameraID string, score float64) {
	f.observed = append(f.observed, score)
}

func TestProcessFrameHappyPath(t *testing.T) {
	router := &fakeRouter{score: 42}
	sink := &fakeSink{}
	rec := &fakeRecording{}

	p := New(Config{CameraID: "cam0", Router: router, Sink: sink, Recording: rec})
	jpeg := encodeJPEG(t, 64, 48)
	p.processFrame(context.Background(), jpeg)

	if sink.mirrors != 1 {
		t.Fatalf("mirrors = %d, want 1", sink.mirrors)
	}
	if sink.suspicions != 1 || sink.lastScore != 42 {
		t.Fatalf("suspicion publish mismatch: count=%d score=%v", sink.suspicions, sink.lastScore)
	}
	if len(rec.observed) != 1 || rec.observed[0] != 42 {
		t.Fatalf("recording observe mismatch: %+v", rec.observed)
	}
	if router.lastFrame == nil || router.lastFrame.Width != 64 || router.lastFrame.Height != 48 {
		t.Fatalf("router received wrong frame shape: %+v", router.lastFrame)
	}
}

// A decode failure still mirrors the frame (mirroring happens before decode)
// but never reaches the router, and never panics.
func TestProcessFrameDecodeFailureSkipsRouter(t *testing.T) {
	router := &fakeRouter{score: 99}
	sink := &fakeSink{}
	rec := &fakeRecording{}

	p := New(Config{CameraID: "cam0", Router: router, Sink: sink, Recording: rec})
	p.processFrame(context.Background(), []byte("not a jpeg"))

	if sink.mirrors != 1 {
		t.Fatalf("mirrors = %d, want 1 (mirror happens before decode)", sink.mirrors)
	}
	if router.lastFrame != nil {
		t.Fatal("router should not have been invoked on a decode failure")
	}
	if sink.suspicions != 0 {
		t.Fatal("no suspicion frame should be published on decode failure")
	}
	if len(rec.observed) != 0 {
		t.Fatal("recording controller should not observe a score on decode failure")
	}
}

// A router error skips the suspicion publish and recording hand-off without
// propagating, matching "nothing in the hot path throws out of the
// per-frame loop".
func TestProcessFrameRouterErrorSkipsDownstream(t *testing.T) {
	router := &fakeRouter{err: errors.New("boom")}
	sink := &fakeSink{}
	rec := &fakeRecording{}

	p := New(Config{CameraID: "cam0", Router: router, Sink: sink, Recording: rec})
	jpeg := encodeJPEG(t, 32, 32)
	p.processFrame(context.Background(), jpeg)

	if sink.mirrors != 1 {
		t.Fatalf("mirrors = %d, want 1", sink.mirrors)
	}
	if sink.suspicions != 0 {
		t.Fatal("no suspicion frame should be published on router error")
	}
	if len(rec.observed) != 0 {
		t.Fatal("recording controller should not observe a score on router error")
	}
}
