package backend

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
)

func encodeTestFrame(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			if x < width/2 {
				img.Set(x, y, color.RGBA{R: 255, A: 255})
			} else {
				img.Set(x, y, color.RGBA{B: 255, A: 255})
			}
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("encode test frame: %v", err)
	}
	return buf.Bytes()
}

func TestSliceFrameDualPassesThroughRaw(t *testing.T) {
	combined := encodeTestFrame(t, 640, 240)
	out, err := sliceFrame(combined, CameraDual)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, combined) {
		t.Error("CameraDual should return the raw combined frame unchanged")
	}
}

func TestSliceFrameLeftAndRightHalveWidth(t *testing.T) {
	combined := encodeTestFrame(t, 640, 240)

	for _, sel := range []CameraSelect{CameraLeft, CameraRight} {
		out, err := sliceFrame(combined, sel)
		if err != nil {
			t.Fatalf("sel=%d: %v", sel, err)
		}
		img, err := jpeg.Decode(bytes.NewReader(out))
		if err != nil {
			t.Fatalf("sel=%d: decode sliced frame: %v", sel, err)
		}
		if got := img.Bounds().Dx(); got != 320 {
			t.Errorf("sel=%d: got width %d, want 320", sel, got)
		}
	}
}

func TestVideoHubBroadcastDropsOldestUnreadFrame(t *testing.T) {
	hub := NewVideoHub(nil)
	client := &videoClient{frame: make(chan []byte, 1), camera: int32(CameraDual)}

	hub.mu.Lock()
	hub.clients[client] = true
	hub.mu.Unlock()

	hub.Broadcast([]byte("frame-1"))
	hub.Broadcast([]byte("frame-2"))

	select {
	case got := <-client.frame:
		if string(got) != "frame-2" {
			t.Errorf("got %q, want frame-2 (oldest should be dropped)", got)
		}
	default:
		t.Fatal("expected a queued frame")
	}
}

func TestVideoClientCameraSelectIsThreadSafe(t *testing.T) {
	c := &videoClient{frame: make(chan []byte, 1), camera: int32(CameraDual)}
	if c.getCamera() != int(CameraDual) {
		t.Fatalf("default camera should be CameraDual")
	}
	c.setCamera(int(CameraLeft))
	if c.getCamera() != int(CameraLeft) {
		t.Fatalf("expected camera to update to CameraLeft")
	}
}
