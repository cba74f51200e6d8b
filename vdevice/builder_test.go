package vdevice

import (
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/user/webcam-direct/session"
)

// cameraOffer produces a real SDP offer with one sendonly video track, the
// shape a mobile would submit for a camera.
func cameraOffer(t *testing.T) string {
	t.Helper()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("offer peer connection: %v", err)
	}
	t.Cleanup(func() { pc.Close() })

	_, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	if err != nil {
		t.Fatalf("adding video transceiver: %v", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatalf("creating offer: %v", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Fatalf("setting local offer: %v", err)
	}
	select {
	case <-gathered:
	case <-time.After(5 * time.Second):
		t.Fatal("candidate gathering timed out")
	}
	return pc.LocalDescription().SDP
}

func TestCreateFrom(t *testing.T) {
	b, err := NewBuilder()
	if err != nil {
		t.Fatalf("builder: %v", err)
	}

	sdp := cameraOffer(t)
	offers := []session.CameraSdp{
		{Name: "front", Format: session.VideoProp{Resolution: [2]uint32{1280, 720}, FPS: 30}, Sdp: sdp},
	}

	devices, err := b.CreateFrom("pixel", offers)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer func() {
		for _, d := range devices {
			d.Close()
		}
	}()

	dev, ok := devices["front"]
	if !ok {
		t.Fatalf("no device for camera, got %v", devices)
	}
	answer := dev.SDPAnswer()
	if !strings.HasPrefix(answer, "v=0") {
		t.Fatalf("answer is not SDP: %.40q", answer)
	}
	if !strings.Contains(answer, "m=video") {
		t.Fatal("answer has no video section")
	}

	concrete, ok := dev.(*Device)
	if !ok {
		t.Fatalf("device type %T", dev)
	}
	if concrete.Name() != "pixel-front" {
		t.Fatalf("device name %q, want pixel-front", concrete.Name())
	}
	if concrete.ID() == "" {
		t.Fatal("device has no id")
	}
}

func TestCreateFromBadOfferRollsBack(t *testing.T) {
	b, err := NewBuilder()
	if err != nil {
		t.Fatal(err)
	}

	offers := []session.CameraSdp{
		{Name: "front", Sdp: cameraOffer(t)},
		{Name: "back", Sdp: "this is not sdp"},
	}

	if _, err := b.CreateFrom("pixel", offers); err == nil {
		t.Fatal("expected failure for the malformed offer")
	}
}

func TestCreateFromEmptyOffers(t *testing.T) {
	b, err := NewBuilder()
	if err != nil {
		t.Fatal(err)
	}
	devices, err := b.CreateFrom("pixel", nil)
	if err != nil {
		t.Fatalf("empty offer set: %v", err)
	}
	if len(devices) != 0 {
		t.Fatalf("got %d devices for no offers", len(devices))
	}
}

func TestCloseIsSafeWithoutConnection(t *testing.T) {
	d := newDevice("pixel-front", nil, "v=0")
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
