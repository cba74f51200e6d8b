package vdevice

import (
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/user/webcam-direct/logger"
)

// Device is one virtual capture device backed by a WebRTC peer
// connection receiving a mobile camera stream.
type Device struct {
	id     string
	name   string
	pc     *webrtc.PeerConnection
	answer string
}

// ID returns the device's unique id.
func (d *Device) ID() string { return d.id }

// Name returns the device label, "<mobile>-<camera>".
func (d *Device) Name() string { return d.name }

// SDPAnswer returns the local SDP answer negotiated for the camera offer.
func (d *Device) SDPAnswer() string { return d.answer }

// Close tears the peer connection down. Safe to call once per device;
// the session layer guarantees exactly one call at teardown.
func (d *Device) Close() error {
	logger.Info("vdevice", "releasing %s", d.name)
	if d.pc == nil {
		return nil
	}
	return d.pc.Close()
}

func newDevice(name string, pc *webrtc.PeerConnection, answer string) *Device {
	return &Device{
		id:     uuid.NewString(),
		name:   name,
		pc:     pc,
		answer: answer,
	}
}
