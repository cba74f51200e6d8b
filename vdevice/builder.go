// Package vdevice builds the host-side virtual capture devices. Each
// camera offer from a mobile becomes a receive-only WebRTC peer
// connection whose SDP answer travels back over the BLE protocol; the
// incoming track is what a loopback capture node would consume.
package vdevice

import (
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"

	"github.com/user/webcam-direct/logger"
	"github.com/user/webcam-direct/session"
)

// Builder creates virtual devices from camera SDP offers.
type Builder struct {
	api           *webrtc.API
	gatherTimeout time.Duration
}

// NewBuilder creates a builder with default codecs registered.
func NewBuilder() (*Builder, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, errors.Wrap(err, "registering codecs")
	}
	return &Builder{
		api:           webrtc.NewAPI(webrtc.WithMediaEngine(me)),
		gatherTimeout: 2 * time.Second,
	}, nil
}

// CreateFrom negotiates one virtual device per camera offer, keyed by
// camera name. On any failure the devices already created are released in
// reverse order and the error is returned.
func (b *Builder) CreateFrom(mobileName string, offers []session.CameraSdp) (map[string]session.VDevice, error) {
	devices := make(map[string]session.VDevice, len(offers))
	created := make([]*Device, 0, len(offers))

	for _, offer := range offers {
		dev, err := b.negotiate(mobileName, offer)
		if err != nil {
			for i := len(created) - 1; i >= 0; i-- {
				if cerr := created[i].Close(); cerr != nil {
					logger.Error("vdevice", "rollback of %s: %v", created[i].Name(), cerr)
				}
			}
			return nil, errors.Wrapf(err, "camera %q", offer.Name)
		}
		devices[offer.Name] = dev
		created = append(created, dev)
	}
	return devices, nil
}

// negotiate answers one camera offer with a receive-only peer connection.
func (b *Builder) negotiate(mobileName string, offer session.CameraSdp) (*Device, error) {
	name := mobileName + "-" + offer.Name

	pc, err := b.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, errors.Wrap(err, "creating peer connection")
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		logger.Info("vdevice", "%s receiving %s track (ssrc %d)", name, track.Kind(), track.SSRC())
		// Drain the track; the capture sink consumes from here.
		go func() {
			for {
				if _, _, err := track.ReadRTP(); err != nil {
					return
				}
			}
		}()
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		logger.Debug("vdevice", "%s connection state %s", name, s)
	})

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.Sdp}
	if err := pc.SetRemoteDescription(remote); err != nil {
		pc.Close()
		return nil, errors.Wrap(err, "setting remote offer")
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return nil, errors.Wrap(err, "creating answer")
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return nil, errors.Wrap(err, "setting local answer")
	}

	select {
	case <-gathered:
	case <-time.After(b.gatherTimeout):
		// Trickle the rest; the answer is still valid without them.
		logger.Warn("vdevice", "%s candidate gathering timed out", name)
	}

	local := pc.LocalDescription()
	if local == nil {
		pc.Close()
		return nil, errors.New("no local description after answer")
	}

	logger.Info("vdevice", "created %s", name)
	return newDevice(name, pc, local.SDP), nil
}
