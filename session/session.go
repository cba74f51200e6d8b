// Package session tracks the server-side state of each connected BLE
// peer across the provisioning protocol: host info read, registration,
// camera offer exchange, and finally streaming through virtual devices.
// All mutation happens on the dispatcher goroutine, so the state machine
// carries no locks by design of the comm.PeerService contract.
package session

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/user/webcam-direct/comm"
	"github.com/user/webcam-direct/logger"
)

// State is the phase of one peer's session.
type State int

const (
	// StateAwaitingHostInfoRead waits for the peer to drain the host
	// provisioning record.
	StateAwaitingHostInfoRead State = iota
	// StateAwaitingMobileInfoWrite waits for the registration record.
	StateAwaitingMobileInfoWrite
	// StateAwaitingMobileIdWrite waits for the mobile id + camera offers.
	StateAwaitingMobileIdWrite
	// StateRegistered has a verified mobile record and cached offers.
	StateRegistered
	// StateReadyToStream has live virtual devices and cached SDP answers.
	StateReadyToStream
)

func (s State) String() string {
	switch s {
	case StateAwaitingHostInfoRead:
		return "awaiting-host-info-read"
	case StateAwaitingMobileInfoWrite:
		return "awaiting-mobile-info-write"
	case StateAwaitingMobileIdWrite:
		return "awaiting-mobile-id-write"
	case StateRegistered:
		return "registered"
	case StateReadyToStream:
		return "ready-to-stream"
	}
	return "unknown"
}

type peer struct {
	state    State
	mobile   Mobile
	offers   []CameraSdp
	vdevices map[string]VDevice
	order    []string // acquisition order, for reverse release
	answer   string   // cached marshaled MobileSdpAnswer
}

// MobileComm implements comm.PeerService over the data store and the
// virtual device builder.
type MobileComm struct {
	db      DataStore
	builder VDeviceBuilder

	peers    map[comm.Address]*peer
	hostInfo string // cached marshaled HostInfo
}

// New creates the session service.
func New(db DataStore, builder VDeviceBuilder) *MobileComm {
	return &MobileComm{
		db:      db,
		builder: builder,
		peers:   make(map[comm.Address]*peer),
	}
}

// ensure returns the session for addr, creating one on first contact.
func (m *MobileComm) ensure(addr comm.Address) *peer {
	p, ok := m.peers[addr]
	if !ok {
		p = &peer{state: StateAwaitingHostInfoRead}
		m.peers[addr] = p
		logger.Info("session", "new peer %s", addr)
	}
	return p
}

// HostInfo serves the host provisioning record. Served in any phase: the
// record is static and re-reading it is harmless.
func (m *MobileComm) HostInfo(addr comm.Address) (string, error) {
	m.ensure(addr)

	if m.hostInfo == "" {
		hi, err := m.db.HostProvInfo()
		if err != nil {
			return "", &comm.CollaboratorError{Op: "data store", Err: err}
		}
		raw, err := json.Marshal(hi)
		if err != nil {
			return "", errors.Wrap(err, "marshaling host info")
		}
		m.hostInfo = string(raw)
	}
	return m.hostInfo, nil
}

// HostInfoDrained advances a fresh session once the peer has read the
// whole host record. A no-op in any later phase.
func (m *MobileComm) HostInfoDrained(addr comm.Address) error {
	p := m.ensure(addr)
	if p.state == StateAwaitingHostInfoRead {
		p.state = StateAwaitingMobileInfoWrite
		logger.Debug("session", "peer %s -> %s", addr, p.state)
	}
	return nil
}

// RegisterMobile persists the peer's registration record.
func (m *MobileComm) RegisterMobile(addr comm.Address, payload string) error {
	p := m.ensure(addr)
	if p.state != StateAwaitingMobileInfoWrite {
		return errors.Wrapf(comm.ErrWrongState, "register mobile in %s", p.state)
	}

	var mobile Mobile
	if err := json.Unmarshal([]byte(payload), &mobile); err != nil {
		return errors.Wrap(err, "parsing mobile record")
	}
	logger.DebugJSON("session", "mobile record from "+addr, mobile)
	if err := m.db.AddMobile(mobile); err != nil {
		return &comm.CollaboratorError{Op: "data store", Err: err}
	}

	p.state = StateAwaitingMobileIdWrite
	logger.Info("session", "peer %s registered mobile %s", addr, mobile.ID)
	return nil
}

// MobilePnpID verifies the peer against the store and caches its camera
// offers.
func (m *MobileComm) MobilePnpID(addr comm.Address, payload string) error {
	p := m.ensure(addr)
	if p.state != StateAwaitingMobileIdWrite {
		return errors.Wrapf(comm.ErrWrongState, "mobile pnp id in %s", p.state)
	}

	var offer MobileSdpOffer
	if err := json.Unmarshal([]byte(payload), &offer); err != nil {
		return errors.Wrap(err, "parsing mobile sdp offer")
	}
	logger.DebugJSON("session", "sdp offer from "+addr, offer)
	mobile, err := m.db.Mobile(offer.MobileID)
	if err != nil {
		return &comm.CollaboratorError{Op: "data store", Err: err}
	}

	p.mobile = mobile
	p.offers = offer.CameraOffer
	p.state = StateRegistered
	logger.Info("session", "peer %s identified as %q with %d camera offer(s)",
		addr, mobile.Name, len(offer.CameraOffer))
	return nil
}

// SubscribeSdpAnswers builds the peer's virtual devices and announces on
// the topic that its answers are ready.
func (m *MobileComm) SubscribeSdpAnswers(addr comm.Address, pub *comm.Publisher) error {
	p := m.ensure(addr)
	if p.state != StateRegistered {
		return errors.Wrapf(comm.ErrWrongState, "subscribe to sdp answers in %s", p.state)
	}

	vdevices, err := m.builder.CreateFrom(p.mobile.Name, p.offers)
	if err != nil {
		return &comm.CollaboratorError{Op: "virtual device builder", Err: err}
	}

	order := make([]string, 0, len(vdevices))
	for _, offer := range p.offers {
		if _, ok := vdevices[offer.Name]; ok {
			order = append(order, offer.Name)
		}
	}

	p.vdevices = vdevices
	p.order = order
	p.answer = ""
	p.state = StateReadyToStream
	logger.Info("session", "peer %s ready to stream with %d virtual device(s)", addr, len(vdevices))

	pub.Publish(addr)
	return nil
}

// SdpAnswer serves the SDP answers collected from the peer's virtual
// devices, one per camera.
func (m *MobileComm) SdpAnswer(addr comm.Address) (string, error) {
	p := m.ensure(addr)
	if p.state != StateReadyToStream {
		return "", errors.Wrapf(comm.ErrWrongState, "sdp answer in %s", p.state)
	}

	if p.answer == "" {
		answer := MobileSdpAnswer{}
		for _, offer := range p.offers {
			dev, ok := p.vdevices[offer.Name]
			if !ok {
				continue
			}
			answer.CameraAnswer = append(answer.CameraAnswer, CameraSdp{
				Name:   offer.Name,
				Format: offer.Format,
				Sdp:    dev.SDPAnswer(),
			})
		}
		raw, err := json.Marshal(answer)
		if err != nil {
			return "", errors.Wrap(err, "marshaling sdp answer")
		}
		p.answer = string(raw)
	}
	return p.answer, nil
}

// MobileSdpResponse accepts follow-up SDP data once streaming is set up.
// The virtual devices negotiate trickle candidates out of band, so today
// this only records the event.
func (m *MobileComm) MobileSdpResponse(addr comm.Address, payload string) error {
	p := m.ensure(addr)
	if p.state != StateReadyToStream {
		return errors.Wrapf(comm.ErrWrongState, "mobile sdp response in %s", p.state)
	}
	logger.Debug("session", "peer %s sdp response (%d bytes)", addr, len(payload))
	return nil
}

// Disconnected releases the peer's virtual devices in reverse acquisition
// order and drops the session. Release failures are logged, never block
// removal.
func (m *MobileComm) Disconnected(addr comm.Address) error {
	p, ok := m.peers[addr]
	if !ok {
		return errors.Errorf("peer %s not connected", addr)
	}

	for i := len(p.order) - 1; i >= 0; i-- {
		name := p.order[i]
		if dev, ok := p.vdevices[name]; ok {
			if err := dev.Close(); err != nil {
				logger.Error("session", "releasing virtual device %q for %s: %v", name, addr, err)
			}
		}
	}
	delete(m.peers, addr)
	logger.Info("session", "peer %s disconnected", addr)
	return nil
}

// StateOf reports the session phase for addr.
func (m *MobileComm) StateOf(addr comm.Address) (State, bool) {
	p, ok := m.peers[addr]
	if !ok {
		return 0, false
	}
	return p.state, true
}

// Peers reports how many sessions are live.
func (m *MobileComm) Peers() int {
	return len(m.peers)
}
