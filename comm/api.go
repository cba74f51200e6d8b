// Package comm implements the BLE application-layer request dispatcher:
// a single actor goroutine that owns all mutable protocol state (chunk
// cursors, pub/sub topics, the per-peer session service) and serves typed
// requests sent by the GATT characteristic handlers.
package comm

// Address identifies a connected peer by its link-layer identity.
type Address = string

// QueryKind names a readable value a peer can drain in chunks.
type QueryKind string

const (
	// QueryHostInfo returns the host provisioning record.
	QueryHostInfo QueryKind = "host-info"
	// QuerySdpAnswer returns the SDP answers for the peer's camera offers.
	QuerySdpAnswer QueryKind = "sdp-answer"
)

// CmdKind names a writable operation a peer submits in chunks.
type CmdKind string

const (
	// CmdRegisterMobile carries the mobile's registration record.
	CmdRegisterMobile CmdKind = "register-mobile"
	// CmdMobilePnpID carries the mobile id and its camera SDP offers.
	CmdMobilePnpID CmdKind = "mobile-pnp-id"
	// CmdMobileSdpResponse carries follow-up SDP data for an active stream.
	CmdMobileSdpResponse CmdKind = "mobile-sdp-response"
)

// Topic names a pub/sub channel peers can subscribe to.
type Topic string

// TopicSdpAnswerReady announces that a peer's SDP answers are ready to be
// drained via QuerySdpAnswer.
const TopicSdpAnswerReady Topic = "sdp-answer-ready"

// PeerService is the per-peer session layer driven by the dispatcher. All
// methods are invoked from the dispatcher goroutine only, so
// implementations need no locking. Methods that receive an unknown address
// create a fresh session for it.
type PeerService interface {
	// HostInfo returns the serialized host provisioning record.
	HostInfo(addr Address) (string, error)

	// HostInfoDrained is called once the peer has read the final chunk of
	// the host info payload.
	HostInfoDrained(addr Address) error

	// RegisterMobile handles a fully reassembled registration record.
	RegisterMobile(addr Address, payload string) error

	// MobilePnpID handles a fully reassembled mobile id + camera offer set.
	MobilePnpID(addr Address, payload string) error

	// SubscribeSdpAnswers is called when the peer subscribes to the
	// answer-ready topic; pub is the topic's publisher.
	SubscribeSdpAnswers(addr Address, pub *Publisher) error

	// SdpAnswer returns the serialized SDP answer set for the peer.
	SdpAnswer(addr Address) (string, error)

	// MobileSdpResponse handles a fully reassembled SDP follow-up.
	MobileSdpResponse(addr Address, payload string) error

	// Disconnected tears down the peer's session. Reports an error when the
	// address is not present; the caller treats that as informational.
	Disconnected(addr Address) error
}
