package session

// ConnectionType tells the mobile how to reach the host's media network.
type ConnectionType string

const (
	// ConnectionWLAN means the host sits on an existing wireless LAN.
	ConnectionWLAN ConnectionType = "WLAN"
	// ConnectionAP means the host runs its own access point.
	ConnectionAP ConnectionType = "AP"
)

// HostInfo is the provisioning record a mobile reads on first contact.
type HostInfo struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	ConnectionType ConnectionType `json:"connection_type"`
}

// VideoProp describes one supported video format.
type VideoProp struct {
	Resolution [2]uint32 `json:"resolution"`
	FPS        uint32    `json:"fps"`
}

// CameraInfo describes one camera a mobile exposes.
type CameraInfo struct {
	Name   string      `json:"name"`
	Format []VideoProp `json:"format"`
}

// Mobile is the registration record persisted for a provisioned mobile.
type Mobile struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Cameras []CameraInfo `json:"cameras"`
}

// CameraSdp pairs a camera with the SDP text negotiating its stream.
type CameraSdp struct {
	Name   string    `json:"name"`
	Format VideoProp `json:"format"`
	Sdp    string    `json:"sdp"`
}

// MobileSdpOffer is what a registered mobile writes to start a call: its
// persisted id plus one SDP offer per camera.
type MobileSdpOffer struct {
	MobileID    string      `json:"mobile_id"`
	CameraOffer []CameraSdp `json:"camera_offer"`
}

// MobileSdpAnswer carries the host's SDP answer per camera.
type MobileSdpAnswer struct {
	CameraAnswer []CameraSdp `json:"camera_answer"`
}

// DataStore persists host and mobile records.
type DataStore interface {
	HostProvInfo() (HostInfo, error)
	AddMobile(Mobile) error
	Mobile(id string) (Mobile, error)
}

// VDevice is one virtual capture device backed by a negotiated stream.
type VDevice interface {
	SDPAnswer() string
	Close() error
}

// VDeviceBuilder creates the virtual devices for a mobile's camera
// offers. Devices are created in offer order; on failure none survive.
type VDeviceBuilder interface {
	CreateFrom(mobileName string, offers []CameraSdp) (map[string]VDevice, error)
}
