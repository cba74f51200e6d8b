package gatt

import "github.com/currantlabs/ble"

// Provisioning service and characteristic UUIDs. Mobiles hard-code the
// same values; changing any of them is a protocol break.
var (
	ProvServiceUUID = ble.MustParse("124ddac5-b107-46a0-ade0-4ae8b2b700f5")

	// HostInfoCharUUID serves the host provisioning record (read).
	HostInfoCharUUID = ble.MustParse("124ddac6-b107-46a0-ade0-4ae8b2b700f5")
	// MobileInfoCharUUID receives the mobile registration record (write).
	MobileInfoCharUUID = ble.MustParse("124ddac7-b107-46a0-ade0-4ae8b2b700f5")
	// SdpResponseCharUUID receives follow-up SDP data (write).
	SdpResponseCharUUID = ble.MustParse("124ddac8-b107-46a0-ade0-4ae8b2b700f5")
	// SdpNotifyCharUUID announces ready SDP answers (notify).
	SdpNotifyCharUUID = ble.MustParse("124ddac9-b107-46a0-ade0-4ae8b2b700f5")
	// PnpIDCharUUID receives the mobile id and camera offers (write).
	PnpIDCharUUID = ble.MustParse("124ddaca-b107-46a0-ade0-4ae8b2b700f5")
	// SdpAnswerCharUUID serves the negotiated SDP answers (read).
	SdpAnswerCharUUID = ble.MustParse("124ddacb-b107-46a0-ade0-4ae8b2b700f5")
)
