package model

// TunnelNumRange bounds organization-scoped tunnel numbers. A tunnel
// number is never handed out twice concurrently within one organization;
// deactivated numbers are recycled before new ones are allocated.
const TunnelNumRange = 15000

// EncryptionMethod selects how a tunnel's traffic is protected.
type EncryptionMethod string

const (
	EncryptionNone  EncryptionMethod = "none"
	EncryptionPSK   EncryptionMethod = "psk"
	EncryptionIKEv2 EncryptionMethod = "ikev2"
)

// ValidEncryptionMethod reports whether m is a supported method.
func ValidEncryptionMethod(m EncryptionMethod) bool {
	switch m {
	case EncryptionNone, EncryptionPSK, EncryptionIKEv2:
		return true
	}
	return false
}

// TunnelKeys holds the four generated SA keys for psk tunnels. Keys are
// generated once at tunnel creation and reused verbatim on resync.
type TunnelKeys struct {
	Key1 string `json:"key1"`
	Key2 string `json:"key2"`
	Key3 string `json:"key3"`
	Key4 string `json:"key4"`
}

// Tunnel is a secured logical link between two WAN interfaces, or
// between one WAN interface and a third-party peer endpoint (DeviceB
// empty, Peer set).
//
// Num is organization-scoped and stable across the tunnel's life:
// loopback addressing, MACs and SPIs are derived from it and never
// persisted. IsActive is a soft-delete flag; inactive tunnel documents
// keep their Num so it can be recycled.
type Tunnel struct {
	ID         string `json:"_id"`
	Org        string `json:"org"`
	Num        int    `json:"num"`
	IsActive   bool   `json:"isActive"`
	DeviceA    string `json:"deviceA"`
	InterfaceA string `json:"interfaceA"`
	DeviceB    string `json:"deviceB,omitempty"`
	InterfaceB string `json:"interfaceB,omitempty"`
	Peer       string `json:"peer,omitempty"`
	PathLabel  string `json:"pathlabel,omitempty"`

	EncryptionMethod EncryptionMethod `json:"encryptionMethod"`
	TunnelKeys       *TunnelKeys      `json:"tunnelKeys,omitempty"`

	IsPending     bool   `json:"isPending"`
	PendingReason string `json:"pendingReason,omitempty"`

	// PendingTunnelModification guards against queuing duplicate
	// teardown/rebuild jobs for the same tunnel.
	PendingTunnelModification bool `json:"pendingTunnelModification"`
}

// IsPeer reports whether this is a peer tunnel (single managed side).
func (t *Tunnel) IsPeer() bool {
	return t.Peer != ""
}

// UsesDevice reports whether the tunnel terminates on the given device.
func (t *Tunnel) UsesDevice(deviceID string) bool {
	return t.DeviceA == deviceID || t.DeviceB == deviceID
}

// UsesInterface reports whether the tunnel is bound to the given
// interface on the given device.
func (t *Tunnel) UsesInterface(deviceID, ifID string) bool {
	if t.DeviceA == deviceID && t.InterfaceA == ifID {
		return true
	}
	return t.DeviceB == deviceID && t.InterfaceB == ifID
}

// OtherSide returns the remote device and interface ids as seen from
// deviceID. ok is false for peer tunnels and for devices not on the
// tunnel.
func (t *Tunnel) OtherSide(deviceID string) (devID, ifID string, ok bool) {
	switch deviceID {
	case t.DeviceA:
		if t.DeviceB == "" {
			return "", "", false
		}
		return t.DeviceB, t.InterfaceB, true
	case t.DeviceB:
		return t.DeviceA, t.InterfaceA, true
	}
	return "", "", false
}
