// Package identity models the device's stable identity and its persisted form.
//
// A device is known by its UPnP UDN, which survives DHCP address changes.
// The last known address is a cache: it is tried first and replaced when
// discovery finds the same UDN elsewhere.
package identity

import (
	"net"
	"strconv"
	"time"
)

// DefaultPort is the device's command port.
const DefaultPort = 8899

// Record format versions.
const (
	// RecordVersionIPOnly records carry only the device address.
	RecordVersionIPOnly = 1

	// RecordVersion is the current format, keyed by UDN.
	RecordVersion = 2
)

// DeviceIdentity binds a stable UDN to the last address it was seen at.
type DeviceIdentity struct {
	// UDN is the UPnP unique device name, e.g. "uuid:FF31F09E-...".
	// Empty until discovery has filled it in.
	UDN string

	// Address is the last known IPv4 address (no port).
	Address string

	// Port is the command port.
	Port int
}

// HostPort returns Address:Port.
func (d DeviceIdentity) HostPort() string {
	port := d.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(d.Address, strconv.Itoa(port))
}

// HasUDN reports whether the stable identifier is known.
func (d DeviceIdentity) HasUDN() bool {
	return d.UDN != ""
}

// WithAddress returns a copy bound to a new address. The UDN is unchanged.
func (d DeviceIdentity) WithAddress(address string) DeviceIdentity {
	d.Address = address
	return d
}

// WithUDN returns a copy with the UDN filled in.
func (d DeviceIdentity) WithUDN(udn string) DeviceIdentity {
	d.UDN = udn
	return d
}

// Record is the persisted identity.
type Record struct {
	// Version is the record format version. Zero is read as version 1.
	Version int `json:"version"`

	// UDN is the stable identifier (version 2 and later).
	UDN string `json:"udn,omitempty"`

	// UUID is the bare uuid part of the UDN.
	UUID string `json:"uuid,omitempty"`

	// FriendlyName is the name the device advertises.
	FriendlyName string `json:"friendly_name,omitempty"`

	// IP is the last known address.
	IP string `json:"ip"`

	// Port is the command port; zero means 8899.
	Port int `json:"port,omitempty"`

	// SavedAt is when the record was last written.
	SavedAt time.Time `json:"saved_at,omitempty"`
}

// MigrateIdentity converts a persisted record of any version into a
// DeviceIdentity. It performs no I/O: an ip-only record yields an identity
// with an empty UDN, which discovery fills in later. Fields the old record
// does carry are kept as they are.
func MigrateIdentity(old Record) DeviceIdentity {
	port := old.Port
	if port == 0 {
		port = DefaultPort
	}
	return DeviceIdentity{UDN: old.UDN, Address: old.IP, Port: port}
}

// NewRecord builds a current-version record for id.
func NewRecord(id DeviceIdentity, uuid, friendlyName string) Record {
	return Record{
		Version:      RecordVersion,
		UDN:          id.UDN,
		UUID:         uuid,
		FriendlyName: friendlyName,
		IP:           id.Address,
		Port:         id.Port,
	}
}
