package discovery

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Network constants.
const (
	// DescriptionPort is the port serving the UPnP description document.
	DescriptionPort = 49152

	// DescriptionPath is the path of the UPnP description document.
	DescriptionPath = "/description.xml"

	// MCUPort is the device's control port. Candidates without it are not fans.
	MCUPort = 8899

	// ManufacturerFamily must appear in the description's manufacturer field.
	ManufacturerFamily = "Linkplay"

	// DefaultFriendlyName is used when the description has no friendlyName.
	DefaultFriendlyName = "Unknown"
)

// Timing constants.
const (
	// DefaultScanTimeout bounds a full scan.
	DefaultScanTimeout = 30 * time.Second

	// DefaultProbeTimeout bounds a single TCP port probe or HTTP fetch.
	DefaultProbeTimeout = 5 * time.Second

	// DefaultConcurrency is the number of hosts probed in parallel.
	DefaultConcurrency = 32
)

// Discovery errors.
var (
	// ErrNotFound indicates no device advertised the requested UDN.
	ErrNotFound = errors.New("device not found")

	// ErrDiscoveryTimeout indicates the scan deadline expired before a match.
	ErrDiscoveryTimeout = errors.New("discovery timeout")

	// ErrNotSmartFan indicates a responder that is not a supported device.
	ErrNotSmartFan = errors.New("not a supported device")

	// ErrInvalidDescription indicates an unparsable description document.
	ErrInvalidDescription = errors.New("invalid device description")

	// ErrNoNetwork indicates the local network prefix could not be determined.
	ErrNoNetwork = errors.New("local network not detected")
)

// IdentityMismatchError reports a responder at the expected address that
// advertises a different UDN. It matches ErrNotFound under errors.Is.
type IdentityMismatchError struct {
	Host     string
	Expected string
	Found    string
}

func (e *IdentityMismatchError) Error() string {
	return fmt.Sprintf("identity mismatch at %s: expected %s, found %s", e.Host, e.Expected, e.Found)
}

// Is reports ErrNotFound so callers can treat a mismatch as a miss.
func (e *IdentityMismatchError) Is(target error) bool {
	return target == ErrNotFound
}

// DiscoveredDevice is a confirmed device found on the network.
type DiscoveredDevice struct {
	// Host is the device's IPv4 address.
	Host string

	// UDN is the UPnP unique device name, e.g. "uuid:FF31F09E-...".
	UDN string

	// UUID is the vendor uuid field from the description (may be empty).
	UUID string

	FriendlyName     string
	Manufacturer     string
	ModelName        string
	ModelDescription string
}

// String returns a one-line summary for logs.
func (d DiscoveredDevice) String() string {
	return fmt.Sprintf("%s (%s) at %s", d.FriendlyName, d.UDN, d.Host)
}

// SameUDN compares two UDNs ignoring case and the "uuid:" prefix.
func SameUDN(a, b string) bool {
	return normalizeUDN(a) == normalizeUDN(b)
}

func normalizeUDN(udn string) string {
	udn = strings.TrimSpace(udn)
	if len(udn) >= 5 && strings.EqualFold(udn[:5], "uuid:") {
		udn = udn[5:]
	}
	return strings.ToLower(udn)
}
