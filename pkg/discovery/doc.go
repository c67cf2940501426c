// Package discovery locates Homewerks smart fans on the local network.
//
// Discovery runs in two stages. A Source produces candidate host addresses
// and a Describer fetches each candidate's UPnP device description:
//
//	http://<host>:49152/description.xml
//
// A candidate is accepted when the description's manufacturer belongs to
// the Linkplay module family and the MCU control port (8899) accepts TCP
// connections. The description's UDN is the device's stable identity.
//
// # Candidate Sources
//
// The transport that finds candidates is pluggable:
//
//   - SSDPSource sends an M-SEARCH probe to 239.255.255.250:1900.
//   - MDNSSource browses _linkplay._tcp.local.
//   - SubnetSource sweeps the local /24 and keeps hosts with the
//     description port open.
//   - MultiSource merges the results of several sources.
//
// # Identity Recovery
//
// Service.Resolve finds the current address of a known UDN. The previous
// address is tried first; a full scan follows if it does not answer with
// the expected UDN. A responder that advertises a different UDN is never
// substituted for the expected device.
package discovery
