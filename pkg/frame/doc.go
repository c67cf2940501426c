// Package frame implements the framing used by the fan's MCU control port.
//
// Every message on TCP port 8899 is a fixed 20-byte binary header followed
// by a JSON object wrapped in a short ASCII envelope:
//
//	┌──────────────┬────────────────┬──────────────┬──────────────────────────┐
//	│ magic (4B)   │ length (4B LE) │ padding (12B)│ "MCU+PAS+" {json} "&"    │
//	│ 18 96 18 20  │ payload bytes  │ all zero     │                          │
//	└──────────────┴────────────────┴──────────────┴──────────────────────────┘
//
// JSON bodies are flat objects mapping a property key to a string or number.
// A key sent with an empty string value asks the device to report the current
// value of that property; the codec does not treat that case specially.
//
// # Stream Reassembly
//
// TCP reads do not line up with frames. Decode scans a buffer for complete
// frames and returns whatever is left over so it can be prepended to the next
// read. Decoder wraps that bookkeeping. Decoding the same byte stream split
// at any boundary produces the same message sequence.
//
// Bodies that are not valid JSON are reported as ErrMalformedFrame and
// skipped; they never stop the stream.
package frame
