package log

import "time"

// Event is one protocol capture record.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the TCP session (UUID). Empty for events
	// raised while no session exists.
	ConnectionID string `cbor:"2,keyasint,omitempty"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event.
	Category Category `cbor:"5,keyasint"`

	// RemoteAddr is the device address (IP:port).
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// UDN is the device's stable identifier, when known.
	UDN string `cbor:"7,keyasint,omitempty"`

	// Exactly one of these is set.
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"13,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn is device to client.
	DirectionIn Direction = 0
	// DirectionOut is client to device.
	DirectionOut Direction = 1
	// DirectionNone marks local events such as state transitions.
	DirectionNone Direction = 2
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	case DirectionNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which component captured the event.
type Layer uint8

const (
	// LayerTransport is raw frame bytes on the socket.
	LayerTransport Layer = 0
	// LayerCodec is decoded property messages.
	LayerCodec Layer = 1
	// LayerSupervisor is connection and availability state.
	LayerSupervisor Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerCodec:
		return "CODEC"
	case LayerSupervisor:
		return "SUPERVISOR"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage is a frame or property message.
	CategoryMessage Category = 0
	// CategoryState is a state transition.
	CategoryState Category = 1
	// CategoryError is an error at any layer.
	CategoryError Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame bytes.
type FrameEvent struct {
	// Size is the frame size in bytes (header included).
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame (may be truncated).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates Data was cut at MaxLogFrameDataSize.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MaxLogFrameDataSize caps the frame bytes copied into a FrameEvent (4 KB).
const MaxLogFrameDataSize = 4096

// NewFrameEvent copies data into a FrameEvent, truncating large frames.
func NewFrameEvent(data []byte) *FrameEvent {
	fe := &FrameEvent{Size: len(data)}
	if len(data) > MaxLogFrameDataSize {
		data = data[:MaxLogFrameDataSize]
		fe.Truncated = true
	}
	fe.Data = append([]byte(nil), data...)
	return fe
}

// MessageEvent captures one decoded property message.
type MessageEvent struct {
	// Key is the property key, e.g. "fan_power".
	Key string `cbor:"1,keyasint"`

	// Value is the decoded value (string or number). Empty string on an
	// outbound message is a query.
	Value any `cbor:"2,keyasint,omitempty"`
}

// StateChangeEvent captures a connection or availability transition.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change, if known.
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what changed state.
type StateEntity uint8

const (
	// StateEntityConnection is the supervisor's connection state.
	StateEntityConnection StateEntity = 0
	// StateEntityAvailability is the state hub's available flag.
	StateEntityAvailability StateEntity = 1
	// StateEntityIdentity is the device address bound to a UDN.
	StateEntityIdentity StateEntity = 2
)

// String returns the entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityAvailability:
		return "AVAILABILITY"
	case StateEntityIdentity:
		return "IDENTITY"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures an error at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error text.
	Message string `cbor:"2,keyasint"`

	// Context describes the operation in progress.
	Context string `cbor:"3,keyasint,omitempty"`
}
