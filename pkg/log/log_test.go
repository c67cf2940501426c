package log

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestEnumStrings(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{DirectionIn.String(), "IN"},
		{DirectionOut.String(), "OUT"},
		{DirectionNone.String(), "NONE"},
		{Direction(99).String(), "UNKNOWN"},
		{LayerTransport.String(), "TRANSPORT"},
		{LayerCodec.String(), "CODEC"},
		{LayerSupervisor.String(), "SUPERVISOR"},
		{Layer(99).String(), "UNKNOWN"},
		{CategoryMessage.String(), "MESSAGE"},
		{CategoryState.String(), "STATE"},
		{CategoryError.String(), "ERROR"},
		{Category(99).String(), "UNKNOWN"},
		{StateEntityConnection.String(), "CONNECTION"},
		{StateEntityAvailability.String(), "AVAILABILITY"},
		{StateEntityIdentity.String(), "IDENTITY"},
		{StateEntity(99).String(), "UNKNOWN"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestNewFrameEventTruncates(t *testing.T) {
	small := NewFrameEvent([]byte{1, 2, 3})
	if small.Size != 3 || small.Truncated || len(small.Data) != 3 {
		t.Errorf("small frame: %+v", small)
	}

	big := NewFrameEvent(bytes.Repeat([]byte{0xAA}, MaxLogFrameDataSize+10))
	if big.Size != MaxLogFrameDataSize+10 {
		t.Errorf("Size = %d, want %d", big.Size, MaxLogFrameDataSize+10)
	}
	if !big.Truncated || len(big.Data) != MaxLogFrameDataSize {
		t.Errorf("expected truncation to %d bytes, got %d (truncated=%v)", MaxLogFrameDataSize, len(big.Data), big.Truncated)
	}
}

func TestEncodeDecodeMessageEvent(t *testing.T) {
	in := Event{
		Timestamp:    time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC),
		ConnectionID: "conn-1",
		Direction:    DirectionIn,
		Layer:        LayerCodec,
		Category:     CategoryMessage,
		Message:      &MessageEvent{Key: "percentage", Value: int64(40)},
	}

	data, err := EncodeEvent(in)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	out, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	if !out.Timestamp.Equal(in.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", out.Timestamp, in.Timestamp)
	}
	if out.Message == nil || out.Message.Key != "percentage" {
		t.Fatalf("Message = %+v", out.Message)
	}
	if v, ok := out.Message.Value.(int64); !ok || v != 40 {
		t.Errorf("Value = %#v, want int64(40)", out.Message.Value)
	}
}

// recordingLogger records events for testing.
type recordingLogger struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingLogger) Log(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func TestMultiLogger(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{}
	multi := NewMultiLogger(a, nil, b)

	multi.Log(Event{ConnectionID: "c"})

	for i, r := range []*recordingLogger{a, b} {
		if len(r.events) != 1 || r.events[0].ConnectionID != "c" {
			t.Errorf("logger %d: events = %+v", i, r.events)
		}
	}
}

func TestOrNoop(t *testing.T) {
	if _, ok := OrNoop(nil).(NoopLogger); !ok {
		t.Error("OrNoop(nil) should return NoopLogger")
	}
	r := &recordingLogger{}
	if OrNoop(r) != Logger(r) {
		t.Error("OrNoop should return a non-nil logger unchanged")
	}
}

func TestFileLoggerAndReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture", "fan.plog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	base := time.Now()
	events := []Event{
		{Timestamp: base, ConnectionID: "a", Direction: DirectionOut, Layer: LayerCodec, Category: CategoryMessage,
			Message: &MessageEvent{Key: "fan_power", Value: ""}},
		{Timestamp: base.Add(time.Second), ConnectionID: "a", Direction: DirectionIn, Layer: LayerCodec, Category: CategoryMessage,
			Message: &MessageEvent{Key: "fan_power", Value: "ON"}},
		{Timestamp: base.Add(2 * time.Second), Direction: DirectionNone, Layer: LayerSupervisor, Category: CategoryState,
			StateChange: &StateChangeEvent{Entity: StateEntityConnection, OldState: "CONNECTED", NewState: "RECONNECTING"}},
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Logging after close is ignored.
	logger.Log(Event{ConnectionID: "late"})

	t.Run("All", func(t *testing.T) {
		r, err := NewReader(path)
		if err != nil {
			t.Fatalf("NewReader failed: %v", err)
		}
		defer r.Close()

		var n int
		for {
			_, err := r.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("Next failed: %v", err)
			}
			n++
		}
		if n != len(events) {
			t.Errorf("read %d events, want %d", n, len(events))
		}
	})

	t.Run("Filtered", func(t *testing.T) {
		in := DirectionIn
		r, err := NewFilteredReader(path, Filter{Direction: &in, Key: "fan_power"})
		if err != nil {
			t.Fatalf("NewFilteredReader failed: %v", err)
		}
		defer r.Close()

		e, err := r.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if e.Message.Value != "ON" {
			t.Errorf("Value = %v, want ON", e.Message.Value)
		}
		if _, err := r.Next(); err != io.EOF {
			t.Errorf("expected io.EOF, got %v", err)
		}
	})
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewSlogAdapter(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	adapter.Log(Event{
		ConnectionID: "conn-9",
		Direction:    DirectionIn,
		Layer:        LayerCodec,
		Category:     CategoryMessage,
		Message:      &MessageEvent{Key: "volume", Value: int64(12)},
	})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	checks := map[string]string{
		"msg":       "protocol",
		"conn_id":   "conn-9",
		"direction": "IN",
		"layer":     "CODEC",
		"key":       "volume",
		"value":     "12",
	}
	for k, want := range checks {
		if entry[k] != want {
			t.Errorf("%s = %v, want %q", k, entry[k], want)
		}
	}
}
