package workflow

import (
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func encodeTestResponse(ok, transient bool, msg string) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, boolToVarint(ok))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, boolToVarint(transient))
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(msg))
	return b
}

func boolToVarint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func TestEncodeRequestProducesNonEmptyWire(t *testing.T) {
	req := ProtoRequest{Fid: 0x1a2b, Event: EventCreate, DestURL: "root://mgm//proc/retrieve", ErrorURL: "root://mgm//proc/error", Size: 4096, Checksum: "abc123"}
	wire := EncodeRequest(req)
	if len(wire) == 0 {
		t.Fatalf("expected non-empty encoding")
	}
}

func TestEncodeRequestOmitsEmptyOptionalFields(t *testing.T) {
	withURLs := EncodeRequest(ProtoRequest{Fid: 1, Event: EventPrepare, DestURL: "root://mgm//x", Size: 10})
	withoutURLs := EncodeRequest(ProtoRequest{Fid: 1, Event: EventPrepare, Size: 10})
	if len(withoutURLs) >= len(withURLs) {
		t.Fatalf("expected omitting dest url to shrink the wire encoding")
	}
}

// TestDecodeResponseRoundTrip builds a response message the same way a real
// endpoint reply would be shaped, then checks DecodeResponse reads it back.
func TestDecodeResponseRoundTrip(t *testing.T) {
	// Encode a response using the same field layout DecodeResponse expects
	// (field 1 ok, field 2 transient, field 3 message), via the test-only
	// encoder encodeTestResponse.
	encoded := encodeTestResponse(true, false, "archived")
	got, err := DecodeResponse(encoded)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if !got.OK || got.Transient || got.Message != "archived" {
		t.Fatalf("got %+v", got)
	}
}

func TestDecodeResponseTransientFailure(t *testing.T) {
	encoded := encodeTestResponse(false, true, "endpoint busy")
	got, err := DecodeResponse(encoded)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if got.OK || !got.Transient || got.Message != "endpoint busy" {
		t.Fatalf("got %+v", got)
	}
}

func TestDecodeResponseEmptyWireIsZeroValue(t *testing.T) {
	got, err := DecodeResponse(nil)
	if err != nil {
		t.Fatalf("DecodeResponse(nil): %v", err)
	}
	if got.OK || got.Transient || got.Message != "" {
		t.Fatalf("expected zero-value response, got %+v", got)
	}
}
