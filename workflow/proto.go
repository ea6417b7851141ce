package workflow

import (
	"context"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// ProtoEventType is the subset of the proto method's archival dialogue
// this engine drives, per 4.J.
type ProtoEventType int

const (
	EventPrepare ProtoEventType = iota
	EventAbortPrepare
	EventCreate
	EventClosew
	EventDelete
	EventArchived
)

// ProtoRequest is the typed request dispatched to the external
// archival endpoint; EncodeRequest wire-encodes it without a generated
// .proto stub, using protowire's low-level varint/bytes writers the way
// a hand-rolled message would before a .proto schema exists upstream.
type ProtoRequest struct {
	Fid       uint64
	Event     ProtoEventType
	DestURL   string
	ErrorURL  string
	Size      int64
	Checksum  string
}

// EncodeRequest renders req as a length-delimited protobuf message:
// field 1 fid (varint), field 2 event (varint), field 3 dest url
// (bytes), field 4 error url (bytes), field 5 size (varint), field 6
// checksum (bytes).
func EncodeRequest(req ProtoRequest) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, req.Fid)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(req.Event))
	if req.DestURL != "" {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(req.DestURL))
	}
	if req.ErrorURL != "" {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(req.ErrorURL))
	}
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(req.Size))
	if req.Checksum != "" {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(req.Checksum))
	}
	return b
}

// ProtoResponse is the decoded reply: field 1 ok (varint bool), field 2
// transient (varint bool), field 3 message (bytes).
type ProtoResponse struct {
	OK        bool
	Transient bool
	Message   string
}

// DecodeResponse parses a ProtoResponse out of the endpoint's reply.
func DecodeResponse(b []byte) (ProtoResponse, error) {
	var resp ProtoResponse
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return resp, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return resp, protowire.ParseError(n)
			}
			resp.OK = v != 0
			b = b[n:]
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return resp, protowire.ParseError(n)
			}
			resp.Transient = v != 0
			b = b[n:]
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return resp, protowire.ParseError(n)
			}
			resp.Message = string(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return resp, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return resp, nil
}

// EncodeResponse is DecodeResponse's inverse, used by transports that
// need to hand back a wire-compatible reply without a real archival
// endpoint behind them.
func EncodeResponse(resp ProtoResponse) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, boolVarint(resp.OK))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, boolVarint(resp.Transient))
	if resp.Message != "" {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, []byte(resp.Message))
	}
	return b
}

func boolVarint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// ProtoTransport dials the external archival endpoint. The real
// transport is an XRootD SSI dialogue (120s request timeout per the
// concurrency model); out of scope for this module's control-plane code
// (same reasoning as namespace.View/lease.KV) — only the interface is
// defined here; internal/devstore provides a stand-in that acknowledges
// every request.
type ProtoTransport interface {
	Send(ctx context.Context, endpoint, resource string, req []byte) (resp []byte, err error)
}

// ProtoRequestTimeout is the 120s external-dialogue timeout from the
// concurrency model (§5).
const ProtoRequestTimeout = 120 * time.Second
