// Package protocol implements the framed message codec of spec.md §4.2
// (C2): a fixed header followed by length payload bytes. All multi-byte
// header fields are big-endian; length == 0 marks an EOF frame in the
// stated direction.
package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/clustercore/batchcore/pool"
)

// MsgType is the header's type field.
type MsgType uint16

const (
	MsgStdin    MsgType = 1
	MsgStdout   MsgType = 2
	MsgStderr   MsgType = 3
	MsgAllStdin MsgType = 4
)

// HeaderSize is the on-wire header size: type(2) + gtaskid(2) + ltaskid(2) + length(4).
const HeaderSize = pool.HeaderSize

// Header is the bit-exact on-wire frame header of spec.md §4.2.
type Header struct {
	Type    MsgType
	GTaskID uint16
	LTaskID uint16
	Length  uint32
}

// EOF reports whether this header marks an EOF frame (length == 0).
func (h Header) EOF() bool { return h.Length == 0 }

// EncodeHeader writes h, big-endian, into dst[:HeaderSize].
func EncodeHeader(dst []byte, h Header) {
	binary.BigEndian.PutUint16(dst[0:2], uint16(h.Type))
	binary.BigEndian.PutUint16(dst[2:4], h.GTaskID)
	binary.BigEndian.PutUint16(dst[4:6], h.LTaskID)
	binary.BigEndian.PutUint32(dst[6:10], h.Length)
}

// DecodeHeader parses src[:HeaderSize] into a Header.
func DecodeHeader(src []byte) Header {
	return Header{
		Type:    MsgType(binary.BigEndian.Uint16(src[0:2])),
		GTaskID: binary.BigEndian.Uint16(src[2:4]),
		LTaskID: binary.BigEndian.Uint16(src[4:6]),
		Length:  binary.BigEndian.Uint32(src[6:10]),
	}
}

// PackFrame writes a Header followed by payload into buf's storage and
// sets buf's logical length to HeaderSize+len(payload). It returns an
// error, leaving buf unchanged, when payload does not fit buf's storage
// (HeaderSize plus the pool's MaxPayload); a received length in excess of
// MaxPayload is a protocol violation handled on the receive side.
func PackFrame(buf *pool.IoBuf, typ MsgType, gtaskid, ltaskid uint16, payload []byte) error {
	storage := buf.Storage()
	if len(storage) < HeaderSize+len(payload) {
		return fmt.Errorf("protocol: payload %d exceeds buffer capacity %d", len(payload), len(storage)-HeaderSize)
	}
	EncodeHeader(storage, Header{Type: typ, GTaskID: gtaskid, LTaskID: ltaskid, Length: uint32(len(payload))})
	copy(storage[HeaderSize:], payload)
	buf.SetLength(HeaderSize + len(payload))
	return nil
}

// Payload returns the payload slice of a packed buffer.
func Payload(buf *pool.IoBuf) []byte {
	b := buf.Bytes()
	if len(b) < HeaderSize {
		return nil
	}
	return b[HeaderSize:]
}

// DecodedHeader returns the header of a packed buffer.
func DecodedHeader(buf *pool.IoBuf) Header {
	return DecodeHeader(buf.Bytes())
}

// InitMessage is the server-to-client handshake sent first on a new
// connection (spec.md §6): cred_sig || nodeid || stdout_objs || stderr_objs.
type InitMessage struct {
	CredSig    [CredSigLen]byte
	NodeID     uint32
	StdoutObjs uint32
	StderrObjs uint32
}

// CredSigLen is the fixed length of the opaque credential signature.
const CredSigLen = 20

// EncodeInitMessage serializes m, big-endian, into a freshly allocated slice.
func EncodeInitMessage(m InitMessage) []byte {
	out := make([]byte, CredSigLen+4+4+4)
	copy(out, m.CredSig[:])
	binary.BigEndian.PutUint32(out[CredSigLen:], m.NodeID)
	binary.BigEndian.PutUint32(out[CredSigLen+4:], m.StdoutObjs)
	binary.BigEndian.PutUint32(out[CredSigLen+8:], m.StderrObjs)
	return out
}
