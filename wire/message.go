// Package wire implements the frame-level authenticated message transport
// between replicas (spec §4's "Network sender/receiver" and spec §6
// "Wire format"): a tagged-union Message type, its canonical binary
// encoding, and big-endian-u32-length-delimited TCP framing.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/vanguardbft/consensus/types"
)

// Kind tags which variant of the tagged-union Message a frame carries.
type Kind uint8

const (
	KindPropose Kind = iota
	KindVote
	KindTimeout
	KindTC
	KindSyncRequest
	KindSyncReply
	KindPayload
	KindPayloadRequest
	KindCoin
)

// Message is the tagged union carried over the wire (spec §6). Exactly
// one of the typed fields is populated, selected by Kind.
type Message struct {
	Kind Kind

	Propose *types.Block
	Vote    *types.Vote
	Timeout *types.Timeout
	TC      *types.TC

	SyncRequest *SyncRequest
	SyncReply   *types.Block

	Payload        *types.Payload
	PayloadRequest *PayloadRequest

	Coin *types.CoinShare
}

// SyncRequest asks the recipient for the block identified by Digest, on
// behalf of Sender (spec §4.5: "issue a BlockRequest for the parent").
type SyncRequest struct {
	Digest types.Digest
	Sender types.PublicKey
}

// PayloadRequest asks the recipient for the payload identified by Digest,
// on behalf of Sender (spec §4.4 "Peer PayloadRequest(digest, requester)").
type PayloadRequest struct {
	Digest types.Digest
	Sender types.PublicKey
}

func Propose(b *types.Block) Message                { return Message{Kind: KindPropose, Propose: b} }
func VoteMsg(v *types.Vote) Message                 { return Message{Kind: KindVote, Vote: v} }
func TimeoutMsg(t *types.Timeout) Message            { return Message{Kind: KindTimeout, Timeout: t} }
func TCMsg(tc *types.TC) Message                     { return Message{Kind: KindTC, TC: tc} }
func SyncRequestMsg(d types.Digest, from types.PublicKey) Message {
	return Message{Kind: KindSyncRequest, SyncRequest: &SyncRequest{Digest: d, Sender: from}}
}
func SyncReplyMsg(b *types.Block) Message { return Message{Kind: KindSyncReply, SyncReply: b} }
func PayloadMsg(p *types.Payload) Message { return Message{Kind: KindPayload, Payload: p} }
func PayloadRequestMsg(d types.Digest, from types.PublicKey) Message {
	return Message{Kind: KindPayloadRequest, PayloadRequest: &PayloadRequest{Digest: d, Sender: from}}
}
func CoinMsg(c *types.CoinShare) Message { return Message{Kind: KindCoin, Coin: c} }

// Encode serializes m using the same canonical little-endian, u32-length-
// prefixed conventions as the types package codec (spec §6).
func Encode(m Message) ([]byte, error) {
	buf := []byte{byte(m.Kind)}
	switch m.Kind {
	case KindPropose:
		buf = append(buf, types.EncodeBlock(m.Propose)...)
	case KindVote:
		buf = append(buf, types.EncodeVote(m.Vote)...)
	case KindTimeout:
		buf = append(buf, types.EncodeTimeout(m.Timeout)...)
	case KindTC:
		buf = append(buf, types.EncodeTC(m.TC)...)
	case KindSyncRequest:
		buf = append(buf, m.SyncRequest.Digest[:]...)
		buf = append(buf, m.SyncRequest.Sender[:]...)
	case KindSyncReply:
		buf = append(buf, types.EncodeBlock(m.SyncReply)...)
	case KindPayload:
		buf = append(buf, types.EncodePayload(m.Payload)...)
	case KindPayloadRequest:
		buf = append(buf, m.PayloadRequest.Digest[:]...)
		buf = append(buf, m.PayloadRequest.Sender[:]...)
	case KindCoin:
		buf = append(buf, types.EncodeCoinShare(m.Coin)...)
	default:
		return nil, fmt.Errorf("wire: unknown message kind %d", m.Kind)
	}
	return buf, nil
}

// Decode parses the output of Encode.
func Decode(b []byte) (Message, error) {
	if len(b) < 1 {
		return Message{}, fmt.Errorf("wire: empty frame")
	}
	kind := Kind(b[0])
	body := b[1:]
	switch kind {
	case KindPropose:
		blk, err := types.DecodeBlock(body)
		if err != nil {
			return Message{}, err
		}
		return Message{Kind: kind, Propose: blk}, nil
	case KindVote:
		v, err := types.DecodeVote(body)
		if err != nil {
			return Message{}, err
		}
		return Message{Kind: kind, Vote: v}, nil
	case KindTimeout:
		t, err := types.DecodeTimeout(body)
		if err != nil {
			return Message{}, err
		}
		return Message{Kind: kind, Timeout: t}, nil
	case KindTC:
		tc, err := types.DecodeTC(body)
		if err != nil {
			return Message{}, err
		}
		return Message{Kind: kind, TC: tc}, nil
	case KindSyncRequest:
		req, err := decodeDigestSender(body)
		if err != nil {
			return Message{}, err
		}
		return Message{Kind: kind, SyncRequest: (*SyncRequest)(req)}, nil
	case KindSyncReply:
		blk, err := types.DecodeBlock(body)
		if err != nil {
			return Message{}, err
		}
		return Message{Kind: kind, SyncReply: blk}, nil
	case KindPayload:
		p, err := types.DecodePayload(body)
		if err != nil {
			return Message{}, err
		}
		return Message{Kind: kind, Payload: p}, nil
	case KindPayloadRequest:
		req, err := decodeDigestSender(body)
		if err != nil {
			return Message{}, err
		}
		return Message{Kind: kind, PayloadRequest: (*PayloadRequest)(req)}, nil
	case KindCoin:
		c, err := types.DecodeCoinShare(body)
		if err != nil {
			return Message{}, err
		}
		return Message{Kind: kind, Coin: c}, nil
	default:
		return Message{}, fmt.Errorf("wire: unknown message kind %d", kind)
	}
}

type digestSender struct {
	Digest types.Digest
	Sender types.PublicKey
}

func decodeDigestSender(b []byte) (*digestSender, error) {
	if len(b) < types.DigestSize+types.PublicKeySize {
		return nil, fmt.Errorf("wire: truncated digest+sender frame")
	}
	var out digestSender
	copy(out.Digest[:], b[:types.DigestSize])
	copy(out.Sender[:], b[types.DigestSize:types.DigestSize+types.PublicKeySize])
	return &out, nil
}

// frameLenSize is the width of the big-endian frame length prefix (spec
// §6: "Length-delimited frames (big-endian u32 length prefix)").
const frameLenSize = 4

// MaxFrameSize bounds incoming frames so a corrupt or hostile peer cannot
// force unbounded buffering.
const MaxFrameSize = 64 << 20

func appendFrame(dst, payload []byte) []byte {
	var lenBuf [frameLenSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, payload...)
}
