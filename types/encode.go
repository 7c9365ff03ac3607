package types

import (
	"encoding/binary"
	"errors"
)

// This file implements the canonical, deterministic binary encoding spec §6
// mandates for every consensus type: fixed-width integers little-endian,
// sequences length-prefixed with a little-endian u32. It is hand-rolled
// rather than routed through a general-purpose serialization library
// because the spec fixes the exact byte layout (digest stability across
// runs, spec invariant 6) — a generic codec would need this much
// field-by-field control anyway, and the teacher's own codec.go takes the
// same "plain functions over plain data" approach (spec §9 design notes).

var ErrTruncated = errors.New("types: truncated encoding")

type encoder struct{ buf []byte }

func (e *encoder) u8(v uint8)   { e.buf = append(e.buf, v) }
func (e *encoder) u32(v uint32) { e.buf = binary.LittleEndian.AppendUint32(e.buf, v) }
func (e *encoder) u64(v uint64) { e.buf = binary.LittleEndian.AppendUint64(e.buf, v) }
func (e *encoder) raw(b []byte) { e.buf = append(e.buf, b...) }
func (e *encoder) bytes(b []byte) {
	e.u32(uint32(len(b)))
	e.raw(b)
}

type decoder struct {
	buf []byte
	off int
}

func (d *decoder) remaining() int { return len(d.buf) - d.off }

func (d *decoder) u8() (uint8, error) {
	if d.remaining() < 1 {
		return 0, ErrTruncated
	}
	v := d.buf[d.off]
	d.off++
	return v, nil
}

func (d *decoder) u32() (uint32, error) {
	if d.remaining() < 4 {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

func (d *decoder) u64() (uint64, error) {
	if d.remaining() < 8 {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v, nil
}

func (d *decoder) raw(n int) ([]byte, error) {
	if n < 0 || d.remaining() < n {
		return nil, ErrTruncated
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *decoder) bytes() ([]byte, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// An empty field decodes to nil, the zero value it was encoded from.
		return nil, nil
	}
	return d.raw(int(n))
}

func (e *encoder) digest(d Digest)                 { e.raw(d[:]) }
func (e *encoder) pubkey(pk PublicKey)              { e.raw(pk[:]) }
func (e *encoder) sig(s Signature)                  { e.raw(s[:]) }
func (e *encoder) thresholdSig(s ThresholdSignature) { e.raw(s[:]) }

func (d *decoder) digest() (Digest, error) {
	var out Digest
	b, err := d.raw(DigestSize)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

func (d *decoder) pubkey() (PublicKey, error) {
	var out PublicKey
	b, err := d.raw(PublicKeySize)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

func (d *decoder) sig() (Signature, error) {
	var out Signature
	b, err := d.raw(len(Signature{}))
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

func (d *decoder) thresholdSig() (ThresholdSignature, error) {
	var out ThresholdSignature
	b, err := d.raw(ThresholdSignatureSize)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

// EncodePayload serializes a Payload deterministically.
func EncodePayload(p *Payload) []byte {
	e := &encoder{}
	e.pubkey(p.Author)
	e.sig(p.Signature)
	e.u32(uint32(len(p.Transactions)))
	for _, tx := range p.Transactions {
		e.bytes(tx)
	}
	return e.buf
}

// DecodePayload parses the output of EncodePayload.
func DecodePayload(b []byte) (*Payload, error) {
	d := &decoder{buf: b}
	author, err := d.pubkey()
	if err != nil {
		return nil, err
	}
	sig, err := d.sig()
	if err != nil {
		return nil, err
	}
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	txs := make([]Transaction, 0, n)
	for i := uint32(0); i < n; i++ {
		tx, err := d.bytes()
		if err != nil {
			return nil, err
		}
		txs = append(txs, Transaction(tx))
	}
	return &Payload{Transactions: txs, Author: author, Signature: sig}, nil
}

func encodeSignerSet(e *encoder, s SignerSet) {
	e.u32(uint32(len(s.Signers)))
	for i := range s.Signers {
		e.pubkey(s.Signers[i])
		e.sig(s.Signatures[i])
	}
}

func decodeSignerSet(d *decoder) (SignerSet, error) {
	n, err := d.u32()
	if err != nil {
		return SignerSet{}, err
	}
	if n == 0 {
		return SignerSet{}, nil
	}
	out := SignerSet{Signers: make([]PublicKey, n), Signatures: make([]Signature, n)}
	for i := uint32(0); i < n; i++ {
		pk, err := d.pubkey()
		if err != nil {
			return SignerSet{}, err
		}
		sg, err := d.sig()
		if err != nil {
			return SignerSet{}, err
		}
		out.Signers[i] = pk
		out.Signatures[i] = sg
	}
	return out, nil
}

func encodePublicKeys(e *encoder, pks []PublicKey) {
	e.u32(uint32(len(pks)))
	for _, pk := range pks {
		e.pubkey(pk)
	}
}

func decodePublicKeys(d *decoder) ([]PublicKey, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]PublicKey, n)
	for i := uint32(0); i < n; i++ {
		pk, err := d.pubkey()
		if err != nil {
			return nil, err
		}
		out[i] = pk
	}
	return out, nil
}

func encodeQC(e *encoder, qc QC) {
	e.digest(qc.BlockDigest)
	e.u64(uint64(qc.Round))
	e.u8(uint8(qc.Scheme))
	switch qc.Scheme {
	case SchemeIndividual:
		encodeSignerSet(e, qc.Individual)
	case SchemeThreshold:
		e.thresholdSig(qc.Threshold)
		encodePublicKeys(e, qc.ThresholdSigners)
		e.u8(qc.Phase)
	}
}

func decodeQC(d *decoder) (QC, error) {
	var qc QC
	digest, err := d.digest()
	if err != nil {
		return qc, err
	}
	round, err := d.u64()
	if err != nil {
		return qc, err
	}
	scheme, err := d.u8()
	if err != nil {
		return qc, err
	}
	qc.BlockDigest = digest
	qc.Round = Round(round)
	qc.Scheme = SignatureScheme(scheme)
	switch qc.Scheme {
	case SchemeIndividual:
		set, err := decodeSignerSet(d)
		if err != nil {
			return qc, err
		}
		qc.Individual = set
	case SchemeThreshold:
		sig, err := d.thresholdSig()
		if err != nil {
			return qc, err
		}
		qc.Threshold = sig
		signers, err := decodePublicKeys(d)
		if err != nil {
			return qc, err
		}
		qc.ThresholdSigners = signers
		phase, err := d.u8()
		if err != nil {
			return qc, err
		}
		qc.Phase = phase
	}
	return qc, nil
}

func encodeTC(e *encoder, tc *TC) {
	if tc == nil {
		e.u8(0)
		return
	}
	e.u8(1)
	e.u64(uint64(tc.Round))
	e.u8(uint8(tc.Scheme))
	switch tc.Scheme {
	case SchemeIndividual:
		encodeSignerSet(e, tc.Individual)
	case SchemeThreshold:
		e.thresholdSig(tc.Threshold)
		encodePublicKeys(e, tc.ThresholdSigners)
	}
	e.u32(uint32(len(tc.HighQCs)))
	for _, qc := range tc.HighQCs {
		encodeQC(e, qc)
	}
}

func decodeTC(d *decoder) (*TC, error) {
	present, err := d.u8()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	tc := &TC{}
	round, err := d.u64()
	if err != nil {
		return nil, err
	}
	scheme, err := d.u8()
	if err != nil {
		return nil, err
	}
	tc.Round = Round(round)
	tc.Scheme = SignatureScheme(scheme)
	switch tc.Scheme {
	case SchemeIndividual:
		set, err := decodeSignerSet(d)
		if err != nil {
			return nil, err
		}
		tc.Individual = set
	case SchemeThreshold:
		sig, err := d.thresholdSig()
		if err != nil {
			return nil, err
		}
		tc.Threshold = sig
		signers, err := decodePublicKeys(d)
		if err != nil {
			return nil, err
		}
		tc.ThresholdSigners = signers
	}
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	tc.HighQCs = make([]QC, 0, n)
	for i := uint32(0); i < n; i++ {
		qc, err := decodeQC(d)
		if err != nil {
			return nil, err
		}
		tc.HighQCs = append(tc.HighQCs, qc)
	}
	return tc, nil
}

func encodeBlockBody(b *Block) []byte {
	e := &encoder{}
	e.u64(uint64(b.Round))
	encodeQC(e, b.QC)
	encodeTC(e, b.TC)
	e.pubkey(b.Author)
	e.u32(uint32(len(b.Payload)))
	for _, dg := range b.Payload {
		e.digest(dg)
	}
	return e.buf
}

// EncodeBlock serializes a Block, including its signature.
func EncodeBlock(b *Block) []byte {
	e := &encoder{buf: encodeBlockBody(b)}
	e.sig(b.Signature)
	return e.buf
}

// DecodeBlock parses the output of EncodeBlock.
func DecodeBlock(b []byte) (*Block, error) {
	d := &decoder{buf: b}
	round, err := d.u64()
	if err != nil {
		return nil, err
	}
	qc, err := decodeQC(d)
	if err != nil {
		return nil, err
	}
	tc, err := decodeTC(d)
	if err != nil {
		return nil, err
	}
	author, err := d.pubkey()
	if err != nil {
		return nil, err
	}
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	payload := make([]Digest, 0, n)
	for i := uint32(0); i < n; i++ {
		dg, err := d.digest()
		if err != nil {
			return nil, err
		}
		payload = append(payload, dg)
	}
	sig, err := d.sig()
	if err != nil {
		return nil, err
	}
	return &Block{Round: Round(round), QC: qc, TC: tc, Author: author, Payload: payload, Signature: sig}, nil
}

// EncodeVote / DecodeVote serialize a Vote.
func EncodeVote(v *Vote) []byte {
	e := &encoder{}
	e.digest(v.BlockDigest)
	e.u64(uint64(v.Round))
	e.pubkey(v.Author)
	e.sig(v.Signature)
	e.bytes(v.ThresholdShare)
	return e.buf
}

func DecodeVote(b []byte) (*Vote, error) {
	d := &decoder{buf: b}
	digest, err := d.digest()
	if err != nil {
		return nil, err
	}
	round, err := d.u64()
	if err != nil {
		return nil, err
	}
	author, err := d.pubkey()
	if err != nil {
		return nil, err
	}
	sig, err := d.sig()
	if err != nil {
		return nil, err
	}
	share, err := d.bytes()
	if err != nil {
		return nil, err
	}
	return &Vote{BlockDigest: digest, Round: Round(round), Author: author, Signature: sig, ThresholdShare: share}, nil
}

// EncodeTimeout / DecodeTimeout serialize a Timeout.
func EncodeTimeout(t *Timeout) []byte {
	e := &encoder{}
	e.u64(uint64(t.Round))
	encodeQC(e, t.HighQC)
	e.pubkey(t.Author)
	e.sig(t.Signature)
	e.bytes(t.ThresholdShare)
	return e.buf
}

func DecodeTimeout(b []byte) (*Timeout, error) {
	d := &decoder{buf: b}
	round, err := d.u64()
	if err != nil {
		return nil, err
	}
	qc, err := decodeQC(d)
	if err != nil {
		return nil, err
	}
	author, err := d.pubkey()
	if err != nil {
		return nil, err
	}
	sig, err := d.sig()
	if err != nil {
		return nil, err
	}
	share, err := d.bytes()
	if err != nil {
		return nil, err
	}
	return &Timeout{Round: Round(round), HighQC: qc, Author: author, Signature: sig, ThresholdShare: share}, nil
}

// EncodeTC / DecodeTC expose the TC codec for messages that carry a TC
// directly (rather than nested inside a Block).
func EncodeTC(tc *TC) []byte {
	e := &encoder{}
	encodeTC(e, tc)
	return e.buf
}

func DecodeTC(b []byte) (*TC, error) {
	d := &decoder{buf: b}
	return decodeTC(d)
}

// EncodeCoinShare / DecodeCoinShare serialize a CoinShare.
func EncodeCoinShare(c *CoinShare) []byte {
	e := &encoder{}
	e.u64(uint64(c.View))
	e.pubkey(c.Author)
	e.bytes(c.Share)
	e.sig(c.Signature)
	return e.buf
}

func DecodeCoinShare(b []byte) (*CoinShare, error) {
	d := &decoder{buf: b}
	view, err := d.u64()
	if err != nil {
		return nil, err
	}
	author, err := d.pubkey()
	if err != nil {
		return nil, err
	}
	share, err := d.bytes()
	if err != nil {
		return nil, err
	}
	sig, err := d.sig()
	if err != nil {
		return nil, err
	}
	return &CoinShare{View: Round(view), Author: author, Share: share, Signature: sig}, nil
}
