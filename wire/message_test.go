package wire

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vanguardbft/consensus/types"
)

func samplePubkey(b byte) types.PublicKey {
	var pk types.PublicKey
	for i := range pk {
		pk[i] = b
	}
	return pk
}

func sampleSig(b byte) types.Signature {
	var s types.Signature
	for i := range s {
		s[i] = b
	}
	return s
}

func sampleBlock() *types.Block {
	return &types.Block{
		Round:     4,
		QC:        types.GenesisQC(),
		Author:    samplePubkey(1),
		Payload:   []types.Digest{types.HashDigest([]byte("tx"))},
		Signature: sampleSig(2),
	}
}

// roundTrip exercises both layers the spec calls out separately (§6): the
// tagged-union Message codec, and the length-delimited frame around it.
func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	encoded, err := Encode(m)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, encoded))
	framed, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, encoded, framed)

	got, err := Decode(framed)
	require.NoError(t, err)
	require.Equal(t, m.Kind, got.Kind)
	return got
}

func TestProposeRoundTrip(t *testing.T) {
	b := sampleBlock()
	got := roundTrip(t, Propose(b))
	require.Equal(t, b, got.Propose)
}

func TestVoteRoundTrip(t *testing.T) {
	v := &types.Vote{BlockDigest: types.HashDigest([]byte("b")), Round: 7, Author: samplePubkey(3), Signature: sampleSig(4)}
	got := roundTrip(t, VoteMsg(v))
	require.Equal(t, v, got.Vote)
}

func TestTimeoutRoundTrip(t *testing.T) {
	to := &types.Timeout{Round: 2, HighQC: types.GenesisQC(), Author: samplePubkey(5), Signature: sampleSig(6)}
	got := roundTrip(t, TimeoutMsg(to))
	require.Equal(t, to.Round, got.Timeout.Round)
	require.Equal(t, to.Author, got.Timeout.Author)
}

func TestTCRoundTrip(t *testing.T) {
	tc := &types.TC{
		Round:  9,
		Scheme: types.SchemeIndividual,
		Individual: types.SignerSet{
			Signers:    []types.PublicKey{samplePubkey(1)},
			Signatures: []types.Signature{sampleSig(1)},
		},
		HighQCs: []types.QC{types.GenesisQC()},
	}
	got := roundTrip(t, TCMsg(tc))
	require.Equal(t, tc, got.TC)
}

func TestSyncRequestRoundTrip(t *testing.T) {
	digest := types.HashDigest([]byte("ancestor"))
	sender := samplePubkey(9)
	got := roundTrip(t, SyncRequestMsg(digest, sender))
	require.Equal(t, digest, got.SyncRequest.Digest)
	require.Equal(t, sender, got.SyncRequest.Sender)
}

func TestSyncReplyRoundTrip(t *testing.T) {
	b := sampleBlock()
	got := roundTrip(t, SyncReplyMsg(b))
	require.Equal(t, b, got.SyncReply)
}

func TestPayloadRoundTrip(t *testing.T) {
	p := &types.Payload{Transactions: []types.Transaction{[]byte("abc")}, Author: samplePubkey(2), Signature: sampleSig(3)}
	got := roundTrip(t, PayloadMsg(p))
	require.Equal(t, p, got.Payload)
}

func TestPayloadRequestRoundTrip(t *testing.T) {
	digest := types.HashDigest([]byte("payload"))
	sender := samplePubkey(4)
	got := roundTrip(t, PayloadRequestMsg(digest, sender))
	require.Equal(t, digest, got.PayloadRequest.Digest)
	require.Equal(t, sender, got.PayloadRequest.Sender)
}

func TestCoinRoundTrip(t *testing.T) {
	c := &types.CoinShare{View: 3, Author: samplePubkey(6), Share: []byte{1, 2, 3}, Signature: sampleSig(7)}
	got := roundTrip(t, CoinMsg(c))
	require.Equal(t, c, got.Coin)
}

func TestDecodeRejectsEmptyFrame(t *testing.T) {
	_, err := Decode(nil)
	require.Error(t, err)
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	_, err := Decode([]byte{0xFF})
	require.Error(t, err)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, nil))
	// Overwrite the length prefix with a value beyond MaxFrameSize.
	oversized := buf.Bytes()
	oversized[0] = 0xFF
	oversized[1] = 0xFF
	oversized[2] = 0xFF
	oversized[3] = 0xFF
	_, err := ReadFrame(bytes.NewReader(oversized))
	require.Error(t, err)
}

func TestReadFrameFailsOnTruncatedPayload(t *testing.T) {
	encoded, err := Encode(VoteMsg(&types.Vote{BlockDigest: types.HashDigest([]byte("x")), Round: 1, Author: samplePubkey(1), Signature: sampleSig(1)}))
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, encoded))
	truncated := buf.Bytes()[:buf.Len()-1]
	_, err = ReadFrame(bytes.NewReader(truncated))
	require.Error(t, err)
}

func TestConnSendRecvRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	cc := NewConn(client)
	sc := NewConn(server)

	v := &types.Vote{BlockDigest: types.HashDigest([]byte("pipe")), Round: 1, Author: samplePubkey(8), Signature: sampleSig(9)}
	errCh := make(chan error, 1)
	go func() { errCh <- cc.Send(VoteMsg(v)) }()

	got, err := sc.Recv()
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	require.Equal(t, v, got.Vote)
}
