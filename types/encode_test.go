package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func samplePubkey(b byte) PublicKey {
	var pk PublicKey
	for i := range pk {
		pk[i] = b
	}
	return pk
}

func sampleSig(b byte) Signature {
	var s Signature
	for i := range s {
		s[i] = b
	}
	return s
}

func sampleThresholdSig(b byte) ThresholdSignature {
	var s ThresholdSignature
	for i := range s {
		s[i] = b
	}
	return s
}

func TestPayloadRoundTrip(t *testing.T) {
	p := &Payload{
		Transactions: []Transaction{[]byte("abcdefghi"), []byte("123456789")},
		Author:       samplePubkey(7),
		Signature:    sampleSig(9),
	}
	got, err := DecodePayload(EncodePayload(p))
	require.NoError(t, err)
	require.Equal(t, p.Author, got.Author)
	require.Equal(t, p.Signature, got.Signature)
	require.Equal(t, p.Transactions, got.Transactions)
}

func TestBlockRoundTrip_IndividualScheme(t *testing.T) {
	qc := QC{
		BlockDigest: HashDigest([]byte("parent")),
		Round:       3,
		Scheme:      SchemeIndividual,
		Individual: SignerSet{
			Signers:    []PublicKey{samplePubkey(1), samplePubkey(2)},
			Signatures: []Signature{sampleSig(1), sampleSig(2)},
		},
	}
	b := &Block{
		Round:     4,
		QC:        qc,
		Author:    samplePubkey(5),
		Payload:   []Digest{HashDigest([]byte("tx1")), HashDigest([]byte("tx2"))},
		Signature: sampleSig(6),
	}
	got, err := DecodeBlock(EncodeBlock(b))
	require.NoError(t, err)
	require.Equal(t, b.Round, got.Round)
	require.Equal(t, b.QC, got.QC)
	require.Nil(t, got.TC)
	require.Equal(t, b.Author, got.Author)
	require.Equal(t, b.Payload, got.Payload)
	require.Equal(t, b.Signature, got.Signature)
}

func TestBlockRoundTrip_ThresholdSchemeWithTC(t *testing.T) {
	signers := []PublicKey{samplePubkey(11), samplePubkey(12), samplePubkey(13)}
	qc := QC{BlockDigest: HashDigest([]byte("parent")), Round: 10, Scheme: SchemeThreshold, Threshold: sampleThresholdSig(3), ThresholdSigners: signers}
	tc := &TC{
		Round:            11,
		Scheme:           SchemeThreshold,
		Threshold:        sampleThresholdSig(4),
		ThresholdSigners: signers,
		HighQCs:          []QC{qc},
	}
	b := &Block{Round: 12, QC: qc, TC: tc, Author: samplePubkey(8), Signature: sampleSig(2)}
	got, err := DecodeBlock(EncodeBlock(b))
	require.NoError(t, err)
	require.Equal(t, b.QC, got.QC)
	require.NotNil(t, got.TC)
	require.Equal(t, *b.TC, *got.TC)
}

func TestVoteRoundTrip(t *testing.T) {
	v := &Vote{
		BlockDigest:    HashDigest([]byte("block")),
		Round:          42,
		Author:         samplePubkey(3),
		Signature:      sampleSig(4),
		ThresholdShare: []byte{1, 2, 3, 4},
	}
	got, err := DecodeVote(EncodeVote(v))
	require.NoError(t, err)
	require.Equal(t, v, got)
}

func TestTimeoutRoundTrip(t *testing.T) {
	ti := &Timeout{
		Round:          7,
		HighQC:         QC{BlockDigest: HashDigest([]byte("x")), Round: 6, Scheme: SchemeIndividual},
		Author:         samplePubkey(9),
		Signature:      sampleSig(1),
		ThresholdShare: nil,
	}
	got, err := DecodeTimeout(EncodeTimeout(ti))
	require.NoError(t, err)
	require.Equal(t, ti.Round, got.Round)
	require.Equal(t, ti.HighQC, got.HighQC)
	require.Equal(t, ti.Author, got.Author)
	require.Equal(t, ti.Signature, got.Signature)
}

func TestCoinShareRoundTrip(t *testing.T) {
	c := &CoinShare{View: 5, Author: samplePubkey(2), Share: []byte{9, 9, 9}, Signature: sampleSig(1)}
	got, err := DecodeCoinShare(EncodeCoinShare(c))
	require.NoError(t, err)
	require.Equal(t, c, got)
}

func TestDigestIsStableAcrossEncodings(t *testing.T) {
	b := &Block{Round: 1, QC: GenesisQC(), Author: samplePubkey(1), Signature: sampleSig(1)}
	d1 := b.Digest()
	d2 := b.Digest()
	require.Equal(t, d1, d2)

	b2 := &Block{Round: 1, QC: GenesisQC(), Author: samplePubkey(1), Signature: sampleSig(2)}
	require.NotEqual(t, d1, b2.Digest(), "differing signature must change the content digest")
}

func TestSigningDigestExcludesSignature(t *testing.T) {
	b1 := &Block{Round: 1, QC: GenesisQC(), Author: samplePubkey(1), Signature: sampleSig(1)}
	b2 := &Block{Round: 1, QC: GenesisQC(), Author: samplePubkey(1), Signature: sampleSig(2)}
	require.Equal(t, b1.SigningDigest(), b2.SigningDigest())
	require.NotEqual(t, b1.Digest(), b2.Digest())
}

func TestDecodeTruncatedInputsFail(t *testing.T) {
	full := EncodeVote(&Vote{BlockDigest: HashDigest([]byte("d")), Round: 1, Author: samplePubkey(1), Signature: sampleSig(1)})
	_, err := DecodeVote(full[:len(full)-1])
	require.ErrorIs(t, err, ErrTruncated)
}

func TestTransactionIsSample(t *testing.T) {
	require.True(t, Transaction([]byte{0x00, 1, 2}).IsSample())
	require.False(t, Transaction([]byte{0x01, 1, 2}).IsSample())
	require.False(t, Transaction(nil).IsSample())
}

func TestCoinIndexIsDeterministicAndBounded(t *testing.T) {
	c := Coin{View: 1, Value: []byte{1, 2, 3, 4}}
	idx1 := c.Index(7)
	idx2 := c.Index(7)
	require.Equal(t, idx1, idx2)
	require.GreaterOrEqual(t, idx1, 0)
	require.Less(t, idx1, 7)
}
