package types

// Round is a monotonic view/round index (spec §3 "View / Round").
type Round uint64

// SignatureScheme distinguishes how a QC/TC aggregates its votes: HotStuff
// aggregates n individual Ed25519 signatures, while HSAF and VABA combine
// 2f+1 BLS threshold shares into a single signature (spec §4.1, §3 QC).
type SignatureScheme uint8

const (
	// SchemeIndividual: QC/TC carries one Signature per signer.
	SchemeIndividual SignatureScheme = iota
	// SchemeThreshold: QC/TC carries a single combined threshold signature.
	SchemeThreshold
)

// SignerSet records which committee member produced a given contribution,
// used by SchemeIndividual certificates.
type SignerSet struct {
	Signers    []PublicKey
	Signatures []Signature
}

// QC is a Quorum Certificate: proof that 2f+1 replicas voted for the block
// identified by BlockDigest at Round (spec §3, GLOSSARY).
type QC struct {
	BlockDigest Digest
	Round       Round
	Scheme      SignatureScheme
	Individual  SignerSet          // populated iff Scheme == SchemeIndividual
	Threshold   ThresholdSignature // BLS aggregate, populated iff Scheme == SchemeThreshold
	// ThresholdSigners records the reporting quorum a SchemeThreshold
	// certificate was built from, so any verifier can reconstruct the same
	// BLS aggregate public key the combiner used rather than guessing at
	// the full committee (the scheme here is a multisignature over the
	// reporting quorum, not a DKG-based (t,n) threshold scheme with a
	// single fixed group key — see DESIGN.md).
	ThresholdSigners []PublicKey
	// Phase disambiguates which logical voting round a SchemeThreshold
	// certificate was formed from when more than one phase can produce a
	// QC over the same (BlockDigest, Round) pair (HSAF's two-round
	// fallback, spec §4.7: phase 1 votes the original proposal, phase 2
	// votes fallback_qc_1). Unused (zero) outside HSAF's fallback track.
	Phase uint8
}

// ParentRound is the round of the block this QC certifies; callers compare
// it against their own round bookkeeping when applying the safety rule.
func (qc *QC) ParentRound() Round { return qc.Round }

// GenesisQC is the QC every replica's high_qc starts at before any block
// has been certified.
func GenesisQC() QC {
	return QC{BlockDigest: Digest{}, Round: 0}
}

// TC is a Timeout Certificate: proof that 2f+1 replicas gave up on a round
// (spec §3, GLOSSARY). It carries the highest QC reported by each signer so
// the next leader can safely extend the most-certified branch.
type TC struct {
	Round      Round
	Scheme     SignatureScheme
	Individual SignerSet
	Threshold  ThresholdSignature
	// ThresholdSigners mirrors QC.ThresholdSigners for SchemeThreshold TCs.
	ThresholdSigners []PublicKey
	// HighQCs holds, for SchemeIndividual TCs, the highest QC each signer
	// reported; for SchemeThreshold TCs the combiner retains only the
	// single highest one, since the threshold signature itself no longer
	// lets a verifier recover who contributed what.
	HighQCs []QC
}

// HighestQC returns the highest-round QC carried by the TC, the branch a
// new leader must extend (spec §4.6 "On local Timeout").
func (tc *TC) HighestQC() QC {
	best := GenesisQC()
	for _, qc := range tc.HighQCs {
		if qc.Round >= best.Round {
			best = qc
		}
	}
	return best
}

// Block is a proposed unit of the ordered chain (spec §3).
//
// Invariants: Round > QC.Round; every digest in Payload must be locally
// available in the store before the replica votes on this block.
type Block struct {
	Round     Round
	QC        QC
	TC        *TC // HotStuff only; nil unless this block follows a timeout
	Author    PublicKey
	Payload   []Digest
	Signature Signature
}

// SigningDigest is the digest covering every field except Signature (spec
// §3: "Digest covers all fields except signature").
func (b *Block) SigningDigest() Digest {
	return HashDigest(encodeBlockBody(b))
}

// Digest is the content address the block is persisted and referenced
// under; it is the hash of the full canonical encoding including the
// signature, so two otherwise-identical blocks signed by different
// (Byzantine) leaders never collide.
func (b *Block) Digest() Digest {
	return HashDigest(EncodeBlock(b))
}

func (b *Block) ParentDigest() Digest { return b.QC.BlockDigest }
