// Package common holds the vote/timeout aggregation and signer-set logic
// shared by all three protocol cores (spec §4.6-§4.9): collecting
// individual signatures or threshold shares until a quorum is reached,
// then forming a QC or TC. Each protocol core owns one Aggregator per
// (digest, round) it is currently collecting for; state lives entirely
// inside the core's single-threaded event loop, so no locking is needed
// here (spec §4.6: "All state transitions are serialized through the
// single inbox").
package common

import (
	"fmt"

	"github.com/vanguardbft/consensus/bftcrypto"
	"github.com/vanguardbft/consensus/committee"
	"github.com/vanguardbft/consensus/types"
	"github.com/vanguardbft/consensus/utils/set"
)

// VoteAggregator collects votes for one (block digest, round) pair until
// a quorum (2f+1) is reached, then yields a QC (spec §4.6: "On Vote(v):
// aggregator per (block-digest, round). On reaching 2f+1, form QC").
type VoteAggregator struct {
	comm   *committee.Committee
	digest types.Digest
	round  types.Round
	scheme types.SignatureScheme
	phase  uint8

	seen    set.Set[types.PublicKey]
	signers []types.PublicKey
	sigs    []types.Signature
	shares  [][]byte

	done bool
}

// NewVoteAggregator builds an aggregator for one (digest, round) pair.
// phase distinguishes which logical voting round a SchemeThreshold
// certificate is being formed from (see types.QC.Phase); it is ignored for
// SchemeIndividual and callers outside HSAF's fallback track pass 0.
func NewVoteAggregator(comm *committee.Committee, digest types.Digest, round types.Round, scheme types.SignatureScheme, phase uint8) *VoteAggregator {
	return &VoteAggregator{
		comm:   comm,
		digest: digest,
		round:  round,
		scheme: scheme,
		phase:  phase,
		seen:   set.NewSet[types.PublicKey](comm.Quorum()),
	}
}

// Add folds in v. Returns the formed QC once a quorum is reached; returns
// ok=false until then. Subsequent calls after the quorum is reached are
// no-ops (an honest leader only needs the first QC; duplicates may arrive
// from retransmission).
func (a *VoteAggregator) Add(v *types.Vote) (qc types.QC, ok bool, err error) {
	if a.done {
		return types.QC{}, false, nil
	}
	if v.BlockDigest != a.digest || v.Round != a.round {
		return types.QC{}, false, fmt.Errorf("common: vote for wrong (digest, round)")
	}
	if a.seen.Contains(v.Author) {
		return types.QC{}, false, nil
	}
	if !bftcrypto.Verify(v.Author, signedDigest(v), v.Signature) {
		return types.QC{}, false, fmt.Errorf("common: vote signature does not verify")
	}
	a.seen.Add(v.Author)
	a.signers = append(a.signers, v.Author)
	a.sigs = append(a.sigs, v.Signature)
	if a.scheme == types.SchemeThreshold {
		a.shares = append(a.shares, v.ThresholdShare)
	}

	if len(a.signers) < a.comm.Quorum() {
		return types.QC{}, false, nil
	}
	qc, err = a.form()
	if err != nil {
		return types.QC{}, false, err
	}
	a.done = true
	return qc, true, nil
}

func (a *VoteAggregator) form() (types.QC, error) {
	qc := types.QC{BlockDigest: a.digest, Round: a.round, Scheme: a.scheme}
	switch a.scheme {
	case types.SchemeIndividual:
		qc.Individual = types.SignerSet{Signers: a.signers, Signatures: a.sigs}
	case types.SchemeThreshold:
		combined, err := bftcrypto.ThresholdCombine(a.shares)
		if err != nil {
			return types.QC{}, err
		}
		qc.Threshold = combined
		qc.ThresholdSigners = append([]types.PublicKey(nil), a.signers...)
		qc.Phase = a.phase
	}
	return qc, nil
}

// ThresholdVoteDigest is the single message every threshold share signing a
// vote for (blockDigest, round, phase) must sign, and the message VerifyQC
// checks the combined signature against. Unlike VoteSigningDigest, it must
// not vary per-author: bftcrypto's BLS combine/verify (oracle.go) is a
// single-message multisignature, not a per-signer scheme, so embedding an
// author here would make the aggregate unverifiable. phase distinguishes
// HSAF's two fallback rounds, which otherwise vote on the same
// (blockDigest, round) pair (spec §4.7).
func ThresholdVoteDigest(blockDigest types.Digest, round types.Round, phase uint8) types.Digest {
	buf := types.EncodeVote(&types.Vote{BlockDigest: blockDigest, Round: round})
	buf = append(buf, phase)
	return types.HashDigest(buf)
}

// VoteSigningDigest is the digest a Vote's Signature covers: the block
// digest, round, and author, so a vote cannot be replayed against a
// different round or credited to the wrong author. Both vote creation and
// verification must use this same helper.
func VoteSigningDigest(blockDigest types.Digest, round types.Round, author types.PublicKey) types.Digest {
	return types.HashDigest(types.EncodeVote(&types.Vote{BlockDigest: blockDigest, Round: round, Author: author}))
}

func signedDigest(v *types.Vote) types.Digest {
	return VoteSigningDigest(v.BlockDigest, v.Round, v.Author)
}

// TimeoutAggregator collects Timeout messages for one round until a
// quorum is reached, then yields a TC (spec §4.6: "On local Timeout: ...
// Aggregator forms TC at 2f+1").
type TimeoutAggregator struct {
	comm   *committee.Committee
	round  types.Round
	scheme types.SignatureScheme

	seen    set.Set[types.PublicKey]
	signers []types.PublicKey
	sigs    []types.Signature
	shares  [][]byte
	highQCs []types.QC

	done bool
}

func NewTimeoutAggregator(comm *committee.Committee, round types.Round, scheme types.SignatureScheme) *TimeoutAggregator {
	return &TimeoutAggregator{
		comm:   comm,
		round:  round,
		scheme: scheme,
		seen:   set.NewSet[types.PublicKey](comm.Quorum()),
	}
}

func (a *TimeoutAggregator) Add(t *types.Timeout) (tc *types.TC, ok bool, err error) {
	if a.done {
		return nil, false, nil
	}
	if t.Round != a.round {
		return nil, false, fmt.Errorf("common: timeout for wrong round")
	}
	if a.seen.Contains(t.Author) {
		return nil, false, nil
	}
	if !bftcrypto.Verify(t.Author, timeoutSignedDigest(t), t.Signature) {
		return nil, false, fmt.Errorf("common: timeout signature does not verify")
	}
	a.seen.Add(t.Author)
	a.signers = append(a.signers, t.Author)
	a.sigs = append(a.sigs, t.Signature)
	a.highQCs = append(a.highQCs, t.HighQC)
	if a.scheme == types.SchemeThreshold {
		a.shares = append(a.shares, t.ThresholdShare)
	}

	if len(a.signers) < a.comm.Quorum() {
		return nil, false, nil
	}
	tc, err = a.form()
	if err != nil {
		return nil, false, err
	}
	a.done = true
	return tc, true, nil
}

func (a *TimeoutAggregator) form() (*types.TC, error) {
	tc := &types.TC{Round: a.round, Scheme: a.scheme, HighQCs: a.highQCs}
	switch a.scheme {
	case types.SchemeIndividual:
		tc.Individual = types.SignerSet{Signers: a.signers, Signatures: a.sigs}
	case types.SchemeThreshold:
		combined, err := bftcrypto.ThresholdCombine(a.shares)
		if err != nil {
			return nil, err
		}
		tc.Threshold = combined
		tc.ThresholdSigners = append([]types.PublicKey(nil), a.signers...)
		best := tc.HighestQC()
		tc.HighQCs = []types.QC{best}
	}
	return tc, nil
}

// TimeoutSigningDigest is the digest a Timeout's Signature covers. Both
// timeout creation and verification must use this same helper.
func TimeoutSigningDigest(round types.Round, highQC types.QC, author types.PublicKey) types.Digest {
	return types.HashDigest(types.EncodeTimeout(&types.Timeout{Round: round, HighQC: highQC, Author: author}))
}

func timeoutSignedDigest(t *types.Timeout) types.Digest {
	return TimeoutSigningDigest(t.Round, t.HighQC, t.Author)
}

// VerifyQC checks a QC's embedded signatures/threshold signature against
// comm, used whenever a QC arrives embedded in a Block or TC from the
// network rather than being locally formed.
func VerifyQC(comm *committee.Committee, qc types.QC) bool {
	if qc.Round == 0 && qc.BlockDigest == (types.Digest{}) {
		// The genesis QC (types.GenesisQC()) certifies nothing: every
		// replica starts with it as high_qc before any block exists, so
		// every round-0 proposal carries it verbatim. It has no signers
		// to check.
		return true
	}
	switch qc.Scheme {
	case types.SchemeIndividual:
		if len(qc.Individual.Signers) < comm.Quorum() {
			return false
		}
		for i, pk := range qc.Individual.Signers {
			if _, ok := comm.IndexOf(pk); !ok {
				return false
			}
			digest := VoteSigningDigest(qc.BlockDigest, qc.Round, pk)
			if !bftcrypto.Verify(pk, digest, qc.Individual.Signatures[i]) {
				return false
			}
		}
		return true
	case types.SchemeThreshold:
		pks, ok := comm.ThresholdPublicKeysFor(qc.ThresholdSigners)
		if !ok {
			return false
		}
		digest := ThresholdVoteDigest(qc.BlockDigest, qc.Round, qc.Phase)
		return bftcrypto.ThresholdVerify(pks, digest, qc.Threshold)
	default:
		return false
	}
}

// VerifyTC checks a TC's embedded signatures/threshold signature against
// comm, used whenever a TC arrives embedded in a Block (HotStuff's
// optimistic track, spec §4.6) rather than being locally formed. A
// replica must never act on high_qc/preferred_round information taken
// from an unverified TC — that would let a single Byzantine leader forge
// a TC to bypass the safety rule.
func VerifyTC(comm *committee.Committee, tc *types.TC) bool {
	if tc == nil {
		return false
	}
	switch tc.Scheme {
	case types.SchemeIndividual:
		if len(tc.Individual.Signers) < comm.Quorum() || len(tc.Individual.Signers) != len(tc.HighQCs) {
			return false
		}
		for i, pk := range tc.Individual.Signers {
			if _, ok := comm.IndexOf(pk); !ok {
				return false
			}
			digest := TimeoutSigningDigest(tc.Round, tc.HighQCs[i], pk)
			if !bftcrypto.Verify(pk, digest, tc.Individual.Signatures[i]) {
				return false
			}
		}
		return true
	case types.SchemeThreshold:
		pks, ok := comm.ThresholdPublicKeysFor(tc.ThresholdSigners)
		if !ok {
			return false
		}
		digest := types.HashDigest(types.EncodeTimeout(&types.Timeout{Round: tc.Round}))
		return bftcrypto.ThresholdVerify(pks, digest, tc.Threshold)
	default:
		return false
	}
}
