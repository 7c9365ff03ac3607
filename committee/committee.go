// Package committee holds the fixed validator set for an epoch and the
// deterministic leader-election function every protocol core consults
// (spec §4.3).
package committee

import (
	"fmt"
	"sort"

	"github.com/vanguardbft/consensus/bftcrypto"
	"github.com/vanguardbft/consensus/types"
)

// Member is one committee participant's public identity: its ordinary
// Ed25519 key, its BLS12-381 threshold share's public counterpart, and the
// network address replicas dial it on.
type Member struct {
	Name            string
	Public          types.PublicKey
	ThresholdPublic bftcrypto.ThresholdPublicKey
	Address         string
}

// Committee is the sorted, fixed validator set for an epoch (spec §4.3:
// "leader(round) = sorted_committee_keys[round mod n]"). Sorted by public
// key bytes so every honest replica computes the same leader for a round
// without needing to agree on file order.
type Committee struct {
	members []Member
	index   map[types.PublicKey]int
}

// New builds a Committee from an unsorted member list, sorting it
// canonically by public key.
func New(members []Member) (*Committee, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("committee: empty member set")
	}
	sorted := make([]Member, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool {
		return string(sorted[i].Public[:]) < string(sorted[j].Public[:])
	})
	idx := make(map[types.PublicKey]int, len(sorted))
	for i, m := range sorted {
		if _, dup := idx[m.Public]; dup {
			return nil, fmt.Errorf("committee: duplicate public key %s", m.Public)
		}
		idx[m.Public] = i
	}
	return &Committee{members: sorted, index: idx}, nil
}

// Size is the committee's replica count, n.
func (c *Committee) Size() int { return len(c.members) }

// Faults is f, the maximum Byzantine replica count the committee
// tolerates: n = 3f + 1, so f = (n - 1) / 3.
func (c *Committee) Faults() int { return (len(c.members) - 1) / 3 }

// Quorum is 2f + 1, the certificate/commit threshold.
func (c *Committee) Quorum() int { return 2*c.Faults() + 1 }

// Leader returns the deterministic leader for round (spec §4.3).
func (c *Committee) Leader(round types.Round) Member {
	return c.members[uint64(round)%uint64(len(c.members))]
}

// Members returns the sorted member list. Callers must not mutate it.
func (c *Committee) Members() []Member { return c.members }

// IndexOf returns pk's position in the sorted committee, used to
// interpret Coin.Index results as a member.
func (c *Committee) IndexOf(pk types.PublicKey) (int, bool) {
	i, ok := c.index[pk]
	return i, ok
}

// ByIndex returns the member at the given sorted position, used to turn a
// threshold-coin index into a leader/branch choice (spec §4.7, §4.8).
func (c *Committee) ByIndex(i int) Member {
	return c.members[i%len(c.members)]
}

// ThresholdPublicKeys returns the ThresholdPublicKey of each member in
// sorted order.
func (c *Committee) ThresholdPublicKeys() []bftcrypto.ThresholdPublicKey {
	out := make([]bftcrypto.ThresholdPublicKey, len(c.members))
	for i, m := range c.members {
		out[i] = m.ThresholdPublic
	}
	return out
}

// ThresholdPublicKeysFor resolves the ThresholdPublicKey of exactly the
// given signers, the reporting quorum a SchemeThreshold certificate
// aggregates over. Returns ok=false if signers is shorter than Quorum(),
// contains a duplicate, or names a key outside the committee — a verifier
// must reject the certificate in any of those cases rather than silently
// checking a smaller or substituted set.
func (c *Committee) ThresholdPublicKeysFor(signers []types.PublicKey) ([]bftcrypto.ThresholdPublicKey, bool) {
	if len(signers) < c.Quorum() {
		return nil, false
	}
	seen := make(map[types.PublicKey]struct{}, len(signers))
	out := make([]bftcrypto.ThresholdPublicKey, 0, len(signers))
	for _, pk := range signers {
		if _, dup := seen[pk]; dup {
			return nil, false
		}
		seen[pk] = struct{}{}
		i, ok := c.index[pk]
		if !ok {
			return nil, false
		}
		out = append(out, c.members[i].ThresholdPublic)
	}
	return out, true
}
