package types

// Vote is cast by a replica for a block it has decided to support (spec
// §3). Threshold-voting protocols (HSAF, VABA) additionally carry a
// partial threshold signature share used to assemble the round's QC.
type Vote struct {
	BlockDigest Digest
	Round       Round
	Author      PublicKey
	Signature   Signature

	// ThresholdShare is non-nil in HSAF/VABA, where votes double as shares
	// of the (2f+1, n) threshold scheme (spec §3 "Vote").
	ThresholdShare []byte
}

// Timeout is broadcast by a replica whose pacemaker fired before it saw a
// valid proposal for the current round (spec §4.6 "On local Timeout").
type Timeout struct {
	Round     Round
	HighQC    QC
	Author    PublicKey
	Signature Signature

	ThresholdShare []byte
}

// CoinShare is a partial threshold signature over (view, "coin"); 2f+1
// shares combine into the view's unpredictable, verifiable Coin value used
// by HSAF and VABA to select a leader/branch under full asynchrony (spec
// §3 "Coin share / Coin").
type CoinShare struct {
	View      Round
	Author    PublicKey
	Share     []byte
	Signature Signature
}

// Coin is the combined, verifiable random value derived from 2f+1 coin
// shares for a view.
type Coin struct {
	View  Round
	Value []byte
}

// Index maps the coin's value onto a committee member, used by HSAF step 5
// and VABA's retrospective winner election (spec §4.7, §4.8).
func (c Coin) Index(committeeSize int) int {
	if committeeSize <= 0 || len(c.Value) == 0 {
		return 0
	}
	acc := uint64(0)
	for _, b := range c.Value {
		acc = acc*31 + uint64(b)
	}
	return int(acc % uint64(committeeSize))
}
