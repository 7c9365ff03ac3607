package types

// Transaction is an opaque client-submitted byte string. Byte 0 of a sample
// (benchmark) transaction is 0x00; the engine imposes no further structure
// on it (spec §3, §6).
type Transaction []byte

// MinTransactionSize is the minimum accepted length of a client transaction
// (spec §6: "Raw bytes, minimum length 9").
const MinTransactionSize = 9

// IsSample reports whether byte 0 marks this as a benchmark transaction.
func (t Transaction) IsSample() bool {
	return len(t) > 0 && t[0] == 0x00
}
