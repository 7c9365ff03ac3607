package bftconfig

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/vanguardbft/consensus/bftcrypto"
	"github.com/vanguardbft/consensus/committee"
	"github.com/vanguardbft/consensus/types"
)

// committeeEntry is the on-disk shape of one committee member (spec §6:
// "Committee: JSON mapping public-key (hex) → {network address, mempool
// address, stake or id}").
type committeeEntry struct {
	Name            string `json:"name"`
	ThresholdPublic string `json:"threshold_public_key"`
	Address         string `json:"address"`
	MempoolAddress  string `json:"mempool_address"`
	Stake           uint64 `json:"stake"`
}

// CommitteeFile is the parsed on-disk Committee configuration: a mapping
// from hex-encoded public key to the member's addresses and stake.
type CommitteeFile map[string]committeeEntry

// LoadCommittee reads the Committee JSON file and builds a committee.Committee.
func LoadCommittee(path string) (*committee.Committee, CommitteeFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("bftconfig: read committee file: %w", err)
	}
	var raw CommitteeFile
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, nil, fmt.Errorf("bftconfig: parse committee file: %w", err)
	}

	var res ValidationResult
	members := make([]committee.Member, 0, len(raw))
	for hexPK, entry := range raw {
		pkBytes, err := hex.DecodeString(hexPK)
		if err != nil {
			res.add(hexPK, "public key is not valid hex")
			continue
		}
		pk, ok := types.PublicKeyFromBytes(pkBytes)
		if !ok {
			res.add(hexPK, fmt.Sprintf("public key must decode to %d bytes", types.PublicKeySize))
			continue
		}
		tpkBytes, err := hex.DecodeString(entry.ThresholdPublic)
		if err != nil || len(tpkBytes) != len(bftcrypto.ThresholdPublicKey{}) {
			res.add(hexPK, "threshold_public_key must be valid hex of the expected width")
			continue
		}
		var tpk bftcrypto.ThresholdPublicKey
		copy(tpk[:], tpkBytes)
		if entry.Address == "" {
			res.add(hexPK, "address must not be empty")
			continue
		}
		members = append(members, committee.Member{
			Name:            entry.Name,
			Public:          pk,
			ThresholdPublic: tpk,
			Address:         entry.Address,
		})
	}
	if !res.OK() {
		return nil, nil, res
	}

	c, err := committee.New(members)
	if err != nil {
		return nil, nil, fmt.Errorf("bftconfig: %w", err)
	}
	return c, raw, nil
}

// addressBook adapts CommitteeFile to wire.AddressBook.
type addressBook struct {
	file CommitteeFile
}

func NewAddressBook(file CommitteeFile) *addressBook { return &addressBook{file: file} }

func (a *addressBook) Address(pk types.PublicKey) (string, bool) {
	entry, ok := a.file[hex.EncodeToString(pk[:])]
	if !ok {
		return "", false
	}
	return entry.Address, true
}

func (a *addressBook) MempoolAddress(pk types.PublicKey) (string, bool) {
	entry, ok := a.file[hex.EncodeToString(pk[:])]
	if !ok {
		return "", false
	}
	return entry.MempoolAddress, true
}
