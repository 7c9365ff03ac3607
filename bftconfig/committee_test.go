package bftconfig

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vanguardbft/consensus/bftcrypto"
)

func writeCommitteeFile(t *testing.T, entries map[string]committeeEntry) string {
	t.Helper()
	b, err := json.Marshal(entries)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "committee.json")
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func sampleEntries(t *testing.T, n int) map[string]committeeEntry {
	t.Helper()
	out := make(map[string]committeeEntry, n)
	for i := 0; i < n; i++ {
		kp, err := bftcrypto.GenerateKeyPair()
		require.NoError(t, err)
		out[hex.EncodeToString(kp.Public[:])] = committeeEntry{
			Name:            string(rune('a' + i)),
			ThresholdPublic: hex.EncodeToString(kp.ThresholdPublic[:]),
			Address:         "127.0.0.1:900" + string(rune('0'+i)),
			MempoolAddress:  "127.0.0.1:910" + string(rune('0'+i)),
			Stake:           1,
		}
	}
	return out
}

func TestLoadCommitteeBuildsCommitteeAndAddressBook(t *testing.T) {
	entries := sampleEntries(t, 4)
	path := writeCommitteeFile(t, entries)

	comm, file, err := LoadCommittee(path)
	require.NoError(t, err)
	require.Len(t, comm.Members(), 4)
	require.Equal(t, 3, comm.Quorum())

	book := NewAddressBook(file)
	m := comm.Members()[0]
	addr, ok := book.Address(m.Public)
	require.True(t, ok)
	require.NotEmpty(t, addr)
	mAddr, ok := book.MempoolAddress(m.Public)
	require.True(t, ok)
	require.NotEmpty(t, mAddr)
}

func TestLoadCommitteeRejectsInvalidHexPublicKey(t *testing.T) {
	entries := sampleEntries(t, 1)
	for k, v := range entries {
		delete(entries, k)
		entries["not-hex"] = v
		break
	}
	path := writeCommitteeFile(t, entries)
	_, _, err := LoadCommittee(path)
	require.Error(t, err)
}

func TestLoadCommitteeRejectsMissingAddress(t *testing.T) {
	entries := sampleEntries(t, 1)
	for k, v := range entries {
		v.Address = ""
		entries[k] = v
	}
	path := writeCommitteeFile(t, entries)
	_, _, err := LoadCommittee(path)
	require.Error(t, err)
}

func TestAddressBookMissingMemberReturnsNotOK(t *testing.T) {
	entries := sampleEntries(t, 1)
	book := NewAddressBook(CommitteeFile(entries))
	kp, err := bftcrypto.GenerateKeyPair()
	require.NoError(t, err)
	_, ok := book.Address(kp.Public)
	require.False(t, ok)
}
