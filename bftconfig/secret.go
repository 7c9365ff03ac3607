package bftconfig

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/vanguardbft/consensus/bftcrypto"
	"github.com/vanguardbft/consensus/types"
)

// secretFile is the on-disk shape of a replica's key material (spec §6:
// "Secret: {name: PublicKey, secret: SecretKey, threshold_share}").
type secretFile struct {
	Name           string `json:"name"`
	Secret         string `json:"secret"`
	ThresholdShare string `json:"threshold_share"`
}

// LoadSecret reads a Secret file written by the `keys` CLI command and
// reconstructs the replica's KeyPair.
func LoadSecret(path string) (*bftcrypto.KeyPair, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bftconfig: read secret file: %w", err)
	}
	var raw secretFile
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("bftconfig: parse secret file: %w", err)
	}

	secretBytes, err := hex.DecodeString(raw.Secret)
	if err != nil || len(secretBytes) != ed25519.PrivateKeySize {
		return nil, ValidationError{Field: "secret", Reason: "must be valid hex of the Ed25519 private key width"}
	}
	thresholdBytes, err := hex.DecodeString(raw.ThresholdShare)
	if err != nil {
		return nil, ValidationError{Field: "threshold_share", Reason: "must be valid hex"}
	}
	thresholdSK, err := bftcrypto.LoadThresholdPrivate(thresholdBytes)
	if err != nil {
		return nil, ValidationError{Field: "threshold_share", Reason: err.Error()}
	}

	priv := ed25519.PrivateKey(secretBytes)
	pub := priv.Public().(ed25519.PublicKey)
	var pk types.PublicKey
	copy(pk[:], pub)

	kp := bftcrypto.NewKeyPair(pk, priv, thresholdSK)
	return kp, nil
}

// WriteSecret persists kp to path in the Secret file format, used by the
// `keys` CLI command (spec §6).
func WriteSecret(path, name string, kp *bftcrypto.KeyPair) error {
	raw := secretFile{
		Name:           name,
		Secret:         hex.EncodeToString(kp.Private),
		ThresholdShare: hex.EncodeToString(kp.ThresholdPrivateBytes()),
	}
	b, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("bftconfig: marshal secret file: %w", err)
	}
	return os.WriteFile(path, b, 0600)
}
