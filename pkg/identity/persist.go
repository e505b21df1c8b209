package identity

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// record is the on-disk representation of an Identity, written with 0600
// permissions since it carries the private key. The write-tmp-then-rename
// pattern follows the teacher's guard-state persistence.
type record struct {
	PrivateKey []byte      `json:"private_key"`
	PublicKey  []byte      `json:"public_key"`
	PoW        ProofOfWork `json:"pow"`
}

// Save writes the identity to path atomically with 0600 permissions.
func (id *Identity) Save(path string) error {
	rec := record{
		PrivateKey: []byte(id.PrivateKey),
		PublicKey:  []byte(id.PublicKey),
		PoW:        id.PoW,
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal identity record: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create identity directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write identity temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename identity temp file: %w", err)
	}
	return nil
}

// Load reads a persisted identity from path.
func Load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read identity file: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal identity record: %w", err)
	}
	if len(rec.PrivateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("identity file: invalid private key length %d", len(rec.PrivateKey))
	}
	if len(rec.PublicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("identity file: invalid public key length %d", len(rec.PublicKey))
	}

	pub := ed25519.PublicKey(rec.PublicKey)
	return &Identity{
		PrivateKey: ed25519.PrivateKey(rec.PrivateKey),
		PublicKey:  pub,
		NodeID:     DeriveNodeID(pub),
		PoW:        rec.PoW,
	}, nil
}

// LoadOrGenerate loads the identity from path if it exists, or generates
// and persists a new one at the given difficulty.
func LoadOrGenerate(path string, difficulty uint8) (*Identity, error) {
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}
	id, err := Generate(difficulty)
	if err != nil {
		return nil, err
	}
	if err := id.Save(path); err != nil {
		return nil, err
	}
	return id, nil
}
