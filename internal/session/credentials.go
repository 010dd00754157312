package session

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	apierrors "atome-store/internal/errors"

	"github.com/google/uuid"
)

const credentialFile = "anonymous.json"

// AnonymousCredential is the synthetic identity a device uses before any
// login. It survives restarts so offline work keeps one stable owner, and
// it is what migration reads when the user later authenticates.
type AnonymousCredential struct {
	ID        string    `json:"id"`
	Secret    string    `json:"secret"`
	CreatedAt time.Time `json:"created_at"`
}

// LoadOrCreateCredential returns the device's anonymous credential,
// minting and persisting one on first use.
func LoadOrCreateCredential(stateDir string) (*AnonymousCredential, error) {
	if stateDir == "" {
		stateDir = "."
	}
	path := filepath.Join(stateDir, credentialFile)

	raw, err := os.ReadFile(path)
	if err == nil {
		var cred AnonymousCredential
		if jsonErr := json.Unmarshal(raw, &cred); jsonErr == nil && cred.ID != "" {
			return &cred, nil
		}
		// Corrupt file: mint a fresh credential rather than failing startup.
	} else if !os.IsNotExist(err) {
		return nil, apierrors.Internal("Failed to read anonymous credential", err)
	}

	cred := &AnonymousCredential{
		ID:        "anon-" + uuid.NewString(),
		Secret:    randomSecret(32),
		CreatedAt: time.Now().UTC(),
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, apierrors.Internal("Failed to create state directory", err)
	}
	encoded, err := json.Marshal(cred)
	if err != nil {
		return nil, apierrors.Internal("Failed to encode anonymous credential", err)
	}
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return nil, apierrors.Internal("Failed to persist anonymous credential", err)
	}
	return cred, nil
}

func randomSecret(bytes int) string {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		return uuid.NewString()
	}
	return hex.EncodeToString(buf)
}
