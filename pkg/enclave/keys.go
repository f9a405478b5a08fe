package enclave

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"

	"github.com/tricodex/ethdam-2025-sub001/pkg/crypto"
)

// attestationInfo is the HKDF info of the key that signs attestations.
const attestationInfo = "rofl-attestation"

var ErrEmptyKeyID = errors.New("empty key id")

// deriveKey returns the secp256k1 key for (app, info). The same inputs give
// the same key on every start.
func deriveKey(master []byte, app crypto.AppID, info string) (*crypto.Signer, error) {
	if info == "" {
		return nil, ErrEmptyKeyID
	}
	r := hkdf.New(sha256.New, master, app[:], []byte(info))
	buf := make([]byte, 32)
	// Draw again on the rare scalar outside [1, n).
	for i := 0; i < 8; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("hkdf: %w", err)
		}
		if s, err := crypto.FromPrivateKeyBytes(buf); err == nil {
			return s, nil
		}
	}
	return nil, fmt.Errorf("no valid key for %q", info)
}

// MasterSecret decodes a hex master secret. Empty draws a random one, so
// derived keys change on restart.
func MasterSecret(h string, log *zap.SugaredLogger) ([]byte, error) {
	if h == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return nil, err
		}
		log.Warnw("ephemeral_master_secret", "note", "derived keys change on restart")
		return b, nil
	}
	b, err := hex.DecodeString(strings.TrimPrefix(h, "0x"))
	if err != nil {
		return nil, fmt.Errorf("master_secret: %w", err)
	}
	return b, nil
}
