package chain

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tricodex/ethdam-2025-sub001/pkg/crypto"
)

// Registry records which attestation keys are endorsed for which app.
type Registry struct {
	mu       sync.RWMutex
	endorsed map[crypto.AppID]map[common.Address]struct{}
}

func NewRegistry() *Registry {
	return &Registry{endorsed: make(map[crypto.AppID]map[common.Address]struct{})}
}

func (r *Registry) Endorse(app crypto.AppID, key common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys, ok := r.endorsed[app]
	if !ok {
		keys = make(map[common.Address]struct{})
		r.endorsed[app] = keys
	}
	keys[key] = struct{}{}
}

func (r *Registry) Revoke(app crypto.AppID, key common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.endorsed[app], key)
}

// Origin returns the verified origin of tx, nil if it carries no
// attestation, ErrOriginMismatch if the key is endorsed only for other apps,
// or ErrInvalidAttestation.
func (r *Registry) Origin(tx *Tx) (*crypto.AppID, error) {
	att := tx.Attestation
	if att == nil {
		return nil, nil
	}
	signer, err := crypto.RecoverAddress(tx.AttestationHash(att.AppID).Bytes(), att.Signature)
	if err != nil {
		return nil, ErrInvalidAttestation
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.endorsed[att.AppID][signer]; !ok {
		for app, keys := range r.endorsed {
			if _, ok := keys[signer]; ok {
				return nil, fmt.Errorf("%w: claimed %s, endorsed for %s", ErrOriginMismatch, att.AppID, app)
			}
		}
		return nil, ErrInvalidAttestation
	}
	app := att.AppID
	return &app, nil
}
