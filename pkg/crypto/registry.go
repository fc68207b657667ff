package crypto

import (
	"fmt"
	"sync"
)

// TrustedSignerRegistry maps signer IDs to public keys and tracks revoked
// signers. Verification against a revoked signer fails closed.
type TrustedSignerRegistry struct {
	mu      sync.RWMutex
	keys    map[string]string // signer ID -> hex public key
	revoked map[string]bool
}

// NewTrustedSignerRegistry creates an empty registry.
func NewTrustedSignerRegistry() *TrustedSignerRegistry {
	return &TrustedSignerRegistry{
		keys:    make(map[string]string),
		revoked: make(map[string]bool),
	}
}

// Register adds or replaces a trusted signer key.
func (r *TrustedSignerRegistry) Register(signerID, pubKeyHex string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[signerID] = pubKeyHex
}

// RegisterSigner is a convenience for registering a local Signer.
func (r *TrustedSignerRegistry) RegisterSigner(s Signer) {
	r.Register(s.KeyID(), s.PublicKey())
}

// Revoke marks a signer untrusted for all future verifications. History is
// preserved; the key stays in the registry.
func (r *TrustedSignerRegistry) Revoke(signerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked[signerID] = true
}

// IsRevoked reports whether a signer has been revoked.
func (r *TrustedSignerRegistry) IsRevoked(signerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.revoked[signerID]
}

// VerifySignature implements SignatureVerifier against the registry.
func (r *TrustedSignerRegistry) VerifySignature(data []byte, sigHex, signerID string) (bool, error) {
	r.mu.RLock()
	pubKey, known := r.keys[signerID]
	revoked := r.revoked[signerID]
	r.mu.RUnlock()

	if !known {
		return false, fmt.Errorf("unknown signer %q", signerID)
	}
	if revoked {
		return false, fmt.Errorf("signer %q is revoked", signerID)
	}
	return Verify(pubKey, sigHex, data)
}
