package ledger

import "crypto/ed25519"

// SignatureGate is C2: a stateless Ed25519 verifier over canonical message
// bytes. It knows nothing about transaction semantics — callers build the
// canonical message and hand it in whole. Failure is never retried.
type SignatureGate struct{}

// NewSignatureGate constructs a stateless signature gate.
func NewSignatureGate() SignatureGate { return SignatureGate{} }

// Verify checks sig over msg under pub.
func (SignatureGate) Verify(pub [32]byte, msg []byte, sig [64]byte) bool {
	return ed25519.Verify(pub[:], msg, sig[:])
}
