// Package xsig defines the narrow signature-provider contract XLN's
// core delegates to (spec.md §6.3 "Signature provider"), the same way
// the teacher keeps cryptography behind a small interface in
// crypto/provider.go rather than letting consensus code call concrete
// crypto libraries directly.
package xsig

import "github.com/xlnfinance/xln-core/xtypes"

// Signature is an opaque signature blob. Its internal shape is a
// property of the SignatureProvider implementation, never interpreted
// by the core.
type Signature []byte

// Provider is the collaborator contract of spec.md §6.3: the core
// never owns private keys, only calls out to sign/verify.
type Provider interface {
	Sign(signerID xtypes.SignerID, digest [32]byte) (Signature, error)
	PublicKey(signerID xtypes.SignerID) ([]byte, error)
	Verify(pubkey []byte, digest [32]byte, sig Signature) bool
}
