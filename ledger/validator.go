package ledger

import "fmt"

// SignedRequest is the wire-level shape submitted to the engine (§4.4).
// For a mint, From is nil.
type SignedRequest struct {
	Kind      RequestKind
	From      *Address
	To        Address
	Amount    uint64
	Nonce     uint64
	Signature [64]byte
}

// AdmissionValidator performs the stateless checks of C3: rejected before
// any I/O. It never touches the store or the signature gate.
type AdmissionValidator struct{}

// NewAdmissionValidator constructs a stateless validator.
func NewAdmissionValidator() AdmissionValidator { return AdmissionValidator{} }

// Validate rejects malformed requests per §4.3.
func (AdmissionValidator) Validate(req SignedRequest) error {
	switch req.Kind {
	case KindTransfer, KindMint:
	default:
		return NewError(ErrInvalidInput, fmt.Sprintf("unrecognized request kind %q", req.Kind))
	}

	if req.Amount == 0 {
		return NewError(ErrInvalidAmount, "amount must be positive")
	}

	if req.To.IsZero() {
		return NewError(ErrInvalidInput, "to address must be non-zero")
	}

	if req.Kind == KindTransfer {
		if req.From == nil {
			return NewError(ErrInvalidInput, "transfer requires a from address")
		}
		if *req.From == req.To {
			return NewError(ErrInvalidInput, "self-transfer is not allowed")
		}
	}

	if req.Kind == KindMint && req.From != nil {
		return NewError(ErrInvalidInput, "mint must not set a from address")
	}

	if req.Signature == ([64]byte{}) {
		return NewError(ErrInvalidInput, "signature must not be empty")
	}

	return nil
}
