package ledger

import "testing"

func TestAdmissionValidator_Boundary(t *testing.T) {
	v := NewAdmissionValidator()
	var a, b Address
	a[0], b[0] = 1, 2

	cases := []struct {
		name    string
		req     SignedRequest
		wantErr bool
	}{
		{"valid transfer", SignedRequest{Kind: KindTransfer, From: &a, To: b, Amount: 1, Signature: [64]byte{1}}, false},
		{"valid mint", SignedRequest{Kind: KindMint, To: b, Amount: 1, Signature: [64]byte{1}}, false},
		{"zero amount", SignedRequest{Kind: KindTransfer, From: &a, To: b, Amount: 0, Signature: [64]byte{1}}, true},
		{"self transfer", SignedRequest{Kind: KindTransfer, From: &a, To: a, Amount: 1, Signature: [64]byte{1}}, true},
		{"zero to", SignedRequest{Kind: KindTransfer, From: &a, To: Address{}, Amount: 1, Signature: [64]byte{1}}, true},
		{"unknown kind", SignedRequest{Kind: "burn", From: &a, To: b, Amount: 1, Signature: [64]byte{1}}, true},
		{"transfer missing from", SignedRequest{Kind: KindTransfer, To: b, Amount: 1, Signature: [64]byte{1}}, true},
		{"mint with from", SignedRequest{Kind: KindMint, From: &a, To: b, Amount: 1, Signature: [64]byte{1}}, true},
		{"empty signature", SignedRequest{Kind: KindTransfer, From: &a, To: b, Amount: 1}, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := v.Validate(c.req)
			if c.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !c.wantErr && err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}
