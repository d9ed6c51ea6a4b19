package api

import (
	"encoding/hex"
	"fmt"
	"strings"

	"usdaledger/ledger"
)

func trimHexPrefix(s string) string { return strings.TrimPrefix(s, "0x") }

func decodeAddress(s string) (ledger.Address, error) {
	var addr ledger.Address
	raw, err := hex.DecodeString(trimHexPrefix(s))
	if err != nil {
		return addr, fmt.Errorf("invalid hex: %w", err)
	}
	if len(raw) != 32 {
		return addr, fmt.Errorf("address must decode to 32 bytes, got %d", len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}

func decodePublicKey(s string) ([32]byte, error) {
	var pub [32]byte
	raw, err := hex.DecodeString(trimHexPrefix(s))
	if err != nil {
		return pub, fmt.Errorf("invalid hex: %w", err)
	}
	if len(raw) != 32 {
		return pub, fmt.Errorf("public key must decode to 32 bytes, got %d", len(raw))
	}
	copy(pub[:], raw)
	return pub, nil
}

func decodeSignature(s string) ([64]byte, error) {
	var sig [64]byte
	raw, err := hex.DecodeString(trimHexPrefix(s))
	if err != nil {
		return sig, fmt.Errorf("invalid hex: %w", err)
	}
	if len(raw) != 64 {
		return sig, fmt.Errorf("signature must decode to 64 bytes, got %d", len(raw))
	}
	copy(sig[:], raw)
	return sig, nil
}
