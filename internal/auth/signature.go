package auth

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// SignatureHeader carries the hex MAC of a webhook body.
const SignatureHeader = "X-Kixikila-Signature"

var ErrBadSignature = errors.New("webhook signature mismatch")

// Signer computes and checks BLAKE2b-256 keyed MACs of webhook bodies.
type Signer struct {
	key []byte
}

// NewSigner returns a Signer for key. BLAKE2b accepts keys of 1 to 64 bytes.
func NewSigner(key string) (*Signer, error) {
	if len(key) == 0 || len(key) > blake2b.Size {
		return nil, fmt.Errorf("webhook key must be 1-%d bytes, got %d", blake2b.Size, len(key))
	}
	return &Signer{key: []byte(key)}, nil
}

// Sign returns the hex MAC of body.
func (s *Signer) Sign(body []byte) string {
	h, err := blake2b.New256(s.key)
	if err != nil {
		// unreachable: key length is checked in NewSigner
		panic(err)
	}
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks signature against body in constant time.
func (s *Signer) Verify(body []byte, signature string) error {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}
	want, _ := hex.DecodeString(s.Sign(body))
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrBadSignature
	}
	return nil
}
