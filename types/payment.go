package types

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HashSize is the size of a payment hash and of its preimage.
const HashSize = sha256.Size

type (
	// PaymentHash commits all the parts of one logical payment together.
	PaymentHash [HashSize]byte

	// Preimage is the secret whose sha256 is the PaymentHash. Revealing it
	// settles every HTLC locked to that hash.
	Preimage [HashSize]byte
)

// Hash returns the payment hash the preimage unlocks.
func (p Preimage) Hash() PaymentHash {
	return sha256.Sum256(p[:])
}

// Matches reports whether p is the proof of payment for hash.
func (p Preimage) Matches(hash PaymentHash) bool {
	return p.Hash() == hash
}

func (p Preimage) IsZero() bool {
	return p == Preimage{}
}

func (p Preimage) String() string {
	return hex.EncodeToString(p[:])
}

func (p Preimage) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Preimage) UnmarshalText(text []byte) error {
	bz, err := decodeHash(text)
	if err != nil {
		return fmt.Errorf("invalid preimage: %w", err)
	}
	copy(p[:], bz)
	return nil
}

// RandPreimage generates a fresh random preimage.
func RandPreimage() (Preimage, error) {
	var p Preimage
	if _, err := rand.Read(p[:]); err != nil {
		return Preimage{}, err
	}
	return p, nil
}

func (h PaymentHash) String() string {
	return hex.EncodeToString(h[:])
}

func (h PaymentHash) IsZero() bool {
	return h == PaymentHash{}
}

func (h PaymentHash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *PaymentHash) UnmarshalText(text []byte) error {
	bz, err := decodeHash(text)
	if err != nil {
		return fmt.Errorf("invalid payment hash: %w", err)
	}
	copy(h[:], bz)
	return nil
}

// PaymentHashFromHex parses a hex encoded payment hash.
func PaymentHashFromHex(s string) (PaymentHash, error) {
	var h PaymentHash
	err := h.UnmarshalText([]byte(s))
	return h, err
}

// PreimageFromHex parses a hex encoded preimage.
func PreimageFromHex(s string) (Preimage, error) {
	var p Preimage
	err := p.UnmarshalText([]byte(s))
	return p, err
}

func decodeHash(text []byte) ([]byte, error) {
	bz := make([]byte, hex.DecodedLen(len(text)))
	n, err := hex.Decode(bz, text)
	if err != nil {
		return nil, err
	}
	if n != HashSize {
		return nil, fmt.Errorf("incorrect size. Expected %d bytes, got %d", HashSize, n)
	}
	return bz[:n], nil
}
