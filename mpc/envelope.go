package mpc

import (
	"errors"
	"fmt"
)

const sealedOrderVersion = 1

const (
	// SealedOrderSize is the encoded size of a SealedOrder.
	SealedOrderSize = 1 + KeySize + NonceSize + 3*CiphertextSize
	// SealedResultSize is the encoded size of a SealedResult: three ciphertext blocks then the nonce.
	SealedResultSize = 3*CiphertextSize + NonceSize
)

// Field indices inside a sealed order and a sealed result.
const (
	fieldPrice    = 0
	fieldQuantity = 1
	fieldSide     = 2

	fieldMatched      = 0
	fieldFillPrice    = 1
	fieldFillQuantity = 2
)

var (
	ErrMalformedEnvelope = errors.New("mpc: malformed envelope")
	ErrSideMismatch      = errors.New("mpc: order sides do not form a buy/sell pair")
	ErrNonceReuse        = errors.New("mpc: result nonce equals the buy order nonce")
)

// SealedOrder is an order encrypted by its owner for the compute service.
// Owner and Nonce travel in clear; they are needed to derive the shared cipher.
type SealedOrder struct {
	Owner    PublicKey
	Nonce    Nonce
	Price    Ciphertext
	Quantity Ciphertext
	Side     Ciphertext
}

// SealOrder encrypts o with the cipher shared between owner and the compute service key mxe.
func SealOrder(owner KeyPair, mxe PublicKey, nonce Nonce, o Order) (*SealedOrder, error) {
	c, err := NewSharedCipher(owner.Private, mxe)
	if err != nil {
		return nil, err
	}

	return &SealedOrder{
		Owner:    owner.Public,
		Nonce:    nonce,
		Price:    c.Encrypt(nonce, fieldPrice, o.Price),
		Quantity: c.Encrypt(nonce, fieldQuantity, o.Quantity),
		Side:     c.Encrypt(nonce, fieldSide, boolToU64(o.IsBuy)),
	}, nil
}

// Open decrypts the order with the compute service key pair.
func (s *SealedOrder) Open(mxe KeyPair) (Order, error) {
	c, err := NewSharedCipher(mxe.Private, s.Owner)
	if err != nil {
		return Order{}, err
	}

	price, err := c.Decrypt(s.Nonce, fieldPrice, s.Price)
	if err != nil {
		return Order{}, err
	}
	qty, err := c.Decrypt(s.Nonce, fieldQuantity, s.Quantity)
	if err != nil {
		return Order{}, err
	}
	side, err := c.Decrypt(s.Nonce, fieldSide, s.Side)
	if err != nil {
		return Order{}, err
	}

	return Order{Price: price, Quantity: qty, IsBuy: side == 1}, nil
}

// MarshalBinary encodes the order as version | owner | nonce | price | quantity | side.
func (s *SealedOrder) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, SealedOrderSize)
	out = append(out, sealedOrderVersion)
	out = append(out, s.Owner[:]...)
	out = append(out, s.Nonce[:]...)
	out = append(out, s.Price[:]...)
	out = append(out, s.Quantity[:]...)
	out = append(out, s.Side[:]...)
	return out, nil
}

// UnmarshalBinary decodes an order produced by MarshalBinary.
func (s *SealedOrder) UnmarshalBinary(data []byte) error {
	if len(data) != SealedOrderSize {
		return fmt.Errorf("%w: sealed order is %d bytes, want %d", ErrMalformedEnvelope, len(data), SealedOrderSize)
	}
	if data[0] != sealedOrderVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrMalformedEnvelope, data[0])
	}

	data = data[1:]
	data = data[copy(s.Owner[:], data):]
	data = data[copy(s.Nonce[:], data):]
	data = data[copy(s.Price[:], data):]
	data = data[copy(s.Quantity[:], data):]
	copy(s.Side[:], data)
	return nil
}

// PeekOwner returns the owner key and nonce of an encoded sealed order without opening it.
func PeekOwner(data []byte) (PublicKey, Nonce, error) {
	var s SealedOrder
	if err := s.UnmarshalBinary(data); err != nil {
		return PublicKey{}, Nonce{}, err
	}
	return s.Owner, s.Nonce, nil
}

// SealedResult is a match result encrypted for the buy order owner.
type SealedResult struct {
	Matched      Ciphertext
	FillPrice    Ciphertext
	FillQuantity Ciphertext
	Nonce        Nonce
}

// SealResult encrypts r for recipient with the compute service key pair.
func SealResult(mxe KeyPair, recipient PublicKey, nonce Nonce, r MatchResult) (*SealedResult, error) {
	c, err := NewSharedCipher(mxe.Private, recipient)
	if err != nil {
		return nil, err
	}

	return &SealedResult{
		Matched:      c.Encrypt(nonce, fieldMatched, boolToU64(r.Matched)),
		FillPrice:    c.Encrypt(nonce, fieldFillPrice, r.FillPrice),
		FillQuantity: c.Encrypt(nonce, fieldFillQuantity, r.FillQuantity),
		Nonce:        nonce,
	}, nil
}

// MarshalBinary encodes the result as matched | fill price | fill quantity | nonce.
func (s *SealedResult) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, SealedResultSize)
	out = append(out, s.Matched[:]...)
	out = append(out, s.FillPrice[:]...)
	out = append(out, s.FillQuantity[:]...)
	out = append(out, s.Nonce[:]...)
	return out, nil
}

// UnmarshalBinary decodes a result produced by MarshalBinary.
func (s *SealedResult) UnmarshalBinary(data []byte) error {
	if len(data) != SealedResultSize {
		return fmt.Errorf("%w: sealed result is %d bytes, want %d", ErrMalformedEnvelope, len(data), SealedResultSize)
	}

	data = data[copy(s.Matched[:], data):]
	data = data[copy(s.FillPrice[:], data):]
	data = data[copy(s.FillQuantity[:], data):]
	copy(s.Nonce[:], data)
	return nil
}

// OpenResult decrypts an encoded match result. Only the key pair the result was sealed for can open it.
func OpenResult(owner KeyPair, mxe PublicKey, data []byte) (MatchResult, error) {
	var s SealedResult
	if err := s.UnmarshalBinary(data); err != nil {
		return MatchResult{}, err
	}

	c, err := NewSharedCipher(owner.Private, mxe)
	if err != nil {
		return MatchResult{}, err
	}

	matched, err := c.Decrypt(s.Nonce, fieldMatched, s.Matched)
	if err != nil {
		return MatchResult{}, err
	}
	price, err := c.Decrypt(s.Nonce, fieldFillPrice, s.FillPrice)
	if err != nil {
		return MatchResult{}, err
	}
	qty, err := c.Decrypt(s.Nonce, fieldFillQuantity, s.FillQuantity)
	if err != nil {
		return MatchResult{}, err
	}

	return MatchResult{Matched: matched == 1, FillPrice: price, FillQuantity: qty}, nil
}

// MatchSealed is the encrypted form of MatchSingleOrder, run by the compute service:
// it opens both orders with the mxe key pair, matches them and seals the result for the
// buy order owner under nonce. Plaintext never leaves this function.
func MatchSealed(mxe KeyPair, buy, sell *SealedOrder, nonce Nonce) (*SealedResult, error) {
	if nonce == buy.Nonce {
		return nil, ErrNonceReuse
	}

	b, err := buy.Open(mxe)
	if err != nil {
		return nil, fmt.Errorf("open buy order: %w", err)
	}
	s, err := sell.Open(mxe)
	if err != nil {
		return nil, fmt.Errorf("open sell order: %w", err)
	}
	if !b.IsBuy || s.IsBuy {
		return nil, ErrSideMismatch
	}

	return SealResult(mxe, buy.Owner, nonce, MatchSingleOrder(b, s))
}

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
