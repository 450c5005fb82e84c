// Package mpc contains the secure matching circuit and the ciphertext types that carry
// order fields across the secure-computation boundary.
//
// Plaintext Order and MatchResult values only exist inside the boundary (the compute
// service) and on the owner's side before sealing or after opening. Everything that
// travels through the dark pool is a Ciphertext.
package mpc

// Order is the plaintext form of a sealed order.
// Price is fixed-point, scaled by PriceScale by the owner; the circuit never scales.
type Order struct {
	Price    uint64
	Quantity uint64
	IsBuy    bool
}

// MatchResult is the plaintext outcome of matching one buy order against one sell order.
type MatchResult struct {
	Matched      bool
	FillPrice    uint64
	FillQuantity uint64
}

// MatchSingleOrder decides whether buy and sell cross and computes the fill terms.
// Orders cross when buy.Price >= sell.Price; the fill price is the floored midpoint and
// the fill quantity the smaller of the two quantities. Non-crossing orders yield the zero result.
func MatchSingleOrder(buy, sell Order) MatchResult {
	if buy.Price < sell.Price {
		return MatchResult{}
	}

	return MatchResult{
		Matched:      true,
		FillPrice:    midpoint(buy.Price, sell.Price),
		FillQuantity: min(buy.Quantity, sell.Quantity),
	}
}

// midpoint returns floor((a+b)/2) without overflowing 64 bits.
func midpoint(a, b uint64) uint64 {
	return a/2 + b/2 + (a & b & 1)
}
