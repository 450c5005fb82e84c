// Package bank is an in-memory token ledger. It applies batches of transfers all or
// nothing and keeps a receipt per batch so a batch can be reverted.
package bank

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/0x5487/darkpool/protocol"
	"github.com/igrmk/treemap/v2"
	"github.com/rs/xid"
)

var (
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	ErrBalanceOverflow   = errors.New("bank: balance overflow")
	ErrInvalidTransfer   = errors.New("bank: invalid transfer")
	ErrUnknownReceipt    = errors.New("bank: unknown receipt")
)

// Bank holds token balances by account.
type Bank struct {
	mu       sync.Mutex
	accounts *treemap.TreeMap[string, uint64]
	receipts map[string][]protocol.Transfer
}

// New returns an empty bank.
func New() *Bank {
	return &Bank{
		accounts: treemap.New[string, uint64](),
		receipts: make(map[string][]protocol.Transfer),
	}
}

// Deposit credits amount to account.
func (b *Bank) Deposit(account string, amount uint64) error {
	if len(account) == 0 {
		return fmt.Errorf("%w: empty account", ErrInvalidTransfer)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	bal, _ := b.accounts.Get(account)
	if bal > math.MaxUint64-amount {
		return ErrBalanceOverflow
	}
	b.accounts.Set(account, bal+amount)
	return nil
}

// Balance returns the balance of account, zero if it has never been credited.
func (b *Bank) Balance(account string) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	bal, _ := b.accounts.Get(account)
	return bal
}

// Balances returns every balance, ordered by account.
func (b *Bank) Balances() []Account {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Account, 0, b.accounts.Len())
	for it := b.accounts.Iterator(); it.Valid(); it.Next() {
		out = append(out, Account{Name: it.Key(), Balance: it.Value()})
	}
	return out
}

// Account is one entry of Balances.
type Account struct {
	Name    string
	Balance uint64
}

// Execute applies transfers in order. Either every transfer is applied and a receipt is
// returned, or none is and the balances are unchanged.
func (b *Bank) Execute(ctx context.Context, transfers []protocol.Transfer) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	for _, t := range transfers {
		if len(t.From) == 0 || len(t.To) == 0 || t.Amount == 0 {
			return "", fmt.Errorf("%w: %+v", ErrInvalidTransfer, t)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.apply(transfers); err != nil {
		return "", err
	}

	receipt := xid.New().String()
	b.receipts[receipt] = append([]protocol.Transfer(nil), transfers...)
	return receipt, nil
}

// Revert undoes the batch identified by receipt. A receipt can be reverted once.
func (b *Bank) Revert(ctx context.Context, receipt string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	transfers, ok := b.receipts[receipt]
	if !ok {
		return ErrUnknownReceipt
	}

	reversed := make([]protocol.Transfer, len(transfers))
	for i, t := range transfers {
		reversed[len(transfers)-1-i] = protocol.Transfer{From: t.To, To: t.From, Amount: t.Amount}
	}
	if err := b.apply(reversed); err != nil {
		return fmt.Errorf("revert %s: %w", receipt, err)
	}
	delete(b.receipts, receipt)
	return nil
}

// apply stages the new balances and writes them only if every transfer succeeds.
func (b *Bank) apply(transfers []protocol.Transfer) error {
	staged := make(map[string]uint64)
	balance := func(account string) uint64 {
		if bal, ok := staged[account]; ok {
			return bal
		}
		bal, _ := b.accounts.Get(account)
		return bal
	}

	for _, t := range transfers {
		from := balance(t.From)
		if from < t.Amount {
			return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, t.From, from, t.Amount)
		}
		staged[t.From] = from - t.Amount
		to := balance(t.To)
		if to > math.MaxUint64-t.Amount {
			return fmt.Errorf("%w: %s", ErrBalanceOverflow, t.To)
		}
		staged[t.To] = to + t.Amount
	}

	for account, bal := range staged {
		b.accounts.Set(account, bal)
	}
	return nil
}
