// Package token implements the balance ledger backing every asset class in
// the protocol: the debt asset, the collateral asset, and the per-tier bond
// tokens that represent lender claims. The lending pool is registered as the
// sole minter of bond symbols.
package token

import (
	"errors"
	"math/big"
	"strings"
	"sync"
)

var (
	ErrUnknownToken        = errors.New("token ledger: unknown token")
	ErrTokenExists         = errors.New("token ledger: token already registered")
	ErrInsufficientBalance = errors.New("token ledger: insufficient balance")
	ErrNotMinter           = errors.New("token ledger: caller is not the token minter")

	errNilState      = errors.New("token ledger: state not configured")
	errInvalidAmount = errors.New("token ledger: amount must be positive")
	errEmptySymbol   = errors.New("token ledger: symbol must not be empty")
)

// Info describes a registered token.
type Info struct {
	Symbol   string
	Decimals uint8
	// Minter is the only address allowed to mint or burn the token. The
	// zero address marks a fixed-supply token (genesis allocation only).
	Minter [20]byte
}

type ledgerState interface {
	TokenInfo(symbol string) (*Info, error)
	PutTokenInfo(symbol string, info *Info) error
	TokenBalance(symbol string, addr [20]byte) (*big.Int, error)
	SetTokenBalance(symbol string, addr [20]byte, amount *big.Int) error
}

// Ledger moves token balances between accounts through the state backend.
// Every operation is all-or-nothing: validation happens before any write.
type Ledger struct {
	mu    sync.Mutex
	state ledgerState
}

func NewLedger() *Ledger {
	return &Ledger{}
}

// SetState wires the ledger to the external persistence layer.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

// NormalizeSymbol canonicalises a token symbol for lookups.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Register creates a new token. Registering an existing symbol fails.
func (l *Ledger) Register(symbol string, decimals uint8, minter [20]byte) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	normalized := NormalizeSymbol(symbol)
	if normalized == "" {
		return errEmptySymbol
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	existing, err := l.state.TokenInfo(normalized)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrTokenExists
	}
	return l.state.PutTokenInfo(normalized, &Info{Symbol: normalized, Decimals: decimals, Minter: minter})
}

// Info returns the registered metadata for a symbol.
func (l *Ledger) Info(symbol string) (*Info, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	info, err := l.state.TokenInfo(NormalizeSymbol(symbol))
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, ErrUnknownToken
	}
	return info, nil
}

// BalanceOf returns the current balance, zero for accounts never credited.
func (l *Ledger) BalanceOf(symbol string, addr [20]byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	normalized := NormalizeSymbol(symbol)
	if _, err := l.requireToken(normalized); err != nil {
		return nil, err
	}
	return l.balance(normalized, addr)
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(from, to [20]byte, symbol string, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	normalized := NormalizeSymbol(symbol)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.requireToken(normalized); err != nil {
		return err
	}
	fromBal, err := l.balance(normalized, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	// A self-transfer must not touch the stored balance: writing the credit
	// after the debit would resurrect the pre-debit reading and mint tokens.
	if from == to {
		return nil
	}
	toBal, err := l.balance(normalized, to)
	if err != nil {
		return err
	}
	if err := l.state.SetTokenBalance(normalized, from, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return l.state.SetTokenBalance(normalized, to, new(big.Int).Add(toBal, amount))
}

// Mint credits newly issued tokens to an account. Only the registered minter
// may call it.
func (l *Ledger) Mint(caller [20]byte, symbol string, to [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	normalized := NormalizeSymbol(symbol)
	l.mu.Lock()
	defer l.mu.Unlock()
	info, err := l.requireToken(normalized)
	if err != nil {
		return err
	}
	if info.Minter != caller {
		return ErrNotMinter
	}
	bal, err := l.balance(normalized, to)
	if err != nil {
		return err
	}
	return l.state.SetTokenBalance(normalized, to, new(big.Int).Add(bal, amount))
}

// Burn destroys tokens held by an account. Only the registered minter may
// call it.
func (l *Ledger) Burn(caller [20]byte, symbol string, from [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	normalized := NormalizeSymbol(symbol)
	l.mu.Lock()
	defer l.mu.Unlock()
	info, err := l.requireToken(normalized)
	if err != nil {
		return err
	}
	if info.Minter != caller {
		return ErrNotMinter
	}
	bal, err := l.balance(normalized, from)
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	return l.state.SetTokenBalance(normalized, from, new(big.Int).Sub(bal, amount))
}

func (l *Ledger) requireToken(symbol string) (*Info, error) {
	info, err := l.state.TokenInfo(symbol)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, ErrUnknownToken
	}
	return info, nil
}

func (l *Ledger) balance(symbol string, addr [20]byte) (*big.Int, error) {
	bal, err := l.state.TokenBalance(symbol, addr)
	if err != nil {
		return nil, err
	}
	if bal == nil {
		return big.NewInt(0), nil
	}
	return bal, nil
}
