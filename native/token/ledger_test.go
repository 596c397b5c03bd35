package token

import (
	"errors"
	"math/big"
	"testing"
)

type mockState struct {
	infos    map[string]*Info
	balances map[string]map[[20]byte]*big.Int
	failPut  bool
}

var errMockState = errors.New("mock state: write refused")

func newMockState() *mockState {
	return &mockState{
		infos:    make(map[string]*Info),
		balances: make(map[string]map[[20]byte]*big.Int),
	}
}

func (m *mockState) TokenInfo(symbol string) (*Info, error) {
	info, ok := m.infos[symbol]
	if !ok {
		return nil, nil
	}
	clone := *info
	return &clone, nil
}

func (m *mockState) PutTokenInfo(symbol string, info *Info) error {
	if m.failPut {
		return errMockState
	}
	clone := *info
	m.infos[symbol] = &clone
	return nil
}

func (m *mockState) TokenBalance(symbol string, addr [20]byte) (*big.Int, error) {
	bal, ok := m.balances[symbol][addr]
	if !ok {
		return nil, nil
	}
	return new(big.Int).Set(bal), nil
}

func (m *mockState) SetTokenBalance(symbol string, addr [20]byte, amount *big.Int) error {
	if m.failPut {
		return errMockState
	}
	if m.balances[symbol] == nil {
		m.balances[symbol] = make(map[[20]byte]*big.Int)
	}
	m.balances[symbol][addr] = new(big.Int).Set(amount)
	return nil
}

func addr(suffix byte) [20]byte {
	var out [20]byte
	out[19] = suffix
	return out
}

func newTestLedger(t *testing.T) (*Ledger, *mockState) {
	t.Helper()
	state := newMockState()
	ledger := NewLedger()
	ledger.SetState(state)
	return ledger, state
}

func TestRegisterNormalizesAndRejectsDuplicates(t *testing.T) {
	ledger, _ := newTestLedger(t)
	minter := addr(0x01)

	if err := ledger.Register("  tusd ", 18, minter); err != nil {
		t.Fatalf("register: %v", err)
	}
	info, err := ledger.Info("TUSD")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Symbol != "TUSD" || info.Decimals != 18 || info.Minter != minter {
		t.Fatalf("unexpected info: %+v", info)
	}
	if err := ledger.Register("TUSD", 6, minter); !errors.Is(err, ErrTokenExists) {
		t.Fatalf("expected ErrTokenExists, got %v", err)
	}
	if err := ledger.Register("   ", 18, minter); err == nil {
		t.Fatalf("expected empty symbol rejection")
	}
}

func TestMintRequiresRegisteredMinter(t *testing.T) {
	ledger, _ := newTestLedger(t)
	minter := addr(0x01)
	user := addr(0x02)
	if err := ledger.Register("TUSD", 18, minter); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := ledger.Mint(user, "TUSD", user, big.NewInt(100)); !errors.Is(err, ErrNotMinter) {
		t.Fatalf("expected ErrNotMinter, got %v", err)
	}
	if err := ledger.Mint(minter, "TUSD", user, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	bal, err := ledger.BalanceOf("TUSD", user)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected 100, got %s", bal)
	}
	if err := ledger.Mint(minter, "TUSD", user, big.NewInt(0)); err == nil {
		t.Fatalf("expected zero amount rejection")
	}
	if err := ledger.Mint(minter, "NOPE", user, big.NewInt(1)); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken, got %v", err)
	}
}

func TestTransferMovesBalanceAtomically(t *testing.T) {
	ledger, _ := newTestLedger(t)
	minter := addr(0x01)
	alice := addr(0x02)
	bob := addr(0x03)
	if err := ledger.Register("TUSD", 18, minter); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := ledger.Mint(minter, "TUSD", alice, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if err := ledger.Transfer(alice, bob, "TUSD", big.NewInt(501)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := ledger.Transfer(alice, bob, "TUSD", big.NewInt(200)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	aliceBal, _ := ledger.BalanceOf("TUSD", alice)
	bobBal, _ := ledger.BalanceOf("TUSD", bob)
	if aliceBal.Cmp(big.NewInt(300)) != 0 || bobBal.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("unexpected balances: alice %s bob %s", aliceBal, bobBal)
	}
}

func TestSelfTransferLeavesBalanceUnchanged(t *testing.T) {
	ledger, _ := newTestLedger(t)
	minter := addr(0x01)
	holder := addr(0x02)
	if err := ledger.Register("TUSD", 18, minter); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := ledger.Mint(minter, "TUSD", holder, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if err := ledger.Transfer(holder, holder, "TUSD", big.NewInt(60)); err != nil {
		t.Fatalf("self transfer: %v", err)
	}
	bal, err := ledger.BalanceOf("TUSD", holder)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("self transfer changed balance: got %s, want 100", bal)
	}

	// Still bounded by the sender's funds.
	if err := ledger.Transfer(holder, holder, "TUSD", big.NewInt(150)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestBurnChecksBalanceAndMinter(t *testing.T) {
	ledger, _ := newTestLedger(t)
	minter := addr(0x01)
	user := addr(0x02)
	if err := ledger.Register("BOND-DEC2026-1", 18, minter); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := ledger.Mint(minter, "BOND-DEC2026-1", user, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if err := ledger.Burn(user, "BOND-DEC2026-1", user, big.NewInt(50)); !errors.Is(err, ErrNotMinter) {
		t.Fatalf("expected ErrNotMinter, got %v", err)
	}
	if err := ledger.Burn(minter, "BOND-DEC2026-1", user, big.NewInt(150)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := ledger.Burn(minter, "BOND-DEC2026-1", user, big.NewInt(100)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	bal, _ := ledger.BalanceOf("BOND-DEC2026-1", user)
	if bal.Sign() != 0 {
		t.Fatalf("expected zero after burn, got %s", bal)
	}
}

func TestBalanceOfUnknownToken(t *testing.T) {
	ledger, _ := newTestLedger(t)
	if _, err := ledger.BalanceOf("TUSD", addr(0x01)); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken, got %v", err)
	}
}

func TestStateWriteFailureSurfaces(t *testing.T) {
	ledger, state := newTestLedger(t)
	minter := addr(0x01)
	if err := ledger.Register("TUSD", 18, minter); err != nil {
		t.Fatalf("register: %v", err)
	}
	state.failPut = true
	if err := ledger.Mint(minter, "TUSD", addr(0x02), big.NewInt(1)); !errors.Is(err, errMockState) {
		t.Fatalf("expected state error, got %v", err)
	}
}
