package router

import (
	"errors"
	"math/big"
	"testing"

	"termlend/core/state"
	"termlend/native/lendpool"
	"termlend/native/orderbook"
	"termlend/native/token"
	"termlend/storage"
)

const (
	debtSymbol       = "TUSD"
	collateralSymbol = "TETH"
	maturityTS       = int64(100_000_000)
)

type fixedOracle struct {
	price *big.Int
}

func (o fixedOracle) Price() (*big.Int, error) {
	return new(big.Int).Set(o.price), nil
}

func addr(suffix byte) [20]byte {
	var out [20]byte
	out[19] = suffix
	return out
}

func pct(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e16))
}

type marketFixture struct {
	router *Router
	book   *orderbook.Book
	pool   *lendpool.Engine
	ledger *token.Ledger
	now    int64
}

// newMarketFixture assembles the full stack the daemon wires: a token ledger
// persisted through the state manager, the order book, the pool, and the
// router in front of them.
func newMarketFixture(t *testing.T) *marketFixture {
	t.Helper()

	manager := state.NewManager(storage.NewMemDB())
	ledger := token.NewLedger()
	ledger.SetState(manager)

	treasury := addr(0xEE)
	if err := ledger.Register(debtSymbol, 18, treasury); err != nil {
		t.Fatalf("register debt token: %v", err)
	}
	if err := ledger.Register(collateralSymbol, 6, treasury); err != nil {
		t.Fatalf("register collateral token: %v", err)
	}
	if err := ledger.Mint(treasury, debtSymbol, treasury, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("mint debt: %v", err)
	}
	if err := ledger.Mint(treasury, collateralSymbol, treasury, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("mint collateral: %v", err)
	}

	bookAddr := addr(0xB0)
	poolAddr := addr(0xB1)
	routerAddr := addr(0xB2)

	f := &marketFixture{ledger: ledger, now: 1_000}

	f.book = orderbook.NewBook(orderbook.Params{
		DebtToken:       debtSymbol,
		CollateralToken: collateralSymbol,
		RateTick:        big.NewInt(1e16),
		MaxRate:         big.NewInt(1e18),
	}, bookAddr, routerAddr)
	f.book.SetLedger(ledger)
	f.book.SetNowFunc(func() int64 { return f.now })

	f.pool = lendpool.NewEngine(lendpool.Params{
		DebtToken:          debtSymbol,
		CollateralToken:    collateralSymbol,
		CollateralDecimals: 6,
		Maturity:           maturityTS,
		MaturityLabel:      "DEC2026",
		LTV:                new(big.Int).Mul(big.NewInt(8), big.NewInt(1e17)),
	}, poolAddr, routerAddr)
	f.pool.SetState(manager)
	f.pool.SetLedger(ledger)
	// One collateral unit (6 decimals) is worth two debt units.
	f.pool.SetOracle(fixedOracle{price: big.NewInt(2_000_000)})
	f.pool.SetNowFunc(func() int64 { return f.now })

	f.router = New(routerAddr)
	f.router.SetBook(f.book)
	f.router.SetPool(f.pool)
	return f
}

func (f *marketFixture) fund(t *testing.T, user [20]byte, debt, collateral int64) {
	t.Helper()
	treasury := addr(0xEE)
	if debt > 0 {
		if err := f.ledger.Transfer(treasury, user, debtSymbol, big.NewInt(debt)); err != nil {
			t.Fatalf("fund debt: %v", err)
		}
	}
	if collateral > 0 {
		if err := f.ledger.Transfer(treasury, user, collateralSymbol, big.NewInt(collateral)); err != nil {
			t.Fatalf("fund collateral: %v", err)
		}
	}
}

func (f *marketFixture) balance(t *testing.T, symbol string, user [20]byte) *big.Int {
	t.Helper()
	bal, err := f.ledger.BalanceOf(symbol, user)
	if err != nil {
		t.Fatalf("balance of: %v", err)
	}
	return bal
}

func TestPlaceOrderCreatesTierLazily(t *testing.T) {
	f := newMarketFixture(t)
	lender := addr(0x01)
	f.fund(t, lender, 1_000, 0)

	if _, err := f.pool.Tier(pct(5)); err != lendpool.ErrTierNotFound {
		t.Fatalf("expected no tier before first order, got %v", err)
	}
	result, err := f.router.PlaceOrder(lender, big.NewInt(500), nil, pct(5), orderbook.Lend)
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if result.OrderID == 0 {
		t.Fatalf("expected an order id for the resting order")
	}
	tier, err := f.pool.Tier(pct(5))
	if err != nil {
		t.Fatalf("expected tier after first order: %v", err)
	}
	if !tier.IsActive {
		t.Fatalf("expected active tier")
	}
}

func TestMatchedOrderSettlesIntoPool(t *testing.T) {
	f := newMarketFixture(t)
	lender := addr(0x01)
	borrower := addr(0x02)
	f.fund(t, lender, 1_000, 0)
	f.fund(t, borrower, 0, 500)

	if _, err := f.router.PlaceOrder(lender, big.NewInt(1_000), nil, pct(5), orderbook.Lend); err != nil {
		t.Fatalf("place lend: %v", err)
	}
	result, err := f.router.PlaceOrder(borrower, big.NewInt(1_000), big.NewInt(500), pct(5), orderbook.Borrow)
	if err != nil {
		t.Fatalf("place borrow: %v", err)
	}
	if len(result.LendFills) != 1 || len(result.BorrowFills) != 1 {
		t.Fatalf("expected one fill per side")
	}

	// Lender: principal gone, bond shares received.
	if got := f.balance(t, debtSymbol, lender); got.Sign() != 0 {
		t.Fatalf("expected lender principal consumed, got %s", got)
	}
	tier, err := f.pool.Tier(pct(5))
	if err != nil {
		t.Fatalf("tier: %v", err)
	}
	if got := f.balance(t, tier.BondSymbol, lender); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("expected 1000 bond shares, got %s", got)
	}

	// Borrower: collateral posted, principal received.
	if got := f.balance(t, collateralSymbol, borrower); got.Sign() != 0 {
		t.Fatalf("expected borrower collateral consumed, got %s", got)
	}
	if got := f.balance(t, debtSymbol, borrower); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("expected borrowed principal, got %s", got)
	}

	// Pool custody: the matched principal passed through to the borrower,
	// the collateral stays.
	if got := f.balance(t, debtSymbol, f.pool.ModuleAddress()); got.Sign() != 0 {
		t.Fatalf("expected pool debt balance drained by payout, got %s", got)
	}
	if got := f.balance(t, collateralSymbol, f.pool.ModuleAddress()); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected pool to hold collateral, got %s", got)
	}

	// Ledger accounting mirrors the fills.
	if tier.TotalSupplyAssets.Cmp(big.NewInt(1_000)) != 0 || tier.TotalBorrowAssets.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("unexpected tier accounting: supply %s borrow %s", tier.TotalSupplyAssets, tier.TotalBorrowAssets)
	}
	pos, err := f.pool.Position(pct(5), borrower)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.BorrowShares.Cmp(big.NewInt(1_000)) != 0 || pos.Collateral.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("unexpected position: %+v", pos)
	}
}

func TestTokenConservationAcrossMatch(t *testing.T) {
	f := newMarketFixture(t)
	lender := addr(0x01)
	borrower := addr(0x02)
	f.fund(t, lender, 2_000, 0)
	f.fund(t, borrower, 0, 900)

	total := func(symbol string) *big.Int {
		sum := big.NewInt(0)
		for _, holder := range [][20]byte{
			lender, borrower, addr(0xEE),
			f.book.ModuleAddress(), f.pool.ModuleAddress(),
		} {
			sum.Add(sum, f.balance(t, symbol, holder))
		}
		return sum
	}
	debtBefore := total(debtSymbol)
	collBefore := total(collateralSymbol)

	if _, err := f.router.PlaceOrder(lender, big.NewInt(1_500), nil, pct(7), orderbook.Lend); err != nil {
		t.Fatalf("place lend: %v", err)
	}
	if _, err := f.router.PlaceOrder(borrower, big.NewInt(900), big.NewInt(900), pct(7), orderbook.Borrow); err != nil {
		t.Fatalf("place borrow: %v", err)
	}

	if got := total(debtSymbol); got.Cmp(debtBefore) != 0 {
		t.Fatalf("debt tokens not conserved: %s != %s", got, debtBefore)
	}
	if got := total(collateralSymbol); got.Cmp(collBefore) != 0 {
		t.Fatalf("collateral tokens not conserved: %s != %s", got, collBefore)
	}

	// The taker matched 900 of 1500; the unmatched 600 stays escrowed at the
	// book until cancelled.
	if got := f.book.EscrowBalance(lender, orderbook.Lend); got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("unexpected lender escrow: %s", got)
	}
}

func TestFullTermRoundTrip(t *testing.T) {
	f := newMarketFixture(t)
	lender := addr(0x01)
	borrower := addr(0x02)
	f.fund(t, lender, 1_000, 0)
	f.fund(t, borrower, 2_000, 100_000)

	if _, err := f.router.PlaceOrder(lender, big.NewInt(1_000), nil, pct(10), orderbook.Lend); err != nil {
		t.Fatalf("place lend: %v", err)
	}
	if _, err := f.router.PlaceOrder(borrower, big.NewInt(1_000), big.NewInt(100_000), pct(10), orderbook.Borrow); err != nil {
		t.Fatalf("place borrow: %v", err)
	}

	// A year passes; the borrower repays everything including interest.
	f.now += 31_536_000
	pos, err := f.pool.Position(pct(10), borrower)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	repaid, err := f.pool.Repay(borrower, pct(10), pos.BorrowShares)
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if repaid.Cmp(big.NewInt(1_100)) != 0 {
		t.Fatalf("expected 1100 repaid with interest, got %s", repaid)
	}
	if err := f.pool.WithdrawCollateral(borrower, pct(10), big.NewInt(100_000)); err != nil {
		t.Fatalf("withdraw collateral: %v", err)
	}

	// After maturity the lender redeems principal plus interest.
	f.now = maturityTS + 1
	amount, err := f.pool.Withdraw(lender, pct(10), big.NewInt(1_000))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if amount.Cmp(big.NewInt(1_100)) != 0 {
		t.Fatalf("expected 1100 redeemed, got %s", amount)
	}
	if got := f.balance(t, debtSymbol, lender); got.Cmp(big.NewInt(1_100)) != 0 {
		t.Fatalf("unexpected lender final balance: %s", got)
	}
}

func TestSetLTVRoutesThroughRouter(t *testing.T) {
	f := newMarketFixture(t)
	if err := f.router.SetLTV(new(big.Int).Mul(big.NewInt(5), big.NewInt(1e17))); err != nil {
		t.Fatalf("set ltv: %v", err)
	}
	params := f.pool.Params()
	expected := new(big.Int).Mul(big.NewInt(5), big.NewInt(1e17))
	if params.LTV.Cmp(expected) != 0 {
		t.Fatalf("unexpected ltv: %s", params.LTV)
	}
}

func TestUndercollateralizedBorrowLeavesNoPartialState(t *testing.T) {
	f := newMarketFixture(t)
	lender := addr(0x01)
	borrower := addr(0x02)
	f.fund(t, lender, 1_000, 0)
	f.fund(t, borrower, 0, 1_000)

	if _, err := f.router.PlaceOrder(lender, big.NewInt(1_000), nil, pct(5), orderbook.Lend); err != nil {
		t.Fatalf("place lend: %v", err)
	}

	// 100 collateral units at price 2.0 and 80% LTV carry only 160 debt.
	_, err := f.router.PlaceOrder(borrower, big.NewInt(1_000), big.NewInt(100), pct(5), orderbook.Borrow)
	if !errors.Is(err, lendpool.ErrHealthCheckFailed) {
		t.Fatalf("expected ErrHealthCheckFailed, got %v", err)
	}

	// The rejected order must not have touched the book, the pool, or any
	// balance: the resting lend order is intact and still OPEN.
	resting := f.book.OrdersAt(pct(5), orderbook.Lend)
	if len(resting) != 1 || resting[0].Status != orderbook.Open || resting[0].Amount.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("resting lend order disturbed: %+v", resting)
	}
	if got := f.book.EscrowBalance(lender, orderbook.Lend); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("lender escrow disturbed: %s", got)
	}
	if got := f.balance(t, collateralSymbol, borrower); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("borrower collateral moved: %s", got)
	}
	tier, err := f.pool.Tier(pct(5))
	if err != nil {
		t.Fatalf("tier: %v", err)
	}
	if tier.TotalSupplyAssets.Sign() != 0 || tier.TotalBorrowAssets.Sign() != 0 {
		t.Fatalf("pool accounting disturbed: %+v", tier)
	}
	pos, err := f.pool.Position(pct(5), borrower)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.BorrowShares.Sign() != 0 || pos.Collateral.Sign() != 0 {
		t.Fatalf("position disturbed: %+v", pos)
	}

	// With enough collateral the same order settles normally.
	if _, err := f.router.PlaceOrder(borrower, big.NewInt(1_000), big.NewInt(1_000), pct(5), orderbook.Borrow); err != nil {
		t.Fatalf("collateralized borrow: %v", err)
	}
	if got := f.balance(t, tier.BondSymbol, lender); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("expected lender bond shares after the retry, got %s", got)
	}
	if got := f.balance(t, debtSymbol, borrower); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("expected borrowed principal after the retry, got %s", got)
	}
}
