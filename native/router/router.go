// Package router glues the order book to the lending pool. Every order enters
// through the router; when the book reports fills, the router moves the
// escrowed funds to the pool's custody account and mirrors the economic effect
// into the pool ledger so that matched lenders hold bond shares and matched
// borrowers hold debt against their collateral.
package router

import (
	"errors"
	"math/big"
	"sync"

	"termlend/native/lendpool"
	"termlend/native/orderbook"
)

var (
	errNilBook = errors.New("router: order book not configured")
	errNilPool = errors.New("router: lending pool not configured")
)

// PlaceResult reports the outcome of a routed order: the order id assigned by
// the book and the fills produced by the call, already settled into the pool.
type PlaceResult struct {
	OrderID     uint64
	LendFills   []orderbook.FillRecord
	BorrowFills []orderbook.FillRecord
}

// Router orchestrates placement and settlement. It is the book's sole
// TransferFrom caller and the pool's sole supply/borrow driver, so every
// matched token passes through exactly one path.
type Router struct {
	mu   sync.Mutex
	addr [20]byte
	book *orderbook.Book
	pool *lendpool.Engine
}

// New creates a router acting under addr. The same address must be configured
// as the router on both the book and the pool.
func New(addr [20]byte) *Router {
	return &Router{addr: addr}
}

func (r *Router) SetBook(book *orderbook.Book) { r.book = book }

func (r *Router) SetPool(pool *lendpool.Engine) { r.pool = pool }

// Address returns the account the router acts under.
func (r *Router) Address() [20]byte { return r.addr }

// PlaceOrder routes an order into the book and settles every resulting fill.
// The tier for the rate is created lazily the first time the rate trades.
//
// Settlement per lend fill: the lender's escrowed debt tokens move to the
// pool and the lender is credited bond shares for the matched amount.
// Settlement per borrow fill: the borrower's escrowed collateral moves to the
// pool, is posted against the position, and the matched principal is borrowed
// out to the borrower. The per-call lend and borrow matched totals are equal,
// so the pool's liquidity is conserved across the call.
func (r *Router) PlaceOrder(trader [20]byte, amount, collateralAmount, rate *big.Int, side orderbook.Side) (*PlaceResult, error) {
	if r.book == nil {
		return nil, errNilBook
	}
	if r.pool == nil {
		return nil, errNilPool
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureTier(rate); err != nil {
		return nil, err
	}

	// A borrow order whose collateral cannot carry the debt at the current
	// price would pass through the book and then fail the pool's health gate
	// mid-settlement, stranding the already-committed fills. Reject it here,
	// before any state moves. Malformed collateral falls through so the book
	// reports it.
	if side == orderbook.Borrow && collateralAmount != nil && collateralAmount.Sign() > 0 {
		if err := r.pool.CheckBorrow(rate, trader, amount, collateralAmount); err != nil {
			return nil, err
		}
	}

	lendFills, borrowFills, err := r.book.PlaceOrder(trader, amount, collateralAmount, rate, side)
	if err != nil {
		return nil, err
	}

	poolAddr := r.pool.ModuleAddress()
	for _, f := range lendFills {
		if err := r.book.TransferFrom(r.addr, f.Trader, poolAddr, f.MatchedAmount, orderbook.Lend); err != nil {
			return nil, err
		}
		if _, err := r.pool.Supply(r.addr, rate, f.Trader, f.MatchedAmount); err != nil {
			return nil, err
		}
	}
	for _, f := range borrowFills {
		if err := r.book.TransferFrom(r.addr, f.Trader, poolAddr, f.MatchedCollateral, orderbook.Borrow); err != nil {
			return nil, err
		}
		if err := r.pool.SupplyCollateral(r.addr, rate, f.Trader, f.MatchedCollateral); err != nil {
			return nil, err
		}
		if _, err := r.pool.Borrow(r.addr, rate, f.Trader, f.MatchedAmount); err != nil {
			return nil, err
		}
	}

	result := &PlaceResult{LendFills: lendFills, BorrowFills: borrowFills}
	for _, f := range lendFills {
		if f.Trader == trader {
			result.OrderID = f.OrderID
		}
	}
	for _, f := range borrowFills {
		if f.Trader == trader {
			result.OrderID = f.OrderID
		}
	}
	if result.OrderID == 0 {
		// No fill touched the taker, so its id is the latest one issued.
		orders := r.book.TraderOrders(trader)
		if len(orders) > 0 {
			result.OrderID = orders[len(orders)-1].ID
		}
	}
	return result, nil
}

// SetLTV forwards a loan-to-value update to the pool under the router's
// authority.
func (r *Router) SetLTV(ltv *big.Int) error {
	if r.pool == nil {
		return errNilPool
	}
	return r.pool.SetLTV(r.addr, ltv)
}

func (r *Router) ensureTier(rate *big.Int) error {
	tier, err := r.pool.Tier(rate)
	if err != nil && !errors.Is(err, lendpool.ErrTierNotFound) {
		return err
	}
	if tier != nil {
		return nil
	}
	if err := r.pool.AddBorrowRate(r.addr, rate); err != nil && !errors.Is(err, lendpool.ErrTierExists) {
		return err
	}
	return nil
}
