// Package orderbook implements the fixed-rate central limit order book. Lend
// and borrow orders meet in per-rate FIFO queues; matching never crosses rate
// buckets. The book escrows principal (LEND) or collateral (BORROW) on
// placement and reports fills to the router, which settles tokens and applies
// the pool-side effects.
package orderbook

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"termlend/core/events"
	nativecommon "termlend/native/common"
)

var (
	ErrOrderNotFound       = errors.New("order book: order not found or not cancellable")
	ErrInsufficientBalance = errors.New("order book: insufficient escrow balance")
	ErrUnauthorized        = errors.New("order book: caller is not the router")
	ErrInvalidAmount       = errors.New("order book: amount must be positive")
	ErrInvalidCollateral   = errors.New("order book: collateral must be positive for borrow orders")
	ErrInvalidRate         = errors.New("order book: rate must be a positive tick multiple below the maximum")
	ErrReservedAddress     = errors.New("order book: module accounts cannot trade")

	errNilLedger = errors.New("order book: token ledger not configured")
)

const moduleName = "orderbook"

// TokenLedger is the asset-transfer surface the book escrows through. A
// failed transfer aborts the enclosing operation with no state change.
type TokenLedger interface {
	Transfer(from, to [20]byte, symbol string, amount *big.Int) error
	BalanceOf(symbol string, addr [20]byte) (*big.Int, error)
}

// Params fixes the book's rate domain and asset bindings.
type Params struct {
	// DebtToken is escrowed by LEND orders, CollateralToken by BORROW orders.
	DebtToken       string
	CollateralToken string
	// RateTick quantises the rate domain; every order rate must be a
	// positive multiple of it strictly below MaxRate. Rates are 1e18-scaled
	// (1e18 == 100%).
	RateTick *big.Int
	MaxRate  *big.Int
}

// Book is the matching engine. All mutating operations serialise on a single
// mutex, which doubles as the reentrancy guard: an operation can never
// re-enter the book while another is in flight.
type Book struct {
	mu      sync.Mutex
	ledger  TokenLedger
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() int64

	params     Params
	moduleAddr [20]byte
	routerAddr [20]byte

	nextID       uint64
	orders       map[uint64]*Order
	lendQueues   map[string][]*Order
	borrowQueues map[string][]*Order
	traderOrders map[[20]byte][]*Order

	escrowDebt       map[[20]byte]*big.Int
	escrowCollateral map[[20]byte]*big.Int

	// bestLendRate caches the minimum rate bucket holding at least one OPEN
	// lend order; params.MaxRate is the empty-book sentinel.
	bestLendRate *big.Int
}

// NewBook constructs an empty book custodied at moduleAddr. The router
// address is the only caller allowed to settle escrow between traders.
func NewBook(params Params, moduleAddr, routerAddr [20]byte) *Book {
	return &Book{
		emitter:          events.NoopEmitter{},
		nowFn:            func() int64 { return time.Now().Unix() },
		params:           params,
		moduleAddr:       moduleAddr,
		routerAddr:       routerAddr,
		orders:           make(map[uint64]*Order),
		lendQueues:       make(map[string][]*Order),
		borrowQueues:     make(map[string][]*Order),
		traderOrders:     make(map[[20]byte][]*Order),
		escrowDebt:       make(map[[20]byte]*big.Int),
		escrowCollateral: make(map[[20]byte]*big.Int),
		bestLendRate:     new(big.Int).Set(params.MaxRate),
	}
}

// SetLedger wires the token ledger used for escrow custody.
func (b *Book) SetLedger(ledger TokenLedger) { b.ledger = ledger }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (b *Book) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		b.emitter = events.NoopEmitter{}
		return
	}
	b.emitter = emitter
}

func (b *Book) SetPauses(p nativecommon.PauseView) { b.pauses = p }

// SetNowFunc overrides the time source, primarily used in tests.
func (b *Book) SetNowFunc(now func() int64) {
	if now == nil {
		b.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	b.nowFn = now
}

// ModuleAddress returns the custody account holding escrowed tokens.
func (b *Book) ModuleAddress() [20]byte { return b.moduleAddr }

func (b *Book) validRate(rate *big.Int) bool {
	if rate == nil || rate.Sign() <= 0 {
		return false
	}
	if rate.Cmp(b.params.MaxRate) >= 0 {
		return false
	}
	rem := new(big.Int).Mod(rate, b.params.RateTick)
	return rem.Sign() == 0
}

func (b *Book) queue(side Side, rateKey string) []*Order {
	if side == Lend {
		return b.lendQueues[rateKey]
	}
	return b.borrowQueues[rateKey]
}

func (b *Book) setQueue(side Side, rateKey string, q []*Order) {
	if side == Lend {
		if len(q) == 0 {
			delete(b.lendQueues, rateKey)
			return
		}
		b.lendQueues[rateKey] = q
	} else {
		if len(q) == 0 {
			delete(b.borrowQueues, rateKey)
			return
		}
		b.borrowQueues[rateKey] = q
	}
}

// swapRemove drops index i without preserving order among the survivors.
func swapRemove(q []*Order, i int) []*Order {
	last := len(q) - 1
	q[i] = q[last]
	q[last] = nil
	return q[:last]
}

func (b *Book) escrowFor(side Side) map[[20]byte]*big.Int {
	if side == Lend {
		return b.escrowDebt
	}
	return b.escrowCollateral
}

func (b *Book) tokenFor(side Side) string {
	if side == Lend {
		return b.params.DebtToken
	}
	return b.params.CollateralToken
}

func (b *Book) creditEscrow(side Side, trader [20]byte, amount *big.Int) {
	escrow := b.escrowFor(side)
	bal, ok := escrow[trader]
	if !ok {
		bal = big.NewInt(0)
	}
	escrow[trader] = new(big.Int).Add(bal, amount)
}

func (b *Book) debitEscrow(side Side, trader [20]byte, amount *big.Int) error {
	escrow := b.escrowFor(side)
	bal, ok := escrow[trader]
	if !ok || bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	escrow[trader] = new(big.Int).Sub(bal, amount)
	return nil
}

// PlaceOrder escrows the order's funding, matches it against the opposite
// queue at the exact same rate, and rests any untouched remainder. The
// returned slices partition every fill produced by the call into lend-side
// and borrow-side records; the caller (the router) settles them.
func (b *Book) PlaceOrder(trader [20]byte, amount, collateralAmount, rate *big.Int, side Side) (lendFills, borrowFills []FillRecord, err error) {
	if b.ledger == nil {
		return nil, nil, errNilLedger
	}
	if err := nativecommon.Guard(b.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	if !b.validRate(rate) {
		return nil, nil, ErrInvalidRate
	}
	if side == Borrow && (collateralAmount == nil || collateralAmount.Sign() <= 0) {
		return nil, nil, ErrInvalidCollateral
	}
	// The custody and router accounts are not traders. An order in the
	// custody account's name would fund itself out of the pooled escrow it
	// holds for everyone else.
	if trader == b.moduleAddr || trader == b.routerAddr {
		return nil, nil, ErrReservedAddress
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Fund the order before matching; a failed transfer creates nothing.
	funding := amount
	if side == Borrow {
		funding = collateralAmount
	}
	if err := b.ledger.Transfer(trader, b.moduleAddr, b.tokenFor(side), funding); err != nil {
		return nil, nil, err
	}
	b.creditEscrow(side, trader, funding)

	b.nextID++
	taker := &Order{
		ID:               b.nextID,
		Trader:           trader,
		Side:             side,
		Amount:           new(big.Int).Set(amount),
		CollateralAmount: big.NewInt(0),
		Rate:             new(big.Int).Set(rate),
		Status:           Open,
		CreatedAt:        b.nowFn(),
	}
	if side == Borrow {
		taker.CollateralAmount = new(big.Int).Set(collateralAmount)
	}
	b.orders[taker.ID] = taker
	b.traderOrders[trader] = append(b.traderOrders[trader], taker)

	fills := b.match(taker)

	rateKey := rate.String()
	if taker.Status == Open && taker.Amount.Sign() > 0 {
		b.setQueue(side, rateKey, append(b.queue(side, rateKey), taker))
		if side == Lend && rate.Cmp(b.bestLendRate) < 0 {
			b.bestLendRate = new(big.Int).Set(rate)
		}
	}

	// Matching may have consumed the last OPEN lend order at the cached
	// best rate; refresh so the cache always equals the true minimum.
	b.refreshBestLend()

	b.emitter.Emit(events.OrderPlaced{
		OrderID:    taker.ID,
		Trader:     trader,
		Side:       side.String(),
		Rate:       new(big.Int).Set(rate),
		Amount:     new(big.Int).Set(amount),
		Collateral: new(big.Int).Set(funding),
	})
	for _, f := range fills {
		b.emitter.Emit(events.OrderMatched{
			OrderID:           f.OrderID,
			Trader:            f.Trader,
			Side:              f.Side.String(),
			Rate:              new(big.Int).Set(rate),
			MatchedAmount:     new(big.Int).Set(f.MatchedAmount),
			MatchedCollateral: new(big.Int).Set(f.MatchedCollateral),
			Status:            f.Status.String(),
		})
	}

	for _, f := range fills {
		if f.Side == Lend {
			lendFills = append(lendFills, f)
		} else {
			borrowFills = append(borrowFills, f)
		}
	}
	return lendFills, borrowFills, nil
}

// match walks the opposite queue at the taker's rate. Makers smaller than the
// taker's remainder are consumed whole and swap-removed; the first maker
// larger than the remainder is partially consumed and ends the loop.
func (b *Book) match(taker *Order) []FillRecord {
	rateKey := taker.Rate.String()
	oppSide := taker.Side.Opposite()
	q := b.queue(oppSide, rateKey)

	var fills []FillRecord
	matched := big.NewInt(0)
	matchedColl := big.NewInt(0)

	i := 0
	for i < len(q) && taker.Amount.Sign() > 0 {
		maker := q[i]
		if maker.Status == Filled || maker.Status == Cancelled || maker.Trader == taker.Trader {
			i++
			continue
		}

		takerBefore := new(big.Int).Set(taker.Amount)
		var fill *big.Int
		var makerColl *big.Int

		if maker.Amount.Cmp(taker.Amount) <= 0 {
			// Maker fully consumed.
			fill = new(big.Int).Set(maker.Amount)
			makerColl = new(big.Int).Set(maker.CollateralAmount)
			maker.Amount = big.NewInt(0)
			maker.CollateralAmount = big.NewInt(0)
			maker.Status = Filled
			q = swapRemove(q, i)
		} else {
			// Maker outlasts the taker; consume the taker's remainder.
			fill = new(big.Int).Set(taker.Amount)
			makerColl = proportionalCollateral(maker.CollateralAmount, fill, maker.Amount)
			maker.Amount = new(big.Int).Sub(maker.Amount, fill)
			maker.CollateralAmount = new(big.Int).Sub(maker.CollateralAmount, makerColl)
			maker.Status = PartiallyFilled
			i++
		}

		takerColl := proportionalCollateral(taker.CollateralAmount, fill, takerBefore)
		taker.Amount = new(big.Int).Sub(taker.Amount, fill)
		taker.CollateralAmount = new(big.Int).Sub(taker.CollateralAmount, takerColl)
		if taker.Amount.Sign() == 0 {
			taker.Status = Filled
		} else {
			taker.Status = PartiallyFilled
		}

		matched.Add(matched, fill)
		matchedColl.Add(matchedColl, takerColl)

		fills = append(fills, FillRecord{
			OrderID:           maker.ID,
			Trader:            maker.Trader,
			MatchedAmount:     fill,
			MatchedCollateral: makerColl,
			Side:              maker.Side,
			Status:            maker.Status,
		})

		if taker.Amount.Sign() == 0 {
			break
		}
	}
	b.setQueue(oppSide, rateKey, q)

	if matched.Sign() > 0 {
		fills = append(fills, FillRecord{
			OrderID:           taker.ID,
			Trader:            taker.Trader,
			MatchedAmount:     matched,
			MatchedCollateral: matchedColl,
			Side:              taker.Side,
			Status:            taker.Status,
		})
	}
	return fills
}

// proportionalCollateral reduces collateral by the matched fraction of the
// remaining amount, preserving the order's collateral-to-debt ratio. Floor
// division: dust stays with the order, never with the counterparty.
func proportionalCollateral(collateralRemaining, matched, amountBefore *big.Int) *big.Int {
	if collateralRemaining == nil || collateralRemaining.Sign() == 0 || amountBefore.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(collateralRemaining, matched)
	return out.Quo(out, amountBefore)
}

// CancelOrder withdraws an OPEN or PARTIALLY_FILLED order owned by trader and
// refunds exactly the remaining escrowed amount or collateral.
func (b *Book) CancelOrder(trader [20]byte, orderID uint64) error {
	if b.ledger == nil {
		return errNilLedger
	}
	if err := nativecommon.Guard(b.pauses, moduleName); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[orderID]
	if !ok || order.Trader != trader {
		return ErrOrderNotFound
	}
	if order.Status != Open && order.Status != PartiallyFilled {
		return ErrOrderNotFound
	}

	refund := order.Amount
	if order.Side == Borrow {
		refund = order.CollateralAmount
	}
	if refund.Sign() > 0 {
		if err := b.debitEscrow(order.Side, trader, refund); err != nil {
			return err
		}
		if err := b.ledger.Transfer(b.moduleAddr, trader, b.tokenFor(order.Side), refund); err != nil {
			// Undo the escrow debit so a ledger fault leaves no change.
			b.creditEscrow(order.Side, trader, refund)
			return err
		}
	}

	wasOpen := order.Status == Open
	order.Status = Cancelled
	rateKey := order.Rate.String()
	q := b.queue(order.Side, rateKey)
	for i, o := range q {
		if o.ID == orderID {
			q = swapRemove(q, i)
			break
		}
	}
	b.setQueue(order.Side, rateKey, q)

	// Losing the last OPEN lend order at the cached best rate forces the
	// linear rescan over the quantised rate domain.
	if order.Side == Lend && wasOpen && order.Rate.Cmp(b.bestLendRate) == 0 {
		b.rescanBestLend()
	}

	refundAmount, refundCollateral := refund, big.NewInt(0)
	if order.Side == Borrow {
		refundAmount, refundCollateral = big.NewInt(0), refund
	}
	b.emitter.Emit(events.OrderCancelled{
		OrderID:          order.ID,
		Trader:           trader,
		Side:             order.Side.String(),
		RefundAmount:     refundAmount,
		RefundCollateral: refundCollateral,
	})
	return nil
}

// TransferFrom settles already-escrowed balance from one trader's escrow to
// another account's external balance. Restricted to the router.
func (b *Book) TransferFrom(caller, from, to [20]byte, amount *big.Int, side Side) error {
	if b.ledger == nil {
		return errNilLedger
	}
	if caller != b.routerAddr {
		return ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.debitEscrow(side, from, amount); err != nil {
		return err
	}
	if err := b.ledger.Transfer(b.moduleAddr, to, b.tokenFor(side), amount); err != nil {
		b.creditEscrow(side, from, amount)
		return err
	}
	return nil
}

// refreshBestLend rescans only when the cached bucket no longer holds an OPEN
// lend order. The sentinel needs no rescan: resting a lend order always lowers
// the cache below it, so a sentinel cache means the book holds no OPEN lend
// order anywhere.
func (b *Book) refreshBestLend() {
	if b.bestLendRate.Cmp(b.params.MaxRate) == 0 {
		return
	}
	if !b.hasOpenLend(b.bestLendRate.String()) {
		b.rescanBestLend()
	}
}

// rescanBestLend walks the quantised rate domain from the minimum tick upward
// and records the first bucket with an OPEN lend order. The domain is bounded
// and coarse, so the linear walk is deliberate.
func (b *Book) rescanBestLend() {
	for rate := new(big.Int).Set(b.params.RateTick); rate.Cmp(b.params.MaxRate) < 0; rate.Add(rate, b.params.RateTick) {
		if b.hasOpenLend(rate.String()) {
			b.bestLendRate = new(big.Int).Set(rate)
			return
		}
	}
	b.bestLendRate = new(big.Int).Set(b.params.MaxRate)
}

func (b *Book) hasOpenLend(rateKey string) bool {
	for _, o := range b.lendQueues[rateKey] {
		if o.Status == Open {
			return true
		}
	}
	return false
}

// BestLendRate returns the cached minimum OPEN lend rate, or the MaxRate
// sentinel when the book holds no resting lend liquidity.
func (b *Book) BestLendRate() *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.bestLendRate)
}

// Order returns a copy of the order with the given id.
func (b *Book) Order(orderID uint64) (Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.orders[orderID]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return order.Clone(), nil
}

// TraderOrders returns copies of every order the trader ever placed, in
// placement order.
func (b *Book) TraderOrders(trader [20]byte) []Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	history := b.traderOrders[trader]
	out := make([]Order, 0, len(history))
	for _, o := range history {
		out = append(out, o.Clone())
	}
	return out
}

// OrdersAt returns copies of the active queue at (rate, side).
func (b *Book) OrdersAt(rate *big.Int, side Side) []Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(side, rate.String())
	out := make([]Order, 0, len(q))
	for _, o := range q {
		out = append(out, o.Clone())
	}
	return out
}

// EscrowBalance reports the trader's custody balance for the side's asset
// class.
func (b *Book) EscrowBalance(trader [20]byte, side Side) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal, ok := b.escrowFor(side)[trader]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(bal)
}
