package orderbook

import "math/big"

// Side distinguishes the two legs of the fixed-rate market.
type Side uint8

const (
	Lend Side = iota
	Borrow
)

func (s Side) String() string {
	switch s {
	case Lend:
		return "LEND"
	case Borrow:
		return "BORROW"
	}
	return "UNKNOWN"
}

// Opposite returns the side a taker matches against.
func (s Side) Opposite() Side {
	if s == Lend {
		return Borrow
	}
	return Lend
}

// Status tracks the lifecycle of an order. The progression is
// OPEN -> PARTIALLY_FILLED -> FILLED and never reverses; OPEN and
// PARTIALLY_FILLED orders may instead move to CANCELLED. EXPIRED exists for
// wire compatibility but is never produced.
type Status uint8

const (
	Open Status = iota
	PartiallyFilled
	Filled
	Cancelled
	Expired
)

func (s Status) String() string {
	switch s {
	case Open:
		return "OPEN"
	case PartiallyFilled:
		return "PARTIALLY_FILLED"
	case Filled:
		return "FILLED"
	case Cancelled:
		return "CANCELLED"
	case Expired:
		return "EXPIRED"
	}
	return "UNKNOWN"
}

// Order is a resting or historical order. Amount holds the remaining
// principal; CollateralAmount the remaining collateral (zero for LEND
// orders), reduced proportionally as a BORROW order fills. The same *Order is
// referenced by the rate queue and the trader history, so a mutation in the
// matching loop is visible through both.
type Order struct {
	ID               uint64
	Trader           [20]byte
	Side             Side
	Amount           *big.Int
	CollateralAmount *big.Int
	Rate             *big.Int
	Status           Status
	CreatedAt        int64
}

// Clone returns a detached copy safe to hand to callers.
func (o *Order) Clone() Order {
	out := Order{
		ID:        o.ID,
		Trader:    o.Trader,
		Side:      o.Side,
		Status:    o.Status,
		CreatedAt: o.CreatedAt,
	}
	if o.Amount != nil {
		out.Amount = new(big.Int).Set(o.Amount)
	}
	if o.CollateralAmount != nil {
		out.CollateralAmount = new(big.Int).Set(o.CollateralAmount)
	}
	if o.Rate != nil {
		out.Rate = new(big.Int).Set(o.Rate)
	}
	return out
}

// FillRecord describes one side's economic effect of a match. The router
// consumes these to settle escrowed tokens and drive the pool ledger.
type FillRecord struct {
	OrderID           uint64
	Trader            [20]byte
	MatchedAmount     *big.Int
	MatchedCollateral *big.Int
	Side              Side
	Status            Status
}
