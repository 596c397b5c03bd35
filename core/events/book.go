package events

import (
	"math/big"

	"termlend/core/types"
)

const (
	TypeOrderPlaced    = "book.order_placed"
	TypeOrderMatched   = "book.order_matched"
	TypeOrderCancelled = "book.order_cancelled"
)

// OrderPlaced is emitted when a new order enters the book, whether it rests,
// fills immediately, or both.
type OrderPlaced struct {
	OrderID    uint64
	Trader     [20]byte
	Side       string
	Rate       *big.Int
	Amount     *big.Int
	Collateral *big.Int
}

func (OrderPlaced) EventType() string { return TypeOrderPlaced }

func (e OrderPlaced) Event() *types.Event {
	return &types.Event{
		Type: TypeOrderPlaced,
		Attributes: map[string]string{
			"orderId":    uintToString(e.OrderID),
			"trader":     formatAddress(e.Trader),
			"side":       e.Side,
			"rate":       formatAmount(e.Rate),
			"amount":     formatAmount(e.Amount),
			"collateral": formatAmount(e.Collateral),
		},
	}
}

// OrderMatched is emitted once per fill record produced by the matching loop.
type OrderMatched struct {
	OrderID           uint64
	Trader            [20]byte
	Side              string
	Rate              *big.Int
	MatchedAmount     *big.Int
	MatchedCollateral *big.Int
	Status            string
}

func (OrderMatched) EventType() string { return TypeOrderMatched }

func (e OrderMatched) Event() *types.Event {
	return &types.Event{
		Type: TypeOrderMatched,
		Attributes: map[string]string{
			"orderId":           uintToString(e.OrderID),
			"trader":            formatAddress(e.Trader),
			"side":              e.Side,
			"rate":              formatAmount(e.Rate),
			"matchedAmount":     formatAmount(e.MatchedAmount),
			"matchedCollateral": formatAmount(e.MatchedCollateral),
			"status":            e.Status,
		},
	}
}

// OrderCancelled is emitted when a trader withdraws a resting or partially
// filled order; the refund fields carry the escrow returned.
type OrderCancelled struct {
	OrderID          uint64
	Trader           [20]byte
	Side             string
	RefundAmount     *big.Int
	RefundCollateral *big.Int
}

func (OrderCancelled) EventType() string { return TypeOrderCancelled }

func (e OrderCancelled) Event() *types.Event {
	return &types.Event{
		Type: TypeOrderCancelled,
		Attributes: map[string]string{
			"orderId":          uintToString(e.OrderID),
			"trader":           formatAddress(e.Trader),
			"side":             e.Side,
			"refundAmount":     formatAmount(e.RefundAmount),
			"refundCollateral": formatAmount(e.RefundCollateral),
		},
	}
}
