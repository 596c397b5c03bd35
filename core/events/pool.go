package events

import (
	"math/big"

	"termlend/core/types"
)

const (
	TypeTierCreated         = "pool.tier_created"
	TypeSupplied            = "pool.supplied"
	TypeWithdrawn           = "pool.withdrawn"
	TypeBorrowed            = "pool.borrowed"
	TypeRepaid              = "pool.repaid"
	TypeCollateralSupplied  = "pool.collateral_supplied"
	TypeCollateralWithdrawn = "pool.collateral_withdrawn"
	TypeInterestAccrued     = "pool.interest_accrued"
	TypeLiquidated          = "pool.liquidated"
)

type TierCreated struct {
	Rate       *big.Int
	BondSymbol string
	CreatedAt  int64
}

func (TierCreated) EventType() string { return TypeTierCreated }

func (e TierCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeTierCreated,
		Attributes: map[string]string{
			"rate":       formatAmount(e.Rate),
			"bondSymbol": e.BondSymbol,
			"createdAt":  intToString(e.CreatedAt),
		},
	}
}

type Supplied struct {
	Rate   *big.Int
	User   [20]byte
	Amount *big.Int
	Shares *big.Int
}

func (Supplied) EventType() string { return TypeSupplied }

func (e Supplied) Event() *types.Event {
	return &types.Event{
		Type: TypeSupplied,
		Attributes: map[string]string{
			"rate":   formatAmount(e.Rate),
			"user":   formatAddress(e.User),
			"amount": formatAmount(e.Amount),
			"shares": formatAmount(e.Shares),
		},
	}
}

type Withdrawn struct {
	Rate   *big.Int
	User   [20]byte
	Shares *big.Int
	Amount *big.Int
}

func (Withdrawn) EventType() string { return TypeWithdrawn }

func (e Withdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeWithdrawn,
		Attributes: map[string]string{
			"rate":   formatAmount(e.Rate),
			"user":   formatAddress(e.User),
			"shares": formatAmount(e.Shares),
			"amount": formatAmount(e.Amount),
		},
	}
}

type Borrowed struct {
	Rate   *big.Int
	User   [20]byte
	Amount *big.Int
	Shares *big.Int
}

func (Borrowed) EventType() string { return TypeBorrowed }

func (e Borrowed) Event() *types.Event {
	return &types.Event{
		Type: TypeBorrowed,
		Attributes: map[string]string{
			"rate":   formatAmount(e.Rate),
			"user":   formatAddress(e.User),
			"amount": formatAmount(e.Amount),
			"shares": formatAmount(e.Shares),
		},
	}
}

type Repaid struct {
	Rate   *big.Int
	User   [20]byte
	Shares *big.Int
	Amount *big.Int
}

func (Repaid) EventType() string { return TypeRepaid }

func (e Repaid) Event() *types.Event {
	return &types.Event{
		Type: TypeRepaid,
		Attributes: map[string]string{
			"rate":   formatAmount(e.Rate),
			"user":   formatAddress(e.User),
			"shares": formatAmount(e.Shares),
			"amount": formatAmount(e.Amount),
		},
	}
}

type CollateralSupplied struct {
	Rate   *big.Int
	User   [20]byte
	Amount *big.Int
}

func (CollateralSupplied) EventType() string { return TypeCollateralSupplied }

func (e CollateralSupplied) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralSupplied,
		Attributes: map[string]string{
			"rate":   formatAmount(e.Rate),
			"user":   formatAddress(e.User),
			"amount": formatAmount(e.Amount),
		},
	}
}

type CollateralWithdrawn struct {
	Rate   *big.Int
	User   [20]byte
	Amount *big.Int
}

func (CollateralWithdrawn) EventType() string { return TypeCollateralWithdrawn }

func (e CollateralWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralWithdrawn,
		Attributes: map[string]string{
			"rate":   formatAmount(e.Rate),
			"user":   formatAddress(e.User),
			"amount": formatAmount(e.Amount),
		},
	}
}

type InterestAccrued struct {
	Rate        *big.Int
	Interest    *big.Int
	LastAccrued int64
}

func (InterestAccrued) EventType() string { return TypeInterestAccrued }

func (e InterestAccrued) Event() *types.Event {
	return &types.Event{
		Type: TypeInterestAccrued,
		Attributes: map[string]string{
			"rate":        formatAmount(e.Rate),
			"interest":    formatAmount(e.Interest),
			"lastAccrued": intToString(e.LastAccrued),
		},
	}
}

type Liquidated struct {
	Rate             *big.Int
	User             [20]byte
	Liquidator       [20]byte
	Debt             *big.Int
	CollateralSeized *big.Int
}

func (Liquidated) EventType() string { return TypeLiquidated }

func (e Liquidated) Event() *types.Event {
	return &types.Event{
		Type: TypeLiquidated,
		Attributes: map[string]string{
			"rate":             formatAmount(e.Rate),
			"user":             formatAddress(e.User),
			"liquidator":       formatAddress(e.Liquidator),
			"debt":             formatAmount(e.Debt),
			"collateralSeized": formatAmount(e.CollateralSeized),
		},
	}
}
