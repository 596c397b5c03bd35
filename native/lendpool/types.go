package lendpool

import "math/big"

// Tier captures the accounting state of one rate bucket. Asset values are
// expressed as scaled big integers to keep share math exact.
type Tier struct {
	// Rate is the fixed annualized borrow rate, 1e18-scaled (1e18 == 100%).
	Rate *big.Int
	// TotalSupplyAssets is the lenders' aggregate claim including accrued
	// interest; TotalSupplyShares the bond shares issued against it.
	TotalSupplyAssets *big.Int
	TotalSupplyShares *big.Int
	// TotalBorrowAssets is the outstanding debt including accrued interest;
	// TotalBorrowShares the borrow shares issued against it.
	TotalBorrowAssets *big.Int
	TotalBorrowShares *big.Int
	// LastAccrued is the unix timestamp interest was last applied, capped at
	// the pool's maturity.
	LastAccrued uint64
	// IsActive is set exactly once on creation and never unset.
	IsActive bool
	// BondSymbol names the tier's bond token in the token ledger.
	BondSymbol string
}

// Position is a user's borrow-side record inside a tier.
type Position struct {
	BorrowShares *big.Int
	Collateral   *big.Int
}

// Params holds the pool-wide configuration shared by every tier. Only LTV is
// mutable, and only before maturity.
type Params struct {
	DebtToken          string
	CollateralToken    string
	CollateralDecimals uint8
	// Maturity is the unix timestamp at which the fixed term ends. Interest
	// never accrues past it; supply and borrow stop at it.
	Maturity      int64
	MaturityLabel string
	// LTV is the loan-to-value ratio, 1e18-scaled.
	LTV *big.Int
}
