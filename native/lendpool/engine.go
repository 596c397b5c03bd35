// Package lendpool implements the per-rate lending ledger: share-based supply
// and borrow accounting, linear interest accrual capped at maturity,
// collateral health checks, and all-or-nothing liquidation. Token custody for
// the pool lives at a single module address; lender claims are tokenized as
// per-tier bond tokens minted and burned exclusively by this engine.
package lendpool

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"termlend/core/events"
	nativecommon "termlend/native/common"
)

var (
	ErrTierExists            = errors.New("lending pool: tier already exists")
	ErrTierNotFound          = errors.New("lending pool: tier not found or inactive")
	ErrInvalidRate           = errors.New("lending pool: rate must be positive and not exactly 100%")
	ErrInvalidAmount         = errors.New("lending pool: amount must be positive")
	ErrMatured               = errors.New("lending pool: operation not allowed after maturity")
	ErrNotMatured            = errors.New("lending pool: operation not allowed before maturity")
	ErrUnauthorized          = errors.New("lending pool: caller is not the router")
	ErrInsufficientShares    = errors.New("lending pool: insufficient shares")
	ErrInsufficientFunds     = errors.New("lending pool: insufficient collateral or bond balance")
	ErrInsufficientLiquidity = errors.New("lending pool: insufficient pool liquidity")
	ErrHealthCheckFailed     = errors.New("lending pool: position would be unhealthy")
	ErrNotLiquidatable       = errors.New("lending pool: position is not liquidatable")
	ErrInvalidLTV            = errors.New("lending pool: ltv out of range")

	errNilState  = errors.New("lending pool: state not configured")
	errNilLedger = errors.New("lending pool: token ledger not configured")
	errNilOracle = errors.New("lending pool: oracle not configured")
)

const moduleName = "lendpool"

var ray = big.NewInt(1_000_000_000_000_000_000)

const secondsPerYear = 31_536_000

// engineState is the narrow persistence surface the engine mutates through.
// Absent records are reported as (nil, nil).
type engineState interface {
	TierGet(rate *big.Int) (*Tier, error)
	TierPut(tier *Tier) error
	TierRates() ([]*big.Int, error)
	PositionGet(rate *big.Int, user [20]byte) (*Position, error)
	PositionPut(rate *big.Int, user [20]byte, pos *Position) error
}

// TokenLedger is the asset-movement and bond-issuance surface.
type TokenLedger interface {
	Transfer(from, to [20]byte, symbol string, amount *big.Int) error
	Mint(caller [20]byte, symbol string, to [20]byte, amount *big.Int) error
	Burn(caller [20]byte, symbol string, from [20]byte, amount *big.Int) error
	BalanceOf(symbol string, addr [20]byte) (*big.Int, error)
	Register(symbol string, decimals uint8, minter [20]byte) error
}

// PriceSource returns the collateral price in debt units, fixed-point scaled
// to the collateral token's decimals.
type PriceSource interface {
	Price() (*big.Int, error)
}

// Engine orchestrates the state transitions of the lending pool. Every
// mutating operation serialises on one mutex (the reentrancy domain) and is
// all-or-nothing: state is staged on loaded copies and persisted only after
// the last failure point.
type Engine struct {
	mu      sync.Mutex
	state   engineState
	ledger  TokenLedger
	oracle  PriceSource
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() int64

	params     Params
	moduleAddr [20]byte
	routerAddr [20]byte
}

// NewEngine constructs a pool engine custodied at moduleAddr. The router
// address is the only caller allowed to create tiers and apply match results.
func NewEngine(params Params, moduleAddr, routerAddr [20]byte) *Engine {
	return &Engine{
		emitter:    events.NoopEmitter{},
		nowFn:      func() int64 { return time.Now().Unix() },
		params:     params,
		moduleAddr: moduleAddr,
		routerAddr: routerAddr,
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger wires the token ledger used for custody and bond issuance.
func (e *Engine) SetLedger(ledger TokenLedger) { e.ledger = ledger }

// SetOracle wires the collateral price feed.
func (e *Engine) SetOracle(oracle PriceSource) { e.oracle = oracle }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetNowFunc overrides the time source, primarily used in tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// ModuleAddress returns the custody account holding pool funds.
func (e *Engine) ModuleAddress() [20]byte { return e.moduleAddr }

// Params returns a copy of the pool configuration.
func (e *Engine) Params() Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.params
	out.LTV = new(big.Int).Set(e.params.LTV)
	return out
}

// SetLTV updates the loan-to-value ratio. Router-only, pre-maturity.
func (e *Engine) SetLTV(caller [20]byte, ltv *big.Int) error {
	if caller != e.routerAddr {
		return ErrUnauthorized
	}
	if ltv == nil || ltv.Sign() <= 0 || ltv.Cmp(ray) > 0 {
		return ErrInvalidLTV
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.nowFn() >= e.params.Maturity {
		return ErrMatured
	}
	e.params.LTV = new(big.Int).Set(ltv)
	return nil
}

// AddBorrowRate creates the tier for a rate the first time it trades.
// Router-only, pre-maturity. Zero and exactly-100% rates are rejected.
func (e *Engine) AddBorrowRate(caller [20]byte, rate *big.Int) error {
	if e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	if caller != e.routerAddr {
		return ErrUnauthorized
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if rate == nil || rate.Sign() <= 0 || rate.Cmp(ray) == 0 {
		return ErrInvalidRate
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.nowFn()
	if now >= e.params.Maturity {
		return ErrMatured
	}
	existing, err := e.state.TierGet(rate)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrTierExists
	}

	symbol := fmt.Sprintf("BOND-%s-%s", e.params.MaturityLabel, rate.String())
	if err := e.ledger.Register(symbol, 18, e.moduleAddr); err != nil {
		return err
	}
	tier := &Tier{
		Rate:              new(big.Int).Set(rate),
		TotalSupplyAssets: big.NewInt(0),
		TotalSupplyShares: big.NewInt(0),
		TotalBorrowAssets: big.NewInt(0),
		TotalBorrowShares: big.NewInt(0),
		LastAccrued:       uint64(now),
		IsActive:          true,
		BondSymbol:        symbol,
	}
	if err := e.state.TierPut(tier); err != nil {
		return err
	}
	e.emitter.Emit(events.TierCreated{Rate: new(big.Int).Set(rate), BondSymbol: symbol, CreatedAt: now})
	return nil
}

// Supply credits a lender's claim for amount of the debt asset that the
// router already settled into the pool, minting bond shares 1:1 on the first
// deposit and pro-rata (floor) afterwards. Router-only, pre-maturity.
func (e *Engine) Supply(caller [20]byte, rate *big.Int, user [20]byte, amount *big.Int) (*big.Int, error) {
	if err := e.requireRouter(caller); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.nowFn() >= e.params.Maturity {
		return nil, ErrMatured
	}
	tier, err := e.activeTier(rate)
	if err != nil {
		return nil, err
	}
	e.accrue(tier)

	shares := sharesForAmount(amount, tier.TotalSupplyShares, tier.TotalSupplyAssets)
	tier.TotalSupplyAssets = new(big.Int).Add(tier.TotalSupplyAssets, amount)
	tier.TotalSupplyShares = new(big.Int).Add(tier.TotalSupplyShares, shares)

	if err := e.ledger.Mint(e.moduleAddr, tier.BondSymbol, user, shares); err != nil {
		return nil, err
	}
	if err := e.state.TierPut(tier); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.Supplied{Rate: new(big.Int).Set(rate), User: user, Amount: new(big.Int).Set(amount), Shares: new(big.Int).Set(shares)})
	return shares, nil
}

// Borrow records a borrower's debt against their collateral and pays the
// borrowed amount out of pool liquidity. Router-only, pre-maturity; fails
// with no state change when the resulting position would be unhealthy.
func (e *Engine) Borrow(caller [20]byte, rate *big.Int, user [20]byte, amount *big.Int) (*big.Int, error) {
	if err := e.requireRouter(caller); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.nowFn() >= e.params.Maturity {
		return nil, ErrMatured
	}
	tier, err := e.activeTier(rate)
	if err != nil {
		return nil, err
	}
	e.accrue(tier)

	pos, err := e.position(rate, user)
	if err != nil {
		return nil, err
	}

	liquidity, err := e.ledger.BalanceOf(e.params.DebtToken, e.moduleAddr)
	if err != nil {
		return nil, err
	}
	if liquidity.Cmp(amount) < 0 {
		return nil, ErrInsufficientLiquidity
	}

	shares := sharesForAmount(amount, tier.TotalBorrowShares, tier.TotalBorrowAssets)
	tier.TotalBorrowAssets = new(big.Int).Add(tier.TotalBorrowAssets, amount)
	tier.TotalBorrowShares = new(big.Int).Add(tier.TotalBorrowShares, shares)
	pos.BorrowShares = new(big.Int).Add(pos.BorrowShares, shares)

	healthy, err := e.healthy(tier, pos)
	if err != nil {
		return nil, err
	}
	if !healthy {
		return nil, ErrHealthCheckFailed
	}

	if err := e.ledger.Transfer(e.moduleAddr, user, e.params.DebtToken, amount); err != nil {
		return nil, err
	}
	if err := e.state.PositionPut(rate, user, pos); err != nil {
		return nil, err
	}
	if err := e.state.TierPut(tier); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.Borrowed{Rate: new(big.Int).Set(rate), User: user, Amount: new(big.Int).Set(amount), Shares: new(big.Int).Set(shares)})
	return shares, nil
}

// CheckBorrow projects the health of user's position after taking on amount
// of new debt against extraCollateral more collateral units, without touching
// any state. The router consults it before admitting a borrow order to the
// book, so an order that could not settle never rests or matches.
func (e *Engine) CheckBorrow(rate *big.Int, user [20]byte, amount, extraCollateral *big.Int) error {
	if e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.nowFn() >= e.params.Maturity {
		return ErrMatured
	}
	tier, err := e.activeTier(rate)
	if err != nil {
		return err
	}
	// Loaded copies only; nothing below is persisted.
	e.accrue(tier)

	pos, err := e.position(rate, user)
	if err != nil {
		return err
	}
	shares := sharesForAmount(amount, tier.TotalBorrowShares, tier.TotalBorrowAssets)
	tier.TotalBorrowAssets = new(big.Int).Add(tier.TotalBorrowAssets, amount)
	tier.TotalBorrowShares = new(big.Int).Add(tier.TotalBorrowShares, shares)
	pos.BorrowShares = new(big.Int).Add(pos.BorrowShares, shares)
	if extraCollateral != nil && extraCollateral.Sign() > 0 {
		pos.Collateral = new(big.Int).Add(pos.Collateral, extraCollateral)
	}

	healthy, err := e.healthy(tier, pos)
	if err != nil {
		return err
	}
	if !healthy {
		return ErrHealthCheckFailed
	}
	return nil
}

// SupplyCollateral credits collateral the router settled into the pool to the
// user's position. Router-only, pre-maturity.
func (e *Engine) SupplyCollateral(caller [20]byte, rate *big.Int, user [20]byte, amount *big.Int) error {
	if err := e.requireRouter(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.nowFn() >= e.params.Maturity {
		return ErrMatured
	}
	tier, err := e.activeTier(rate)
	if err != nil {
		return err
	}
	e.accrue(tier)

	pos, err := e.position(rate, user)
	if err != nil {
		return err
	}
	pos.Collateral = new(big.Int).Add(pos.Collateral, amount)

	if err := e.state.PositionPut(rate, user, pos); err != nil {
		return err
	}
	if err := e.state.TierPut(tier); err != nil {
		return err
	}
	e.emitter.Emit(events.CollateralSupplied{Rate: new(big.Int).Set(rate), User: user, Amount: new(big.Int).Set(amount)})
	return nil
}

// WithdrawCollateral releases collateral back to the caller, re-checking
// health after the decrement. Allowed any time the tier is active.
func (e *Engine) WithdrawCollateral(caller [20]byte, rate *big.Int, amount *big.Int) error {
	if e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tier, err := e.activeTier(rate)
	if err != nil {
		return err
	}
	e.accrue(tier)

	pos, err := e.position(rate, caller)
	if err != nil {
		return err
	}
	if pos.Collateral.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	pos.Collateral = new(big.Int).Sub(pos.Collateral, amount)

	healthy, err := e.healthy(tier, pos)
	if err != nil {
		return err
	}
	if !healthy {
		return ErrHealthCheckFailed
	}

	if err := e.ledger.Transfer(e.moduleAddr, caller, e.params.CollateralToken, amount); err != nil {
		return err
	}
	if err := e.state.PositionPut(rate, caller, pos); err != nil {
		return err
	}
	if err := e.state.TierPut(tier); err != nil {
		return err
	}
	e.emitter.Emit(events.CollateralWithdrawn{Rate: new(big.Int).Set(rate), User: caller, Amount: new(big.Int).Set(amount)})
	return nil
}

// Repay retires borrow shares before maturity. The amount parameter is
// denominated in borrow-share units, not raw debt units; the engine converts
// and pulls the corresponding debt from the caller.
func (e *Engine) Repay(caller [20]byte, rate *big.Int, shareAmount *big.Int) (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if e.ledger == nil {
		return nil, errNilLedger
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if shareAmount == nil || shareAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.nowFn() >= e.params.Maturity {
		return nil, ErrMatured
	}
	tier, err := e.activeTier(rate)
	if err != nil {
		return nil, err
	}
	e.accrue(tier)

	pos, err := e.position(rate, caller)
	if err != nil {
		return nil, err
	}
	if pos.BorrowShares.Cmp(shareAmount) < 0 {
		return nil, ErrInsufficientShares
	}

	borrowAmount := assetsForShares(shareAmount, tier.TotalBorrowAssets, tier.TotalBorrowShares)
	pos.BorrowShares = new(big.Int).Sub(pos.BorrowShares, shareAmount)
	tier.TotalBorrowShares = new(big.Int).Sub(tier.TotalBorrowShares, shareAmount)
	tier.TotalBorrowAssets = new(big.Int).Sub(tier.TotalBorrowAssets, borrowAmount)

	if borrowAmount.Sign() > 0 {
		if err := e.ledger.Transfer(caller, e.moduleAddr, e.params.DebtToken, borrowAmount); err != nil {
			return nil, err
		}
	}
	if err := e.state.PositionPut(rate, caller, pos); err != nil {
		return nil, err
	}
	if err := e.state.TierPut(tier); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.Repaid{Rate: new(big.Int).Set(rate), User: caller, Shares: new(big.Int).Set(shareAmount), Amount: new(big.Int).Set(borrowAmount)})
	return borrowAmount, nil
}

// Withdraw redeems bond shares for the underlying debt asset plus accrued
// interest. Only after maturity; claims are illiquid until term end.
func (e *Engine) Withdraw(caller [20]byte, rate *big.Int, shares *big.Int) (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if e.ledger == nil {
		return nil, errNilLedger
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.nowFn() <= e.params.Maturity {
		return nil, ErrNotMatured
	}
	tier, err := e.activeTier(rate)
	if err != nil {
		return nil, err
	}
	e.accrue(tier)

	bondBalance, err := e.ledger.BalanceOf(tier.BondSymbol, caller)
	if err != nil {
		return nil, err
	}
	if bondBalance.Cmp(shares) < 0 {
		return nil, ErrInsufficientFunds
	}
	if tier.TotalSupplyShares.Sign() == 0 {
		return nil, ErrInsufficientShares
	}

	amount := assetsForShares(shares, tier.TotalSupplyAssets, tier.TotalSupplyShares)
	liquidity, err := e.ledger.BalanceOf(e.params.DebtToken, e.moduleAddr)
	if err != nil {
		return nil, err
	}
	if liquidity.Cmp(amount) < 0 {
		return nil, ErrInsufficientLiquidity
	}

	tier.TotalSupplyShares = new(big.Int).Sub(tier.TotalSupplyShares, shares)
	tier.TotalSupplyAssets = new(big.Int).Sub(tier.TotalSupplyAssets, amount)

	if err := e.ledger.Burn(e.moduleAddr, tier.BondSymbol, caller, shares); err != nil {
		return nil, err
	}
	if amount.Sign() > 0 {
		if err := e.ledger.Transfer(e.moduleAddr, caller, e.params.DebtToken, amount); err != nil {
			return nil, err
		}
	}
	if err := e.state.TierPut(tier); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.Withdrawn{Rate: new(big.Int).Set(rate), User: caller, Shares: new(big.Int).Set(shares), Amount: new(big.Int).Set(amount)})
	return amount, nil
}

// AccrueInterest applies linear interest up to min(now, maturity). Public and
// idempotent: anyone may force accrual before their own operation.
func (e *Engine) AccrueInterest(rate *big.Int) error {
	if e.state == nil {
		return errNilState
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tier, err := e.activeTier(rate)
	if err != nil {
		return err
	}
	interest := e.accrue(tier)
	if err := e.state.TierPut(tier); err != nil {
		return err
	}
	e.emitter.Emit(events.InterestAccrued{Rate: new(big.Int).Set(rate), Interest: interest, LastAccrued: int64(tier.LastAccrued)})
	return nil
}

// Liquidate closes a position whole: the caller repays the full debt and
// receives the entire collateral. Permitted only after maturity or while the
// position is unhealthy. Partial liquidation is not supported.
func (e *Engine) Liquidate(caller [20]byte, rate *big.Int, user [20]byte) (debt, seized *big.Int, err error) {
	if e.state == nil {
		return nil, nil, errNilState
	}
	if e.ledger == nil {
		return nil, nil, errNilLedger
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tier, err := e.activeTier(rate)
	if err != nil {
		return nil, nil, err
	}
	e.accrue(tier)

	pos, err := e.position(rate, user)
	if err != nil {
		return nil, nil, err
	}

	if e.nowFn() <= e.params.Maturity {
		healthy, err := e.healthy(tier, pos)
		if err != nil {
			return nil, nil, err
		}
		if healthy {
			return nil, nil, ErrNotLiquidatable
		}
	}

	debt = assetsForShares(pos.BorrowShares, tier.TotalBorrowAssets, tier.TotalBorrowShares)
	seized = new(big.Int).Set(pos.Collateral)

	if debt.Sign() > 0 {
		if err := e.ledger.Transfer(caller, e.moduleAddr, e.params.DebtToken, debt); err != nil {
			return nil, nil, err
		}
	}
	if seized.Sign() > 0 {
		if err := e.ledger.Transfer(e.moduleAddr, caller, e.params.CollateralToken, seized); err != nil {
			return nil, nil, err
		}
	}

	tier.TotalBorrowAssets = new(big.Int).Sub(tier.TotalBorrowAssets, debt)
	tier.TotalBorrowShares = new(big.Int).Sub(tier.TotalBorrowShares, pos.BorrowShares)
	zeroed := &Position{BorrowShares: big.NewInt(0), Collateral: big.NewInt(0)}

	if err := e.state.PositionPut(rate, user, zeroed); err != nil {
		return nil, nil, err
	}
	if err := e.state.TierPut(tier); err != nil {
		return nil, nil, err
	}
	e.emitter.Emit(events.Liquidated{
		Rate:             new(big.Int).Set(rate),
		User:             user,
		Liquidator:       caller,
		Debt:             new(big.Int).Set(debt),
		CollateralSeized: new(big.Int).Set(seized),
	})
	return debt, seized, nil
}

// Healthy reports whether the user's position currently satisfies the LTV
// constraint. No debt is trivially healthy.
func (e *Engine) Healthy(rate *big.Int, user [20]byte) (bool, error) {
	if e.state == nil {
		return false, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	tier, err := e.activeTier(rate)
	if err != nil {
		return false, err
	}
	pos, err := e.position(rate, user)
	if err != nil {
		return false, err
	}
	return e.healthy(tier, pos)
}

// Tier returns a copy of the tier state for the rate.
func (e *Engine) Tier(rate *big.Int) (*Tier, error) {
	if e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	tier, err := e.activeTier(rate)
	if err != nil {
		return nil, err
	}
	return cloneTier(tier), nil
}

// TierRates lists every created tier's rate.
func (e *Engine) TierRates() ([]*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.TierRates()
}

// Position returns a copy of the user's record inside the tier.
func (e *Engine) Position(rate *big.Int, user [20]byte) (*Position, error) {
	if e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.activeTier(rate); err != nil {
		return nil, err
	}
	pos, err := e.position(rate, user)
	if err != nil {
		return nil, err
	}
	return &Position{
		BorrowShares: new(big.Int).Set(pos.BorrowShares),
		Collateral:   new(big.Int).Set(pos.Collateral),
	}, nil
}

// --- internal helpers ---

func (e *Engine) requireRouter(caller [20]byte) error {
	if e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	if caller != e.routerAddr {
		return ErrUnauthorized
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

func (e *Engine) activeTier(rate *big.Int) (*Tier, error) {
	if rate == nil {
		return nil, ErrInvalidRate
	}
	tier, err := e.state.TierGet(rate)
	if err != nil {
		return nil, err
	}
	if tier == nil || !tier.IsActive {
		return nil, ErrTierNotFound
	}
	normalizeTier(tier)
	return tier, nil
}

func (e *Engine) position(rate *big.Int, user [20]byte) (*Position, error) {
	pos, err := e.state.PositionGet(rate, user)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		pos = &Position{}
	}
	if pos.BorrowShares == nil {
		pos.BorrowShares = big.NewInt(0)
	}
	if pos.Collateral == nil {
		pos.Collateral = big.NewInt(0)
	}
	return pos, nil
}

// accrue applies linear interest to the tier in place and returns the amount
// added to both sides. elapsed is capped at maturity so late calls never
// accrue past term end.
func (e *Engine) accrue(tier *Tier) *big.Int {
	now := e.nowFn()
	if now > e.params.Maturity {
		now = e.params.Maturity
	}
	elapsed := now - int64(tier.LastAccrued)
	if elapsed <= 0 {
		return big.NewInt(0)
	}
	// interestPerYear = totalBorrowAssets * rate / 1e18, then scaled by
	// elapsed seconds over a 365-day year. Two floor divisions, in this
	// order, to mirror the share-side rounding.
	interestPerYear := new(big.Int).Mul(tier.TotalBorrowAssets, tier.Rate)
	interestPerYear.Quo(interestPerYear, ray)
	interest := new(big.Int).Mul(interestPerYear, big.NewInt(elapsed))
	interest.Quo(interest, big.NewInt(secondsPerYear))

	if interest.Sign() > 0 {
		// The borrowers' growing liability funds the lenders' growing
		// claim exactly; nothing is minted or destroyed here.
		tier.TotalSupplyAssets = new(big.Int).Add(tier.TotalSupplyAssets, interest)
		tier.TotalBorrowAssets = new(big.Int).Add(tier.TotalBorrowAssets, interest)
	}
	tier.LastAccrued = uint64(now)
	return interest
}

// healthy evaluates the LTV constraint: borrowed value must not exceed
// collateral value discounted by the pool LTV. Zero borrow shares in the tier
// means no debt, which is trivially healthy.
func (e *Engine) healthy(tier *Tier, pos *Position) (bool, error) {
	if pos.BorrowShares.Sign() == 0 {
		return true, nil
	}
	if tier.TotalBorrowShares.Sign() == 0 {
		return true, nil
	}
	if e.oracle == nil {
		return false, errNilOracle
	}
	price, err := e.oracle.Price()
	if err != nil {
		return false, err
	}

	borrowedValue := assetsForShares(pos.BorrowShares, tier.TotalBorrowAssets, tier.TotalBorrowShares)

	collateralValue := new(big.Int).Mul(pos.Collateral, price)
	collateralValue.Quo(collateralValue, pow10(e.params.CollateralDecimals))

	maxBorrowedValue := new(big.Int).Mul(collateralValue, e.params.LTV)
	maxBorrowedValue.Quo(maxBorrowedValue, ray)

	return borrowedValue.Cmp(maxBorrowedValue) <= 0, nil
}

// sharesForAmount issues shares 1:1 when the pool side is empty and pro-rata
// floor division afterwards. Rounding dust always favours the pool.
func sharesForAmount(amount, totalShares, totalAssets *big.Int) *big.Int {
	if totalShares.Sign() == 0 {
		return new(big.Int).Set(amount)
	}
	shares := new(big.Int).Mul(amount, totalShares)
	return shares.Quo(shares, totalAssets)
}

// assetsForShares converts shares back to assets with floor division.
func assetsForShares(shares, totalAssets, totalShares *big.Int) *big.Int {
	if shares.Sign() == 0 || totalShares.Sign() == 0 {
		return big.NewInt(0)
	}
	amount := new(big.Int).Mul(shares, totalAssets)
	return amount.Quo(amount, totalShares)
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

func normalizeTier(tier *Tier) {
	if tier.Rate == nil {
		tier.Rate = big.NewInt(0)
	}
	if tier.TotalSupplyAssets == nil {
		tier.TotalSupplyAssets = big.NewInt(0)
	}
	if tier.TotalSupplyShares == nil {
		tier.TotalSupplyShares = big.NewInt(0)
	}
	if tier.TotalBorrowAssets == nil {
		tier.TotalBorrowAssets = big.NewInt(0)
	}
	if tier.TotalBorrowShares == nil {
		tier.TotalBorrowShares = big.NewInt(0)
	}
}

func cloneTier(tier *Tier) *Tier {
	return &Tier{
		Rate:              new(big.Int).Set(tier.Rate),
		TotalSupplyAssets: new(big.Int).Set(tier.TotalSupplyAssets),
		TotalSupplyShares: new(big.Int).Set(tier.TotalSupplyShares),
		TotalBorrowAssets: new(big.Int).Set(tier.TotalBorrowAssets),
		TotalBorrowShares: new(big.Int).Set(tier.TotalBorrowShares),
		LastAccrued:       tier.LastAccrued,
		IsActive:          tier.IsActive,
		BondSymbol:        tier.BondSymbol,
	}
}
