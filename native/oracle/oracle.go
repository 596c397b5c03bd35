// Package oracle provides the collateral price feed consumed by the lending
// pool's health checks. It is a push oracle: an authorised feeder posts
// quotes, the pool reads the latest one.
package oracle

import (
	"errors"
	"math/big"
	"sync"
	"time"
)

var (
	ErrNoPrice      = errors.New("oracle: no price posted")
	ErrStalePrice   = errors.New("oracle: price is stale")
	ErrNotFeeder    = errors.New("oracle: caller is not an authorised feeder")
	errInvalidPrice = errors.New("oracle: price must be positive")
)

// Quote is a posted price observation.
type Quote struct {
	Price     *big.Int
	Timestamp int64
}

// Feed holds the latest quote for a single asset pair. Price values are
// fixed-point integers scaled to the collateral token's decimals.
type Feed struct {
	mu     sync.RWMutex
	feeder [20]byte
	maxAge time.Duration
	quote  *Quote
	nowFn  func() int64
}

// NewFeed creates a feed accepting quotes from the given feeder. A zero
// maxAge disables staleness checks.
func NewFeed(feeder [20]byte, maxAge time.Duration) *Feed {
	return &Feed{
		feeder: feeder,
		maxAge: maxAge,
		nowFn:  func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the time source, primarily used in tests.
func (f *Feed) SetNowFunc(now func() int64) {
	if now == nil {
		f.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	f.nowFn = now
}

// Post records a new quote from the feeder.
func (f *Feed) Post(caller [20]byte, price *big.Int) error {
	if caller != f.feeder {
		return ErrNotFeeder
	}
	if price == nil || price.Sign() <= 0 {
		return errInvalidPrice
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quote = &Quote{Price: new(big.Int).Set(price), Timestamp: f.nowFn()}
	return nil
}

// Price returns the latest posted price.
func (f *Feed) Price() (*big.Int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.quote == nil {
		return nil, ErrNoPrice
	}
	if f.maxAge > 0 {
		age := f.nowFn() - f.quote.Timestamp
		if age > int64(f.maxAge/time.Second) {
			return nil, ErrStalePrice
		}
	}
	return new(big.Int).Set(f.quote.Price), nil
}

// Latest returns the full quote, nil when nothing has been posted.
func (f *Feed) Latest() *Quote {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.quote == nil {
		return nil
	}
	return &Quote{Price: new(big.Int).Set(f.quote.Price), Timestamp: f.quote.Timestamp}
}
