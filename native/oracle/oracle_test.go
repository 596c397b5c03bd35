package oracle

import (
	"errors"
	"math/big"
	"testing"
	"time"
)

func addr(suffix byte) [20]byte {
	var out [20]byte
	out[19] = suffix
	return out
}

func TestPostRequiresFeeder(t *testing.T) {
	feed := NewFeed(addr(0x01), 0)
	if err := feed.Post(addr(0x02), big.NewInt(100)); !errors.Is(err, ErrNotFeeder) {
		t.Fatalf("expected ErrNotFeeder, got %v", err)
	}
	if err := feed.Post(addr(0x01), big.NewInt(100)); err != nil {
		t.Fatalf("post: %v", err)
	}
}

func TestPostRejectsNonPositivePrices(t *testing.T) {
	feed := NewFeed(addr(0x01), 0)
	for _, price := range []*big.Int{nil, big.NewInt(0), big.NewInt(-5)} {
		if err := feed.Post(addr(0x01), price); err == nil {
			t.Fatalf("price %v: expected rejection", price)
		}
	}
}

func TestPriceBeforeAnyQuote(t *testing.T) {
	feed := NewFeed(addr(0x01), 0)
	if _, err := feed.Price(); !errors.Is(err, ErrNoPrice) {
		t.Fatalf("expected ErrNoPrice, got %v", err)
	}
	if feed.Latest() != nil {
		t.Fatalf("expected nil latest quote")
	}
}

func TestPriceStaleness(t *testing.T) {
	now := int64(1_000)
	feed := NewFeed(addr(0x01), 60*time.Second)
	feed.SetNowFunc(func() int64 { return now })

	if err := feed.Post(addr(0x01), big.NewInt(2_000_000)); err != nil {
		t.Fatalf("post: %v", err)
	}
	now += 60
	price, err := feed.Price()
	if err != nil {
		t.Fatalf("price at max age: %v", err)
	}
	if price.Cmp(big.NewInt(2_000_000)) != 0 {
		t.Fatalf("unexpected price %s", price)
	}

	now += 1
	if _, err := feed.Price(); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice, got %v", err)
	}

	// A fresh post revives the feed.
	if err := feed.Post(addr(0x01), big.NewInt(2_100_000)); err != nil {
		t.Fatalf("post: %v", err)
	}
	price, err = feed.Price()
	if err != nil {
		t.Fatalf("price after repost: %v", err)
	}
	if price.Cmp(big.NewInt(2_100_000)) != 0 {
		t.Fatalf("unexpected price %s", price)
	}
}

func TestLatestReturnsCopy(t *testing.T) {
	feed := NewFeed(addr(0x01), 0)
	if err := feed.Post(addr(0x01), big.NewInt(500)); err != nil {
		t.Fatalf("post: %v", err)
	}
	quote := feed.Latest()
	quote.Price.SetInt64(999)
	price, err := feed.Price()
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if price.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("caller mutation leaked into the feed: %s", price)
	}
}
