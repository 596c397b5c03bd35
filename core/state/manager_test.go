package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"termlend/native/lendpool"
	"termlend/native/token"
	"termlend/storage"
)

func testAddr(suffix byte) [20]byte {
	var out [20]byte
	out[19] = suffix
	return out
}

func TestTokenInfoRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())

	info, err := m.TokenInfo("TUSD")
	require.NoError(t, err)
	require.Nil(t, info)

	minter := testAddr(0x01)
	require.NoError(t, m.PutTokenInfo("TUSD", &token.Info{Symbol: "TUSD", Decimals: 18, Minter: minter}))

	info, err = m.TokenInfo("TUSD")
	require.NoError(t, err)
	require.NotNil(t, info)
	require.Equal(t, "TUSD", info.Symbol)
	require.Equal(t, uint8(18), info.Decimals)
	require.Equal(t, minter, info.Minter)
}

func TestTokenBalanceRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	user := testAddr(0x02)

	bal, err := m.TokenBalance("TUSD", user)
	require.NoError(t, err)
	require.Nil(t, bal)

	require.NoError(t, m.SetTokenBalance("TUSD", user, big.NewInt(12_345)))
	bal, err = m.TokenBalance("TUSD", user)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(12_345), bal)

	// Balances are keyed per symbol and per address.
	other, err := m.TokenBalance("TETH", user)
	require.NoError(t, err)
	require.Nil(t, other)
	other, err = m.TokenBalance("TUSD", testAddr(0x03))
	require.NoError(t, err)
	require.Nil(t, other)

	require.NoError(t, m.SetTokenBalance("TUSD", user, nil))
	bal, err = m.TokenBalance("TUSD", user)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(0), bal)
}

func TestTierRoundTripAndIndex(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	rate := big.NewInt(5e16)

	tier, err := m.TierGet(rate)
	require.NoError(t, err)
	require.Nil(t, tier)

	rates, err := m.TierRates()
	require.NoError(t, err)
	require.Empty(t, rates)

	stored := &lendpool.Tier{
		Rate:              rate,
		TotalSupplyAssets: big.NewInt(1_000),
		TotalSupplyShares: big.NewInt(900),
		TotalBorrowAssets: big.NewInt(400),
		TotalBorrowShares: big.NewInt(380),
		LastAccrued:       1_700_000_000,
		IsActive:          true,
		BondSymbol:        "BOND-DEC2026-" + rate.String(),
	}
	require.NoError(t, m.TierPut(stored))

	tier, err = m.TierGet(rate)
	require.NoError(t, err)
	require.NotNil(t, tier)
	require.Equal(t, stored.Rate, tier.Rate)
	require.Equal(t, stored.TotalSupplyAssets, tier.TotalSupplyAssets)
	require.Equal(t, stored.TotalSupplyShares, tier.TotalSupplyShares)
	require.Equal(t, stored.TotalBorrowAssets, tier.TotalBorrowAssets)
	require.Equal(t, stored.TotalBorrowShares, tier.TotalBorrowShares)
	require.Equal(t, stored.LastAccrued, tier.LastAccrued)
	require.True(t, tier.IsActive)
	require.Equal(t, stored.BondSymbol, tier.BondSymbol)

	// Rewriting the same tier must not duplicate the index entry.
	require.NoError(t, m.TierPut(stored))
	second := &lendpool.Tier{Rate: big.NewInt(7e16), IsActive: true, BondSymbol: "BOND-DEC2026-70000000000000000"}
	require.NoError(t, m.TierPut(second))

	rates, err = m.TierRates()
	require.NoError(t, err)
	require.Len(t, rates, 2)
	require.Equal(t, rate, rates[0])
	require.Equal(t, second.Rate, rates[1])
}

func TestTierPutNormalizesNilAmounts(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	rate := big.NewInt(3e16)

	require.NoError(t, m.TierPut(&lendpool.Tier{Rate: rate, IsActive: true}))
	tier, err := m.TierGet(rate)
	require.NoError(t, err)
	require.NotNil(t, tier)
	require.Equal(t, big.NewInt(0), tier.TotalSupplyAssets)
	require.Equal(t, big.NewInt(0), tier.TotalBorrowShares)
}

func TestPositionRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	rate := big.NewInt(5e16)
	user := testAddr(0x04)

	pos, err := m.PositionGet(rate, user)
	require.NoError(t, err)
	require.Nil(t, pos)

	require.NoError(t, m.PositionPut(rate, user, &lendpool.Position{
		BorrowShares: big.NewInt(250),
		Collateral:   big.NewInt(600),
	}))

	pos, err = m.PositionGet(rate, user)
	require.NoError(t, err)
	require.NotNil(t, pos)
	require.Equal(t, big.NewInt(250), pos.BorrowShares)
	require.Equal(t, big.NewInt(600), pos.Collateral)

	// Positions are keyed per rate and per user.
	other, err := m.PositionGet(big.NewInt(7e16), user)
	require.NoError(t, err)
	require.Nil(t, other)
	other, err = m.PositionGet(rate, testAddr(0x05))
	require.NoError(t, err)
	require.Nil(t, other)
}
