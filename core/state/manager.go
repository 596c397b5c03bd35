// Package state persists ledger records in a key-value store. Keys are
// keccak hashes of namespaced plain-text identifiers; values are RLP encoded.
package state

import (
	"fmt"
	"math/big"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"termlend/native/lendpool"
	"termlend/native/token"
	"termlend/storage"
)

var (
	tokenInfoPrefix    = []byte("token:info:")
	tokenBalancePrefix = []byte("token:balance:")
	tierPrefix         = []byte("lend:tier:")
	tierIndexKey       = ethcrypto.Keccak256([]byte("lend:tier-index"))
	positionPrefix     = []byte("lend:position:")
)

// Manager adapts a storage.Database to the narrow state surfaces the token
// ledger and the lending pool mutate through. Missing records are reported as
// (nil, nil) per the engines' convention.
type Manager struct {
	mu sync.Mutex
	db storage.Database
}

// NewManager creates a state manager over the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func hashKey(prefix []byte, parts ...[]byte) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, prefix...)
	for i, part := range parts {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, part...)
	}
	return ethcrypto.Keccak256(buf)
}

func (m *Manager) get(key []byte, out interface{}) (bool, error) {
	data, err := m.db.Get(key)
	if err == storage.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode %x: %w", key[:4], err)
	}
	return true, nil
}

func (m *Manager) put(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %x: %w", key[:4], err)
	}
	return m.db.Put(key, encoded)
}

// --- token ledger state ---

func (m *Manager) TokenInfo(symbol string) (*token.Info, error) {
	info := new(token.Info)
	ok, err := m.get(hashKey(tokenInfoPrefix, []byte(symbol)), info)
	if err != nil || !ok {
		return nil, err
	}
	return info, nil
}

func (m *Manager) PutTokenInfo(symbol string, info *token.Info) error {
	return m.put(hashKey(tokenInfoPrefix, []byte(symbol)), info)
}

func (m *Manager) TokenBalance(symbol string, addr [20]byte) (*big.Int, error) {
	bal := new(big.Int)
	ok, err := m.get(hashKey(tokenBalancePrefix, []byte(symbol), addr[:]), bal)
	if err != nil || !ok {
		return nil, err
	}
	return bal, nil
}

func (m *Manager) SetTokenBalance(symbol string, addr [20]byte, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	return m.put(hashKey(tokenBalancePrefix, []byte(symbol), addr[:]), amount)
}

// --- lending pool state ---

// storedTier mirrors lendpool.Tier for RLP, which needs concrete non-pointer
// ordering guarantees and no nil big integers.
type storedTier struct {
	Rate              *big.Int
	TotalSupplyAssets *big.Int
	TotalSupplyShares *big.Int
	TotalBorrowAssets *big.Int
	TotalBorrowShares *big.Int
	LastAccrued       uint64
	IsActive          bool
	BondSymbol        string
}

type storedPosition struct {
	BorrowShares *big.Int
	Collateral   *big.Int
}

func (m *Manager) TierGet(rate *big.Int) (*lendpool.Tier, error) {
	stored := new(storedTier)
	ok, err := m.get(hashKey(tierPrefix, []byte(rate.String())), stored)
	if err != nil || !ok {
		return nil, err
	}
	return &lendpool.Tier{
		Rate:              stored.Rate,
		TotalSupplyAssets: stored.TotalSupplyAssets,
		TotalSupplyShares: stored.TotalSupplyShares,
		TotalBorrowAssets: stored.TotalBorrowAssets,
		TotalBorrowShares: stored.TotalBorrowShares,
		LastAccrued:       stored.LastAccrued,
		IsActive:          stored.IsActive,
		BondSymbol:        stored.BondSymbol,
	}, nil
}

func (m *Manager) TierPut(tier *lendpool.Tier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rateKey := tier.Rate.String()
	stored := &storedTier{
		Rate:              tier.Rate,
		TotalSupplyAssets: nonNil(tier.TotalSupplyAssets),
		TotalSupplyShares: nonNil(tier.TotalSupplyShares),
		TotalBorrowAssets: nonNil(tier.TotalBorrowAssets),
		TotalBorrowShares: nonNil(tier.TotalBorrowShares),
		LastAccrued:       tier.LastAccrued,
		IsActive:          tier.IsActive,
		BondSymbol:        tier.BondSymbol,
	}
	if err := m.put(hashKey(tierPrefix, []byte(rateKey)), stored); err != nil {
		return err
	}
	return m.indexTierRate(rateKey)
}

func (m *Manager) indexTierRate(rateKey string) error {
	var index []string
	if _, err := m.get(tierIndexKey, &index); err != nil {
		return err
	}
	for _, existing := range index {
		if existing == rateKey {
			return nil
		}
	}
	return m.put(tierIndexKey, append(index, rateKey))
}

func (m *Manager) TierRates() ([]*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var index []string
	if _, err := m.get(tierIndexKey, &index); err != nil {
		return nil, err
	}
	rates := make([]*big.Int, 0, len(index))
	for _, rateKey := range index {
		rate, ok := new(big.Int).SetString(rateKey, 10)
		if !ok {
			return nil, fmt.Errorf("state: corrupt tier index entry %q", rateKey)
		}
		rates = append(rates, rate)
	}
	return rates, nil
}

func (m *Manager) PositionGet(rate *big.Int, user [20]byte) (*lendpool.Position, error) {
	stored := new(storedPosition)
	ok, err := m.get(hashKey(positionPrefix, []byte(rate.String()), user[:]), stored)
	if err != nil || !ok {
		return nil, err
	}
	return &lendpool.Position{BorrowShares: stored.BorrowShares, Collateral: stored.Collateral}, nil
}

func (m *Manager) PositionPut(rate *big.Int, user [20]byte, pos *lendpool.Position) error {
	stored := &storedPosition{
		BorrowShares: nonNil(pos.BorrowShares),
		Collateral:   nonNil(pos.Collateral),
	}
	return m.put(hashKey(positionPrefix, []byte(rate.String()), user[:]), stored)
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
