package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"termlend/crypto"
	"termlend/native/lendpool"
	"termlend/native/orderbook"
)

// --- request payloads ---

type placeOrderParams struct {
	Trader     string `json:"trader"`
	Side       string `json:"side"`
	Amount     string `json:"amount"`
	Collateral string `json:"collateral,omitempty"`
	Rate       string `json:"rate"`
}

type cancelOrderParams struct {
	Trader  string `json:"trader"`
	OrderID uint64 `json:"orderId"`
}

type orderIDParams struct {
	OrderID uint64 `json:"orderId"`
}

type traderParams struct {
	Trader string `json:"trader"`
}

type ordersAtParams struct {
	Rate string `json:"rate"`
	Side string `json:"side"`
}

type escrowParams struct {
	Trader string `json:"trader"`
	Side   string `json:"side"`
}

type withdrawParams struct {
	Caller string `json:"caller"`
	Rate   string `json:"rate"`
	Shares string `json:"shares"`
}

type withdrawCollateralParams struct {
	Caller string `json:"caller"`
	Rate   string `json:"rate"`
	Amount string `json:"amount"`
}

type repayParams struct {
	Caller string `json:"caller"`
	Rate   string `json:"rate"`
	Shares string `json:"shares"`
}

type rateParams struct {
	Rate string `json:"rate"`
}

type positionParams struct {
	Rate string `json:"rate"`
	User string `json:"user"`
}

type liquidateParams struct {
	Caller string `json:"caller"`
	Rate   string `json:"rate"`
	User   string `json:"user"`
}

type balanceParams struct {
	Symbol  string `json:"symbol"`
	Address string `json:"address"`
}

type oraclePostParams struct {
	Caller string `json:"caller"`
	Price  string `json:"price"`
}

type setLTVParams struct {
	LTV string `json:"ltv"`
}

type setPausedParams struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

// --- response payloads ---

type orderResult struct {
	ID         uint64 `json:"id"`
	Trader     string `json:"trader"`
	Side       string `json:"side"`
	Amount     string `json:"amount"`
	Collateral string `json:"collateral"`
	Rate       string `json:"rate"`
	Status     string `json:"status"`
	CreatedAt  int64  `json:"createdAt"`
}

type fillResult struct {
	OrderID           uint64 `json:"orderId"`
	Trader            string `json:"trader"`
	Side              string `json:"side"`
	MatchedAmount     string `json:"matchedAmount"`
	MatchedCollateral string `json:"matchedCollateral"`
	Status            string `json:"status"`
}

type placeOrderResult struct {
	OrderID     uint64       `json:"orderId"`
	LendFills   []fillResult `json:"lendFills"`
	BorrowFills []fillResult `json:"borrowFills"`
}

type tierResult struct {
	Rate              string `json:"rate"`
	TotalSupplyAssets string `json:"totalSupplyAssets"`
	TotalSupplyShares string `json:"totalSupplyShares"`
	TotalBorrowAssets string `json:"totalBorrowAssets"`
	TotalBorrowShares string `json:"totalBorrowShares"`
	LastAccrued       uint64 `json:"lastAccrued"`
	BondSymbol        string `json:"bondSymbol"`
}

type positionResult struct {
	Rate         string `json:"rate"`
	User         string `json:"user"`
	BorrowShares string `json:"borrowShares"`
	Collateral   string `json:"collateral"`
}

type liquidateResult struct {
	DebtRepaid       string `json:"debtRepaid"`
	CollateralSeized string `json:"collateralSeized"`
}

type oracleQuoteResult struct {
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"`
}

// --- helpers ---

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected exactly one parameter object")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAddress(raw string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Raw(), nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("value is empty")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", raw)
	}
	return amount, nil
}

func parseSide(raw string) (orderbook.Side, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "LEND":
		return orderbook.Lend, nil
	case "BORROW":
		return orderbook.Borrow, nil
	}
	return 0, fmt.Errorf("invalid side %q", raw)
}

func formatBig(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatAddress(addr [20]byte) string {
	return crypto.NewAddress(crypto.TLPrefix, addr[:]).String()
}

func orderToResult(o orderbook.Order) orderResult {
	return orderResult{
		ID:         o.ID,
		Trader:     formatAddress(o.Trader),
		Side:       o.Side.String(),
		Amount:     formatBig(o.Amount),
		Collateral: formatBig(o.CollateralAmount),
		Rate:       formatBig(o.Rate),
		Status:     o.Status.String(),
		CreatedAt:  o.CreatedAt,
	}
}

func fillsToResults(fills []orderbook.FillRecord) []fillResult {
	out := make([]fillResult, 0, len(fills))
	for _, f := range fills {
		out = append(out, fillResult{
			OrderID:           f.OrderID,
			Trader:            formatAddress(f.Trader),
			Side:              f.Side.String(),
			MatchedAmount:     formatBig(f.MatchedAmount),
			MatchedCollateral: formatBig(f.MatchedCollateral),
			Status:            f.Status.String(),
		})
	}
	return out
}

func tierToResult(t *lendpool.Tier) tierResult {
	return tierResult{
		Rate:              formatBig(t.Rate),
		TotalSupplyAssets: formatBig(t.TotalSupplyAssets),
		TotalSupplyShares: formatBig(t.TotalSupplyShares),
		TotalBorrowAssets: formatBig(t.TotalBorrowAssets),
		TotalBorrowShares: formatBig(t.TotalBorrowShares),
		LastAccrued:       t.LastAccrued,
		BondSymbol:        t.BondSymbol,
	}
}
