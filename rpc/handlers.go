package rpc

import (
	"math/big"
	"net/http"

	"termlend/native/oracle"
	"termlend/observability/metrics"
)

func (s *Server) invalidParams(w http.ResponseWriter, req *RPCRequest, err error) {
	metrics.Market().ObserveRPCError(req.Method)
	writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
}

func (s *Server) serverError(w http.ResponseWriter, req *RPCRequest, err error) {
	metrics.Market().ObserveRPCError(req.Method)
	s.logger.Warn("rpc call failed", "method", req.Method, "err", err)
	writeError(w, http.StatusOK, req.ID, codeServerError, err.Error(), nil)
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, req *RPCRequest) {
	var params placeOrderParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	trader, err := parseAddress(params.Trader)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	side, err := parseSide(params.Side)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	rate, err := parseAmount(params.Rate)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	var collateral *big.Int
	if params.Collateral != "" {
		if collateral, err = parseAmount(params.Collateral); err != nil {
			s.invalidParams(w, req, err)
			return
		}
	}
	result, err := s.router.PlaceOrder(trader, amount, collateral, rate, side)
	if err != nil {
		s.serverError(w, req, err)
		return
	}
	writeResult(w, req.ID, placeOrderResult{
		OrderID:     result.OrderID,
		LendFills:   fillsToResults(result.LendFills),
		BorrowFills: fillsToResults(result.BorrowFills),
	})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, req *RPCRequest) {
	var params cancelOrderParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	trader, err := parseAddress(params.Trader)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	if err := s.book.CancelOrder(trader, params.OrderID); err != nil {
		s.serverError(w, req, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, req *RPCRequest) {
	var params orderIDParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	order, err := s.book.Order(params.OrderID)
	if err != nil {
		s.serverError(w, req, err)
		return
	}
	writeResult(w, req.ID, orderToResult(order))
}

func (s *Server) handleGetTraderOrders(w http.ResponseWriter, req *RPCRequest) {
	var params traderParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	trader, err := parseAddress(params.Trader)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	orders := s.book.TraderOrders(trader)
	out := make([]orderResult, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderToResult(o))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleGetOrdersAt(w http.ResponseWriter, req *RPCRequest) {
	var params ordersAtParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	rate, err := parseAmount(params.Rate)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	side, err := parseSide(params.Side)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	orders := s.book.OrdersAt(rate, side)
	out := make([]orderResult, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderToResult(o))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleGetBestLendRate(w http.ResponseWriter, req *RPCRequest) {
	writeResult(w, req.ID, formatBig(s.book.BestLendRate()))
}

func (s *Server) handleGetEscrowBalance(w http.ResponseWriter, req *RPCRequest) {
	var params escrowParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	trader, err := parseAddress(params.Trader)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	side, err := parseSide(params.Side)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	writeResult(w, req.ID, formatBig(s.book.EscrowBalance(trader, side)))
}

func (s *Server) handleWithdraw(w http.ResponseWriter, req *RPCRequest) {
	var params withdrawParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	rate, err := parseAmount(params.Rate)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	shares, err := parseAmount(params.Shares)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	assets, err := s.pool.Withdraw(caller, rate, shares)
	if err != nil {
		s.serverError(w, req, err)
		return
	}
	writeResult(w, req.ID, formatBig(assets))
}

func (s *Server) handleWithdrawCollateral(w http.ResponseWriter, req *RPCRequest) {
	var params withdrawCollateralParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	rate, err := parseAmount(params.Rate)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	if err := s.pool.WithdrawCollateral(caller, rate, amount); err != nil {
		s.serverError(w, req, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleRepay(w http.ResponseWriter, req *RPCRequest) {
	var params repayParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	rate, err := parseAmount(params.Rate)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	shares, err := parseAmount(params.Shares)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	repaid, err := s.pool.Repay(caller, rate, shares)
	if err != nil {
		s.serverError(w, req, err)
		return
	}
	writeResult(w, req.ID, formatBig(repaid))
}

func (s *Server) handleAccrueInterest(w http.ResponseWriter, req *RPCRequest) {
	var params rateParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	rate, err := parseAmount(params.Rate)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	if err := s.pool.AccrueInterest(rate); err != nil {
		s.serverError(w, req, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleLiquidate(w http.ResponseWriter, req *RPCRequest) {
	var params liquidateParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	rate, err := parseAmount(params.Rate)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	user, err := parseAddress(params.User)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	debt, seized, err := s.pool.Liquidate(caller, rate, user)
	if err != nil {
		s.serverError(w, req, err)
		return
	}
	writeResult(w, req.ID, liquidateResult{
		DebtRepaid:       formatBig(debt),
		CollateralSeized: formatBig(seized),
	})
}

func (s *Server) handleGetTier(w http.ResponseWriter, req *RPCRequest) {
	var params rateParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	rate, err := parseAmount(params.Rate)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	tier, err := s.pool.Tier(rate)
	if err != nil {
		s.serverError(w, req, err)
		return
	}
	writeResult(w, req.ID, tierToResult(tier))
}

func (s *Server) handleGetTierRates(w http.ResponseWriter, req *RPCRequest) {
	rates, err := s.pool.TierRates()
	if err != nil {
		s.serverError(w, req, err)
		return
	}
	out := make([]string, 0, len(rates))
	for _, rate := range rates {
		out = append(out, formatBig(rate))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, req *RPCRequest) {
	var params positionParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	rate, err := parseAmount(params.Rate)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	user, err := parseAddress(params.User)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	pos, err := s.pool.Position(rate, user)
	if err != nil {
		s.serverError(w, req, err)
		return
	}
	writeResult(w, req.ID, positionResult{
		Rate:         params.Rate,
		User:         params.User,
		BorrowShares: formatBig(pos.BorrowShares),
		Collateral:   formatBig(pos.Collateral),
	})
}

func (s *Server) handleGetHealth(w http.ResponseWriter, req *RPCRequest) {
	var params positionParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	rate, err := parseAmount(params.Rate)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	user, err := parseAddress(params.User)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	healthy, err := s.pool.Healthy(rate, user)
	if err != nil {
		s.serverError(w, req, err)
		return
	}
	writeResult(w, req.ID, healthy)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, req *RPCRequest) {
	var params balanceParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	bal, err := s.ledger.BalanceOf(params.Symbol, addr)
	if err != nil {
		s.serverError(w, req, err)
		return
	}
	writeResult(w, req.ID, formatBig(bal))
}

func (s *Server) handleGetOraclePrice(w http.ResponseWriter, req *RPCRequest) {
	quote := s.feed.Latest()
	if quote == nil {
		s.serverError(w, req, oracle.ErrNoPrice)
		return
	}
	writeResult(w, req.ID, oracleQuoteResult{
		Price:     formatBig(quote.Price),
		Timestamp: quote.Timestamp,
	})
}

func (s *Server) handlePostOraclePrice(w http.ResponseWriter, req *RPCRequest) {
	var params oraclePostParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	price, err := parseAmount(params.Price)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	if err := s.feed.Post(caller, price); err != nil {
		s.serverError(w, req, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSetLTV(w http.ResponseWriter, req *RPCRequest) {
	var params setLTVParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	ltv, err := parseAmount(params.LTV)
	if err != nil {
		s.invalidParams(w, req, err)
		return
	}
	if err := s.router.SetLTV(ltv); err != nil {
		s.serverError(w, req, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSetPaused(w http.ResponseWriter, req *RPCRequest) {
	var params setPausedParams
	if err := decodeParams(req, &params); err != nil {
		s.invalidParams(w, req, err)
		return
	}
	s.pauses.SetPaused(params.Module, params.Paused)
	writeResult(w, req.ID, true)
}
