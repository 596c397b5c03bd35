// Package rpc exposes the market over JSON-RPC 2.0. A single POST endpoint
// dispatches on the method name; health and prometheus metrics ride on the
// same listener.
package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"termlend/native/lendpool"
	"termlend/native/oracle"
	"termlend/native/orderbook"
	"termlend/native/router"
	"termlend/native/token"
	"termlend/observability/metrics"

	nativecommon "termlend/native/common"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// Server binds the engines to the JSON-RPC surface.
type Server struct {
	ledger  *token.Ledger
	book    *orderbook.Book
	pool    *lendpool.Engine
	router  *router.Router
	feed    *oracle.Feed
	pauses  *nativecommon.PauseSet
	limiter *clientLimiter
	logger  *slog.Logger

	authToken string
}

// Deps bundles everything the server dispatches into.
type Deps struct {
	Ledger *token.Ledger
	Book   *orderbook.Book
	Pool   *lendpool.Engine
	Router *router.Router
	Feed   *oracle.Feed
	Pauses *nativecommon.PauseSet
	Logger *slog.Logger

	// AuthToken guards the privileged methods; empty disables them entirely.
	AuthToken string
	// RateLimit / RateBurst bound per-client request rates.
	RateLimit float64
	RateBurst int
}

func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ledger:    deps.Ledger,
		book:      deps.Book,
		pool:      deps.Pool,
		router:    deps.Router,
		feed:      deps.Feed,
		pauses:    deps.Pauses,
		limiter:   newClientLimiter(deps.RateLimit, deps.RateBurst),
		logger:    logger,
		authToken: strings.TrimSpace(deps.AuthToken),
	}
}

// Handler builds the HTTP mux: the RPC endpoint, a liveness check, and the
// prometheus scrape endpoint.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Post("/", s.handle)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start serves the handler on addr, blocking until the listener fails.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	if !s.limiter.allow(clientID(r)) {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	requestID := uuid.NewString()
	s.logger.Info("rpc request", "method", req.Method, "requestId", requestID)
	metrics.Market().ObserveRPCRequest(req.Method)

	switch req.Method {
	case "tl_placeOrder":
		s.handlePlaceOrder(w, req)
	case "tl_cancelOrder":
		s.handleCancelOrder(w, req)
	case "tl_getOrder":
		s.handleGetOrder(w, req)
	case "tl_getTraderOrders":
		s.handleGetTraderOrders(w, req)
	case "tl_getOrdersAt":
		s.handleGetOrdersAt(w, req)
	case "tl_getBestLendRate":
		s.handleGetBestLendRate(w, req)
	case "tl_getEscrowBalance":
		s.handleGetEscrowBalance(w, req)
	case "tl_withdraw":
		s.handleWithdraw(w, req)
	case "tl_withdrawCollateral":
		s.handleWithdrawCollateral(w, req)
	case "tl_repay":
		s.handleRepay(w, req)
	case "tl_accrueInterest":
		s.handleAccrueInterest(w, req)
	case "tl_liquidate":
		s.handleLiquidate(w, req)
	case "tl_getTier":
		s.handleGetTier(w, req)
	case "tl_getTierRates":
		s.handleGetTierRates(w, req)
	case "tl_getPosition":
		s.handleGetPosition(w, req)
	case "tl_getHealth":
		s.handleGetHealth(w, req)
	case "tl_getBalance":
		s.handleGetBalance(w, req)
	case "tl_getOraclePrice":
		s.handleGetOraclePrice(w, req)
	case "tl_postOraclePrice":
		s.handlePostOraclePrice(w, req)
	case "tl_setLTV":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleSetLTV(w, req)
	case "tl_setPaused":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleSetPaused(w, req)
	default:
		metrics.Market().ObserveRPCError(req.Method)
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
	}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	tok := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if tok == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(tok), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}
