package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"duckexpress/core/types"
	"duckexpress/native/delivery"
	"duckexpress/observability/metrics"
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

	codeDeliveryNotFound     = -32041
	codeDeliveryForbidden    = -32042
	codeDeliveryConflict     = -32043
	codeDeliveryInvalid      = -32044
	codeDeliveryUnsupported  = -32045
	codeDeliveryInsufficient = -32046
)

// Ledger is the token ledger surface the RPC layer needs beyond the engine:
// the owner-gated faucet and account balance lookups.
type Ledger interface {
	Mint(addr [20]byte, token string, amount *big.Int) error
	GetAccount(addr []byte) (*types.Account, error)
}

type Server struct {
	engine    *delivery.Engine
	ledger    Ledger
	log       *slog.Logger
	metrics   *metrics.DeliveryMetrics
	authToken string
}

func NewServer(engine *delivery.Engine, ledger Ledger, authToken string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		engine:    engine,
		ledger:    ledger,
		log:       log,
		metrics:   metrics.Delivery(),
		authToken: strings.TrimSpace(authToken),
	}
}

// Router mounts the JSON-RPC endpoint alongside the health and metrics
// surfaces.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/", s.handle)
	r.Post("/rpc", s.handle)
	return r
}

func (s *Server) Start(addr string) error {
	s.log.Info("starting JSON-RPC server", "addr", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
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

	started := time.Now()
	status := s.dispatch(w, r, req)
	s.metrics.ObserveRPC(req.Method, status, time.Since(started))
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	switch req.Method {
	case "delivery_createOffer":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return "unauthorized"
		}
		s.handleCreateOffer(w, r, req)
	case "delivery_cancelOffer":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return "unauthorized"
		}
		s.handleCancelOffer(w, r, req)
	case "delivery_acceptOffer":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return "unauthorized"
		}
		s.handleAcceptOffer(w, r, req)
	case "delivery_confirmPickUp":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return "unauthorized"
		}
		s.handleConfirmPickUp(w, r, req)
	case "delivery_confirmDelivery":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return "unauthorized"
		}
		s.handleConfirmDelivery(w, r, req)
	case "delivery_refuseDelivery":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return "unauthorized"
		}
		s.handleRefuseDelivery(w, r, req)
	case "delivery_claimCollateral":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return "unauthorized"
		}
		s.handleClaimCollateral(w, r, req)
	case "delivery_getOffer":
		s.handleGetOffer(w, r, req)
	case "delivery_getOrder":
		s.handleGetOrder(w, r, req)
	case "delivery_offerStatus":
		s.handleOfferStatus(w, r, req)
	case "delivery_listOffers":
		s.handleListOffers(w, r, req)
	case "delivery_deliveryDeadline":
		s.handleDeliveryDeadline(w, r, req)
	case "delivery_hashOffer":
		s.handleHashOffer(w, r, req)
	case "delivery_escrowBalance":
		s.handleEscrowBalance(w, r, req)
	case "delivery_offerNonce":
		s.handleOfferNonce(w, r, req)
	case "delivery_getBalance":
		s.handleGetBalance(w, r, req)
	case "delivery_params":
		s.handleParams(w, r, req)
	case "delivery_supportToken":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return "unauthorized"
		}
		s.handleSupportToken(w, r, req)
	case "delivery_stopSupportingToken":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return "unauthorized"
		}
		s.handleStopSupportingToken(w, r, req)
	case "delivery_setMinDeliveryTime":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return "unauthorized"
		}
		s.handleSetMinDeliveryTime(w, r, req)
	case "delivery_transferOwnership":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return "unauthorized"
		}
		s.handleTransferOwnership(w, r, req)
	case "delivery_mint":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return "unauthorized"
		}
		s.handleMint(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return "not_found"
	}
	return "ok"
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
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func writeDeliveryError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeServerError
	message := "internal_error"
	switch {
	case errors.Is(err, delivery.ErrNotFound):
		status = http.StatusNotFound
		code = codeDeliveryNotFound
		message = "not_found"
	case errors.Is(err, delivery.ErrUnauthorized), errors.Is(err, delivery.ErrNotOwner):
		status = http.StatusForbidden
		code = codeDeliveryForbidden
		message = "forbidden"
	case errors.Is(err, delivery.ErrInvalidState),
		errors.Is(err, delivery.ErrDeadlineNotReached),
		errors.Is(err, delivery.ErrAlreadyInitialized):
		status = http.StatusConflict
		code = codeDeliveryConflict
		message = "conflict"
	case errors.Is(err, delivery.ErrValidation), errors.Is(err, delivery.ErrInvalidNonce):
		status = http.StatusBadRequest
		code = codeDeliveryInvalid
		message = "invalid_params"
	case errors.Is(err, delivery.ErrTokenNotSupported):
		status = http.StatusBadRequest
		code = codeDeliveryUnsupported
		message = "token_not_supported"
	case errors.Is(err, delivery.ErrInsufficientFunds):
		status = http.StatusConflict
		code = codeDeliveryInsufficient
		message = "insufficient_funds"
	}
	writeError(w, status, id, code, message, err.Error())
}
