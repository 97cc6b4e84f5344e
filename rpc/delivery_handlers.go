package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"duckexpress/crypto"
	"duckexpress/native/delivery"
)

type offerParams struct {
	Nonce           uint64 `json:"nonce"`
	Customer        string `json:"customer"`
	Addressee       string `json:"addressee"`
	PickupAddress   string `json:"pickupAddress"`
	DeliveryAddress string `json:"deliveryAddress"`
	DeliveryTime    int64  `json:"deliveryTime"`
	Token           string `json:"token"`
	Reward          string `json:"reward"`
	Collateral      string `json:"collateral"`
}

type createOfferParams struct {
	Offer  offerParams `json:"offer"`
	Caller string      `json:"caller"`
}

type hashActorParams struct {
	Hash   string `json:"hash"`
	Caller string `json:"caller"`
}

type hashParams struct {
	Hash string `json:"hash"`
}

type escrowBalanceParams struct {
	Hash  string `json:"hash"`
	Token string `json:"token"`
}

type addressParams struct {
	Address string `json:"address"`
}

type tokenAdminParams struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
}

type minTimeParams struct {
	Caller          string `json:"caller"`
	MinDeliveryTime int64  `json:"minDeliveryTime"`
}

type ownershipParams struct {
	Caller   string `json:"caller"`
	NewOwner string `json:"newOwner"`
}

type mintParams struct {
	Caller string `json:"caller"`
	To     string `json:"to"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type offerJSON struct {
	Nonce           uint64 `json:"nonce"`
	Customer        string `json:"customer"`
	Addressee       string `json:"addressee"`
	PickupAddress   string `json:"pickupAddress"`
	DeliveryAddress string `json:"deliveryAddress"`
	DeliveryTime    int64  `json:"deliveryTime"`
	Token           string `json:"token"`
	Reward          string `json:"reward"`
	Collateral      string `json:"collateral"`
}

type orderJSON struct {
	Offer        offerJSON `json:"offer"`
	Courier      string    `json:"courier"`
	AcceptedAt   int64     `json:"acceptedAt"`
	LastUpdateAt int64     `json:"lastUpdateAt"`
	Deadline     int64     `json:"deadline"`
	Status       string    `json:"status"`
}

type offerSummaryJSON struct {
	Hash   string `json:"hash"`
	Status string `json:"status"`
}

type createOfferResult struct {
	Hash string `json:"hash"`
}

type paramsResult struct {
	Owner           string   `json:"owner"`
	MinDeliveryTime int64    `json:"minDeliveryTime"`
	SupportedTokens []string `json:"supportedTokens"`
}

func parseBech32Address(addr string) ([20]byte, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("address required")
	}
	decoded, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, err
	}
	return decoded.Array(), nil
}

func parseOfferHash(id string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return out, fmt.Errorf("hash required")
	}
	cleaned := strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if len(cleaned) != 64 {
		return out, fmt.Errorf("hash must be 32 bytes")
	}
	raw, err := hex.DecodeString(cleaned)
	if err != nil {
		return out, err
	}
	copy(out[:], raw)
	return out, nil
}

func formatOfferHash(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must be non-negative")
	}
	return amount, nil
}

func (p offerParams) toOffer() (*delivery.Offer, error) {
	customer, err := parseBech32Address(p.Customer)
	if err != nil {
		return nil, fmt.Errorf("customer: %w", err)
	}
	addressee, err := parseBech32Address(p.Addressee)
	if err != nil {
		return nil, fmt.Errorf("addressee: %w", err)
	}
	pickup, err := delivery.EncodeLocation(p.PickupAddress)
	if err != nil {
		return nil, fmt.Errorf("pickupAddress: %w", err)
	}
	dropoff, err := delivery.EncodeLocation(p.DeliveryAddress)
	if err != nil {
		return nil, fmt.Errorf("deliveryAddress: %w", err)
	}
	reward, err := parseAmount(p.Reward)
	if err != nil {
		return nil, fmt.Errorf("reward: %w", err)
	}
	collateral, err := parseAmount(p.Collateral)
	if err != nil {
		return nil, fmt.Errorf("collateral: %w", err)
	}
	return &delivery.Offer{
		Nonce:           p.Nonce,
		Customer:        customer,
		Addressee:       addressee,
		PickupAddress:   pickup,
		DeliveryAddress: dropoff,
		DeliveryTime:    p.DeliveryTime,
		Token:           p.Token,
		Reward:          reward,
		Collateral:      collateral,
	}, nil
}

func formatAddress(addr [20]byte) string {
	return crypto.NewAddress(crypto.DuckPrefix, addr[:]).String()
}

func formatOfferJSON(o *delivery.Offer) offerJSON {
	reward := "0"
	if o.Reward != nil {
		reward = o.Reward.String()
	}
	collateral := "0"
	if o.Collateral != nil {
		collateral = o.Collateral.String()
	}
	return offerJSON{
		Nonce:           o.Nonce,
		Customer:        formatAddress(o.Customer),
		Addressee:       formatAddress(o.Addressee),
		PickupAddress:   delivery.DecodeLocation(o.PickupAddress),
		DeliveryAddress: delivery.DecodeLocation(o.DeliveryAddress),
		DeliveryTime:    o.DeliveryTime,
		Token:           o.Token,
		Reward:          reward,
		Collateral:      collateral,
	}
}

func formatOrderJSON(o *delivery.Order) orderJSON {
	return orderJSON{
		Offer:        formatOfferJSON(o.Offer),
		Courier:      formatAddress(o.Courier),
		AcceptedAt:   o.AcceptedAt,
		LastUpdateAt: o.LastUpdateAt,
		Deadline:     o.DeliveryDeadline(),
		Status:       o.Status.String(),
	}
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func (s *Server) handleCreateOffer(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params createOfferParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	offer, err := params.Offer.toOffer()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	hash, err := s.engine.CreateDeliveryOffer(offer, caller)
	if err != nil {
		writeDeliveryError(w, req.ID, err)
		return
	}
	s.metrics.IncOfferCreated()
	writeResult(w, req.ID, createOfferResult{Hash: formatOfferHash(hash)})
}

func (s *Server) handleCancelOffer(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleOfferTransition(w, r, req, s.engine.CancelDeliveryOffer, func() { s.metrics.IncOfferCanceled() })
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleOfferTransition(w, r, req, s.engine.AcceptDeliveryOffer, func() { s.metrics.IncOrderAccepted() })
}

func (s *Server) handleConfirmPickUp(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleOfferTransition(w, r, req, s.engine.ConfirmPickUp, nil)
}

func (s *Server) handleConfirmDelivery(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleOfferTransition(w, r, req, s.engine.ConfirmDelivery, nil)
}

func (s *Server) handleRefuseDelivery(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleOfferTransition(w, r, req, s.engine.RefuseDelivery, nil)
}

func (s *Server) handleClaimCollateral(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleOfferTransition(w, r, req, s.engine.ClaimCollateral, nil)
}

func (s *Server) handleOfferTransition(w http.ResponseWriter, _ *http.Request, req *RPCRequest, fn func([32]byte, [20]byte) error, observe func()) {
	var params hashActorParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	hash, err := parseOfferHash(params.Hash)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := fn(hash, caller); err != nil {
		writeDeliveryError(w, req.ID, err)
		return
	}
	if observe != nil {
		observe()
	}
	s.observeOrderOutcome(hash)
	writeResult(w, req.ID, "ok")
}

// observeOrderOutcome bumps the completion counter when the transition landed
// the order in a terminal state.
func (s *Server) observeOrderOutcome(hash [32]byte) {
	order, err := s.engine.Order(hash)
	if err != nil || order == nil {
		return
	}
	if order.Status.Terminal() {
		s.metrics.IncOrderCompleted(order.Status.String())
	}
}

func (s *Server) handleGetOffer(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params hashParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	hash, err := parseOfferHash(params.Hash)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	offer, err := s.engine.Offer(hash)
	if err != nil {
		writeDeliveryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatOfferJSON(offer))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params hashParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	hash, err := parseOfferHash(params.Hash)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	order, err := s.engine.Order(hash)
	if err != nil {
		writeDeliveryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatOrderJSON(order))
}

func (s *Server) handleOfferStatus(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params hashParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	hash, err := parseOfferHash(params.Hash)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	status, err := s.engine.OfferStatus(hash)
	if err != nil {
		writeDeliveryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, status.String())
}

func (s *Server) handleListOffers(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	summaries, err := s.engine.Offers()
	if err != nil {
		writeDeliveryError(w, req.ID, err)
		return
	}
	out := make([]offerSummaryJSON, 0, len(summaries))
	for _, entry := range summaries {
		out = append(out, offerSummaryJSON{
			Hash:   formatOfferHash(entry.Hash),
			Status: entry.Status.String(),
		})
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleDeliveryDeadline(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params hashParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	hash, err := parseOfferHash(params.Hash)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	deadline, err := s.engine.DeliveryDeadline(hash)
	if err != nil {
		writeDeliveryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, deadline)
}

func (s *Server) handleHashOffer(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params offerParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	offer, err := params.toOffer()
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	hash, err := delivery.HashOffer(offer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	writeResult(w, req.ID, createOfferResult{Hash: formatOfferHash(hash)})
}

func (s *Server) handleEscrowBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowBalanceParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	hash, err := parseOfferHash(params.Hash)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	token, err := delivery.NormalizeToken(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.engine.EscrowBalance(hash, token)
	if err != nil {
		writeDeliveryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, balance.String())
}

func (s *Server) handleOfferNonce(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params addressParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	nonce, err := s.engine.OfferNonce(addr)
	if err != nil {
		writeDeliveryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, nonce)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params addressParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	account, err := s.ledger.GetAccount(addr[:])
	if err != nil {
		writeDeliveryError(w, req.ID, err)
		return
	}
	balances := make(map[string]string, len(account.Balances))
	for _, entry := range account.Balances {
		balances[entry.Token] = entry.Amount.String()
	}
	writeResult(w, req.ID, balances)
}

func (s *Server) handleParams(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	owner, err := s.engine.Owner()
	if err != nil {
		writeDeliveryError(w, req.ID, err)
		return
	}
	minTime, err := s.engine.MinDeliveryTime()
	if err != nil {
		writeDeliveryError(w, req.ID, err)
		return
	}
	tokens, err := s.engine.SupportedTokens()
	if err != nil {
		writeDeliveryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, paramsResult{
		Owner:           formatAddress(owner),
		MinDeliveryTime: minTime,
		SupportedTokens: tokens,
	})
}

func (s *Server) handleSupportToken(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tokenAdminParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.SupportToken(caller, params.Token); err != nil {
		writeDeliveryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleStopSupportingToken(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tokenAdminParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.StopSupportingToken(caller, params.Token); err != nil {
		writeDeliveryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleSetMinDeliveryTime(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params minTimeParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.SetMinDeliveryTime(caller, params.MinDeliveryTime); err != nil {
		writeDeliveryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params ownershipParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	newOwner, err := parseBech32Address(params.NewOwner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.TransferOwnership(caller, newOwner); err != nil {
		writeDeliveryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params mintParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	to, err := parseBech32Address(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	token, err := delivery.NormalizeToken(params.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil || amount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "amount must be positive")
		return
	}
	owner, err := s.engine.Owner()
	if err != nil {
		writeDeliveryError(w, req.ID, err)
		return
	}
	if caller != owner {
		writeDeliveryError(w, req.ID, fmt.Errorf("%w: minting requires the module owner", delivery.ErrNotOwner))
		return
	}
	if err := s.ledger.Mint(to, token, amount); err != nil {
		writeDeliveryError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}
