package server

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"

	"github.com/dcabot/govault/internal/metrics"
	"github.com/dcabot/govault/internal/vault"
)

func configJSON(cfg vault.Config) map[string]any {
	return map[string]any{
		"interval_seconds":    cfg.IntervalSeconds,
		"max_slippage_bps":    cfg.MaxSlippageBps,
		"per_cycle_quote_cap": weiString(cfg.PerCycleQuoteCap),
		"fee_bps":             cfg.FeeBps,
		"keeper":              cfg.Keeper.Hex(),
		"paused":              cfg.Paused,
	}
}

// lookupVault 解析路径里的金库地址并取实例，失败时已写好响应
func (s *Server) lookupVault(w http.ResponseWriter, r *http.Request) (*vault.Vault, bool) {
	addr, ok := parseAddress(pathParam(r, "address"))
	if !ok {
		writeError(w, 400, "invalid vault address")
		return nil, false
	}
	v, ok := s.factory.Lookup(addr)
	if !ok {
		writeError(w, 404, "vault not found")
		return nil, false
	}
	return v, true
}

func (s *Server) handleVaultsList(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.ParseUint(r.URL.Query().Get("offset"), 10, 64)
	limit, err := strconv.ParseUint(r.URL.Query().Get("limit"), 10, 64)
	if err != nil || limit == 0 {
		limit = 50
	}
	page, total := s.factory.GetVaultsPaginated(offset, limit)
	addrs := make([]string, 0, len(page))
	for _, a := range page {
		addrs = append(addrs, a.Hex())
	}
	writeJSON(w, 200, map[string]any{"total": total, "offset": offset, "vaults": addrs})
}

type createVaultRequest struct {
	Caller           string `json:"caller"`
	BaseToken        string `json:"base_token"`
	QuoteToken       string `json:"quote_token"`
	IntervalSeconds  uint64 `json:"interval_seconds"`
	MaxSlippageBps   uint64 `json:"max_slippage_bps"`
	PerCycleQuoteCap string `json:"per_cycle_quote_cap"`
	FeeBps           uint64 `json:"fee_bps"`
	Keeper           string `json:"keeper"`
}

func (s *Server) handleVaultCreate(w http.ResponseWriter, r *http.Request) {
	var req createVaultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid json body")
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, 400, "invalid caller address")
		return
	}
	base, ok := parseAddress(req.BaseToken)
	if !ok {
		writeError(w, 400, "invalid base_token address")
		return
	}
	quote, ok := parseAddress(req.QuoteToken)
	if !ok {
		writeError(w, 400, "invalid quote_token address")
		return
	}
	capAmount, ok := parseAmount(req.PerCycleQuoteCap)
	if !ok {
		writeError(w, 400, "invalid per_cycle_quote_cap")
		return
	}
	keeper, ok := parseAddress(req.Keeper)
	if req.Keeper != "" && !ok {
		writeError(w, 400, "invalid keeper address")
		return
	}

	v, err := s.factory.CreateVault(caller, base, quote, req.IntervalSeconds, req.MaxSlippageBps, capAmount, req.FeeBps, keeper)
	if err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, 200, map[string]any{"vault": v.Address().Hex()})
}

type copyVaultRequest struct {
	Caller string `json:"caller"`
	Source string `json:"source"`
}

func (s *Server) handleVaultCopy(w http.ResponseWriter, r *http.Request) {
	var req copyVaultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid json body")
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, 400, "invalid caller address")
		return
	}
	source, ok := parseAddress(req.Source)
	if !ok {
		writeError(w, 400, "invalid source address")
		return
	}
	v, err := s.factory.CopyVault(caller, source)
	if err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, 200, map[string]any{"vault": v.Address().Hex(), "source": source.Hex()})
}

func (s *Server) handleVaultGet(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookupVault(w, r)
	if !ok {
		return
	}
	ledger := s.env.Ledger()
	writeJSON(w, 200, map[string]any{
		"address":            v.Address().Hex(),
		"owner":              v.Owner().Hex(),
		"base_token":         v.BaseToken().Hex(),
		"quote_token":        v.QuoteToken().Hex(),
		"router":             v.RouterAddress().Hex(),
		"config":             configJSON(v.GetConfig()),
		"last_exec":          v.LastExec(),
		"next_exec_time":     v.NextExecTime(),
		"total_filled_quote": weiString(v.TotalFilledQuote()),
		"total_filled_base":  weiString(v.TotalFilledBase()),
		"total_shares":       weiString(v.TotalSupply()),
		"total_assets":       weiString(v.TotalAssets()),
		"quote_balance":      weiString(ledger.BalanceOf(v.QuoteToken(), v.Address())),
		"base_balance":       weiString(ledger.BalanceOf(v.BaseToken(), v.Address())),
	})
}

func (s *Server) handleVaultConfigGet(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookupVault(w, r)
	if !ok {
		return
	}
	writeJSON(w, 200, configJSON(v.GetConfig()))
}

func (s *Server) handleVaultPreview(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookupVault(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	depositArg := q.Get("deposit")
	redeemArg := q.Get("redeem")
	switch {
	case depositArg != "" && redeemArg == "":
		assets, ok := parseAmount(depositArg)
		if !ok {
			writeError(w, 400, "invalid deposit amount")
			return
		}
		writeJSON(w, 200, map[string]any{
			"deposit_assets": weiString(assets),
			"shares":         weiString(v.PreviewDeposit(assets)),
		})
	case redeemArg != "" && depositArg == "":
		shares, ok := parseAmount(redeemArg)
		if !ok {
			writeError(w, 400, "invalid redeem shares")
			return
		}
		quoteOut, baseOut := v.PreviewRedeem(shares)
		writeJSON(w, 200, map[string]any{
			"redeem_shares": weiString(shares),
			"quote_out":     weiString(quoteOut),
			"base_out":      weiString(baseOut),
			"assets":        weiString(new(big.Int).Add(quoteOut, baseOut)),
		})
	default:
		writeError(w, 400, "pass exactly one of deposit or redeem")
	}
}

type setConfigRequest struct {
	Caller           string `json:"caller"`
	IntervalSeconds  uint64 `json:"interval_seconds"`
	MaxSlippageBps   uint64 `json:"max_slippage_bps"`
	PerCycleQuoteCap string `json:"per_cycle_quote_cap"`
	FeeBps           uint64 `json:"fee_bps"`
	Keeper           string `json:"keeper"`
	Paused           bool   `json:"paused"`
}

func (s *Server) handleVaultConfigSet(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookupVault(w, r)
	if !ok {
		return
	}
	var req setConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid json body")
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, 400, "invalid caller address")
		return
	}
	capAmount, ok := parseAmount(req.PerCycleQuoteCap)
	if !ok {
		writeError(w, 400, "invalid per_cycle_quote_cap")
		return
	}
	keeper, ok := parseAddress(req.Keeper)
	if req.Keeper != "" && !ok {
		writeError(w, 400, "invalid keeper address")
		return
	}
	cfg := vault.Config{
		IntervalSeconds:  req.IntervalSeconds,
		MaxSlippageBps:   req.MaxSlippageBps,
		PerCycleQuoteCap: capAmount,
		FeeBps:           req.FeeBps,
		Keeper:           keeper,
		Paused:           req.Paused,
	}
	if err := v.SetConfig(caller, cfg); err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, 200, configJSON(v.GetConfig()))
}

type depositRequest struct {
	Caller   string `json:"caller"`
	Assets   string `json:"assets"`
	Receiver string `json:"receiver"`
}

func (s *Server) handleVaultDeposit(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookupVault(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid json body")
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, 400, "invalid caller address")
		return
	}
	receiver := caller
	if req.Receiver != "" {
		if receiver, ok = parseAddress(req.Receiver); !ok {
			writeError(w, 400, "invalid receiver address")
			return
		}
	}
	assets, ok := parseAmount(req.Assets)
	if !ok {
		writeError(w, 400, "invalid assets amount")
		return
	}
	shares, err := v.Deposit(caller, assets, receiver)
	if err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, 200, map[string]any{"shares": weiString(shares)})
}

type redeemRequest struct {
	Caller   string `json:"caller"`
	Shares   string `json:"shares"`
	Receiver string `json:"receiver"`
	Owner    string `json:"owner"`
}

func (s *Server) handleVaultRedeem(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookupVault(w, r)
	if !ok {
		return
	}
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid json body")
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, 400, "invalid caller address")
		return
	}
	receiver, owner := caller, caller
	if req.Receiver != "" {
		if receiver, ok = parseAddress(req.Receiver); !ok {
			writeError(w, 400, "invalid receiver address")
			return
		}
	}
	if req.Owner != "" {
		if owner, ok = parseAddress(req.Owner); !ok {
			writeError(w, 400, "invalid owner address")
			return
		}
	}
	shares, ok := parseAmount(req.Shares)
	if !ok {
		writeError(w, 400, "invalid shares amount")
		return
	}
	assets, err := v.Redeem(caller, shares, receiver, owner)
	if err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, 200, map[string]any{"assets": weiString(assets)})
}

type withdrawRequest struct {
	Caller   string `json:"caller"`
	Assets   string `json:"assets"`
	Receiver string `json:"receiver"`
	Owner    string `json:"owner"`
}

func (s *Server) handleVaultWithdraw(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookupVault(w, r)
	if !ok {
		return
	}
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid json body")
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, 400, "invalid caller address")
		return
	}
	receiver, owner := caller, caller
	if req.Receiver != "" {
		if receiver, ok = parseAddress(req.Receiver); !ok {
			writeError(w, 400, "invalid receiver address")
			return
		}
	}
	if req.Owner != "" {
		if owner, ok = parseAddress(req.Owner); !ok {
			writeError(w, 400, "invalid owner address")
			return
		}
	}
	assets, ok := parseAmount(req.Assets)
	if !ok {
		writeError(w, 400, "invalid assets amount")
		return
	}
	burned, err := v.Withdraw(caller, assets, receiver, owner)
	if err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, 200, map[string]any{"shares_burned": weiString(burned)})
}

type executeRequest struct {
	Caller      string `json:"caller"`
	QuoteAmount string `json:"quote_amount"`
	MinOut      string `json:"min_out"`
	Beneficiary string `json:"beneficiary"`
}

func (s *Server) handleVaultExecute(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookupVault(w, r)
	if !ok {
		return
	}
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid json body")
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, 400, "invalid caller address")
		return
	}
	amount, ok := parseAmount(req.QuoteAmount)
	if !ok {
		writeError(w, 400, "invalid quote_amount")
		return
	}
	minOut, ok := parseAmount(req.MinOut)
	if !ok {
		writeError(w, 400, "invalid min_out")
		return
	}
	beneficiary := caller
	if req.Beneficiary != "" {
		if beneficiary, ok = parseAddress(req.Beneficiary); !ok {
			writeError(w, 400, "invalid beneficiary address")
			return
		}
	}
	out, err := v.ExecuteCycle(caller, amount, minOut, beneficiary)
	if err != nil {
		metrics.CycleErrors.Add(1)
		writeProtocolError(w, err)
		return
	}
	metrics.CyclesExecuted.Add(1)
	writeJSON(w, 200, map[string]any{"base_out": weiString(out), "last_exec": v.LastExec()})
}

type transferOwnershipRequest struct {
	Caller   string `json:"caller"`
	NewOwner string `json:"new_owner"`
}

func (s *Server) handleVaultTransferOwnership(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookupVault(w, r)
	if !ok {
		return
	}
	var req transferOwnershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid json body")
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, 400, "invalid caller address")
		return
	}
	newOwner, ok := parseAddress(req.NewOwner)
	if !ok {
		writeError(w, 400, "invalid new_owner address")
		return
	}
	if err := v.TransferOwnership(caller, newOwner); err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, 200, map[string]any{"owner": v.Owner().Hex()})
}

func (s *Server) handleVaultBalance(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookupVault(w, r)
	if !ok {
		return
	}
	holder, ok := parseAddress(pathParam(r, "holder"))
	if !ok {
		writeError(w, 400, "invalid holder address")
		return
	}
	shares := v.BalanceOf(holder)
	quoteOut, baseOut := v.PreviewRedeem(shares)
	writeJSON(w, 200, map[string]any{
		"holder":        holder.Hex(),
		"shares":        weiString(shares),
		"preview_quote": weiString(quoteOut),
		"preview_base":  weiString(baseOut),
	})
}

func (s *Server) handleVaultFills(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, 503, "history store disabled")
		return
	}
	v, ok := s.lookupVault(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	fills, err := s.store.ListFills(r.Context(), v.Address().Hex(), limit)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	items := make([]map[string]any, 0, len(fills))
	for _, f := range fills {
		items = append(items, map[string]any{
			"id":          f.ID,
			"quote_in":    weiString(f.QuoteIn),
			"base_out":    weiString(f.BaseOut),
			"executed_at": f.ExecutedAt,
		})
	}
	count, quoteSum, baseSum, err := s.store.FillTotals(r.Context(), v.Address().Hex())
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, map[string]any{
		"vault":          v.Address().Hex(),
		"fills":          items,
		"count":          count,
		"total_quote_in": weiString(quoteSum),
		"total_base_out": weiString(baseSum),
	})
}

func (s *Server) handleVaultMetaTxs(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, 503, "history store disabled")
		return
	}
	v, ok := s.lookupVault(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	metas, err := s.store.ListMetaTxsByVault(r.Context(), v.Address().Hex(), limit)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, map[string]any{"vault": v.Address().Hex(), "meta_txs": metaTxItems(metas)})
}
