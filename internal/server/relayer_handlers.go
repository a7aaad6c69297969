package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dcabot/govault/internal/metrics"
	"github.com/dcabot/govault/internal/store"
	"github.com/dcabot/govault/pkg/signing"
)

func (s *Server) handleRelayerInfo(w http.ResponseWriter, r *http.Request) {
	sep, err := s.relayer.DomainSeparator()
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, map[string]any{
		"address":          s.relayer.Address().Hex(),
		"owner":            s.relayer.Owner().Hex(),
		"chain_id":         s.relayer.ChainID().String(),
		"relayer_fee_bps":  s.relayer.RelayerFeeBps(),
		"domain_separator": sep.Hex(),
	})
}

func (s *Server) handleRelayerNonce(w http.ResponseWriter, r *http.Request) {
	signer, ok := parseAddress(pathParam(r, "signer"))
	if !ok {
		writeError(w, 400, "invalid signer address")
		return
	}
	writeJSON(w, 200, map[string]any{
		"signer": signer.Hex(),
		"nonce":  s.relayer.GetNonce(signer),
	})
}

type intentPayload struct {
	Vault       string `json:"vault"`
	QuoteAmount string `json:"quote_amount"`
	MinOut      string `json:"min_out"`
	Beneficiary string `json:"beneficiary"`
	Deadline    int64  `json:"deadline"`
	Nonce       uint64 `json:"nonce"`
}

// parseIntent 把请求体意图转成签名域里的结构
func parseIntent(p intentPayload) (signing.CycleIntent, string) {
	var intent signing.CycleIntent
	vaultAddr, ok := parseAddress(p.Vault)
	if !ok {
		return intent, "invalid intent vault address"
	}
	amount, ok := parseAmount(p.QuoteAmount)
	if !ok {
		return intent, "invalid intent quote_amount"
	}
	minOut, ok := parseAmount(p.MinOut)
	if !ok {
		return intent, "invalid intent min_out"
	}
	beneficiary := common.Address{}
	if p.Beneficiary != "" {
		if beneficiary, ok = parseAddress(p.Beneficiary); !ok {
			return intent, "invalid intent beneficiary"
		}
	}
	intent = signing.CycleIntent{
		Vault:       vaultAddr,
		QuoteAmount: amount,
		MinOut:      minOut,
		Beneficiary: beneficiary,
		Deadline:    p.Deadline,
		Nonce:       p.Nonce,
	}
	return intent, ""
}

type relayerExecuteRequest struct {
	Caller    string        `json:"caller"`
	Intent    intentPayload `json:"intent"`
	Signature string        `json:"signature"`
}

func (s *Server) handleRelayerExecute(w http.ResponseWriter, r *http.Request) {
	var req relayerExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid json body")
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, 400, "invalid caller address")
		return
	}
	intent, msg := parseIntent(req.Intent)
	if msg != "" {
		writeError(w, 400, msg)
		return
	}
	sig := common.FromHex(req.Signature)
	if len(sig) == 0 {
		writeError(w, 400, "invalid signature encoding")
		return
	}
	out, err := s.relayer.ExecuteMetaCycle(caller, intent, sig)
	if err != nil {
		writeProtocolError(w, err)
		return
	}
	metrics.MetaTxExecuted.Add(1)
	writeJSON(w, 200, map[string]any{"base_out": weiString(out)})
}

type relayerVerifyRequest struct {
	Intent    intentPayload `json:"intent"`
	Signature string        `json:"signature"`
}

func (s *Server) handleRelayerVerify(w http.ResponseWriter, r *http.Request) {
	var req relayerVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid json body")
		return
	}
	intent, msg := parseIntent(req.Intent)
	if msg != "" {
		writeError(w, 400, msg)
		return
	}
	signer, valid := s.relayer.VerifySignature(intent, common.FromHex(req.Signature))
	writeJSON(w, 200, map[string]any{
		"signer": signer.Hex(),
		"valid":  valid,
	})
}

type relayerFeeRequest struct {
	Caller string `json:"caller"`
	FeeBps uint64 `json:"fee_bps"`
}

func (s *Server) handleRelayerSetFee(w http.ResponseWriter, r *http.Request) {
	var req relayerFeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid json body")
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, 400, "invalid caller address")
		return
	}
	if err := s.relayer.SetRelayerFee(caller, req.FeeBps); err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, 200, map[string]any{"relayer_fee_bps": s.relayer.RelayerFeeBps()})
}

func (s *Server) handleRelayerMetaTxs(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, 503, "history store disabled")
		return
	}
	signer, ok := parseAddress(pathParam(r, "signer"))
	if !ok {
		writeError(w, 400, "invalid signer address")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	metas, err := s.store.ListMetaTxsBySigner(r.Context(), signer.Hex(), limit)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, map[string]any{"signer": signer.Hex(), "meta_txs": metaTxItems(metas)})
}

func metaTxItems(metas []store.MetaTxRecord) []map[string]any {
	items := make([]map[string]any, 0, len(metas))
	for _, m := range metas {
		items = append(items, map[string]any{
			"id":           m.ID,
			"signer":       m.Signer,
			"vault":        m.Vault,
			"quote_amount": weiString(m.QuoteAmount),
			"base_out":     weiString(m.BaseOut),
			"relayer_fee":  weiString(m.RelayerFee),
			"executed_at":  m.ExecutedAt,
		})
	}
	return items
}

func (s *Server) handleTokensList(w http.ResponseWriter, r *http.Request) {
	infos := s.env.Tokens()
	items := make([]map[string]any, 0, len(infos))
	for _, info := range infos {
		items = append(items, map[string]any{
			"address":  info.Address.Hex(),
			"symbol":   info.Symbol,
			"decimals": info.Decimals,
		})
	}
	writeJSON(w, 200, map[string]any{"tokens": items})
}
