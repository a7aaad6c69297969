package server

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/dcabot/govault/internal/chain"
	"github.com/dcabot/govault/internal/router"
	"github.com/dcabot/govault/internal/store"
	"github.com/dcabot/govault/internal/vault"
	"github.com/dcabot/govault/pkg/ratelimit"
)

// Server 协议 HTTP 入口：金库/工厂/中继的读写接口、历史查询和事件推送。
// 写接口的 caller 由请求体显式给出，不做签名鉴权，只适合本地模拟环境；
// 需要签名保障的路径走中继的 EIP-712 通道。
type Server struct {
	env     *chain.Env
	factory *vault.Factory
	relayer *vault.Relayer
	store   *store.Store // 可为 nil，历史接口返回 503
	hub     *Hub
	limits  *ratelimit.RateLimitManager
}

// New 组装 HTTP 服务，store 传 nil 时关闭历史查询接口
func New(env *chain.Env, factory *vault.Factory, relayer *vault.Relayer, st *store.Store) *Server {
	return &Server{
		env:     env,
		factory: factory,
		relayer: relayer,
		store:   st,
		hub:     NewHub(),
		limits:  ratelimit.NewRateLimitManager(),
	}
}

// Hub 事件推送集线器
func (s *Server) Hub() *Hub {
	return s.hub
}

// Router 组装全部路由
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.wrap(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	r.GET("/ws", s.wrap(s.hub.Handler()))

	api := r.Group("/api")
	api.Use(rateLimitMiddleware(s.limits))

	vaults := api.Group("/vaults")
	vaults.GET("/", s.wrap(s.handleVaultsList))
	vaults.POST("/", s.wrap(s.handleVaultCreate))
	vaults.POST("/copy", s.wrap(s.handleVaultCopy))
	vaultID := vaults.Group("/:address")
	vaultID.GET("/", s.wrap(s.handleVaultGet))
	vaultID.GET("/config", s.wrap(s.handleVaultConfigGet))
	vaultID.PUT("/config", s.wrap(s.handleVaultConfigSet))
	vaultID.GET("/preview", s.wrap(s.handleVaultPreview))
	vaultID.POST("/deposit", s.wrap(s.handleVaultDeposit))
	vaultID.POST("/redeem", s.wrap(s.handleVaultRedeem))
	vaultID.POST("/withdraw", s.wrap(s.handleVaultWithdraw))
	vaultID.POST("/execute", s.wrap(s.handleVaultExecute))
	vaultID.POST("/transfer_ownership", s.wrap(s.handleVaultTransferOwnership))
	vaultID.GET("/balance/:holder", s.wrap(s.handleVaultBalance))
	vaultID.GET("/fills", s.wrap(s.handleVaultFills))
	vaultID.GET("/meta_txs", s.wrap(s.handleVaultMetaTxs))

	relayer := api.Group("/relayer")
	relayer.GET("/", s.wrap(s.handleRelayerInfo))
	relayer.GET("/nonce/:signer", s.wrap(s.handleRelayerNonce))
	relayer.POST("/execute", s.wrap(s.handleRelayerExecute))
	relayer.POST("/verify", s.wrap(s.handleRelayerVerify))
	relayer.PUT("/fee", s.wrap(s.handleRelayerSetFee))
	relayer.GET("/meta_txs/:signer", s.wrap(s.handleRelayerMetaTxs))

	api.GET("/tokens", s.wrap(s.handleTokensList))

	return r
}

type paramsKeyType string

const paramsKey paramsKeyType = "govault_path_params"

// wrap adapts existing net/http handlers to gin, injecting path params into request context.
func (s *Server) wrap(h func(http.ResponseWriter, *http.Request)) gin.HandlerFunc {
	return func(c *gin.Context) {
		m := map[string]string{}
		for _, p := range c.Params {
			m[p.Key] = p.Value
		}
		ctx := context.WithValue(c.Request.Context(), paramsKey, m)
		c.Request = c.Request.WithContext(ctx)
		h(c.Writer, c.Request)
	}
}

func pathParam(r *http.Request, key string) string {
	m, _ := r.Context().Value(paramsKey).(map[string]string)
	return m[key]
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

// statusFor 协议错误到 HTTP 状态码的映射
func statusFor(err error) int {
	switch {
	case errors.Is(err, vault.ErrUnknownVault):
		return http.StatusNotFound
	case errors.Is(err, vault.ErrNotOwner), errors.Is(err, vault.ErrNotKeeper):
		return http.StatusForbidden
	case errors.Is(err, vault.ErrPaused),
		errors.Is(err, vault.ErrIntervalNotElapsed),
		errors.Is(err, vault.ErrReentrancy):
		return http.StatusConflict
	case errors.Is(err, vault.ErrZeroAddress),
		errors.Is(err, vault.ErrInvalidParams),
		errors.Is(err, vault.ErrZeroAmount),
		errors.Is(err, vault.ErrCapExceeded),
		errors.Is(err, vault.ErrSlippage),
		errors.Is(err, vault.ErrNothingToSwap),
		errors.Is(err, vault.ErrInsufficientShares),
		errors.Is(err, vault.ErrMetaTxExpired),
		errors.Is(err, vault.ErrOutOfRange),
		errors.Is(err, chain.ErrInsufficientBalance),
		errors.Is(err, chain.ErrInsufficientAllowance),
		errors.Is(err, chain.ErrNegativeAmount),
		errors.Is(err, router.ErrSlippage),
		errors.Is(err, router.ErrDeadlineExpired),
		errors.Is(err, router.ErrNoLiquidity),
		errors.Is(err, router.ErrUnsupportedPair):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeProtocolError 按协议错误映射状态码输出
func writeProtocolError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

// parseAddress 校验并解析 0x 地址
func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// parseAmount 解析十进制 wei 数量，必须非负
func parseAmount(s string) (*big.Int, bool) {
	if s == "" {
		return new(big.Int), true
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}

func weiString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
