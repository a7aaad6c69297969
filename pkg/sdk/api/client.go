// Package api 提供 govault 守护进程 HTTP 接口的 Go 客户端
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dcabot/govault/pkg/cache"
	sdkhttp "github.com/dcabot/govault/pkg/sdk/http"
)

const tokenCacheKey = "tokens"

// Client 访问 govault 守护进程。所有金额参数与返回值都是十进制 wei 字符串。
type Client struct {
	http   *sdkhttp.Client
	tokens *cache.InMemoryCache[string, []Token]
}

// NewClient 创建客户端，baseURL 为空时连本机默认端口
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	return &Client{
		http: sdkhttp.NewClient(baseURL),
		// 代币表由创世配置固定，不会在运行期变化，缓存 5 分钟足够
		tokens: cache.NewInMemoryCache[string, []Token](5 * time.Minute),
	}
}

func (c *Client) get(ctx context.Context, endpoint string, params map[string]any, out any) error {
	resp, err := c.http.DoRequest(ctx, http.MethodGet, endpoint, &sdkhttp.RequestOptions{Params: params}, out)
	return sdkhttp.ParseHTTPError(resp, err)
}

func (c *Client) send(ctx context.Context, method, endpoint string, body, out any) error {
	resp, err := c.http.DoRequest(ctx, method, endpoint, &sdkhttp.RequestOptions{Data: body}, out)
	return sdkhttp.ParseHTTPError(resp, err)
}

// ListVaults 分页列出金库地址，limit 为 0 时用服务端默认页大小
func (c *Client) ListVaults(ctx context.Context, offset, limit uint64) (*VaultList, error) {
	params := map[string]any{}
	if offset > 0 {
		params["offset"] = offset
	}
	if limit > 0 {
		params["limit"] = limit
	}
	var out VaultList
	if err := c.get(ctx, "/api/vaults/", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateVault 创建金库，返回新金库地址
func (c *Client) CreateVault(ctx context.Context, p CreateVaultParams) (string, error) {
	var out struct {
		Vault string `json:"vault"`
	}
	if err := c.send(ctx, http.MethodPost, "/api/vaults/", p, &out); err != nil {
		return "", err
	}
	return out.Vault, nil
}

// CopyVault 按源金库参数给 caller 复制一个新金库
func (c *Client) CopyVault(ctx context.Context, caller, source string) (string, error) {
	var out struct {
		Vault string `json:"vault"`
	}
	body := map[string]any{"caller": caller, "source": source}
	if err := c.send(ctx, http.MethodPost, "/api/vaults/copy", body, &out); err != nil {
		return "", err
	}
	return out.Vault, nil
}

// GetVault 读取金库完整状态
func (c *Client) GetVault(ctx context.Context, vault string) (*VaultDetail, error) {
	var out VaultDetail
	if err := c.get(ctx, fmt.Sprintf("/api/vaults/%s/", vault), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetConfig 读取金库周期参数
func (c *Client) GetConfig(ctx context.Context, vault string) (*VaultConfig, error) {
	var out VaultConfig
	if err := c.get(ctx, fmt.Sprintf("/api/vaults/%s/config", vault), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetConfig 整体更新金库参数，caller 必须是金库所有者
func (c *Client) SetConfig(ctx context.Context, vault, caller string, cfg VaultConfig) (*VaultConfig, error) {
	body := map[string]any{
		"caller":              caller,
		"interval_seconds":    cfg.IntervalSeconds,
		"max_slippage_bps":    cfg.MaxSlippageBps,
		"per_cycle_quote_cap": cfg.PerCycleQuoteCap,
		"fee_bps":             cfg.FeeBps,
		"keeper":              cfg.Keeper,
		"paused":              cfg.Paused,
	}
	var out VaultConfig
	if err := c.send(ctx, http.MethodPut, fmt.Sprintf("/api/vaults/%s/config", vault), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Deposit 存入计价代币，返回铸出的份额
func (c *Client) Deposit(ctx context.Context, vault, caller, assets, receiver string) (string, error) {
	body := map[string]any{"caller": caller, "assets": assets, "receiver": receiver}
	var out struct {
		Shares string `json:"shares"`
	}
	if err := c.send(ctx, http.MethodPost, fmt.Sprintf("/api/vaults/%s/deposit", vault), body, &out); err != nil {
		return "", err
	}
	return out.Shares, nil
}

// Redeem 按份额赎回，返回转出的计价代币数量
func (c *Client) Redeem(ctx context.Context, vault, caller, shares, receiver, owner string) (string, error) {
	body := map[string]any{"caller": caller, "shares": shares, "receiver": receiver, "owner": owner}
	var out struct {
		Assets string `json:"assets"`
	}
	if err := c.send(ctx, http.MethodPost, fmt.Sprintf("/api/vaults/%s/redeem", vault), body, &out); err != nil {
		return "", err
	}
	return out.Assets, nil
}

// Withdraw 按计价资产数取回，返回销毁的份额
func (c *Client) Withdraw(ctx context.Context, vault, caller, assets, receiver, owner string) (string, error) {
	body := map[string]any{"caller": caller, "assets": assets, "receiver": receiver, "owner": owner}
	var out struct {
		SharesBurned string `json:"shares_burned"`
	}
	if err := c.send(ctx, http.MethodPost, fmt.Sprintf("/api/vaults/%s/withdraw", vault), body, &out); err != nil {
		return "", err
	}
	return out.SharesBurned, nil
}

// ExecuteCycle 触发一次定投周期。quoteAmount 为空时由金库按上限与余额决定。
func (c *Client) ExecuteCycle(ctx context.Context, vault, caller, quoteAmount, minOut, beneficiary string) (*ExecuteResult, error) {
	body := map[string]any{
		"caller":       caller,
		"quote_amount": quoteAmount,
		"min_out":      minOut,
		"beneficiary":  beneficiary,
	}
	var out ExecuteResult
	if err := c.send(ctx, http.MethodPost, fmt.Sprintf("/api/vaults/%s/execute", vault), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TransferOwnership 移交金库所有权，返回新所有者
func (c *Client) TransferOwnership(ctx context.Context, vault, caller, newOwner string) (string, error) {
	body := map[string]any{"caller": caller, "new_owner": newOwner}
	var out struct {
		Owner string `json:"owner"`
	}
	if err := c.send(ctx, http.MethodPost, fmt.Sprintf("/api/vaults/%s/transfer_ownership", vault), body, &out); err != nil {
		return "", err
	}
	return out.Owner, nil
}

// GetBalance 查询持有人份额与按当前库存的可赎回预估
func (c *Client) GetBalance(ctx context.Context, vault, holder string) (*Balance, error) {
	var out Balance
	if err := c.get(ctx, fmt.Sprintf("/api/vaults/%s/balance/%s", vault, holder), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListFills 查询金库成交历史，limit 为 0 时用服务端默认条数
func (c *Client) ListFills(ctx context.Context, vault string, limit int) (*FillHistory, error) {
	params := map[string]any{}
	if limit > 0 {
		params["limit"] = limit
	}
	var out FillHistory
	if err := c.get(ctx, fmt.Sprintf("/api/vaults/%s/fills", vault), params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListVaultMetaTxs 查询某金库的中继代执行记录
func (c *Client) ListVaultMetaTxs(ctx context.Context, vault string, limit int) ([]MetaTx, error) {
	params := map[string]any{}
	if limit > 0 {
		params["limit"] = limit
	}
	var out struct {
		Vault   string   `json:"vault"`
		MetaTxs []MetaTx `json:"meta_txs"`
	}
	if err := c.get(ctx, fmt.Sprintf("/api/vaults/%s/meta_txs", vault), params, &out); err != nil {
		return nil, err
	}
	return out.MetaTxs, nil
}

// RelayerInfo 读取中继器信息（EIP-712 域参数在这里拿）
func (c *Client) RelayerInfo(ctx context.Context) (*RelayerInfo, error) {
	var out RelayerInfo
	if err := c.get(ctx, "/api/relayer/", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RelayerNonce 查询签名人当前应使用的 nonce
func (c *Client) RelayerNonce(ctx context.Context, signer string) (uint64, error) {
	var out struct {
		Signer string `json:"signer"`
		Nonce  uint64 `json:"nonce"`
	}
	if err := c.get(ctx, fmt.Sprintf("/api/relayer/nonce/%s", signer), nil, &out); err != nil {
		return 0, err
	}
	return out.Nonce, nil
}

// RelayerExecute 提交已签名意图由中继代执行，signature 为 0x 前缀十六进制
func (c *Client) RelayerExecute(ctx context.Context, caller string, intent Intent, signature string) (string, error) {
	body := map[string]any{"caller": caller, "intent": intent, "signature": signature}
	var out struct {
		BaseOut string `json:"base_out"`
	}
	if err := c.send(ctx, http.MethodPost, "/api/relayer/execute", body, &out); err != nil {
		return "", err
	}
	return out.BaseOut, nil
}

// RelayerVerify 校验签名并恢复签名人，不消耗 nonce
func (c *Client) RelayerVerify(ctx context.Context, intent Intent, signature string) (*VerifyResult, error) {
	body := map[string]any{"intent": intent, "signature": signature}
	var out VerifyResult
	if err := c.send(ctx, http.MethodPost, "/api/relayer/verify", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetRelayerFee 调整中继费率（基点），caller 必须是中继所有者
func (c *Client) SetRelayerFee(ctx context.Context, caller string, feeBps uint64) (uint64, error) {
	body := map[string]any{"caller": caller, "fee_bps": feeBps}
	var out struct {
		RelayerFeeBps uint64 `json:"relayer_fee_bps"`
	}
	if err := c.send(ctx, http.MethodPut, "/api/relayer/fee", body, &out); err != nil {
		return 0, err
	}
	return out.RelayerFeeBps, nil
}

// ListSignerMetaTxs 查询某签名人的中继代执行记录
func (c *Client) ListSignerMetaTxs(ctx context.Context, signer string, limit int) ([]MetaTx, error) {
	params := map[string]any{}
	if limit > 0 {
		params["limit"] = limit
	}
	var out struct {
		Signer  string   `json:"signer"`
		MetaTxs []MetaTx `json:"meta_txs"`
	}
	if err := c.get(ctx, fmt.Sprintf("/api/relayer/meta_txs/%s", signer), params, &out); err != nil {
		return nil, err
	}
	return out.MetaTxs, nil
}

// ListTokens 列出环境代币表，结果在客户端缓存
func (c *Client) ListTokens(ctx context.Context) ([]Token, error) {
	if tokens, ok := c.tokens.Get(tokenCacheKey); ok {
		return tokens, nil
	}
	var out struct {
		Tokens []Token `json:"tokens"`
	}
	if err := c.get(ctx, "/api/tokens", nil, &out); err != nil {
		return nil, err
	}
	c.tokens.Set(tokenCacheKey, out.Tokens, 0)
	return out.Tokens, nil
}
