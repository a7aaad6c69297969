package api

// VaultConfig 金库周期参数，与服务端 JSON 字段一一对应
type VaultConfig struct {
	IntervalSeconds  uint64 `json:"interval_seconds"`
	MaxSlippageBps   uint64 `json:"max_slippage_bps"`
	PerCycleQuoteCap string `json:"per_cycle_quote_cap"`
	FeeBps           uint64 `json:"fee_bps"`
	Keeper           string `json:"keeper"`
	Paused           bool   `json:"paused"`
}

// VaultDetail 金库完整状态快照
type VaultDetail struct {
	Address          string      `json:"address"`
	Owner            string      `json:"owner"`
	BaseToken        string      `json:"base_token"`
	QuoteToken       string      `json:"quote_token"`
	Router           string      `json:"router"`
	Config           VaultConfig `json:"config"`
	LastExec         int64       `json:"last_exec"`
	NextExecTime     int64       `json:"next_exec_time"`
	TotalFilledQuote string      `json:"total_filled_quote"`
	TotalFilledBase  string      `json:"total_filled_base"`
	TotalShares      string      `json:"total_shares"`
	TotalAssets      string      `json:"total_assets"`
	QuoteBalance     string      `json:"quote_balance"`
	BaseBalance      string      `json:"base_balance"`
}

// VaultList 分页的金库地址列表
type VaultList struct {
	Total  uint64   `json:"total"`
	Offset uint64   `json:"offset"`
	Vaults []string `json:"vaults"`
}

// CreateVaultParams 创建金库的请求参数
type CreateVaultParams struct {
	Caller           string `json:"caller"`
	BaseToken        string `json:"base_token"`
	QuoteToken       string `json:"quote_token"`
	IntervalSeconds  uint64 `json:"interval_seconds"`
	MaxSlippageBps   uint64 `json:"max_slippage_bps"`
	PerCycleQuoteCap string `json:"per_cycle_quote_cap"`
	FeeBps           uint64 `json:"fee_bps"`
	Keeper           string `json:"keeper"`
}

// Balance 持有人份额与可赎回预估
type Balance struct {
	Holder       string `json:"holder"`
	Shares       string `json:"shares"`
	PreviewQuote string `json:"preview_quote"`
	PreviewBase  string `json:"preview_base"`
}

// ExecuteResult 周期执行结果
type ExecuteResult struct {
	BaseOut  string `json:"base_out"`
	LastExec int64  `json:"last_exec"`
}

// Fill 单次成交记录
type Fill struct {
	ID         int64  `json:"id"`
	QuoteIn    string `json:"quote_in"`
	BaseOut    string `json:"base_out"`
	ExecutedAt int64  `json:"executed_at"`
}

// FillHistory 金库成交历史与累计量
type FillHistory struct {
	Vault        string `json:"vault"`
	Fills        []Fill `json:"fills"`
	Count        int64  `json:"count"`
	TotalQuoteIn string `json:"total_quote_in"`
	TotalBaseOut string `json:"total_base_out"`
}

// MetaTx 中继代执行记录
type MetaTx struct {
	ID          int64  `json:"id"`
	Signer      string `json:"signer"`
	Vault       string `json:"vault"`
	QuoteAmount string `json:"quote_amount"`
	BaseOut     string `json:"base_out"`
	RelayerFee  string `json:"relayer_fee"`
	ExecutedAt  int64  `json:"executed_at"`
}

// RelayerInfo 中继器静态信息，chain_id 为十进制字符串
type RelayerInfo struct {
	Address         string `json:"address"`
	Owner           string `json:"owner"`
	ChainID         string `json:"chain_id"`
	RelayerFeeBps   uint64 `json:"relayer_fee_bps"`
	DomainSeparator string `json:"domain_separator"`
}

// Intent 待签名或已签名的周期意图，金额为十进制 wei 字符串
type Intent struct {
	Vault       string `json:"vault"`
	QuoteAmount string `json:"quote_amount"`
	MinOut      string `json:"min_out"`
	Beneficiary string `json:"beneficiary"`
	Deadline    int64  `json:"deadline"`
	Nonce       uint64 `json:"nonce"`
}

// VerifyResult 签名校验结果：signer 是恢复出的地址，valid 表示意图当前可执行
type VerifyResult struct {
	Signer string `json:"signer"`
	Valid  bool   `json:"valid"`
}

// Token 环境里登记的代币
type Token struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}
