package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Listen      string // 监听地址
	StorePath   string // sqlite 文件路径，空字符串关闭历史落库
	DebugListen string // expvar/pprof 调试端口，空字符串关闭（建议仅监听 localhost）
}

// TokenConfig 创世代币
type TokenConfig struct {
	Symbol   string
	Decimals uint8
}

// PairConfig 路由器交易对：out = in * RateNum / RateDen
type PairConfig struct {
	Quote     string // 计价代币符号
	Base      string // 目标代币符号
	RateNum   int64
	RateDen   int64
	Liquidity string // 注入路由器的目标代币数量（wei 十进制字符串）
}

// FaucetConfig 创世铸币，方便本地起链后直接存入
type FaucetConfig struct {
	Token   string // 代币符号
	Address string // 接收地址
	Amount  string // wei 十进制字符串
}

// ChainConfig 链环境配置
type ChainConfig struct {
	ChainID  int64
	Router   string // 路由实现：fixed（固定汇率）或 amm（恒定乘积）
	LPFeeBps uint64 // amm 路由的 LP 手续费（基点），fixed 路由忽略
	Tokens   []TokenConfig
	Pairs    []PairConfig
	Faucet   []FaucetConfig
}

// RelayerConfig 中继配置
type RelayerConfig struct {
	Owner  string // 中继管理员地址
	FeeBps uint64 // 中继费率（基点）
}

// KeeperConfig keeper 巡检配置
type KeeperConfig struct {
	APIURL      string   // vaultd HTTP 地址
	PollSeconds int      // 巡检间隔（秒）
	StateDir    string   // 巡检状态落盘目录
	SecretPath  string   // 密钥库路径（badger）
	Vaults      []string // 只巡检这些金库，为空时巡检全部
}

// Config 应用配置
type Config struct {
	Server   ServerConfig
	Chain    ChainConfig
	Relayer  RelayerConfig
	Keeper   KeeperConfig
	LogLevel string // 日志级别
	LogFile  string // 日志文件路径
	DryRun   bool   // 只读巡检模式：keeper 不触发真实执行
}

var globalConfig *Config
var configFilePath string

// SetConfigPath 设置配置文件路径
func SetConfigPath(path string) {
	configFilePath = path
}

// GetConfigPath 获取配置文件路径
func GetConfigPath() string {
	return configFilePath
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）
type ConfigFile struct {
	Server struct {
		Listen      string `yaml:"listen" json:"listen"`
		StorePath   string `yaml:"store_path" json:"store_path"`
		DebugListen string `yaml:"debug_listen" json:"debug_listen"`
	} `yaml:"server" json:"server"`
	Chain struct {
		ChainID  int64  `yaml:"chain_id" json:"chain_id"`
		Router   string `yaml:"router" json:"router"`
		LPFeeBps uint64 `yaml:"lp_fee_bps" json:"lp_fee_bps"`
		Tokens   []struct {
			Symbol   string `yaml:"symbol" json:"symbol"`
			Decimals uint8  `yaml:"decimals" json:"decimals"`
		} `yaml:"tokens" json:"tokens"`
		Pairs []struct {
			Quote     string `yaml:"quote" json:"quote"`
			Base      string `yaml:"base" json:"base"`
			RateNum   int64  `yaml:"rate_num" json:"rate_num"`
			RateDen   int64  `yaml:"rate_den" json:"rate_den"`
			Liquidity string `yaml:"liquidity" json:"liquidity"`
		} `yaml:"pairs" json:"pairs"`
		Faucet []struct {
			Token   string `yaml:"token" json:"token"`
			Address string `yaml:"address" json:"address"`
			Amount  string `yaml:"amount" json:"amount"`
		} `yaml:"faucet" json:"faucet"`
	} `yaml:"chain" json:"chain"`
	Relayer struct {
		Owner  string `yaml:"owner" json:"owner"`
		FeeBps uint64 `yaml:"fee_bps" json:"fee_bps"`
	} `yaml:"relayer" json:"relayer"`
	Keeper struct {
		APIURL      string   `yaml:"api_url" json:"api_url"`
		PollSeconds int      `yaml:"poll_seconds" json:"poll_seconds"`
		StateDir    string   `yaml:"state_dir" json:"state_dir"`
		SecretPath  string   `yaml:"secret_path" json:"secret_path"`
		Vaults      []string `yaml:"vaults" json:"vaults"`
	} `yaml:"keeper" json:"keeper"`
	LogLevel string `yaml:"log_level" json:"log_level"`
	LogFile  string `yaml:"log_file" json:"log_file"`
	DryRun   bool   `yaml:"dry_run" json:"dry_run"`
}

// Load 加载配置
func Load() (*Config, error) {
	return LoadFromFile(configFilePath)
}

// LoadFromFile 从指定文件加载配置。
// 优先级：环境变量 > 配置文件 > 默认值；文件路径为空时仅用环境变量和默认值。
func LoadFromFile(filePath string) (*Config, error) {
	if globalConfig != nil && configFilePath == filePath {
		return globalConfig, nil
	}

	var configFile *ConfigFile
	if filePath != "" {
		var err error
		configFile, err = loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Listen:      pickString(getEnv("GOVAULT_LISTEN", ""), fileServerListen(configFile), ":8080"),
			StorePath:   pickString(getEnv("GOVAULT_STORE_PATH", ""), fileServerStore(configFile), "data/govault.db"),
			DebugListen: pickString(getEnv("GOVAULT_DEBUG_LISTEN", ""), fileServerDebug(configFile)),
		},
		Chain:   buildChainConfig(configFile),
		Relayer: buildRelayerConfig(configFile),
		Keeper:  buildKeeperConfig(configFile),
		LogLevel: pickString(getEnv("GOVAULT_LOG_LEVEL", ""), func() string {
			if configFile != nil {
				return configFile.LogLevel
			}
			return ""
		}(), "info"),
		LogFile: pickString(getEnv("GOVAULT_LOG_FILE", ""), func() string {
			if configFile != nil {
				return configFile.LogFile
			}
			return ""
		}(), "logs/govault.log"),
		DryRun: func() bool {
			if envVal := getEnv("GOVAULT_DRY_RUN", ""); envVal != "" {
				return envVal == "true" || envVal == "1"
			}
			if configFile != nil {
				return configFile.DryRun
			}
			return false
		}(),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	globalConfig = config
	configFilePath = filePath
	return config, nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var configFile ConfigFile
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}

	return &configFile, nil
}

func fileServerListen(cf *ConfigFile) string {
	if cf == nil {
		return ""
	}
	return cf.Server.Listen
}

func fileServerStore(cf *ConfigFile) string {
	if cf == nil {
		return ""
	}
	return cf.Server.StorePath
}

func fileServerDebug(cf *ConfigFile) string {
	if cf == nil {
		return ""
	}
	return cf.Server.DebugListen
}

// buildChainConfig 组装链配置；文件未给出代币时用 USDC/WETH 1:1600 的本地默认盘
func buildChainConfig(cf *ConfigFile) ChainConfig {
	chain := ChainConfig{
		ChainID: parseInt64Env("GOVAULT_CHAIN_ID", 0),
		Router:  getEnv("GOVAULT_ROUTER", ""),
	}
	if cf != nil {
		if chain.ChainID == 0 {
			chain.ChainID = cf.Chain.ChainID
		}
		if chain.Router == "" {
			chain.Router = cf.Chain.Router
		}
		chain.LPFeeBps = cf.Chain.LPFeeBps
		for _, t := range cf.Chain.Tokens {
			chain.Tokens = append(chain.Tokens, TokenConfig{Symbol: t.Symbol, Decimals: t.Decimals})
		}
		for _, p := range cf.Chain.Pairs {
			chain.Pairs = append(chain.Pairs, PairConfig{
				Quote:     p.Quote,
				Base:      p.Base,
				RateNum:   p.RateNum,
				RateDen:   p.RateDen,
				Liquidity: p.Liquidity,
			})
		}
		for _, f := range cf.Chain.Faucet {
			chain.Faucet = append(chain.Faucet, FaucetConfig{Token: f.Token, Address: f.Address, Amount: f.Amount})
		}
	}
	if chain.ChainID == 0 {
		chain.ChainID = 31337
	}
	if chain.Router == "" {
		chain.Router = "fixed"
	}
	if len(chain.Tokens) == 0 {
		chain.Tokens = []TokenConfig{
			{Symbol: "USDC", Decimals: 18},
			{Symbol: "WETH", Decimals: 18},
		}
		chain.Pairs = []PairConfig{
			{Quote: "USDC", Base: "WETH", RateNum: 1, RateDen: 1600, Liquidity: "1000000000000000000000"},
		}
	}
	return chain
}

func buildRelayerConfig(cf *ConfigFile) RelayerConfig {
	relayer := RelayerConfig{Owner: getEnv("GOVAULT_RELAYER_OWNER", "")}
	if cf != nil {
		if relayer.Owner == "" {
			relayer.Owner = cf.Relayer.Owner
		}
		relayer.FeeBps = cf.Relayer.FeeBps
	}
	if v := parseInt64Env("GOVAULT_RELAYER_FEE_BPS", -1); v >= 0 {
		relayer.FeeBps = uint64(v)
	}
	return relayer
}

func buildKeeperConfig(cf *ConfigFile) KeeperConfig {
	keeper := KeeperConfig{
		APIURL:      getEnv("GOVAULT_API_URL", ""),
		PollSeconds: int(parseInt64Env("GOVAULT_KEEPER_POLL_SECONDS", 0)),
		StateDir:    getEnv("GOVAULT_KEEPER_STATE_DIR", ""),
		SecretPath:  getEnv("GOVAULT_SECRET_PATH", ""),
	}
	if cf != nil {
		if keeper.APIURL == "" {
			keeper.APIURL = cf.Keeper.APIURL
		}
		if keeper.PollSeconds == 0 {
			keeper.PollSeconds = cf.Keeper.PollSeconds
		}
		if keeper.StateDir == "" {
			keeper.StateDir = cf.Keeper.StateDir
		}
		if keeper.SecretPath == "" {
			keeper.SecretPath = cf.Keeper.SecretPath
		}
		keeper.Vaults = append(keeper.Vaults, cf.Keeper.Vaults...)
	}
	if keeper.APIURL == "" {
		keeper.APIURL = "http://127.0.0.1:8080"
	}
	if keeper.PollSeconds == 0 {
		keeper.PollSeconds = 15
	}
	if keeper.StateDir == "" {
		keeper.StateDir = "data/keeper"
	}
	if keeper.SecretPath == "" {
		keeper.SecretPath = "data/secrets"
	}
	return keeper
}

// Get 获取全局配置（如果已加载）
func Get() *Config {
	return globalConfig
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen 不能为空")
	}
	if c.Chain.ChainID <= 0 {
		return fmt.Errorf("chain.chain_id 必须大于 0")
	}
	if c.Chain.Router != "fixed" && c.Chain.Router != "amm" {
		return fmt.Errorf("chain.router 必须是 fixed 或 amm，当前 %q", c.Chain.Router)
	}
	if c.Chain.LPFeeBps >= 10000 {
		return fmt.Errorf("chain.lp_fee_bps 必须小于 10000，当前 %d", c.Chain.LPFeeBps)
	}
	if len(c.Chain.Tokens) < 2 {
		return fmt.Errorf("chain.tokens 至少需要两种代币")
	}

	symbols := make(map[string]bool, len(c.Chain.Tokens))
	for _, t := range c.Chain.Tokens {
		if t.Symbol == "" {
			return fmt.Errorf("chain.tokens 中存在空符号")
		}
		if symbols[t.Symbol] {
			return fmt.Errorf("代币符号重复: %s", t.Symbol)
		}
		symbols[t.Symbol] = true
	}
	for _, p := range c.Chain.Pairs {
		if !symbols[p.Quote] || !symbols[p.Base] {
			return fmt.Errorf("交易对引用了未登记的代币: %s/%s", p.Quote, p.Base)
		}
		if p.Quote == p.Base {
			return fmt.Errorf("交易对两侧不能是同一代币: %s", p.Quote)
		}
		if p.RateNum <= 0 || p.RateDen <= 0 {
			return fmt.Errorf("交易对 %s/%s 的汇率必须为正", p.Quote, p.Base)
		}
		if p.Liquidity != "" && !isDecimal(p.Liquidity) {
			return fmt.Errorf("交易对 %s/%s 的流动性不是十进制数: %s", p.Quote, p.Base, p.Liquidity)
		}
	}
	for _, f := range c.Chain.Faucet {
		if !symbols[f.Token] {
			return fmt.Errorf("faucet 引用了未登记的代币: %s", f.Token)
		}
		if !common.IsHexAddress(f.Address) {
			return fmt.Errorf("faucet 地址非法: %s", f.Address)
		}
		if !isDecimal(f.Amount) {
			return fmt.Errorf("faucet 数量不是十进制数: %s", f.Amount)
		}
	}

	if c.Relayer.Owner != "" && !common.IsHexAddress(c.Relayer.Owner) {
		return fmt.Errorf("relayer.owner 地址非法: %s", c.Relayer.Owner)
	}
	if c.Relayer.FeeBps > 1000 {
		return fmt.Errorf("relayer.fee_bps 不能超过 1000，当前 %d", c.Relayer.FeeBps)
	}

	if c.Keeper.PollSeconds <= 0 {
		return fmt.Errorf("keeper.poll_seconds 必须大于 0")
	}
	for _, v := range c.Keeper.Vaults {
		if !common.IsHexAddress(v) {
			return fmt.Errorf("keeper.vaults 中存在非法地址: %s", v)
		}
	}
	return nil
}

// isDecimal 非空且全为十进制数字
func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// pickString 返回第一个非空值
func pickString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseInt64Env 解析整数环境变量
func parseInt64Env(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}
