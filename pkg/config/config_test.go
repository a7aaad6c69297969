package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := writeConfig(t, "govault.yaml", `
server:
  listen: ":9090"
  store_path: "/tmp/test-govault.db"
  debug_listen: "127.0.0.1:6060"
chain:
  chain_id: 1337
  router: amm
  lp_fee_bps: 30
  tokens:
    - {symbol: USDC, decimals: 18}
    - {symbol: WBTC, decimals: 8}
  pairs:
    - {quote: USDC, base: WBTC, rate_num: 1, rate_den: 65000, liquidity: "100000000"}
relayer:
  owner: "0x00000000000000000000000000000000000000Aa"
  fee_bps: 50
keeper:
  api_url: "http://10.0.0.5:9090"
  poll_seconds: 5
log_level: debug
dry_run: true
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Server.Listen != ":9090" {
		t.Errorf("listen = %q", cfg.Server.Listen)
	}
	if cfg.Server.DebugListen != "127.0.0.1:6060" {
		t.Errorf("debug listen = %q", cfg.Server.DebugListen)
	}
	if cfg.Chain.ChainID != 1337 {
		t.Errorf("chain id = %d", cfg.Chain.ChainID)
	}
	if cfg.Chain.Router != "amm" || cfg.Chain.LPFeeBps != 30 {
		t.Errorf("router = %q lp_fee_bps = %d", cfg.Chain.Router, cfg.Chain.LPFeeBps)
	}
	if len(cfg.Chain.Tokens) != 2 || cfg.Chain.Tokens[1].Decimals != 8 {
		t.Errorf("tokens = %+v", cfg.Chain.Tokens)
	}
	if len(cfg.Chain.Pairs) != 1 || cfg.Chain.Pairs[0].RateDen != 65000 {
		t.Errorf("pairs = %+v", cfg.Chain.Pairs)
	}
	if cfg.Relayer.FeeBps != 50 {
		t.Errorf("relayer fee = %d", cfg.Relayer.FeeBps)
	}
	if cfg.Keeper.APIURL != "http://10.0.0.5:9090" || cfg.Keeper.PollSeconds != 5 {
		t.Errorf("keeper = %+v", cfg.Keeper)
	}
	if cfg.LogLevel != "debug" || !cfg.DryRun {
		t.Errorf("log_level = %q dry_run = %v", cfg.LogLevel, cfg.DryRun)
	}
	// 未配置的段回落到默认值
	if cfg.Keeper.StateDir != "data/keeper" {
		t.Errorf("keeper state dir = %q", cfg.Keeper.StateDir)
	}
}

func TestLoadDefaultsFromEmptyFile(t *testing.T) {
	path := writeConfig(t, "empty.yaml", "{}\n")

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Server.Listen != ":8080" {
		t.Errorf("listen = %q", cfg.Server.Listen)
	}
	if cfg.Chain.ChainID != 31337 {
		t.Errorf("chain id = %d", cfg.Chain.ChainID)
	}
	if cfg.Chain.Router != "fixed" {
		t.Errorf("router = %q, want fixed", cfg.Chain.Router)
	}
	if cfg.Server.DebugListen != "" {
		t.Errorf("debug listen = %q, want disabled", cfg.Server.DebugListen)
	}
	if len(cfg.Chain.Tokens) != 2 || len(cfg.Chain.Pairs) != 1 {
		t.Errorf("default genesis = %+v", cfg.Chain)
	}
	if cfg.Keeper.PollSeconds != 15 {
		t.Errorf("poll seconds = %d", cfg.Keeper.PollSeconds)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("GOVAULT_LISTEN", ":7000")
	t.Setenv("GOVAULT_RELAYER_FEE_BPS", "300")
	t.Setenv("GOVAULT_DRY_RUN", "1")

	path := writeConfig(t, "override.yaml", `
server:
  listen: ":9090"
relayer:
  fee_bps: 50
`)
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Server.Listen != ":7000" {
		t.Errorf("listen = %q, want env value", cfg.Server.Listen)
	}
	if cfg.Relayer.FeeBps != 300 {
		t.Errorf("fee = %d, want env value", cfg.Relayer.FeeBps)
	}
	if !cfg.DryRun {
		t.Errorf("dry_run not overridden")
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"pair-unknown-token", `
chain:
  tokens:
    - {symbol: USDC, decimals: 18}
    - {symbol: WETH, decimals: 18}
  pairs:
    - {quote: USDC, base: DOGE, rate_num: 1, rate_den: 1}
`},
		{"zero-rate", `
chain:
  tokens:
    - {symbol: USDC, decimals: 18}
    - {symbol: WETH, decimals: 18}
  pairs:
    - {quote: USDC, base: WETH, rate_num: 0, rate_den: 1}
`},
		{"bad-relayer-owner", `
relayer:
  owner: "hello"
`},
		{"fee-over-limit", `
relayer:
  fee_bps: 5000
`},
		{"bad-faucet-address", `
chain:
  tokens:
    - {symbol: USDC, decimals: 18}
    - {symbol: WETH, decimals: 18}
  faucet:
    - {token: USDC, address: "xyz", amount: "100"}
`},
		{"bad-keeper-vault", `
keeper:
  vaults: ["not-hex"]
`},
		{"bad-router", `
chain:
  router: uniswap
`},
		{"lp-fee-over-limit", `
chain:
  router: amm
  lp_fee_bps: 10000
`},
	}
	for _, tc := range cases {
		path := writeConfig(t, tc.name+".yaml", tc.content)
		if _, err := LoadFromFile(path); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := writeConfig(t, "config.toml", "listen = ':8080'")
	if _, err := LoadFromFile(path); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}

func TestLoadCachesSamePath(t *testing.T) {
	path := writeConfig(t, "cache.yaml", "{}\n")
	first, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	second, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if first != second {
		t.Errorf("same path should return cached config")
	}
	if Get() != second {
		t.Errorf("Get() should return the cached config")
	}
}
