package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	_ "modernc.org/sqlite"
)

// Store 协议历史库：金库登记、成交记录、元交易记录和配置变更，
// 供 HTTP API 查询和 keeper 重启后恢复视图
type Store struct {
	db *sql.DB
}

// Open 打开（必要时创建）sqlite 库并执行迁移
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close 关闭底层连接
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA foreign_keys=ON;`,
		`
CREATE TABLE IF NOT EXISTS vaults (
  address TEXT PRIMARY KEY,
  base_token TEXT NOT NULL,
  quote_token TEXT NOT NULL,
  owner TEXT NOT NULL,
  source TEXT,
  created_at TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS fills (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  vault TEXT NOT NULL,
  quote_in TEXT NOT NULL,
  base_out TEXT NOT NULL,
  executed_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_fills_vault_time ON fills(vault, executed_at DESC);`,
		`
CREATE TABLE IF NOT EXISTS meta_txs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  signer TEXT NOT NULL,
  vault TEXT NOT NULL,
  quote_amount TEXT NOT NULL,
  base_out TEXT NOT NULL,
  relayer_fee TEXT NOT NULL,
  executed_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_meta_txs_signer_time ON meta_txs(signer, executed_at DESC);`,
		`
CREATE TABLE IF NOT EXISTS config_changes (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  vault TEXT NOT NULL,
  interval_seconds INTEGER NOT NULL,
  max_slippage_bps INTEGER NOT NULL,
  per_cycle_quote_cap TEXT NOT NULL,
  fee_bps INTEGER NOT NULL,
  keeper TEXT NOT NULL,
  paused INTEGER NOT NULL,
  changed_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_config_changes_vault_time ON config_changes(vault, changed_at DESC);`,
	}

	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate exec failed: %w", err)
		}
	}
	return nil
}

// VaultRecord 登记表的一行
type VaultRecord struct {
	Address    string
	BaseToken  string
	QuoteToken string
	Owner      string
	Source     string // 复制来源金库，原创为空
	CreatedAt  time.Time
}

// FillRecord 一次周期成交
type FillRecord struct {
	ID         int64
	Vault      string
	QuoteIn    *big.Int
	BaseOut    *big.Int
	ExecutedAt time.Time
}

// MetaTxRecord 一次元交易执行
type MetaTxRecord struct {
	ID          int64
	Signer      string
	Vault       string
	QuoteAmount *big.Int
	BaseOut     *big.Int
	RelayerFee  *big.Int
	ExecutedAt  time.Time
}

// ConfigRecord 一次配置变更后的完整配置
type ConfigRecord struct {
	Vault            string
	IntervalSeconds  uint64
	MaxSlippageBps   uint64
	PerCycleQuoteCap *big.Int
	FeeBps           uint64
	Keeper           string
	Paused           bool
	ChangedAt        time.Time
}

// parseWei 解析十进制整数列，空串按 0 处理
func parseWei(column, s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse %s value %q", column, s)
	}
	return v, nil
}

func weiString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
