package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// InsertVault 登记一个新金库，地址重复时覆盖旧行
func (s *Store) InsertVault(ctx context.Context, v VaultRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO vaults (address,base_token,quote_token,owner,source,created_at)
VALUES (?,?,?,?,?,?)
ON CONFLICT(address) DO UPDATE SET
  base_token=excluded.base_token, quote_token=excluded.quote_token,
  owner=excluded.owner, source=excluded.source, created_at=excluded.created_at
`, v.Address, v.BaseToken, v.QuoteToken, v.Owner, v.Source, v.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// GetVault 按地址取登记行，不存在时返回 nil
func (s *Store) GetVault(ctx context.Context, address string) (*VaultRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT address,base_token,quote_token,owner,source,created_at
FROM vaults WHERE address=?
`, address)
	var v VaultRecord
	var created string
	if err := row.Scan(&v.Address, &v.BaseToken, &v.QuoteToken, &v.Owner, &v.Source, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	v.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return &v, nil
}

// ListVaults 全部登记行，按创建时间倒序
func (s *Store) ListVaults(ctx context.Context) ([]VaultRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT address,base_token,quote_token,owner,source,created_at
FROM vaults ORDER BY created_at DESC, address
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VaultRecord
	for rows.Next() {
		var v VaultRecord
		var created string
		if err := rows.Scan(&v.Address, &v.BaseToken, &v.QuoteToken, &v.Owner, &v.Source, &created); err != nil {
			return nil, err
		}
		v.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, v)
	}
	return out, rows.Err()
}

// UpdateVaultOwner 跟进链上所有权转移
func (s *Store) UpdateVaultOwner(ctx context.Context, address, newOwner string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE vaults SET owner=? WHERE address=?`, newOwner, address)
	return err
}

// InsertConfigChange 记录一次配置变更
func (s *Store) InsertConfigChange(ctx context.Context, c ConfigRecord) error {
	paused := 0
	if c.Paused {
		paused = 1
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO config_changes (vault,interval_seconds,max_slippage_bps,per_cycle_quote_cap,fee_bps,keeper,paused,changed_at)
VALUES (?,?,?,?,?,?,?,?)
`, c.Vault, c.IntervalSeconds, c.MaxSlippageBps, weiString(c.PerCycleQuoteCap), c.FeeBps, c.Keeper, paused, c.ChangedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// LatestConfig 金库最近一次记录的配置，没有记录时返回 nil
func (s *Store) LatestConfig(ctx context.Context, vault string) (*ConfigRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT vault,interval_seconds,max_slippage_bps,per_cycle_quote_cap,fee_bps,keeper,paused,changed_at
FROM config_changes WHERE vault=? ORDER BY id DESC LIMIT 1
`, vault)
	var c ConfigRecord
	var capStr string
	var paused int
	var changed string
	if err := row.Scan(&c.Vault, &c.IntervalSeconds, &c.MaxSlippageBps, &capStr, &c.FeeBps, &c.Keeper, &paused, &changed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	v, err := parseWei("per_cycle_quote_cap", capStr)
	if err != nil {
		return nil, err
	}
	c.PerCycleQuoteCap = v
	c.Paused = paused != 0
	c.ChangedAt, _ = time.Parse(time.RFC3339Nano, changed)
	return &c, nil
}
