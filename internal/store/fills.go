package store

import (
	"context"
	"math/big"
	"time"
)

// InsertFill 记录一次周期成交
func (s *Store) InsertFill(ctx context.Context, f FillRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO fills (vault,quote_in,base_out,executed_at)
VALUES (?,?,?,?)
`, f.Vault, weiString(f.QuoteIn), weiString(f.BaseOut), f.ExecutedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// ListFills 金库最近 limit 条成交，时间倒序。limit<=0 时取 100
func (s *Store) ListFills(ctx context.Context, vault string, limit int) ([]FillRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id,vault,quote_in,base_out,executed_at
FROM fills WHERE vault=? ORDER BY id DESC LIMIT ?
`, vault, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FillRecord
	for rows.Next() {
		var f FillRecord
		var quoteIn, baseOut, executed string
		if err := rows.Scan(&f.ID, &f.Vault, &quoteIn, &baseOut, &executed); err != nil {
			return nil, err
		}
		if f.QuoteIn, err = parseWei("quote_in", quoteIn); err != nil {
			return nil, err
		}
		if f.BaseOut, err = parseWei("base_out", baseOut); err != nil {
			return nil, err
		}
		f.ExecutedAt, _ = time.Parse(time.RFC3339Nano, executed)
		out = append(out, f)
	}
	return out, rows.Err()
}

// FillTotals 金库的成交笔数与两侧累计量（整数列在 Go 里求和保证精确）
func (s *Store) FillTotals(ctx context.Context, vault string) (count int64, quoteIn, baseOut *big.Int, err error) {
	rows, err := s.db.QueryContext(ctx, `SELECT quote_in,base_out FROM fills WHERE vault=?`, vault)
	if err != nil {
		return 0, nil, nil, err
	}
	defer rows.Close()

	quoteIn = new(big.Int)
	baseOut = new(big.Int)
	for rows.Next() {
		var q, b string
		if err := rows.Scan(&q, &b); err != nil {
			return 0, nil, nil, err
		}
		qv, err := parseWei("quote_in", q)
		if err != nil {
			return 0, nil, nil, err
		}
		bv, err := parseWei("base_out", b)
		if err != nil {
			return 0, nil, nil, err
		}
		quoteIn.Add(quoteIn, qv)
		baseOut.Add(baseOut, bv)
		count++
	}
	return count, quoteIn, baseOut, rows.Err()
}

// InsertMetaTx 记录一次元交易执行
func (s *Store) InsertMetaTx(ctx context.Context, m MetaTxRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO meta_txs (signer,vault,quote_amount,base_out,relayer_fee,executed_at)
VALUES (?,?,?,?,?,?)
`, m.Signer, m.Vault, weiString(m.QuoteAmount), weiString(m.BaseOut), weiString(m.RelayerFee), m.ExecutedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// ListMetaTxsBySigner 签名者最近 limit 条元交易，时间倒序
func (s *Store) ListMetaTxsBySigner(ctx context.Context, signer string, limit int) ([]MetaTxRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id,signer,vault,quote_amount,base_out,relayer_fee,executed_at
FROM meta_txs WHERE signer=? ORDER BY id DESC LIMIT ?
`, signer, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMetaTxs(rows)
}

// ListMetaTxsByVault 金库最近 limit 条元交易，时间倒序
func (s *Store) ListMetaTxsByVault(ctx context.Context, vault string, limit int) ([]MetaTxRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id,signer,vault,quote_amount,base_out,relayer_fee,executed_at
FROM meta_txs WHERE vault=? ORDER BY id DESC LIMIT ?
`, vault, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMetaTxs(rows)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanMetaTxs(rows rowScanner) ([]MetaTxRecord, error) {
	var out []MetaTxRecord
	for rows.Next() {
		var m MetaTxRecord
		var quote, base, fee, executed string
		if err := rows.Scan(&m.ID, &m.Signer, &m.Vault, &quote, &base, &fee, &executed); err != nil {
			return nil, err
		}
		var err error
		if m.QuoteAmount, err = parseWei("quote_amount", quote); err != nil {
			return nil, err
		}
		if m.BaseOut, err = parseWei("base_out", base); err != nil {
			return nil, err
		}
		if m.RelayerFee, err = parseWei("relayer_fee", fee); err != nil {
			return nil, err
		}
		m.ExecutedAt, _ = time.Parse(time.RFC3339Nano, executed)
		out = append(out, m)
	}
	return out, rows.Err()
}
