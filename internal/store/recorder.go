package store

import (
	"context"
	"math/big"

	"github.com/dcabot/govault/internal/events"
	"github.com/dcabot/govault/internal/metrics"
	"github.com/dcabot/govault/pkg/logger"
)

// Record 把一条协议事件落库，未知类型直接忽略
func (s *Store) Record(ctx context.Context, evt any) error {
	switch e := evt.(type) {
	case events.VaultCreatedEvent:
		return s.InsertVault(ctx, VaultRecord{
			Address:    e.Vault.Hex(),
			BaseToken:  e.BaseToken.Hex(),
			QuoteToken: e.QuoteToken.Hex(),
			Owner:      e.Creator.Hex(),
			CreatedAt:  e.Timestamp,
		})
	case events.VaultCopiedEvent:
		// 复制事件不带代币对，从源金库的登记行继承
		src, err := s.GetVault(ctx, e.Source.Hex())
		if err != nil {
			return err
		}
		rec := VaultRecord{
			Address:   e.Copy.Hex(),
			Owner:     e.Creator.Hex(),
			Source:    e.Source.Hex(),
			CreatedAt: e.Timestamp,
		}
		if src != nil {
			rec.BaseToken = src.BaseToken
			rec.QuoteToken = src.QuoteToken
		}
		return s.InsertVault(ctx, rec)
	case events.OwnershipTransferredEvent:
		return s.UpdateVaultOwner(ctx, e.Vault.Hex(), e.NewOwner.Hex())
	case events.FillEvent:
		return s.InsertFill(ctx, FillRecord{
			Vault:      e.Vault.Hex(),
			QuoteIn:    cloneWei(e.QuoteIn),
			BaseOut:    cloneWei(e.BaseOut),
			ExecutedAt: e.Timestamp,
		})
	case events.MetaTxExecutedEvent:
		return s.InsertMetaTx(ctx, MetaTxRecord{
			Signer:      e.Signer.Hex(),
			Vault:       e.Vault.Hex(),
			QuoteAmount: cloneWei(e.QuoteAmount),
			BaseOut:     cloneWei(e.BaseOut),
			RelayerFee:  cloneWei(e.RelayerFee),
			ExecutedAt:  e.Timestamp,
		})
	case events.ConfigUpdatedEvent:
		return s.InsertConfigChange(ctx, ConfigRecord{
			Vault:            e.Vault.Hex(),
			IntervalSeconds:  e.IntervalSeconds,
			MaxSlippageBps:   e.MaxSlippageBps,
			PerCycleQuoteCap: cloneWei(e.PerCycleQuoteCap),
			FeeBps:           e.FeeBps,
			Keeper:           e.Keeper.Hex(),
			Paused:           e.Paused,
			ChangedAt:        e.Timestamp,
		})
	}
	return nil
}

// RunRecorder 消费事件通道直到通道关闭或 ctx 取消。
// 单条写入失败只告警不中断，历史库缺行可以接受，协议状态不受影响。
func (s *Store) RunRecorder(ctx context.Context, ch <-chan any) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := s.Record(ctx, evt); err != nil {
				metrics.RecordErrors.Add(1)
				logger.Warnf("记录协议事件失败: %v", err)
			} else {
				metrics.EventsRecorded.Add(1)
			}
		}
	}
}

func cloneWei(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
