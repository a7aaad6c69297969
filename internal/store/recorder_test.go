package store

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcabot/govault/internal/events"
)

var (
	recVault  = common.BytesToAddress([]byte{0x11})
	recCopy   = common.BytesToAddress([]byte{0x12})
	recBase   = common.BytesToAddress([]byte{0x21})
	recQuote  = common.BytesToAddress([]byte{0x22})
	recOwner  = common.BytesToAddress([]byte{0x31})
	recSigner = common.BytesToAddress([]byte{0x41})
)

// TestRecordPersistsProtocolEvents 每类协议事件都能落到对应表
func TestRecordPersistsProtocolEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, events.VaultCreatedEvent{
		Vault: recVault, BaseToken: recBase, QuoteToken: recQuote, Creator: recOwner, Timestamp: ts(1),
	}))
	require.NoError(t, s.Record(ctx, events.VaultCopiedEvent{
		Source: recVault, Copy: recCopy, Creator: recSigner, Timestamp: ts(2),
	}))
	require.NoError(t, s.Record(ctx, events.FillEvent{
		Vault: recVault, QuoteIn: big.NewInt(50), BaseOut: big.NewInt(49), Timestamp: ts(3),
	}))
	require.NoError(t, s.Record(ctx, events.MetaTxExecutedEvent{
		Signer: recSigner, Vault: recVault,
		QuoteAmount: big.NewInt(10), BaseOut: big.NewInt(9), RelayerFee: big.NewInt(1),
		Timestamp: ts(4),
	}))
	require.NoError(t, s.Record(ctx, events.ConfigUpdatedEvent{
		Vault: recVault, IntervalSeconds: 90, MaxSlippageBps: 40,
		PerCycleQuoteCap: big.NewInt(777), FeeBps: 5, Keeper: recSigner, Paused: true,
		Timestamp: ts(5),
	}))
	require.NoError(t, s.Record(ctx, events.OwnershipTransferredEvent{
		Vault: recVault, OldOwner: recOwner, NewOwner: recSigner, Timestamp: ts(6),
	}))
	// 未知事件类型被忽略
	require.NoError(t, s.Record(ctx, struct{ X int }{1}))

	created, err := s.GetVault(ctx, recVault.Hex())
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, recBase.Hex(), created.BaseToken)
	assert.Equal(t, recSigner.Hex(), created.Owner) // 所有权转移已跟进

	copied, err := s.GetVault(ctx, recCopy.Hex())
	require.NoError(t, err)
	require.NotNil(t, copied)
	assert.Equal(t, recVault.Hex(), copied.Source)
	// 代币对从源登记行继承
	assert.Equal(t, recBase.Hex(), copied.BaseToken)
	assert.Equal(t, recQuote.Hex(), copied.QuoteToken)

	fills, err := s.ListFills(ctx, recVault.Hex(), 0)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, "50", fills[0].QuoteIn.String())

	metas, err := s.ListMetaTxsBySigner(ctx, recSigner.Hex(), 0)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "1", metas[0].RelayerFee.String())

	cfg, err := s.LatestConfig(ctx, recVault.Hex())
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, uint64(90), cfg.IntervalSeconds)
	assert.True(t, cfg.Paused)
}

// TestRunRecorderDrainsChannel 通道关闭后消费循环退出，事件全部落库
func TestRunRecorderDrainsChannel(t *testing.T) {
	s := newTestStore(t)

	ch := make(chan any, 4)
	ch <- events.VaultCreatedEvent{Vault: recVault, BaseToken: recBase, QuoteToken: recQuote, Creator: recOwner, Timestamp: ts(1)}
	ch <- events.FillEvent{Vault: recVault, QuoteIn: big.NewInt(1), BaseOut: big.NewInt(1), Timestamp: ts(2)}
	ch <- events.FillEvent{Vault: recVault, QuoteIn: big.NewInt(2), BaseOut: big.NewInt(2), Timestamp: ts(3)}
	close(ch)

	s.RunRecorder(context.Background(), ch)

	count, quoteSum, _, err := s.FillTotals(context.Background(), recVault.Hex())
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, "3", quoteSum.String())
}
