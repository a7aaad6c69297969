package events

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// VaultCreatedEvent 金库创建事件
type VaultCreatedEvent struct {
	Vault      common.Address
	BaseToken  common.Address
	QuoteToken common.Address
	Creator    common.Address
	Timestamp  time.Time
}

// VaultCopiedEvent 金库复制事件
type VaultCopiedEvent struct {
	Source    common.Address
	Copy      common.Address
	Creator   common.Address
	Timestamp time.Time
}

// DepositEvent 储户存入事件
type DepositEvent struct {
	Vault     common.Address
	Caller    common.Address
	Receiver  common.Address
	Assets    *big.Int
	Shares    *big.Int
	Timestamp time.Time
}

// WithdrawEvent 储户赎回事件（withdraw 与 redeem 共用）
type WithdrawEvent struct {
	Vault       common.Address
	Caller      common.Address
	Receiver    common.Address
	QuoteAssets *big.Int // 退回的计价代币数量
	BaseAssets  *big.Int // 退回的目标代币数量
	Shares      *big.Int
	Timestamp   time.Time
}

// FillEvent 周期成交事件，BaseOut 为扣除协议费后的数量
type FillEvent struct {
	Vault     common.Address
	QuoteIn   *big.Int
	BaseOut   *big.Int
	Timestamp time.Time
}

// ConfigUpdatedEvent 金库配置变更事件
type ConfigUpdatedEvent struct {
	Vault            common.Address
	IntervalSeconds  uint64
	MaxSlippageBps   uint64
	PerCycleQuoteCap *big.Int
	FeeBps           uint64
	Keeper           common.Address
	Paused           bool
	Timestamp        time.Time
}

// OwnershipTransferredEvent 金库所有权转移事件
type OwnershipTransferredEvent struct {
	Vault     common.Address
	OldOwner  common.Address
	NewOwner  common.Address
	Timestamp time.Time
}

// MetaTxExecutedEvent 中继执行事件，BaseOut 为扣除中继费后的数量
type MetaTxExecutedEvent struct {
	Signer      common.Address
	Vault       common.Address
	QuoteAmount *big.Int
	BaseOut     *big.Int
	RelayerFee  *big.Int
	Timestamp   time.Time
}

// RelayerFeeUpdatedEvent 中继费率变更事件
type RelayerFeeUpdatedEvent struct {
	OldBps    uint64
	NewBps    uint64
	Timestamp time.Time
}
