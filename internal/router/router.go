package router

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrDeadlineExpired = fmt.Errorf("router: deadline expired")
	ErrSlippage        = fmt.Errorf("router: output below minimum")
	ErrNoLiquidity     = fmt.Errorf("router: insufficient liquidity")
	ErrUnsupportedPair = fmt.Errorf("router: unsupported pair")
)

// Router 外部兑换服务。Swap 必须原子地从 from 划扣输入代币（动用其授权额度）
// 并把输出记入 recipient；deadline 过期、产出低于 minOut、流动性不足时整笔失败。
type Router interface {
	Swap(from common.Address, amountIn, minOut *big.Int, path [2]common.Address, recipient common.Address, deadline int64) ([2]*big.Int, error)
	// Quote 只读询价，不动账本
	Quote(amountIn *big.Int, path [2]common.Address) (*big.Int, error)
	Address() common.Address
}
