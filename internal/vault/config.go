package vault

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Config 金库的六个所有者可变配置项
type Config struct {
	IntervalSeconds  uint64         // 两次周期执行之间的最小间隔（秒）
	MaxSlippageBps   uint64         // 最大滑点（基点），供触发方换算 minOut
	PerCycleQuoteCap *big.Int       // 单次周期可投入的计价代币上限
	FeeBps           uint64         // 协议费率（基点），从每次产出中划给所有者
	Keeper           common.Address // 唯一授权触发者，零地址表示任何人可触发
	Paused           bool           // 暂停开关，暂停期间拒绝周期执行
}

// normalized 返回副本，nil 上限归一为 0
func (c Config) normalized() Config {
	out := c
	if c.PerCycleQuoteCap == nil {
		out.PerCycleQuoteCap = new(big.Int)
	} else {
		out.PerCycleQuoteCap = new(big.Int).Set(c.PerCycleQuoteCap)
	}
	return out
}

// clone 深拷贝
func (c Config) clone() Config {
	return c.normalized()
}
