package router

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dcabot/govault/internal/chain"
)

type pairKey struct {
	in  common.Address
	out common.Address
}

// FixedRate 固定汇率路由：out = in * num / den（向下取整）。
// 用自有库存支付产出，库存不足按流动性不足拒绝。测试和演示环境使用。
type FixedRate struct {
	env  *chain.Env
	addr common.Address

	mu    sync.RWMutex
	rates map[pairKey]*big.Rat
}

// NewFixedRate 创建固定汇率路由并派生其地址
func NewFixedRate(env *chain.Env) *FixedRate {
	return &FixedRate{
		env:   env,
		addr:  env.NextAddress(common.Address{}),
		rates: make(map[pairKey]*big.Rat),
	}
}

// Address 路由地址（金库授权的 spender）
func (r *FixedRate) Address() common.Address {
	return r.addr
}

// SetRate 设置 in->out 的汇率 num/den
func (r *FixedRate) SetRate(in, out common.Address, num, den int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rates[pairKey{in, out}] = big.NewRat(num, den)
}

// Fund 向路由库存注入代币（创世配置调用）
func (r *FixedRate) Fund(token common.Address, amount *big.Int) error {
	return r.env.Ledger().Mint(token, r.addr, amount)
}

// Quote 只读询价
func (r *FixedRate) Quote(amountIn *big.Int, path [2]common.Address) (*big.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.amountOut(amountIn, path)
}

// Swap 动用 from 的授权额度划扣输入，按固定汇率从库存支付产出给 recipient
func (r *FixedRate) Swap(from common.Address, amountIn, minOut *big.Int, path [2]common.Address, recipient common.Address, deadline int64) ([2]*big.Int, error) {
	if deadline > 0 && r.env.Now() > deadline {
		return [2]*big.Int{}, ErrDeadlineExpired
	}
	r.mu.RLock()
	out, err := r.amountOut(amountIn, path)
	r.mu.RUnlock()
	if err != nil {
		return [2]*big.Int{}, err
	}
	if minOut != nil && out.Cmp(minOut) < 0 {
		return [2]*big.Int{}, ErrSlippage
	}

	ledger := r.env.Ledger()
	if ledger.BalanceOf(path[1], r.addr).Cmp(out) < 0 {
		return [2]*big.Int{}, ErrNoLiquidity
	}
	if err := ledger.TransferFrom(path[0], r.addr, from, r.addr, amountIn); err != nil {
		return [2]*big.Int{}, err
	}
	if err := ledger.Transfer(path[1], r.addr, recipient, out); err != nil {
		return [2]*big.Int{}, err
	}
	return [2]*big.Int{new(big.Int).Set(amountIn), out}, nil
}

func (r *FixedRate) amountOut(amountIn *big.Int, path [2]common.Address) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrNoLiquidity
	}
	rate, ok := r.rates[pairKey{path[0], path[1]}]
	if !ok {
		return nil, ErrUnsupportedPair
	}
	out := new(big.Int).Mul(amountIn, rate.Num())
	return out.Quo(out, rate.Denom()), nil
}
