package router

import (
	"bytes"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dcabot/govault/internal/chain"
)

const defaultLPFeeBps = 30

// pool 一个交易对的双边储备，key 为代币地址
type pool struct {
	reserves map[common.Address]*big.Int
}

// AMM 恒定乘积做市路由（x*y=k），换出数量按
// out = in*(10000-lpFee)*reserveOut / (reserveIn*10000 + in*(10000-lpFee)) 计算。
// 路由地址持有全部池内代币，储备表与账本余额保持一致。
type AMM struct {
	env      *chain.Env
	addr     common.Address
	lpFeeBps uint64

	mu    sync.RWMutex
	pools map[string]*pool
}

// NewAMM 创建 AMM 路由，lpFeeBps 超出 [0,10000) 时回落到默认 30
func NewAMM(env *chain.Env, lpFeeBps uint64) *AMM {
	if lpFeeBps >= 10000 {
		lpFeeBps = defaultLPFeeBps
	}
	return &AMM{
		env:      env,
		addr:     env.NextAddress(common.Address{}),
		lpFeeBps: lpFeeBps,
		pools:    make(map[string]*pool),
	}
}

// Address 路由地址
func (a *AMM) Address() common.Address {
	return a.addr
}

func pairID(x, y common.Address) string {
	if bytes.Compare(x.Bytes(), y.Bytes()) > 0 {
		x, y = y, x
	}
	return x.Hex() + ":" + y.Hex()
}

// AddLiquidity 从 provider 拉取双边代币建池或加注（provider 需先授权路由地址）
func (a *AMM) AddLiquidity(provider, tokenA, tokenB common.Address, amountA, amountB *big.Int) error {
	if tokenA == tokenB {
		return ErrUnsupportedPair
	}
	if amountA == nil || amountB == nil || amountA.Sign() <= 0 || amountB.Sign() <= 0 {
		return fmt.Errorf("amm: liquidity amounts must be positive")
	}
	ledger := a.env.Ledger()
	if err := ledger.TransferFrom(tokenA, a.addr, provider, a.addr, amountA); err != nil {
		return err
	}
	if err := ledger.TransferFrom(tokenB, a.addr, provider, a.addr, amountB); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pools[pairID(tokenA, tokenB)]
	if !ok {
		p = &pool{reserves: map[common.Address]*big.Int{
			tokenA: new(big.Int),
			tokenB: new(big.Int),
		}}
		a.pools[pairID(tokenA, tokenB)] = p
	}
	p.reserves[tokenA].Add(p.reserves[tokenA], amountA)
	p.reserves[tokenB].Add(p.reserves[tokenB], amountB)
	return nil
}

// Reserves 返回交易对当前储备
func (a *AMM) Reserves(tokenA, tokenB common.Address) (*big.Int, *big.Int, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.pools[pairID(tokenA, tokenB)]
	if !ok {
		return nil, nil, false
	}
	return new(big.Int).Set(p.reserves[tokenA]), new(big.Int).Set(p.reserves[tokenB]), true
}

// Quote 只读询价
func (a *AMM) Quote(amountIn *big.Int, path [2]common.Address) (*big.Int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out, _, err := a.amountOut(amountIn, path)
	return out, err
}

// Swap 划扣输入、更新储备并支付产出
func (a *AMM) Swap(from common.Address, amountIn, minOut *big.Int, path [2]common.Address, recipient common.Address, deadline int64) ([2]*big.Int, error) {
	if deadline > 0 && a.env.Now() > deadline {
		return [2]*big.Int{}, ErrDeadlineExpired
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	out, p, err := a.amountOut(amountIn, path)
	if err != nil {
		return [2]*big.Int{}, err
	}
	if minOut != nil && out.Cmp(minOut) < 0 {
		return [2]*big.Int{}, ErrSlippage
	}

	ledger := a.env.Ledger()
	if err := ledger.TransferFrom(path[0], a.addr, from, a.addr, amountIn); err != nil {
		return [2]*big.Int{}, err
	}
	if err := ledger.Transfer(path[1], a.addr, recipient, out); err != nil {
		return [2]*big.Int{}, err
	}
	p.reserves[path[0]].Add(p.reserves[path[0]], amountIn)
	p.reserves[path[1]].Sub(p.reserves[path[1]], out)
	return [2]*big.Int{new(big.Int).Set(amountIn), out}, nil
}

// amountOut 计算换出数量，调用方负责持锁
func (a *AMM) amountOut(amountIn *big.Int, path [2]common.Address) (*big.Int, *pool, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, nil, ErrNoLiquidity
	}
	p, ok := a.pools[pairID(path[0], path[1])]
	if !ok {
		return nil, nil, ErrUnsupportedPair
	}
	reserveIn, okIn := p.reserves[path[0]]
	reserveOut, okOut := p.reserves[path[1]]
	if !okIn || !okOut || reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return nil, nil, ErrNoLiquidity
	}

	keep := big.NewInt(10000 - int64(a.lpFeeBps))
	inWithFee := new(big.Int).Mul(amountIn, keep)
	numerator := new(big.Int).Mul(inWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, big.NewInt(10000))
	denominator.Add(denominator, inWithFee)
	out := numerator.Quo(numerator, denominator)
	if out.Sign() == 0 || out.Cmp(reserveOut) >= 0 {
		return nil, nil, ErrNoLiquidity
	}
	return out, p, nil
}
