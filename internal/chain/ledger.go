package chain

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance   = fmt.Errorf("insufficient token balance")
	ErrInsufficientAllowance = fmt.Errorf("insufficient token allowance")
	ErrNegativeAmount        = fmt.Errorf("negative token amount")
)

// Ledger ERC-20 风格的多代币账本：每个代币一张余额表和一张授权表。
// 自带读写锁，持有方可以并发读取；写入由上层的交易序列化保证顺序。
type Ledger struct {
	mu         sync.RWMutex
	balances   map[common.Address]map[common.Address]*big.Int                    // token -> holder -> balance
	allowances map[common.Address]map[common.Address]map[common.Address]*big.Int // token -> owner -> spender -> remaining
}

// NewLedger 创建空账本
func NewLedger() *Ledger {
	return &Ledger{
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]map[common.Address]*big.Int),
	}
}

// BalanceOf 查询余额，未知代币/持有人返回 0
func (l *Ledger) BalanceOf(token, holder common.Address) *big.Int {
	if l == nil {
		return new(big.Int)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.balances[token][holder]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Allowance 查询 owner 授权给 spender 的剩余额度
func (l *Ledger) Allowance(token, owner, spender common.Address) *big.Int {
	if l == nil {
		return new(big.Int)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if a, ok := l.allowances[token][owner][spender]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// Mint 铸造代币到指定地址（创世注资与测试使用）
func (l *Ledger) Mint(token, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(token, to, amount)
	return nil
}

// Transfer 由 from 本人发起的转账
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(token, from, to, amount)
}

// Approve 将 owner 对 spender 的授权额度设置为 amount（绝对值覆盖，支持先清零再设置）
func (l *Ledger) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	byOwner, ok := l.allowances[token]
	if !ok {
		byOwner = make(map[common.Address]map[common.Address]*big.Int)
		l.allowances[token] = byOwner
	}
	bySpender, ok := byOwner[owner]
	if !ok {
		bySpender = make(map[common.Address]*big.Int)
		byOwner[owner] = bySpender
	}
	bySpender[spender] = new(big.Int).Set(amount)
	return nil
}

// TransferFrom 由 spender 动用 owner 的授权额度，把代币从 from 转给 to。
// 额度不足返回 ErrInsufficientAllowance，余额不足返回 ErrInsufficientBalance，均不产生部分扣减。
func (l *Ledger) TransferFrom(token, spender, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	remaining, ok := l.allowances[token][from][spender]
	if !ok || remaining.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := l.move(token, from, to, amount); err != nil {
		return err
	}
	remaining.Sub(remaining, amount)
	return nil
}

// Move 底层直接划转，不检查授权。仅供协议组件在其自身托管范围内使用
// （金库对储户的支付、中继人费用划扣），外部调用方一律走 Transfer/TransferFrom。
func (l *Ledger) Move(token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(token, from, to, amount)
}

// TotalMinted 统计某代币当前所有余额之和（诊断接口）
func (l *Ledger) TotalMinted(token common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := new(big.Int)
	for _, b := range l.balances[token] {
		total.Add(total, b)
	}
	return total
}

func (l *Ledger) move(token, from, to common.Address, amount *big.Int) error {
	fromBal, ok := l.balances[token][from]
	if !ok || fromBal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	fromBal.Sub(fromBal, amount)
	l.credit(token, to, amount)
	return nil
}

func (l *Ledger) credit(token, to common.Address, amount *big.Int) {
	holders, ok := l.balances[token]
	if !ok {
		holders = make(map[common.Address]*big.Int)
		l.balances[token] = holders
	}
	bal, ok := holders[to]
	if !ok {
		bal = new(big.Int)
		holders[to] = bal
	}
	bal.Add(bal, amount)
}
