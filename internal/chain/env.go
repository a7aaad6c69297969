package chain

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// TokenInfo 已登记代币的展示信息
type TokenInfo struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
}

// Env 受信执行环境：账本、时钟、地址派生和全局交易锁。
// 所有改变协议状态的操作都在 Lock/Unlock 之间执行，形成单一全局顺序；
// 只读操作走 RLock。组件内部的嵌套调用不重复加锁。
type Env struct {
	mu     sync.RWMutex
	ledger *Ledger
	now    func() time.Time

	nonceMu sync.Mutex
	nonces  map[common.Address]uint64 // creator -> 下一个部署序号

	tokenMu sync.RWMutex
	tokens  map[common.Address]TokenInfo

	sink func(evt any)
}

// NewEnv 创建使用系统时钟的执行环境
func NewEnv() *Env {
	return NewEnvAt(time.Now)
}

// NewEnvAt 创建使用指定时钟的执行环境（测试注入手动时钟）
func NewEnvAt(now func() time.Time) *Env {
	if now == nil {
		now = time.Now
	}
	return &Env{
		ledger: NewLedger(),
		now:    now,
		nonces: make(map[common.Address]uint64),
		tokens: make(map[common.Address]TokenInfo),
	}
}

// Ledger 返回底层代币账本
func (e *Env) Ledger() *Ledger {
	return e.ledger
}

// Now 当前链上时间（unix 秒）
func (e *Env) Now() int64 {
	return e.now().Unix()
}

// Lock 获取全局交易锁（状态变更操作入口处调用）
func (e *Env) Lock() { e.mu.Lock() }

// Unlock 释放全局交易锁
func (e *Env) Unlock() { e.mu.Unlock() }

// RLock 获取全局读锁（只读操作入口处调用）
func (e *Env) RLock() { e.mu.RLock() }

// RUnlock 释放全局读锁
func (e *Env) RUnlock() { e.mu.RUnlock() }

// NextAddress 为 creator 派生下一个确定性实例地址
func (e *Env) NextAddress(creator common.Address) common.Address {
	e.nonceMu.Lock()
	defer e.nonceMu.Unlock()
	n := e.nonces[creator]
	e.nonces[creator] = n + 1
	return crypto.CreateAddress(creator, n)
}

// CreateToken 登记一种代币并返回派生地址
func (e *Env) CreateToken(symbol string, decimals uint8) (common.Address, error) {
	if symbol == "" {
		return common.Address{}, fmt.Errorf("empty token symbol")
	}
	addr := e.NextAddress(common.Address{})
	e.tokenMu.Lock()
	defer e.tokenMu.Unlock()
	e.tokens[addr] = TokenInfo{Address: addr, Symbol: symbol, Decimals: decimals}
	return addr, nil
}

// TokenInfo 查询代币登记信息
func (e *Env) TokenInfo(addr common.Address) (TokenInfo, bool) {
	e.tokenMu.RLock()
	defer e.tokenMu.RUnlock()
	info, ok := e.tokens[addr]
	return info, ok
}

// Tokens 返回全部已登记代币
func (e *Env) Tokens() []TokenInfo {
	e.tokenMu.RLock()
	defer e.tokenMu.RUnlock()
	out := make([]TokenInfo, 0, len(e.tokens))
	for _, info := range e.tokens {
		out = append(out, info)
	}
	return out
}

// SetEventSink 设置事件出口，组件在持有交易锁时调用，出口实现不得阻塞
func (e *Env) SetEventSink(sink func(evt any)) {
	e.sink = sink
}

// Emit 发布一条协议事件
func (e *Env) Emit(evt any) {
	if e.sink != nil {
		e.sink(evt)
	}
}
