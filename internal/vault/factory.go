package vault

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dcabot/govault/internal/chain"
	"github.com/dcabot/govault/internal/events"
	"github.com/dcabot/govault/internal/router"
)

// Factory 金库工厂：校验参数、部署实例、维护只增的地址登记表。
// 同一工厂创建的所有金库共享同一个路由。
type Factory struct {
	env    *chain.Env
	addr   common.Address
	router router.Router

	allVaults []common.Address
	byAddr    map[common.Address]*Vault
}

// NewFactory 创建工厂并派生其地址
func NewFactory(env *chain.Env, rtr router.Router) *Factory {
	return &Factory{
		env:    env,
		addr:   env.NextAddress(common.Address{}),
		router: rtr,
		byAddr: make(map[common.Address]*Vault),
	}
}

// Address 工厂地址
func (f *Factory) Address() common.Address { return f.addr }

// RouterAddress 工厂绑定的路由地址
func (f *Factory) RouterAddress() common.Address { return f.router.Address() }

// CreateVault 校验参数并部署新金库，caller 成为所有者。
// 创建时校验：代币地址非零且互不相同、间隔非零、滑点与费率不超过 10000。
func (f *Factory) CreateVault(caller, base, quote common.Address, intervalSeconds, maxSlippageBps uint64, perCycleQuoteCap *big.Int, feeBps uint64, keeper common.Address) (*Vault, error) {
	if caller == (common.Address{}) || base == (common.Address{}) || quote == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if base == quote {
		return nil, ErrInvalidParams
	}
	if intervalSeconds == 0 {
		return nil, ErrInvalidParams
	}
	if maxSlippageBps > bpsDenominator || feeBps > bpsDenominator {
		return nil, ErrInvalidParams
	}
	if perCycleQuoteCap != nil && perCycleQuoteCap.Sign() < 0 {
		return nil, ErrInvalidParams
	}

	f.env.Lock()
	defer f.env.Unlock()

	cfg := Config{
		IntervalSeconds:  intervalSeconds,
		MaxSlippageBps:   maxSlippageBps,
		PerCycleQuoteCap: perCycleQuoteCap,
		FeeBps:           feeBps,
		Keeper:           keeper,
	}
	v := f.deployLocked(base, quote, caller, cfg)

	f.env.Emit(events.VaultCreatedEvent{
		Vault:      v.addr,
		BaseToken:  base,
		QuoteToken: quote,
		Creator:    caller,
		Timestamp:  v.nowTime(),
	})
	return v, nil
}

// CopyVault 把 src 的策略配置复制到一个 caller 所有的新金库。
// keeper 重置为零地址（任何人可触发），暂停状态重置为未暂停。
// src 不是本工厂的金库时按参数非法拒绝。
func (f *Factory) CopyVault(caller, src common.Address) (*Vault, error) {
	if caller == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if src == (common.Address{}) {
		return nil, ErrZeroAddress
	}

	f.env.Lock()
	defer f.env.Unlock()

	srcVault, ok := f.byAddr[src]
	if !ok {
		return nil, ErrInvalidParams
	}
	cfg := srcVault.cfg.clone()
	cfg.Keeper = common.Address{}
	cfg.Paused = false

	v := f.deployLocked(srcVault.baseToken, srcVault.quoteToken, caller, cfg)

	f.env.Emit(events.VaultCopiedEvent{
		Source:    src,
		Copy:      v.addr,
		Creator:   caller,
		Timestamp: v.nowTime(),
	})
	return v, nil
}

// deployLocked 部署并登记，调用方负责持全局锁
func (f *Factory) deployLocked(base, quote, owner common.Address, cfg Config) *Vault {
	addr := f.env.NextAddress(f.addr)
	v := newVault(f.env, addr, f.router, base, quote, owner, cfg)
	f.allVaults = append(f.allVaults, addr)
	f.byAddr[addr] = v
	return v
}

// IsVault 地址是否由本工厂创建
func (f *Factory) IsVault(addr common.Address) bool {
	f.env.RLock()
	defer f.env.RUnlock()
	_, ok := f.byAddr[addr]
	return ok
}

// Lookup 按地址取金库实例
func (f *Factory) Lookup(addr common.Address) (*Vault, bool) {
	f.env.RLock()
	defer f.env.RUnlock()
	v, ok := f.byAddr[addr]
	return v, ok
}

// GetVaultCount 已创建的金库数量
func (f *Factory) GetVaultCount() uint64 {
	f.env.RLock()
	defer f.env.RUnlock()
	return uint64(len(f.allVaults))
}

// GetVault 按创建顺序取第 index 个金库地址
func (f *Factory) GetVault(index uint64) (common.Address, error) {
	f.env.RLock()
	defer f.env.RUnlock()
	if index >= uint64(len(f.allVaults)) {
		return common.Address{}, ErrOutOfRange
	}
	return f.allVaults[index], nil
}

// GetAllVaults 按创建顺序返回全部金库地址
func (f *Factory) GetAllVaults() []common.Address {
	f.env.RLock()
	defer f.env.RUnlock()
	out := make([]common.Address, len(f.allVaults))
	copy(out, f.allVaults)
	return out
}

// GetVaultsPaginated 返回 [offset, offset+limit) 区间的金库地址和总数。
// offset 超出末尾时返回空切片而不是错误。
func (f *Factory) GetVaultsPaginated(offset, limit uint64) ([]common.Address, uint64) {
	f.env.RLock()
	defer f.env.RUnlock()
	total := uint64(len(f.allVaults))
	if offset >= total {
		return []common.Address{}, total
	}
	end := total
	if limit < total-offset {
		end = offset + limit
	}
	out := make([]common.Address, end-offset)
	copy(out, f.allVaults[offset:end])
	return out, total
}
