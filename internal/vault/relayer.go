package vault

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dcabot/govault/internal/chain"
	"github.com/dcabot/govault/internal/events"
	"github.com/dcabot/govault/pkg/signing"
)

// maxRelayerFeeBps 中继费率上限（10%）
const maxRelayerFeeBps = 1000

// vaultLookup 按地址解析金库实例的能力
type vaultLookup interface {
	Lookup(common.Address) (*Vault, bool)
}

// Relayer 元交易执行器：校验 EIP712 签名意图、维护每个签名者的顺序 nonce、
// 代为触发金库周期执行并从产出中抽取中继费付给提交方。
type Relayer struct {
	env     *chain.Env
	addr    common.Address
	owner   common.Address
	chainID *big.Int

	relayerFeeBps uint64
	nonces        map[common.Address]uint64
	vaults        vaultLookup
}

// NewRelayer 创建中继执行器，feeBps 上限 1000
func NewRelayer(env *chain.Env, owner common.Address, chainID *big.Int, feeBps uint64, vaults vaultLookup) (*Relayer, error) {
	if owner == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if chainID == nil || vaults == nil {
		return nil, ErrInvalidParams
	}
	if feeBps > maxRelayerFeeBps {
		return nil, ErrInvalidParams
	}
	return &Relayer{
		env:           env,
		addr:          env.NextAddress(common.Address{}),
		owner:         owner,
		chainID:       new(big.Int).Set(chainID),
		relayerFeeBps: feeBps,
		nonces:        make(map[common.Address]uint64),
		vaults:        vaults,
	}, nil
}

// Address 中继执行器地址（签名域中的 verifyingContract）
func (r *Relayer) Address() common.Address { return r.addr }

// Owner 中继执行器所有者
func (r *Relayer) Owner() common.Address { return r.owner }

// ChainID 签名域使用的链 ID
func (r *Relayer) ChainID() *big.Int { return new(big.Int).Set(r.chainID) }

// RelayerFeeBps 当前中继费率
func (r *Relayer) RelayerFeeBps() uint64 {
	r.env.RLock()
	defer r.env.RUnlock()
	return r.relayerFeeBps
}

// GetNonce 签名者下一个期望的 nonce
func (r *Relayer) GetNonce(signer common.Address) uint64 {
	r.env.RLock()
	defer r.env.RUnlock()
	return r.nonces[signer]
}

// DomainSeparator 签名域分隔符
func (r *Relayer) DomainSeparator() (common.Hash, error) {
	return signing.DomainSeparator(r.chainID, r.addr)
}

// TypedDataHash 意图的最终签名摘要
func (r *Relayer) TypedDataHash(intent signing.CycleIntent) (common.Hash, error) {
	return signing.HashIntent(r.chainID, r.addr, intent)
}

// VerifySignature 只读校验：恢复签名者并检查有效性。
// 过期、nonce 不匹配、恢复为零地址都返回 isValid=false 而不是错误。
func (r *Relayer) VerifySignature(intent signing.CycleIntent, signature []byte) (common.Address, bool) {
	signer, err := signing.RecoverIntent(r.chainID, r.addr, intent, signature)
	if err != nil || signer == (common.Address{}) {
		return common.Address{}, false
	}

	r.env.RLock()
	defer r.env.RUnlock()
	if r.env.Now() > intent.Deadline {
		return signer, false
	}
	if intent.Nonce != r.nonces[signer] {
		return signer, false
	}
	return signer, true
}

// SetRelayerFee 所有者调整中继费率，上限 1000
func (r *Relayer) SetRelayerFee(caller common.Address, feeBps uint64) error {
	r.env.Lock()
	defer r.env.Unlock()

	if caller != r.owner {
		return ErrNotOwner
	}
	if feeBps > maxRelayerFeeBps {
		return ErrInvalidParams
	}
	old := r.relayerFeeBps
	r.relayerFeeBps = feeBps

	r.env.Emit(events.RelayerFeeUpdatedEvent{
		OldBps:    old,
		NewBps:    feeBps,
		Timestamp: r.nowTime(),
	})
	return nil
}

// ExecuteMetaCycle 执行一笔签名意图：过期检查、恢复签名者、严格顺序 nonce
// 校验并预递增，再转调目标金库的周期执行。金库失败时回滚 nonce 并把金库错误
// 原样上抛；成功时从产出中抽中继费付给提交方 caller，返回扣费后的产出。
func (r *Relayer) ExecuteMetaCycle(caller common.Address, intent signing.CycleIntent, signature []byte) (*big.Int, error) {
	if caller == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	v, ok := r.vaults.Lookup(intent.Vault)
	if !ok {
		return nil, ErrUnknownVault
	}
	if !v.busy.CompareAndSwap(false, true) {
		return nil, ErrReentrancy
	}
	defer v.busy.Store(false)

	r.env.Lock()
	defer r.env.Unlock()

	if r.env.Now() > intent.Deadline {
		return nil, ErrMetaTxExpired
	}
	signer, err := signing.RecoverIntent(r.chainID, r.addr, intent, signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if signer == (common.Address{}) {
		return nil, ErrInvalidParams
	}
	if intent.Nonce != r.nonces[signer] {
		return nil, ErrInvalidParams
	}

	// 先递增再执行，防止执行路径上的任何出口遗漏重放保护；
	// 金库失败时整笔回滚，对外等价于未执行
	r.nonces[signer] = intent.Nonce + 1

	out, err := v.executeCycleLocked(r.addr, intent.QuoteAmount, intent.MinOut, intent.Beneficiary)
	if err != nil {
		r.nonces[signer] = intent.Nonce
		return nil, err
	}

	fee := mulDiv(out, new(big.Int).SetUint64(r.relayerFeeBps), big.NewInt(bpsDenominator))
	if fee.Sign() > 0 {
		// 费率上限 1000，fee 不会超过 out，划扣不会因余额不足失败
		if err := r.env.Ledger().Move(v.baseToken, v.addr, caller, fee); err != nil {
			return nil, err
		}
	}
	net := new(big.Int).Sub(out, fee)

	quote := intent.QuoteAmount
	if quote == nil {
		quote = new(big.Int)
	}
	r.env.Emit(events.MetaTxExecutedEvent{
		Signer:      signer,
		Vault:       intent.Vault,
		QuoteAmount: new(big.Int).Set(quote),
		BaseOut:     new(big.Int).Set(net),
		RelayerFee:  fee,
		Timestamp:   r.nowTime(),
	})
	return net, nil
}

func (r *Relayer) nowTime() time.Time {
	return time.Unix(r.env.Now(), 0).UTC()
}
