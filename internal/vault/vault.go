package vault

import (
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dcabot/govault/internal/chain"
	"github.com/dcabot/govault/internal/events"
	"github.com/dcabot/govault/internal/router"
)

// swapDeadlineSlack 传给路由的 deadline 相对当前时间的余量（秒）
const swapDeadlineSlack = 300

const bpsDenominator = 10000

// Vault 定投金库：份额账本 + 周期执行引擎 + 所有者配置守卫。
// 储户存入计价代币换取份额，周期引擎按间隔把限额内的计价代币换成目标代币，
// 份额价值随池内两种代币余额（1:1 计价求和）变化。
//
// 所有状态变更操作通过执行环境的全局锁串行化；每个金库另带一个重入标记，
// 路由回调里再次进入本金库的调用会被直接拒绝而不是排队。
type Vault struct {
	env    *chain.Env
	addr   common.Address
	router router.Router

	baseToken  common.Address
	quoteToken common.Address

	owner common.Address
	cfg   Config

	lastExec         int64
	totalFilledQuote *big.Int
	totalFilledBase  *big.Int

	shares      map[common.Address]*big.Int
	totalShares *big.Int

	busy atomic.Bool
}

// newVault 由工厂调用，lastExec 初始化为部署时刻
func newVault(env *chain.Env, addr common.Address, rtr router.Router, base, quote, owner common.Address, cfg Config) *Vault {
	return &Vault{
		env:              env,
		addr:             addr,
		router:           rtr,
		baseToken:        base,
		quoteToken:       quote,
		owner:            owner,
		cfg:              cfg.normalized(),
		lastExec:         env.Now(),
		totalFilledQuote: new(big.Int),
		totalFilledBase:  new(big.Int),
		shares:           make(map[common.Address]*big.Int),
		totalShares:      new(big.Int),
	}
}

// enter 进入状态变更操作：先占重入标记，再取全局交易锁。
// 标记已被占用说明是路由回调里的重入（或同一金库上并发的第二笔提交），直接拒绝。
func (v *Vault) enter() error {
	if !v.busy.CompareAndSwap(false, true) {
		return ErrReentrancy
	}
	v.env.Lock()
	return nil
}

// exit 离开状态变更操作
func (v *Vault) exit() {
	v.env.Unlock()
	v.busy.Store(false)
}

// Address 金库地址
func (v *Vault) Address() common.Address { return v.addr }

// BaseToken 目标代币地址
func (v *Vault) BaseToken() common.Address { return v.baseToken }

// QuoteToken 计价代币地址
func (v *Vault) QuoteToken() common.Address { return v.quoteToken }

// RouterAddress 路由地址
func (v *Vault) RouterAddress() common.Address { return v.router.Address() }

// Owner 当前所有者
func (v *Vault) Owner() common.Address {
	v.env.RLock()
	defer v.env.RUnlock()
	return v.owner
}

// GetConfig 当前配置的副本
func (v *Vault) GetConfig() Config {
	v.env.RLock()
	defer v.env.RUnlock()
	return v.cfg.clone()
}

// LastExec 最近一次成功周期执行的时间（unix 秒），初始为部署时刻
func (v *Vault) LastExec() int64 {
	v.env.RLock()
	defer v.env.RUnlock()
	return v.lastExec
}

// NextExecTime 下一次允许执行的时间 lastExec + intervalSeconds
func (v *Vault) NextExecTime() int64 {
	v.env.RLock()
	defer v.env.RUnlock()
	return v.lastExec + int64(v.cfg.IntervalSeconds)
}

// TotalFilledQuote 累计投入的计价代币
func (v *Vault) TotalFilledQuote() *big.Int {
	v.env.RLock()
	defer v.env.RUnlock()
	return new(big.Int).Set(v.totalFilledQuote)
}

// TotalFilledBase 累计换得的目标代币（扣费后）
func (v *Vault) TotalFilledBase() *big.Int {
	v.env.RLock()
	defer v.env.RUnlock()
	return new(big.Int).Set(v.totalFilledBase)
}

// BalanceOf 指定地址的份额余额
func (v *Vault) BalanceOf(holder common.Address) *big.Int {
	v.env.RLock()
	defer v.env.RUnlock()
	if bal, ok := v.shares[holder]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// TotalSupply 份额总量
func (v *Vault) TotalSupply() *big.Int {
	v.env.RLock()
	defer v.env.RUnlock()
	return new(big.Int).Set(v.totalShares)
}

// TotalAssets 池内计价代币与目标代币余额之和（1:1 计价，每次现读不缓存）
func (v *Vault) TotalAssets() *big.Int {
	v.env.RLock()
	defer v.env.RUnlock()
	return v.totalAssetsLocked()
}

func (v *Vault) totalAssetsLocked() *big.Int {
	ledger := v.env.Ledger()
	total := ledger.BalanceOf(v.quoteToken, v.addr)
	return total.Add(total, ledger.BalanceOf(v.baseToken, v.addr))
}

// PreviewDeposit 按当前份额价格预览 assets 可铸造的份额数
func (v *Vault) PreviewDeposit(assets *big.Int) *big.Int {
	if assets == nil || assets.Sign() <= 0 {
		return new(big.Int)
	}
	v.env.RLock()
	defer v.env.RUnlock()
	return v.previewDepositLocked(assets)
}

func (v *Vault) previewDepositLocked(assets *big.Int) *big.Int {
	total := v.totalAssetsLocked()
	if v.totalShares.Sign() == 0 || total.Sign() == 0 {
		return new(big.Int).Set(assets)
	}
	return mulDiv(assets, v.totalShares, total)
}

// PreviewRedeem 预览赎回 shares 可得的两种代币数量
func (v *Vault) PreviewRedeem(shares *big.Int) (quoteOut, baseOut *big.Int) {
	if shares == nil || shares.Sign() <= 0 {
		return new(big.Int), new(big.Int)
	}
	v.env.RLock()
	defer v.env.RUnlock()
	if v.totalShares.Sign() == 0 {
		return new(big.Int), new(big.Int)
	}
	ledger := v.env.Ledger()
	quoteOut = mulDiv(shares, ledger.BalanceOf(v.quoteToken, v.addr), v.totalShares)
	baseOut = mulDiv(shares, ledger.BalanceOf(v.baseToken, v.addr), v.totalShares)
	return quoteOut, baseOut
}

// Deposit 从 caller 划入 assets 计价代币，为 receiver 铸造份额。
// caller 需先授权金库划扣。首笔存款按 1:1 铸造，之后按
// shares = assets * totalSupply / totalAssets 向下取整。
func (v *Vault) Deposit(caller common.Address, assets *big.Int, receiver common.Address) (*big.Int, error) {
	if assets == nil || assets.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if caller == (common.Address{}) || receiver == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if err := v.enter(); err != nil {
		return nil, err
	}
	defer v.exit()

	minted := v.previewDepositLocked(assets)
	if minted.Sign() == 0 {
		return nil, ErrZeroAmount
	}
	if err := v.env.Ledger().TransferFrom(v.quoteToken, v.addr, caller, v.addr, assets); err != nil {
		return nil, err
	}
	v.mint(receiver, minted)

	v.env.Emit(events.DepositEvent{
		Vault:     v.addr,
		Caller:    caller,
		Receiver:  receiver,
		Assets:    new(big.Int).Set(assets),
		Shares:    new(big.Int).Set(minted),
		Timestamp: v.nowTime(),
	})
	return new(big.Int).Set(minted), nil
}

// Redeem 销毁 owner 的 shares 份额，按比例把池内两种代币退给 receiver，
// 返回两种代币数量之和（1:1 计价）。caller 必须是份额持有人本人。
func (v *Vault) Redeem(caller common.Address, shares *big.Int, receiver, owner common.Address) (*big.Int, error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if receiver == (common.Address{}) || owner == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if caller != owner {
		return nil, ErrNotOwner
	}
	if err := v.enter(); err != nil {
		return nil, err
	}
	defer v.exit()
	return v.redeemLocked(caller, shares, receiver, owner)
}

// Withdraw 退出价值恰好为 assets 的资产（1:1 计价求和），销毁的份额数
// 按当前份额价格向上取整，取整尾差留在池内。退回时优先付计价代币，
// 不足部分用目标代币补足。返回销毁的份额数。
func (v *Vault) Withdraw(caller common.Address, assets *big.Int, receiver, owner common.Address) (*big.Int, error) {
	if assets == nil || assets.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if receiver == (common.Address{}) || owner == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if caller != owner {
		return nil, ErrNotOwner
	}
	if err := v.enter(); err != nil {
		return nil, err
	}
	defer v.exit()

	total := v.totalAssetsLocked()
	if v.totalShares.Sign() == 0 || total.Sign() == 0 {
		return nil, ErrInsufficientShares
	}
	burned := ceilDiv(new(big.Int).Mul(assets, v.totalShares), total)
	bal, ok := v.shares[owner]
	if !ok || bal.Cmp(burned) < 0 {
		return nil, ErrInsufficientShares
	}

	ledger := v.env.Ledger()
	payQuote := ledger.BalanceOf(v.quoteToken, v.addr)
	if payQuote.Cmp(assets) > 0 {
		payQuote.Set(assets)
	}
	payBase := new(big.Int).Sub(assets, payQuote)

	v.burn(owner, burned)
	if payQuote.Sign() > 0 {
		if err := ledger.Move(v.quoteToken, v.addr, receiver, payQuote); err != nil {
			return nil, err
		}
	}
	if payBase.Sign() > 0 {
		if err := ledger.Move(v.baseToken, v.addr, receiver, payBase); err != nil {
			return nil, err
		}
	}

	v.env.Emit(events.WithdrawEvent{
		Vault:       v.addr,
		Caller:      caller,
		Receiver:    receiver,
		QuoteAssets: payQuote,
		BaseAssets:  payBase,
		Shares:      new(big.Int).Set(burned),
		Timestamp:   v.nowTime(),
	})
	return burned, nil
}

func (v *Vault) redeemLocked(caller common.Address, shares *big.Int, receiver, owner common.Address) (*big.Int, error) {
	bal, ok := v.shares[owner]
	if !ok || bal.Cmp(shares) < 0 {
		return nil, ErrInsufficientShares
	}

	ledger := v.env.Ledger()
	quoteOut := mulDiv(shares, ledger.BalanceOf(v.quoteToken, v.addr), v.totalShares)
	baseOut := mulDiv(shares, ledger.BalanceOf(v.baseToken, v.addr), v.totalShares)

	v.burn(owner, shares)
	if quoteOut.Sign() > 0 {
		if err := ledger.Move(v.quoteToken, v.addr, receiver, quoteOut); err != nil {
			return nil, err
		}
	}
	if baseOut.Sign() > 0 {
		if err := ledger.Move(v.baseToken, v.addr, receiver, baseOut); err != nil {
			return nil, err
		}
	}

	v.env.Emit(events.WithdrawEvent{
		Vault:       v.addr,
		Caller:      caller,
		Receiver:    receiver,
		QuoteAssets: new(big.Int).Set(quoteOut),
		BaseAssets:  new(big.Int).Set(baseOut),
		Shares:      new(big.Int).Set(shares),
		Timestamp:   v.nowTime(),
	})
	return new(big.Int).Add(quoteOut, baseOut), nil
}

// ExecuteCycle 触发一次周期执行：检查触发权限、暂停、间隔与单次上限，
// 把 quoteAmount（超出池内余额时静默缩减）经路由换成目标代币，
// 扣除协议费后记录成交。返回扣费后的产出。
// beneficiary 为预留参数，当前设计中产出全部留在池内。
func (v *Vault) ExecuteCycle(caller common.Address, quoteAmount, minOut *big.Int, beneficiary common.Address) (*big.Int, error) {
	if err := v.enter(); err != nil {
		return nil, err
	}
	defer v.exit()
	return v.executeCycleLocked(caller, quoteAmount, minOut, beneficiary)
}

func (v *Vault) executeCycleLocked(caller common.Address, quoteAmount, minOut *big.Int, beneficiary common.Address) (*big.Int, error) {
	if quoteAmount == nil {
		quoteAmount = new(big.Int)
	}
	if quoteAmount.Sign() < 0 {
		return nil, ErrInvalidParams
	}
	if minOut == nil {
		minOut = new(big.Int)
	}

	if v.cfg.Keeper != (common.Address{}) && caller != v.cfg.Keeper {
		return nil, ErrNotKeeper
	}
	if v.cfg.Paused {
		return nil, ErrPaused
	}
	now := v.env.Now()
	if now < v.lastExec+int64(v.cfg.IntervalSeconds) {
		return nil, ErrIntervalNotElapsed
	}
	if quoteAmount.Cmp(v.cfg.PerCycleQuoteCap) > 0 {
		return nil, ErrCapExceeded
	}

	ledger := v.env.Ledger()
	amount := new(big.Int).Set(quoteAmount)
	if quoteBal := ledger.BalanceOf(v.quoteToken, v.addr); amount.Cmp(quoteBal) > 0 {
		amount.Set(quoteBal)
	}
	if amount.Sign() == 0 {
		return nil, ErrNothingToSwap
	}

	// 先清零再设置的授权，兼容要求这种模式的路由
	routerAddr := v.router.Address()
	if err := ledger.Approve(v.quoteToken, v.addr, routerAddr, new(big.Int)); err != nil {
		return nil, err
	}
	if err := ledger.Approve(v.quoteToken, v.addr, routerAddr, amount); err != nil {
		return nil, err
	}

	amounts, err := v.router.Swap(v.addr, amount, minOut, [2]common.Address{v.quoteToken, v.baseToken}, v.addr, now+swapDeadlineSlack)
	if err != nil {
		// 路由失败原样上抛
		return nil, err
	}
	out := amounts[1]
	if out == nil || out.Cmp(minOut) < 0 {
		return nil, ErrSlippage
	}

	fee := mulDiv(out, new(big.Int).SetUint64(v.cfg.FeeBps), big.NewInt(bpsDenominator))
	if fee.Cmp(out) > 0 {
		// setConfig 不做上限校验，费率超过 100% 时在这里整笔失败
		return nil, ErrInvalidParams
	}
	if fee.Sign() > 0 {
		if err := ledger.Move(v.baseToken, v.addr, v.owner, fee); err != nil {
			return nil, err
		}
	}
	net := new(big.Int).Sub(out, fee)

	v.lastExec = now
	v.totalFilledQuote.Add(v.totalFilledQuote, amount)
	v.totalFilledBase.Add(v.totalFilledBase, net)

	v.env.Emit(events.FillEvent{
		Vault:     v.addr,
		QuoteIn:   new(big.Int).Set(amount),
		BaseOut:   new(big.Int).Set(net),
		Timestamp: time.Unix(now, 0).UTC(),
	})
	return net, nil
}

// SetConfig 所有者一次性覆盖全部六个配置项。除类型系统外不做任何校验，
// 包括不检查费率与滑点上限。
func (v *Vault) SetConfig(caller common.Address, cfg Config) error {
	if err := v.enter(); err != nil {
		return err
	}
	defer v.exit()

	if caller != v.owner {
		return ErrNotOwner
	}
	v.cfg = cfg.normalized()

	v.env.Emit(events.ConfigUpdatedEvent{
		Vault:            v.addr,
		IntervalSeconds:  v.cfg.IntervalSeconds,
		MaxSlippageBps:   v.cfg.MaxSlippageBps,
		PerCycleQuoteCap: new(big.Int).Set(v.cfg.PerCycleQuoteCap),
		FeeBps:           v.cfg.FeeBps,
		Keeper:           v.cfg.Keeper,
		Paused:           v.cfg.Paused,
		Timestamp:        v.nowTime(),
	})
	return nil
}

// TransferOwnership 转移所有权给非零地址
func (v *Vault) TransferOwnership(caller, newOwner common.Address) error {
	if newOwner == (common.Address{}) {
		return ErrZeroAddress
	}
	if err := v.enter(); err != nil {
		return err
	}
	defer v.exit()

	if caller != v.owner {
		return ErrNotOwner
	}
	old := v.owner
	v.owner = newOwner

	v.env.Emit(events.OwnershipTransferredEvent{
		Vault:     v.addr,
		OldOwner:  old,
		NewOwner:  newOwner,
		Timestamp: v.nowTime(),
	})
	return nil
}

func (v *Vault) mint(to common.Address, amount *big.Int) {
	bal, ok := v.shares[to]
	if !ok {
		bal = new(big.Int)
		v.shares[to] = bal
	}
	bal.Add(bal, amount)
	v.totalShares.Add(v.totalShares, amount)
}

func (v *Vault) burn(from common.Address, amount *big.Int) {
	bal := v.shares[from]
	bal.Sub(bal, amount)
	if bal.Sign() == 0 {
		delete(v.shares, from)
	}
	v.totalShares.Sub(v.totalShares, amount)
}

func (v *Vault) nowTime() time.Time {
	return time.Unix(v.env.Now(), 0).UTC()
}

// mulDiv 计算 a*b/c 向下取整
func mulDiv(a, b, c *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, c)
}

// ceilDiv 计算 a/b 向上取整
func ceilDiv(a, b *big.Int) *big.Int {
	out := new(big.Int).Add(a, new(big.Int).Sub(b, big.NewInt(1)))
	return out.Quo(out, b)
}
