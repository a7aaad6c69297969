// Package keeper 周期巡检器：轮询守护进程的 HTTP 接口，
// 找到到期可执行的金库并代为触发一次周期兑换。
// minOut 按历史成交均价加滑点折让计算，没有历史时放行市价。
package keeper

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dcabot/govault/pkg/amount"
	"github.com/dcabot/govault/pkg/logger"
	"github.com/dcabot/govault/pkg/persistence"
	"github.com/dcabot/govault/pkg/sdk/api"
	"github.com/dcabot/govault/pkg/sigchan"
)

const stateID = "keeper"

// Config 巡检参数
type Config struct {
	PollInterval time.Duration  // 巡检间隔
	Vaults       []string       // 白名单；为空时巡检全部金库
	Identity     common.Address // keeper 身份地址，作为执行 caller
	DryRun       bool           // 只读模式：记录将要执行的动作但不提交
}

// patrolState 巡检状态，JSON 落盘后重启续用
type patrolState struct {
	LastTriggered map[string]int64 `persistence:"last_triggered"` // vault -> 上次触发的 unix 秒
	ExecuteCount  map[string]int64 `persistence:"execute_count"`  // vault -> 成功触发次数
	FailCount     map[string]int64 `persistence:"fail_count"`     // vault -> 连续失败次数
}

// Keeper 巡检服务
type Keeper struct {
	client  *api.Client
	cfg     Config
	persist persistence.Service
	kick    *sigchan.Chan // 外部请求立即巡检一轮

	stateMu sync.Mutex
	state   patrolState

	runMu  sync.Mutex
	cancel context.CancelFunc
	doneCh chan struct{}
}

// New 创建巡检服务；persist 为 nil 时状态不落盘
func New(client *api.Client, cfg Config, persist persistence.Service) *Keeper {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	return &Keeper{
		client:  client,
		cfg:     cfg,
		persist: persist,
		kick:    sigchan.New(1),
		state: patrolState{
			LastTriggered: make(map[string]int64),
			ExecuteCount:  make(map[string]int64),
			FailCount:     make(map[string]int64),
		},
	}
}

// Start 加载历史状态并启动巡检循环
func (k *Keeper) Start(ctx context.Context) error {
	k.runMu.Lock()
	defer k.runMu.Unlock()
	if k.doneCh != nil {
		return fmt.Errorf("keeper 已在运行")
	}
	k.loadState()

	runCtx, cancel := context.WithCancel(ctx)
	k.cancel = cancel
	k.doneCh = make(chan struct{})
	go k.patrolLoop(runCtx)

	logger.Infof("keeper 巡检已启动 interval=%s identity=%s dry_run=%v vaults=%d",
		k.cfg.PollInterval, k.cfg.Identity.Hex(), k.cfg.DryRun, len(k.cfg.Vaults))
	return nil
}

// Stop 停止巡检循环并保存状态，ctx 控制等待上限
func (k *Keeper) Stop(ctx context.Context) {
	k.runMu.Lock()
	cancel, done := k.cancel, k.doneCh
	k.cancel, k.doneCh = nil, nil
	k.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warnf("等待 keeper 巡检退出超时")
	}
	k.saveState()
	logger.Info("keeper 巡检已停止")
}

// RunOnce 立即巡检一轮（供命令行单次模式与测试使用）
func (k *Keeper) RunOnce(ctx context.Context) {
	k.runOnce(ctx)
}

// Kick 请求巡检循环尽快再跑一轮，循环未启动时无效果
func (k *Keeper) Kick() {
	k.kick.Emit()
}

func (k *Keeper) patrolLoop(ctx context.Context) {
	defer close(k.doneCh)
	ticker := time.NewTicker(k.cfg.PollInterval)
	defer ticker.Stop()

	// 启动即巡检一轮，不等第一个 tick
	k.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.runOnce(ctx)
		case <-k.kick.C():
			k.runOnce(ctx)
		}
	}
}

func (k *Keeper) runOnce(ctx context.Context) {
	targets, err := k.targets(ctx)
	if err != nil {
		logger.Warnf("拉取金库列表失败: %v", err)
		return
	}
	for _, addr := range targets {
		select {
		case <-ctx.Done():
			return
		default:
		}
		k.inspect(ctx, addr)
	}
	k.saveState()
}

// targets 返回本轮巡检的金库集合：配置了白名单用白名单，否则翻页拉全量
func (k *Keeper) targets(ctx context.Context) ([]string, error) {
	if len(k.cfg.Vaults) > 0 {
		return k.cfg.Vaults, nil
	}
	var out []string
	var offset uint64
	for {
		page, err := k.client.ListVaults(ctx, offset, 200)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Vaults...)
		offset += uint64(len(page.Vaults))
		if len(page.Vaults) == 0 || offset >= page.Total {
			return out, nil
		}
	}
}

// inspect 检查单个金库，到期且有可兑换余额时触发一次执行
func (k *Keeper) inspect(ctx context.Context, addr string) {
	d, err := k.client.GetVault(ctx, addr)
	if err != nil {
		logger.Warnf("查询金库失败 vault=%s: %v", addr, err)
		return
	}
	if d.Config.Paused {
		return
	}

	// 指定了其他 keeper 的金库不归我们管
	gate := common.HexToAddress(d.Config.Keeper)
	if gate != (common.Address{}) && !strings.EqualFold(gate.Hex(), k.cfg.Identity.Hex()) {
		return
	}

	now := time.Now().Unix()
	if now < d.NextExecTime {
		return
	}

	quoteBal, ok := new(big.Int).SetString(d.QuoteBalance, 10)
	if !ok || quoteBal.Sign() == 0 {
		return
	}
	capAmt, ok := new(big.Int).SetString(d.Config.PerCycleQuoteCap, 10)
	if !ok || capAmt.Sign() == 0 {
		return
	}
	amt := new(big.Int).Set(capAmt)
	if amt.Cmp(quoteBal) > 0 {
		amt.Set(quoteBal)
	}

	minOut := k.minOutFor(ctx, d, amt)

	if k.cfg.DryRun {
		logger.Infof("[dry-run] 金库到期 vault=%s quote_amount=%s min_out=%s", addr, amt, minOut)
		return
	}

	res, err := k.client.ExecuteCycle(ctx, addr, k.cfg.Identity.Hex(), amt.String(), minOut.String(), "")
	k.stateMu.Lock()
	defer k.stateMu.Unlock()
	if err != nil {
		k.state.FailCount[addr]++
		logger.Warnf("触发周期执行失败 vault=%s fail=%d: %v", addr, k.state.FailCount[addr], err)
		return
	}
	k.state.LastTriggered[addr] = now
	k.state.ExecuteCount[addr]++
	k.state.FailCount[addr] = 0
	logger.Infof("周期执行成功 vault=%s quote_in=%s base_out=%s last_exec=%d", addr, amt, res.BaseOut, res.LastExec)
}

// minOutFor 按累计成交均价推算本次预期产出，再按金库滑点参数折让。
// 没有成交历史（或历史接口不可用）时返回 0，交给路由市价成交。
func (k *Keeper) minOutFor(ctx context.Context, d *api.VaultDetail, amt *big.Int) *big.Int {
	fills, err := k.client.ListFills(ctx, d.Address, 1)
	if err != nil {
		logger.Debugf("查询成交历史失败 vault=%s: %v", d.Address, err)
		return new(big.Int)
	}
	totalQuote, ok1 := new(big.Int).SetString(fills.TotalQuoteIn, 10)
	totalBase, ok2 := new(big.Int).SetString(fills.TotalBaseOut, 10)
	if !ok1 || !ok2 {
		return new(big.Int)
	}
	expected, ok := amount.ExpectedOut(amt, totalQuote, totalBase)
	if !ok {
		return new(big.Int)
	}
	return amount.SubBps(expected, d.Config.MaxSlippageBps)
}

// Stats 巡检计数快照（按金库聚合），供状态上报与测试断言
func (k *Keeper) Stats() (executed, failed int64) {
	k.stateMu.Lock()
	defer k.stateMu.Unlock()
	for _, n := range k.state.ExecuteCount {
		executed += n
	}
	for _, n := range k.state.FailCount {
		failed += n
	}
	return executed, failed
}

func (k *Keeper) loadState() {
	if k.persist == nil {
		return
	}
	k.stateMu.Lock()
	defer k.stateMu.Unlock()
	if err := persistence.LoadFields(&k.state, stateID, k.persist); err != nil {
		logger.Warnf("加载 keeper 状态失败: %v", err)
	}
	if k.state.LastTriggered == nil {
		k.state.LastTriggered = make(map[string]int64)
	}
	if k.state.ExecuteCount == nil {
		k.state.ExecuteCount = make(map[string]int64)
	}
	if k.state.FailCount == nil {
		k.state.FailCount = make(map[string]int64)
	}
}

func (k *Keeper) saveState() {
	if k.persist == nil {
		return
	}
	k.stateMu.Lock()
	defer k.stateMu.Unlock()
	if err := persistence.SaveFields(&k.state, stateID, k.persist); err != nil {
		logger.Warnf("保存 keeper 状态失败: %v", err)
	}
}
