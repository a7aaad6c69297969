package router

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dcabot/govault/internal/chain"
)

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func newTestEnv(t *testing.T) (*chain.Env, *chain.ManualClock, common.Address, common.Address) {
	t.Helper()
	clk := chain.NewManualClock(time.Unix(1_700_000_000, 0))
	env := chain.NewEnvAt(clk.Now)
	quote, err := env.CreateToken("USDC", 18)
	if err != nil {
		t.Fatalf("create quote: %v", err)
	}
	base, err := env.CreateToken("WETH", 18)
	if err != nil {
		t.Fatalf("create base: %v", err)
	}
	return env, clk, quote, base
}

func TestFixedRateSwap(t *testing.T) {
	env, _, quote, base := newTestEnv(t)
	r := NewFixedRate(env)
	r.SetRate(quote, base, 1, 1)
	if err := r.Fund(base, e18(1000)); err != nil {
		t.Fatalf("fund: %v", err)
	}

	trader := common.BytesToAddress([]byte{0xAA})
	if err := env.Ledger().Mint(quote, trader, e18(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := env.Ledger().Approve(quote, trader, r.Address(), e18(50)); err != nil {
		t.Fatalf("approve: %v", err)
	}

	amounts, err := r.Swap(trader, e18(50), e18(50), [2]common.Address{quote, base}, trader, env.Now()+300)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if amounts[0].Cmp(e18(50)) != 0 || amounts[1].Cmp(e18(50)) != 0 {
		t.Fatalf("amounts = %v", amounts)
	}
	if got := env.Ledger().BalanceOf(base, trader); got.Cmp(e18(50)) != 0 {
		t.Fatalf("trader base balance = %v, want 50e18", got)
	}
	// 授权额度被消耗
	if got := env.Ledger().Allowance(quote, trader, r.Address()); got.Sign() != 0 {
		t.Fatalf("allowance left = %v, want 0", got)
	}
}

func TestFixedRateRejections(t *testing.T) {
	env, clk, quote, base := newTestEnv(t)
	r := NewFixedRate(env)
	r.SetRate(quote, base, 9, 10) // 0.9 的汇率

	trader := common.BytesToAddress([]byte{0xAA})
	if err := env.Ledger().Mint(quote, trader, e18(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := env.Ledger().Approve(quote, trader, r.Address(), e18(100)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	path := [2]common.Address{quote, base}

	// 路由库存为空
	if _, err := r.Swap(trader, e18(10), nil, path, trader, 0); !errors.Is(err, ErrNoLiquidity) {
		t.Fatalf("empty inventory: err = %v, want ErrNoLiquidity", err)
	}
	if err := r.Fund(base, e18(1000)); err != nil {
		t.Fatalf("fund: %v", err)
	}

	// minOut 未达成
	if _, err := r.Swap(trader, e18(10), e18(10), path, trader, 0); !errors.Is(err, ErrSlippage) {
		t.Fatalf("minOut unmet: err = %v, want ErrSlippage", err)
	}

	// deadline 过期
	deadline := env.Now() + 300
	clk.Advance(301 * time.Second)
	if _, err := r.Swap(trader, e18(10), nil, path, trader, deadline); !errors.Is(err, ErrDeadlineExpired) {
		t.Fatalf("expired deadline: err = %v, want ErrDeadlineExpired", err)
	}

	// 未配置的交易对
	if _, err := r.Swap(trader, e18(10), nil, [2]common.Address{base, quote}, trader, 0); !errors.Is(err, ErrUnsupportedPair) {
		t.Fatalf("unknown pair: err = %v, want ErrUnsupportedPair", err)
	}
}

func TestAMMSwapMovesPrice(t *testing.T) {
	env, _, quote, base := newTestEnv(t)
	a := NewAMM(env, 30)

	lp := common.BytesToAddress([]byte{0x1F})
	ledger := env.Ledger()
	if err := ledger.Mint(quote, lp, e18(10_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Mint(base, lp, e18(10_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Approve(quote, lp, a.Address(), e18(10_000)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := ledger.Approve(base, lp, a.Address(), e18(10_000)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := a.AddLiquidity(lp, quote, base, e18(10_000), e18(10_000)); err != nil {
		t.Fatalf("add liquidity: %v", err)
	}

	trader := common.BytesToAddress([]byte{0xAA})
	if err := ledger.Mint(quote, trader, e18(200)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Approve(quote, trader, a.Address(), e18(200)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	path := [2]common.Address{quote, base}

	quote1, err := a.Quote(e18(100), path)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	// 10000/10000 池子换 100，扣 30bps 后产出必然低于 100 但接近
	if quote1.Cmp(e18(100)) >= 0 || quote1.Cmp(e18(98)) < 0 {
		t.Fatalf("first quote out of range: %v", quote1)
	}

	amounts, err := a.Swap(trader, e18(100), quote1, path, trader, env.Now()+300)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if amounts[1].Cmp(quote1) != 0 {
		t.Fatalf("swap out %v != quote %v", amounts[1], quote1)
	}

	// 第二次同量换出变少：价格被推动
	quote2, err := a.Quote(e18(100), path)
	if err != nil {
		t.Fatalf("second quote: %v", err)
	}
	if quote2.Cmp(quote1) >= 0 {
		t.Fatalf("price did not move: %v then %v", quote1, quote2)
	}

	// 储备与账本余额一致
	rq, rb, ok := a.Reserves(quote, base)
	if !ok {
		t.Fatalf("missing pool")
	}
	if got := ledger.BalanceOf(quote, a.Address()); got.Cmp(rq) != 0 {
		t.Fatalf("quote reserve %v != ledger %v", rq, got)
	}
	if got := ledger.BalanceOf(base, a.Address()); got.Cmp(rb) != 0 {
		t.Fatalf("base reserve %v != ledger %v", rb, got)
	}
}

func TestAMMRejectsUnknownPairAndZeroIn(t *testing.T) {
	env, _, quote, base := newTestEnv(t)
	a := NewAMM(env, 0)
	trader := common.BytesToAddress([]byte{0xAA})

	if _, err := a.Quote(e18(1), [2]common.Address{quote, base}); !errors.Is(err, ErrUnsupportedPair) {
		t.Fatalf("quote unknown pair: err = %v", err)
	}
	if _, err := a.Swap(trader, new(big.Int), nil, [2]common.Address{quote, base}, trader, 0); !errors.Is(err, ErrNoLiquidity) {
		t.Fatalf("zero input: err = %v", err)
	}
}
