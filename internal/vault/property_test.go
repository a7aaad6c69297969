package vault

import (
	"math/big"
	"testing"
	"testing/quick"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dcabot/govault/internal/chain"
	"github.com/dcabot/govault/internal/router"
)

// TestDepositRedeemRoundTripProperty 无价值漂移时，任意存款序列后逐一全额赎回，
// 每个人拿回的恰好等于存入的数额，最终份额总量归零
func TestDepositRedeemRoundTripProperty(t *testing.T) {
	property := func(raw []uint32) bool {
		h := newHarness(t)
		type entry struct {
			user   common.Address
			amount *big.Int
			shares *big.Int
		}
		var entries []entry
		for i, r := range raw {
			if len(entries) == 8 {
				break
			}
			amount := new(big.Int).Mul(big.NewInt(int64(r%10_000)+1), big.NewInt(1_000_000))
			user := common.BytesToAddress([]byte{0xE0, byte(i + 1)})
			shares := h.deposit(user, amount)
			entries = append(entries, entry{user, amount, shares})
		}
		for _, e := range entries {
			assets, err := h.vault.Redeem(e.user, e.shares, e.user, e.user)
			if err != nil {
				return false
			}
			if assets.Cmp(e.amount) != 0 {
				return false
			}
			if h.quoteBal(e.user).Cmp(e.amount) != 0 {
				return false
			}
		}
		return h.vault.TotalSupply().Sign() == 0
	}
	if err := quick.Check(property, &quick.Config{MaxCount: 50}); err != nil {
		t.Errorf("属性测试失败: %v", err)
	}
}

// TestShareSupplyConservationProperty 任意存取序列后份额总量等于各持有人余额之和
func TestShareSupplyConservationProperty(t *testing.T) {
	property := func(ops []uint16) bool {
		h := newHarness(t)
		users := []common.Address{alice, bob, carol}
		held := make(map[common.Address]*big.Int)
		for _, u := range users {
			held[u] = new(big.Int)
		}
		for i, op := range ops {
			if i == 12 {
				break
			}
			u := users[int(op)%len(users)]
			if op%2 == 0 {
				amount := big.NewInt(int64(op%500) + 1)
				shares := h.deposit(u, amount)
				held[u].Add(held[u], shares)
			} else if held[u].Sign() > 0 {
				part := new(big.Int).Rsh(held[u], 1)
				if part.Sign() == 0 {
					part.Set(held[u])
				}
				if _, err := h.vault.Redeem(u, part, u, u); err != nil {
					return false
				}
				held[u].Sub(held[u], part)
			}
		}
		sum := new(big.Int)
		for _, u := range users {
			sum.Add(sum, h.vault.BalanceOf(u))
			if h.vault.BalanceOf(u).Cmp(held[u]) != 0 {
				return false
			}
		}
		return sum.Cmp(h.vault.TotalSupply()) == 0
	}
	if err := quick.Check(property, &quick.Config{MaxCount: 30}); err != nil {
		t.Errorf("属性测试失败: %v", err)
	}
}

// TestCycleFeeSplitProperty 任意费率(≤100%)与金额下，协议费与净产出之和等于路由产出
func TestCycleFeeSplitProperty(t *testing.T) {
	property := func(amountRaw uint32, feeRaw uint16) bool {
		feeBps := uint64(feeRaw) % 10001
		amount := big.NewInt(int64(amountRaw%100_000) + 1)

		clk := chain.NewManualClock(time.Unix(1_700_000_000, 0))
		env := chain.NewEnvAt(clk.Now)
		quote, _ := env.CreateToken("USDC", 18)
		base, _ := env.CreateToken("WETH", 18)
		rtr := router.NewFixedRate(env)
		rtr.SetRate(quote, base, 1, 1)
		if err := rtr.Fund(base, e18(1_000_000)); err != nil {
			return false
		}
		f := NewFactory(env, rtr)
		v, err := f.CreateVault(ownerAddr, base, quote, 60, 100, e18(1_000_000), feeBps, common.Address{})
		if err != nil {
			return false
		}
		clk.Advance(time.Minute)

		ledger := env.Ledger()
		if err := ledger.Mint(quote, alice, amount); err != nil {
			return false
		}
		if err := ledger.Approve(quote, alice, v.Address(), amount); err != nil {
			return false
		}
		if _, err := v.Deposit(alice, amount, alice); err != nil {
			return false
		}

		net, err := v.ExecuteCycle(alice, amount, new(big.Int), alice)
		if err != nil {
			return false
		}
		fee := ledger.BalanceOf(base, ownerAddr)
		total := new(big.Int).Add(net, fee)
		// 1:1 路由产出等于投入
		if total.Cmp(amount) != 0 {
			return false
		}
		return ledger.BalanceOf(base, v.Address()).Cmp(net) == 0
	}
	if err := quick.Check(property, &quick.Config{MaxCount: 60}); err != nil {
		t.Errorf("属性测试失败: %v", err)
	}
}

// TestCeilDivProperty ceilDiv 结果乘回除数后落在 [a, a+b) 区间
func TestCeilDivProperty(t *testing.T) {
	property := func(aRaw, bRaw uint32) bool {
		a := big.NewInt(int64(aRaw))
		b := big.NewInt(int64(bRaw%1000) + 1)
		q := ceilDiv(a, b)
		back := new(big.Int).Mul(q, b)
		if back.Cmp(a) < 0 {
			return false
		}
		return new(big.Int).Sub(back, a).Cmp(b) < 0
	}
	if err := quick.Check(property, &quick.Config{MaxCount: 100}); err != nil {
		t.Errorf("属性测试失败: %v", err)
	}
}
