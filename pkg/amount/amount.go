// Package amount 提供 wei 精度的金额换算与基点运算。
//
// 说明：
// - 协议内部一律用 wei（*big.Int）做精确运算；
// - 人类可读的十进制字符串只出现在配置、CLI 与展示层，经由本包转换；
// - 基点（bps）以 10000 为分母，与金库费率、滑点参数保持同一口径。
package amount

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// BpsDenominator 基点分母：10000 bps = 100%
const BpsDenominator = 10_000

// Parse 把人类可读的十进制数量按代币精度换成 wei。
// 小数位超过精度或数量为负时报错，不做静默截断。
func Parse(s string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount must not be negative: %s", s)
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", s, decimals)
	}
	return shifted.BigInt(), nil
}

// Format 把 wei 按代币精度转为十进制字符串
func Format(wei *big.Int, decimals uint8) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -int32(decimals)).String()
}

// ApplyBps 取 v 的 bps 基点（向下取整）
func ApplyBps(v *big.Int, bps uint64) *big.Int {
	if v == nil || v.Sign() <= 0 || bps == 0 {
		return new(big.Int)
	}
	cut := new(big.Int).Mul(v, new(big.Int).SetUint64(bps))
	return cut.Div(cut, big.NewInt(BpsDenominator))
}

// SubBps v 扣除 bps 基点后的余量，bps 超过 10000 时归零
func SubBps(v *big.Int, bps uint64) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	rest := new(big.Int).Sub(v, ApplyBps(v, bps))
	if rest.Sign() < 0 {
		return new(big.Int)
	}
	return rest
}

// ExpectedOut 用历史成交的量价推导本次预期产出：amountIn * filledBase / filledQuote。
// 没有可用历史（filledQuote 为零）时返回 false。
func ExpectedOut(amountIn, filledQuote, filledBase *big.Int) (*big.Int, bool) {
	if amountIn == nil || filledQuote == nil || filledBase == nil {
		return nil, false
	}
	if amountIn.Sign() <= 0 || filledQuote.Sign() <= 0 || filledBase.Sign() < 0 {
		return nil, false
	}
	out := new(big.Int).Mul(amountIn, filledBase)
	return out.Div(out, filledQuote), true
}

// Price 成交均价（每单位目标代币花费的计价代币），用于展示。
// baseOut 为零时返回 false。
func Price(quoteIn, baseOut *big.Int, quoteDecimals, baseDecimals uint8) (decimal.Decimal, bool) {
	if quoteIn == nil || baseOut == nil || baseOut.Sign() == 0 {
		return decimal.Zero, false
	}
	quote := decimal.NewFromBigInt(quoteIn, -int32(quoteDecimals))
	base := decimal.NewFromBigInt(baseOut, -int32(baseDecimals))
	return quote.Div(base), true
}
