package amount

import (
	"math/big"
	"testing"
)

func wei(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad wei literal: " + s)
	}
	return v
}

func TestParse(t *testing.T) {
	// 1.5 * 10^18
	got, err := Parse("1.5", 18)
	if err != nil {
		t.Fatalf("Parse(1.5, 18) err=%v", err)
	}
	if want := wei("1500000000000000000"); got.Cmp(want) != 0 {
		t.Fatalf("Parse(1.5, 18) got=%s want=%s", got, want)
	}

	// 最小单位：0.000001 * 10^6 = 1
	got, err = Parse("0.000001", 6)
	if err != nil {
		t.Fatalf("Parse(0.000001, 6) err=%v", err)
	}
	if got.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("Parse(0.000001, 6) got=%s want=1", got)
	}

	// 整数无小数位
	got, err = Parse("250", 8)
	if err != nil {
		t.Fatalf("Parse(250, 8) err=%v", err)
	}
	if want := wei("25000000000"); got.Cmp(want) != 0 {
		t.Fatalf("Parse(250, 8) got=%s want=%s", got, want)
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	cases := []struct {
		name     string
		in       string
		decimals uint8
	}{
		{"小数位超过精度", "0.1234567", 6},
		{"负数", "-1", 18},
		{"非数字", "abc", 18},
		{"空串", "", 18},
	}
	for _, tc := range cases {
		if _, err := Parse(tc.in, tc.decimals); err == nil {
			t.Fatalf("%s: Parse(%q, %d) expected error", tc.name, tc.in, tc.decimals)
		}
	}
}

func TestFormat(t *testing.T) {
	if got := Format(wei("1500000000000000000"), 18); got != "1.5" {
		t.Fatalf("Format got=%s want=1.5", got)
	}
	if got := Format(big.NewInt(1), 6); got != "0.000001" {
		t.Fatalf("Format got=%s want=0.000001", got)
	}
	if got := Format(nil, 18); got != "0" {
		t.Fatalf("Format(nil) got=%s want=0", got)
	}
}

func TestApplyBps(t *testing.T) {
	// 50e18 的 10 bps = 50e18 * 10 / 10000 = 5e16
	v := wei("50000000000000000000")
	got := ApplyBps(v, 10)
	if want := wei("50000000000000000"); got.Cmp(want) != 0 {
		t.Fatalf("ApplyBps(50e18, 10) got=%s want=%s", got, want)
	}

	// 向下取整：1 wei 的 9999 bps = 0
	if got := ApplyBps(big.NewInt(1), 9999); got.Sign() != 0 {
		t.Fatalf("ApplyBps(1, 9999) got=%s want=0", got)
	}

	// 0 bps 与 nil 都得零
	if got := ApplyBps(v, 0); got.Sign() != 0 {
		t.Fatalf("ApplyBps(v, 0) got=%s want=0", got)
	}
	if got := ApplyBps(nil, 100); got.Sign() != 0 {
		t.Fatalf("ApplyBps(nil, 100) got=%s want=0", got)
	}
}

func TestSubBps(t *testing.T) {
	// 100e18 扣 25 bps = 100e18 - 25e16 = 99.75e18
	v := wei("100000000000000000000")
	got := SubBps(v, 25)
	if want := wei("99750000000000000000"); got.Cmp(want) != 0 {
		t.Fatalf("SubBps(100e18, 25) got=%s want=%s", got, want)
	}

	// 10000 bps 全扣
	if got := SubBps(v, BpsDenominator); got.Sign() != 0 {
		t.Fatalf("SubBps(v, 10000) got=%s want=0", got)
	}

	// 超过 10000 bps 钳位到零而不是负数
	if got := SubBps(v, 12000); got.Sign() != 0 {
		t.Fatalf("SubBps(v, 12000) got=%s want=0", got)
	}
}

func TestExpectedOut(t *testing.T) {
	// 历史：100 quote 换 99.9 base；本次投 30 quote
	// expected = 30e18 * 99.9e18 / 100e18 = 29.97e18
	filledQuote := wei("100000000000000000000")
	filledBase := wei("99900000000000000000")
	in := wei("30000000000000000000")

	got, ok := ExpectedOut(in, filledQuote, filledBase)
	if !ok {
		t.Fatalf("ExpectedOut ok=false want=true")
	}
	if want := wei("29970000000000000000"); got.Cmp(want) != 0 {
		t.Fatalf("ExpectedOut got=%s want=%s", got, want)
	}

	// 无历史成交时不给估计
	if _, ok := ExpectedOut(in, new(big.Int), filledBase); ok {
		t.Fatalf("ExpectedOut with zero filledQuote should not estimate")
	}
	if _, ok := ExpectedOut(nil, filledQuote, filledBase); ok {
		t.Fatalf("ExpectedOut with nil input should not estimate")
	}
}

func TestPrice(t *testing.T) {
	// 1600 USDC 换 1 WETH，均价 1600
	price, ok := Price(wei("1600000000000000000000"), wei("1000000000000000000"), 18, 18)
	if !ok {
		t.Fatalf("Price ok=false want=true")
	}
	if price.String() != "1600" {
		t.Fatalf("Price got=%s want=1600", price)
	}

	// 不同精度：160 USDC(6位) 换 0.1 WETH(18位)，均价 1600
	price, ok = Price(wei("160000000"), wei("100000000000000000"), 6, 18)
	if !ok {
		t.Fatalf("Price ok=false want=true")
	}
	if price.String() != "1600" {
		t.Fatalf("Price got=%s want=1600", price)
	}

	// baseOut 为零无均价
	if _, ok := Price(wei("100"), new(big.Int), 18, 18); ok {
		t.Fatalf("Price with zero baseOut should fail")
	}
}
