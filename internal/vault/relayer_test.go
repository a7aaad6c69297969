package vault

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/dcabot/govault/internal/events"
	"github.com/dcabot/govault/pkg/signing"
)

// 测试环境的固定签名私钥
const testSignerKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var testChainID = big.NewInt(31337)

type relayHarness struct {
	*harness
	relayer *Relayer
	key     *ecdsa.PrivateKey
	signer  common.Address
}

// newRelayHarness 在基础环境上加一个 1% 费率的中继执行器和固定签名者
func newRelayHarness(t *testing.T) *relayHarness {
	t.Helper()
	h := newHarness(t)
	r, err := NewRelayer(h.env, ownerAddr, testChainID, 100, h.factory)
	if err != nil {
		t.Fatalf("new relayer: %v", err)
	}
	key, err := signing.PrivateKeyFromHex(testSignerKey)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	return &relayHarness{harness: h, relayer: r, key: key, signer: signing.AddressOf(key)}
}

// intent 构造一小时内有效、受益人为签名者的意图
func (h *relayHarness) intent(amount, minOut *big.Int, nonce uint64) signing.CycleIntent {
	return signing.CycleIntent{
		Vault:       h.vault.Address(),
		QuoteAmount: amount,
		MinOut:      minOut,
		Beneficiary: h.signer,
		Deadline:    h.env.Now() + 3600,
		Nonce:       nonce,
	}
}

func (h *relayHarness) sign(intent signing.CycleIntent) []byte {
	h.t.Helper()
	sig, err := signing.SignIntent(h.key, testChainID, h.relayer.Address(), intent)
	if err != nil {
		h.t.Fatalf("sign intent: %v", err)
	}
	return sig
}

func (h *relayHarness) signWith(key *ecdsa.PrivateKey, intent signing.CycleIntent) []byte {
	h.t.Helper()
	sig, err := signing.SignIntent(key, testChainID, h.relayer.Address(), intent)
	if err != nil {
		h.t.Fatalf("sign intent: %v", err)
	}
	return sig
}

func TestExecuteMetaCycleHappyPath(t *testing.T) {
	h := newRelayHarness(t)
	h.deposit(alice, e18(1000))

	intent := h.intent(e18(50), e18(49), 0)
	sig := h.sign(intent)

	net, err := h.relayer.ExecuteMetaCycle(bob, intent, sig)
	if err != nil {
		t.Fatalf("meta cycle: %v", err)
	}

	vaultNet := milli18(49_950)                               // 50e18 - 10bps 协议费
	relayerFee := new(big.Int).Div(vaultNet, big.NewInt(100)) // 1% 中继费
	wantNet := new(big.Int).Sub(vaultNet, relayerFee)

	if net.Cmp(wantNet) != 0 {
		t.Fatalf("net = %v, want %v", net, wantNet)
	}
	if got := h.baseBal(bob); got.Cmp(relayerFee) != 0 {
		t.Fatalf("relayer fee to caller = %v, want %v", got, relayerFee)
	}
	if got := h.baseBal(h.vault.Address()); got.Cmp(wantNet) != 0 {
		t.Fatalf("vault base = %v, want %v", got, wantNet)
	}
	if got := h.baseBal(ownerAddr); got.Cmp(milli18(50)) != 0 {
		t.Fatalf("protocol fee = %v, want 0.05e18", got)
	}
	// 三方合计等于路由产出
	sum := new(big.Int).Add(h.baseBal(bob), h.baseBal(h.vault.Address()))
	sum.Add(sum, h.baseBal(ownerAddr))
	if sum.Cmp(e18(50)) != 0 {
		t.Fatalf("conservation broken: %v", sum)
	}
	if got := h.relayer.GetNonce(h.signer); got != 1 {
		t.Fatalf("nonce = %d, want 1", got)
	}

	var meta *events.MetaTxExecutedEvent
	for _, evt := range h.events {
		if e, ok := evt.(events.MetaTxExecutedEvent); ok {
			meta = &e
		}
	}
	if meta == nil {
		t.Fatalf("no meta event")
	}
	if meta.Signer != h.signer || meta.Vault != h.vault.Address() ||
		meta.QuoteAmount.Cmp(e18(50)) != 0 || meta.BaseOut.Cmp(wantNet) != 0 ||
		meta.RelayerFee.Cmp(relayerFee) != 0 {
		t.Fatalf("meta event = %+v", meta)
	}
}

func TestExecuteMetaCycleReplayRejected(t *testing.T) {
	h := newRelayHarness(t)
	h.deposit(alice, e18(1000))

	intent := h.intent(e18(10), new(big.Int), 0)
	sig := h.sign(intent)
	if _, err := h.relayer.ExecuteMetaCycle(bob, intent, sig); err != nil {
		t.Fatalf("first: %v", err)
	}

	h.clk.Advance(61 * time.Second)
	filled := h.vault.TotalFilledQuote()
	if _, err := h.relayer.ExecuteMetaCycle(bob, intent, sig); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("replay: %v", err)
	}
	if got := h.relayer.GetNonce(h.signer); got != 1 {
		t.Fatalf("nonce after replay = %d", got)
	}
	if got := h.vault.TotalFilledQuote(); got.Cmp(filled) != 0 {
		t.Fatalf("replay moved funds: %v -> %v", filled, got)
	}
}

func TestExecuteMetaCycleDeadline(t *testing.T) {
	h := newRelayHarness(t)
	h.deposit(alice, e18(1000))

	expired := h.intent(e18(10), new(big.Int), 0)
	expired.Deadline = h.env.Now() - 1
	if _, err := h.relayer.ExecuteMetaCycle(bob, expired, h.sign(expired)); !errors.Is(err, ErrMetaTxExpired) {
		t.Fatalf("expired: %v", err)
	}
	if got := h.relayer.GetNonce(h.signer); got != 0 {
		t.Fatalf("nonce advanced on expired intent: %d", got)
	}

	// deadline == now 恰好仍然有效
	exact := h.intent(e18(10), new(big.Int), 0)
	exact.Deadline = h.env.Now()
	if _, err := h.relayer.ExecuteMetaCycle(bob, exact, h.sign(exact)); err != nil {
		t.Fatalf("deadline boundary: %v", err)
	}
}

func TestExecuteMetaCycleWrongNonce(t *testing.T) {
	h := newRelayHarness(t)
	h.deposit(alice, e18(1000))

	ahead := h.intent(e18(10), new(big.Int), 5)
	if _, err := h.relayer.ExecuteMetaCycle(bob, ahead, h.sign(ahead)); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("nonce ahead: %v", err)
	}
	if got := h.relayer.GetNonce(h.signer); got != 0 {
		t.Fatalf("nonce = %d", got)
	}
}

func TestExecuteMetaCycleBadSignature(t *testing.T) {
	h := newRelayHarness(t)
	h.deposit(alice, e18(1000))
	intent := h.intent(e18(10), new(big.Int), 0)

	if _, err := h.relayer.ExecuteMetaCycle(bob, intent, make([]byte, 64)); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("short sig: %v", err)
	}
	bad := h.sign(intent)
	bad[64] = 5 // 非法恢复参数
	if _, err := h.relayer.ExecuteMetaCycle(bob, intent, bad); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("bad v: %v", err)
	}
	if got := h.relayer.GetNonce(h.signer); got != 0 {
		t.Fatalf("nonce advanced on bad signature: %d", got)
	}
}

func TestExecuteMetaCycleVaultFailureRollsBackNonce(t *testing.T) {
	h := newRelayHarness(t)
	h.deposit(alice, e18(1000))

	cfg := h.vault.GetConfig()
	cfg.Paused = true
	if err := h.vault.SetConfig(ownerAddr, cfg); err != nil {
		t.Fatalf("pause: %v", err)
	}

	intent := h.intent(e18(10), new(big.Int), 0)
	sig := h.sign(intent)
	// 金库错误原样上抛，nonce 回滚
	if _, err := h.relayer.ExecuteMetaCycle(bob, intent, sig); !errors.Is(err, ErrPaused) {
		t.Fatalf("paused vault: %v", err)
	}
	if got := h.relayer.GetNonce(h.signer); got != 0 {
		t.Fatalf("nonce not rolled back: %d", got)
	}

	// 解除暂停后同一份签名可以直接重提
	cfg.Paused = false
	if err := h.vault.SetConfig(ownerAddr, cfg); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if _, err := h.relayer.ExecuteMetaCycle(bob, intent, sig); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if got := h.relayer.GetNonce(h.signer); got != 1 {
		t.Fatalf("nonce = %d", got)
	}
}

func TestExecuteMetaCycleKeeperVault(t *testing.T) {
	h := newRelayHarness(t)
	h.deposit(alice, e18(1000))

	cfg := h.vault.GetConfig()
	cfg.Keeper = carol
	if err := h.vault.SetConfig(ownerAddr, cfg); err != nil {
		t.Fatalf("set keeper: %v", err)
	}

	// 金库眼中的调用者是中继执行器
	intent := h.intent(e18(10), new(big.Int), 0)
	if _, err := h.relayer.ExecuteMetaCycle(bob, intent, h.sign(intent)); !errors.Is(err, ErrNotKeeper) {
		t.Fatalf("keeper mismatch: %v", err)
	}

	cfg.Keeper = h.relayer.Address()
	if err := h.vault.SetConfig(ownerAddr, cfg); err != nil {
		t.Fatalf("set keeper to relayer: %v", err)
	}
	if _, err := h.relayer.ExecuteMetaCycle(bob, intent, h.sign(intent)); err != nil {
		t.Fatalf("relayer as keeper: %v", err)
	}
}

func TestNoncesIndependentPerSigner(t *testing.T) {
	h := newRelayHarness(t)
	h.deposit(alice, e18(1000))

	otherKey, err := signing.PrivateKeyFromHex("59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d")
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	other := signing.AddressOf(otherKey)

	i0 := h.intent(e18(5), new(big.Int), 0)
	if _, err := h.relayer.ExecuteMetaCycle(bob, i0, h.sign(i0)); err != nil {
		t.Fatalf("signer A nonce 0: %v", err)
	}

	h.clk.Advance(61 * time.Second)
	o0 := h.intent(e18(5), new(big.Int), 0)
	o0.Beneficiary = other
	if _, err := h.relayer.ExecuteMetaCycle(bob, o0, h.signWith(otherKey, o0)); err != nil {
		t.Fatalf("signer B nonce 0: %v", err)
	}

	h.clk.Advance(61 * time.Second)
	i1 := h.intent(e18(5), new(big.Int), 1)
	if _, err := h.relayer.ExecuteMetaCycle(bob, i1, h.sign(i1)); err != nil {
		t.Fatalf("signer A nonce 1: %v", err)
	}

	if a, b := h.relayer.GetNonce(h.signer), h.relayer.GetNonce(other); a != 2 || b != 1 {
		t.Fatalf("nonces = %d, %d", a, b)
	}
}

func TestVerifySignature(t *testing.T) {
	h := newRelayHarness(t)

	intent := h.intent(e18(10), new(big.Int), 0)
	sig := h.sign(intent)

	signer, ok := h.relayer.VerifySignature(intent, sig)
	if !ok || signer != h.signer {
		t.Fatalf("valid sig: signer=%s ok=%v", signer, ok)
	}
	// 只读校验不消耗 nonce
	if got := h.relayer.GetNonce(h.signer); got != 0 {
		t.Fatalf("verify consumed nonce: %d", got)
	}

	expired := intent
	expired.Deadline = h.env.Now() - 1
	if _, ok := h.relayer.VerifySignature(expired, h.sign(expired)); ok {
		t.Fatalf("expired intent verified")
	}

	ahead := intent
	ahead.Nonce = 3
	if _, ok := h.relayer.VerifySignature(ahead, h.sign(ahead)); ok {
		t.Fatalf("wrong nonce verified")
	}

	if _, ok := h.relayer.VerifySignature(intent, nil); ok {
		t.Fatalf("nil sig verified")
	}

	// 篡改后恢复出的是别的地址
	tampered := intent
	tampered.QuoteAmount = e18(999)
	recovered, _ := h.relayer.VerifySignature(tampered, sig)
	if recovered == h.signer {
		t.Fatalf("tampered intent recovered original signer")
	}
}

func TestSetRelayerFee(t *testing.T) {
	h := newRelayHarness(t)

	if err := h.relayer.SetRelayerFee(alice, 50); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("non-owner: %v", err)
	}
	if err := h.relayer.SetRelayerFee(ownerAddr, 1001); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("over cap: %v", err)
	}
	if err := h.relayer.SetRelayerFee(ownerAddr, 1000); err != nil {
		t.Fatalf("at cap: %v", err)
	}
	if got := h.relayer.RelayerFeeBps(); got != 1000 {
		t.Fatalf("fee = %d", got)
	}

	var updated *events.RelayerFeeUpdatedEvent
	for _, evt := range h.events {
		if e, ok := evt.(events.RelayerFeeUpdatedEvent); ok {
			updated = &e
		}
	}
	if updated == nil || updated.OldBps != 100 || updated.NewBps != 1000 {
		t.Fatalf("fee event = %+v", updated)
	}
}

func TestZeroRelayerFeeLeavesOutputIntact(t *testing.T) {
	h := newRelayHarness(t)
	h.deposit(alice, e18(1000))
	if err := h.relayer.SetRelayerFee(ownerAddr, 0); err != nil {
		t.Fatalf("set fee: %v", err)
	}

	intent := h.intent(e18(10), new(big.Int), 0)
	net, err := h.relayer.ExecuteMetaCycle(bob, intent, h.sign(intent))
	if err != nil {
		t.Fatalf("meta cycle: %v", err)
	}
	if net.Cmp(milli18(9_990)) != 0 { // 10e18 - 10bps 协议费
		t.Fatalf("net = %v", net)
	}
	if got := h.baseBal(bob); got.Sign() != 0 {
		t.Fatalf("caller received fee at 0 bps: %v", got)
	}
}

func TestExecuteMetaCycleEntryValidation(t *testing.T) {
	h := newRelayHarness(t)
	intent := h.intent(e18(1), new(big.Int), 0)

	if _, err := h.relayer.ExecuteMetaCycle(common.Address{}, intent, h.sign(intent)); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("zero caller: %v", err)
	}
	unknown := intent
	unknown.Vault = carol
	if _, err := h.relayer.ExecuteMetaCycle(bob, unknown, h.sign(unknown)); !errors.Is(err, ErrUnknownVault) {
		t.Fatalf("unknown vault: %v", err)
	}
}

func TestNewRelayerValidation(t *testing.T) {
	h := newHarness(t)

	if _, err := NewRelayer(h.env, common.Address{}, testChainID, 0, h.factory); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("zero owner: %v", err)
	}
	if _, err := NewRelayer(h.env, ownerAddr, nil, 0, h.factory); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("nil chain id: %v", err)
	}
	if _, err := NewRelayer(h.env, ownerAddr, testChainID, 1001, h.factory); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("fee over cap: %v", err)
	}
	if _, err := NewRelayer(h.env, ownerAddr, testChainID, 1000, nil); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("nil lookup: %v", err)
	}
	r, err := NewRelayer(h.env, ownerAddr, testChainID, 1000, h.factory)
	if err != nil {
		t.Fatalf("valid: %v", err)
	}
	if r.ChainID().Cmp(testChainID) != 0 || r.Owner() != ownerAddr {
		t.Fatalf("relayer fields wrong")
	}

	sep, err := r.DomainSeparator()
	if err != nil || sep == (common.Hash{}) {
		t.Fatalf("domain separator: %v", err)
	}
}
