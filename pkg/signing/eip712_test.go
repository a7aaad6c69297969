package signing

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var testChainID = big.NewInt(31337)

func testIntent() CycleIntent {
	return CycleIntent{
		Vault:       common.HexToAddress("0x1111111111111111111111111111111111111111"),
		QuoteAmount: big.NewInt(50_000),
		MinOut:      big.NewInt(49_000),
		Beneficiary: common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Deadline:    1_800_000_000,
		Nonce:       0,
	}
}

func TestHashIntentDeterministic(t *testing.T) {
	verifier := common.HexToAddress("0x3333333333333333333333333333333333333333")
	h1, err := HashIntent(testChainID, verifier, testIntent())
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := HashIntent(testChainID, verifier, testIntent())
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %s vs %s", h1, h2)
	}

	// 任一字段变化都必须改变摘要
	mutated := testIntent()
	mutated.Nonce = 1
	h3, err := HashIntent(testChainID, verifier, mutated)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h3 == h1 {
		t.Fatalf("nonce change did not change digest")
	}

	// 不同验证合约地址产生不同域
	h4, err := HashIntent(testChainID, common.HexToAddress("0x4444444444444444444444444444444444444444"), testIntent())
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h4 == h1 {
		t.Fatalf("verifying contract change did not change digest")
	}
}

func TestSignRecoverRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	verifier := common.HexToAddress("0x3333333333333333333333333333333333333333")
	intent := testIntent()

	sig, err := SignIntent(key, testChainID, verifier, intent)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d", len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Fatalf("v = %d, want 27/28", sig[64])
	}

	signer, err := RecoverIntent(testChainID, verifier, intent, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if signer != AddressOf(key) {
		t.Fatalf("recovered %s, want %s", signer, AddressOf(key))
	}

	// v 为 {0,1} 的原始格式同样可恢复
	raw := make([]byte, 65)
	copy(raw, sig)
	raw[64] -= 27
	signer2, err := RecoverIntent(testChainID, verifier, intent, raw)
	if err != nil {
		t.Fatalf("recover raw v: %v", err)
	}
	if signer2 != signer {
		t.Fatalf("raw-v recovery mismatch: %s vs %s", signer2, signer)
	}

	// 签名内容被篡改后恢复出的地址必然不同
	tampered := testIntent()
	tampered.QuoteAmount = big.NewInt(999_999)
	wrong, err := RecoverIntent(testChainID, verifier, tampered, sig)
	if err == nil && wrong == signer {
		t.Fatalf("tampered intent recovered the original signer")
	}
}

func TestRecoverRejectsMalformedSignature(t *testing.T) {
	verifier := common.HexToAddress("0x3333333333333333333333333333333333333333")
	if _, err := RecoverIntent(testChainID, verifier, testIntent(), bytes.Repeat([]byte{1}, 64)); err == nil {
		t.Fatalf("64-byte signature accepted")
	}
	bad := bytes.Repeat([]byte{1}, 65)
	bad[64] = 5 // 非法恢复位
	if _, err := RecoverIntent(testChainID, verifier, testIntent(), bad); err == nil {
		t.Fatalf("invalid recovery id accepted")
	}
}

func TestDomainSeparatorDependsOnChain(t *testing.T) {
	verifier := common.HexToAddress("0x3333333333333333333333333333333333333333")
	s1, err := DomainSeparator(testChainID, verifier)
	if err != nil {
		t.Fatalf("separator: %v", err)
	}
	s2, err := DomainSeparator(big.NewInt(1), verifier)
	if err != nil {
		t.Fatalf("separator: %v", err)
	}
	if s1 == s2 {
		t.Fatalf("chain id not bound into domain separator")
	}
}
