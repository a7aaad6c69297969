package signing

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	// DomainName EIP712 域名称
	DomainName = "GovaultRelayer"
	// DomainVersion EIP712 域版本
	DomainVersion = "1"
	// PrimaryType 签名主类型
	PrimaryType = "CycleIntent"
)

// CycleIntent 周期执行意图：签名者授权第三方代为触发指定金库的一次周期执行
type CycleIntent struct {
	Vault       common.Address // 目标金库地址
	QuoteAmount *big.Int       // 本次投入的计价代币数量
	MinOut      *big.Int       // 可接受的最小产出
	Beneficiary common.Address // 受益人（当前设计中仅透传）
	Deadline    int64          // 过期时间（unix 秒）
	Nonce       uint64         // 签名者的顺序 nonce
}

// Domain 构建 EIP712 域
func Domain(chainID *big.Int, verifyingContract common.Address) apitypes.TypedDataDomain {
	if chainID == nil {
		chainID = big.NewInt(0)
	}
	return apitypes.TypedDataDomain{
		Name:              DomainName,
		Version:           DomainVersion,
		ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(chainID)),
		VerifyingContract: verifyingContract.Hex(),
	}
}

// TypedData 构建完整的 EIP712 TypedData
func TypedData(chainID *big.Int, verifyingContract common.Address, intent CycleIntent) apitypes.TypedData {
	quote := intent.QuoteAmount
	if quote == nil {
		quote = new(big.Int)
	}
	minOut := intent.MinOut
	if minOut == nil {
		minOut = new(big.Int)
	}

	types := apitypes.Types{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		PrimaryType: {
			{Name: "vault", Type: "address"},
			{Name: "quoteAmount", Type: "uint256"},
			{Name: "minOut", Type: "uint256"},
			{Name: "beneficiary", Type: "address"},
			{Name: "deadline", Type: "uint256"},
			{Name: "nonce", Type: "uint256"},
		},
	}

	message := map[string]interface{}{
		"vault":       intent.Vault.Hex(),
		"quoteAmount": new(big.Int).Set(quote),
		"minOut":      new(big.Int).Set(minOut),
		"beneficiary": intent.Beneficiary.Hex(),
		"deadline":    big.NewInt(intent.Deadline),
		"nonce":       new(big.Int).SetUint64(intent.Nonce),
	}

	return apitypes.TypedData{
		Types:       types,
		PrimaryType: PrimaryType,
		Domain:      Domain(chainID, verifyingContract),
		Message:     message,
	}
}

// DomainSeparator 计算域分隔符哈希
func DomainSeparator(chainID *big.Int, verifyingContract common.Address) (common.Hash, error) {
	typedData := TypedData(chainID, verifyingContract, CycleIntent{})
	sep, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("计算域分隔符失败: %w", err)
	}
	return common.BytesToHash(sep), nil
}

// HashIntent 计算意图的最终签名摘要：keccak256(\x19\x01 + domainSeparator + structHash)
func HashIntent(chainID *big.Int, verifyingContract common.Address, intent CycleIntent) (common.Hash, error) {
	typedData := TypedData(chainID, verifyingContract, intent)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("计算域分隔符失败: %w", err)
	}
	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("计算消息哈希失败: %w", err)
	}

	rawData := []byte("\x19\x01")
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, structHash...)
	return crypto.Keccak256Hash(rawData), nil
}

// SignIntent 用私钥对意图签名，返回 65 字节 r||s||v，v 调整为 {27,28}
func SignIntent(privateKey *ecdsa.PrivateKey, chainID *big.Int, verifyingContract common.Address, intent CycleIntent) ([]byte, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("私钥未配置")
	}
	digest, err := HashIntent(chainID, verifyingContract, intent)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest.Bytes(), privateKey)
	if err != nil {
		return nil, fmt.Errorf("签名失败: %w", err)
	}
	if len(sig) == 65 && sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// RecoverIntent 从签名恢复签名者地址，接受 v 为 {0,1,27,28}
func RecoverIntent(chainID *big.Int, verifyingContract common.Address, intent CycleIntent, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("签名长度非法: %d", len(signature))
	}
	digest, err := HashIntent(chainID, verifyingContract, intent)
	if err != nil {
		return common.Address{}, err
	}

	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return common.Address{}, fmt.Errorf("签名恢复位非法: %d", signature[64])
	}

	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("恢复公钥失败: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// AddressOf 私钥对应的地址
func AddressOf(privateKey *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(privateKey.PublicKey)
}

// PrivateKeyFromHex 从十六进制字符串解析私钥
func PrivateKeyFromHex(hexKey string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(hexKey)
}
