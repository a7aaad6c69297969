package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/joho/godotenv"

	"github.com/dcabot/govault/pkg/sdk/api"
	"github.com/dcabot/govault/pkg/secretstore"
	"github.com/dcabot/govault/pkg/signing"
)

// relay-sign 构造并签名一条周期执行意图（EIP-712），输出意图和签名的 JSON；
// 加 -submit 直接提交给中继代执行。私钥取自 wallet-init 写入的密钥库。
func main() {
	_ = godotenv.Load()

	var (
		apiURL      = flag.String("api", getenv("GOVAULT_API_URL", "http://127.0.0.1:8080"), "守护进程 HTTP 地址")
		secretPath  = flag.String("path", getenv("GOVAULT_SECRET_PATH", "data/secrets"), "密钥库目录")
		fromAddr    = flag.String("from", "", "签名账户地址（默认用 keeper 身份）")
		vaultAddr   = flag.String("vault", "", "目标金库地址（必填）")
		amountWei   = flag.String("amount", "", "投入的计价代币数量（wei 十进制，必填）")
		minOutWei   = flag.String("min-out", "0", "可接受的最小产出（wei 十进制）")
		beneficiary = flag.String("beneficiary", "", "受益人地址（默认签名者）")
		ttl         = flag.Int64("ttl", 600, "意图有效期（秒）")
		submit      = flag.Bool("submit", false, "签名后直接提交中继执行")
		caller      = flag.String("caller", "", "提交人地址（默认签名者，仅 -submit 时生效）")
	)
	flag.Parse()

	if !common.IsHexAddress(*vaultAddr) {
		fatal(errors.New("-vault is required (hex address)"))
	}
	quote, ok := new(big.Int).SetString(*amountWei, 10)
	if !ok || quote.Sign() <= 0 {
		fatal(errors.New("-amount must be a positive decimal wei string"))
	}
	minOut, ok := new(big.Int).SetString(*minOutWei, 10)
	if !ok || minOut.Sign() < 0 {
		fatal(errors.New("-min-out must be a decimal wei string"))
	}

	pk, err := loadKey(*secretPath, *fromAddr)
	if err != nil {
		fatal(err)
	}
	signer := signing.AddressOf(pk)

	ctx := context.Background()
	client := api.NewClient(*apiURL)

	info, err := client.RelayerInfo(ctx)
	if err != nil {
		fatal(fmt.Errorf("查询中继信息失败: %w", err))
	}
	chainID, ok := new(big.Int).SetString(info.ChainID, 10)
	if !ok {
		fatal(fmt.Errorf("中继返回的 chain_id 非法: %s", info.ChainID))
	}
	nonce, err := client.RelayerNonce(ctx, signer.Hex())
	if err != nil {
		fatal(fmt.Errorf("查询 nonce 失败: %w", err))
	}

	bene := signer
	if *beneficiary != "" {
		if !common.IsHexAddress(*beneficiary) {
			fatal(errors.New("-beneficiary must be a hex address"))
		}
		bene = common.HexToAddress(*beneficiary)
	}
	deadline := time.Now().Unix() + *ttl

	intent := signing.CycleIntent{
		Vault:       common.HexToAddress(*vaultAddr),
		QuoteAmount: quote,
		MinOut:      minOut,
		Beneficiary: bene,
		Deadline:    deadline,
		Nonce:       nonce,
	}
	sig, err := signing.SignIntent(pk, chainID, common.HexToAddress(info.Address), intent)
	if err != nil {
		fatal(fmt.Errorf("签名失败: %w", err))
	}

	out := struct {
		Signer    string     `json:"signer"`
		Intent    api.Intent `json:"intent"`
		Signature string     `json:"signature"`
	}{
		Signer: signer.Hex(),
		Intent: api.Intent{
			Vault:       intent.Vault.Hex(),
			QuoteAmount: quote.String(),
			MinOut:      minOut.String(),
			Beneficiary: bene.Hex(),
			Deadline:    deadline,
			Nonce:       nonce,
		},
		Signature: hexutil.Encode(sig),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fatal(err)
	}

	if *submit {
		sub := signer.Hex()
		if *caller != "" {
			if !common.IsHexAddress(*caller) {
				fatal(errors.New("-caller must be a hex address"))
			}
			sub = common.HexToAddress(*caller).Hex()
		}
		baseOut, err := client.RelayerExecute(ctx, sub, out.Intent, out.Signature)
		if err != nil {
			fatal(fmt.Errorf("中继执行失败: %w", err))
		}
		fmt.Fprintf(os.Stderr, "中继执行成功 base_out=%s\n", baseOut)
	}
}

// loadKey 从密钥库取签名私钥：-from 指定账户时读 wallet/key/<地址>，否则读 keeper 身份
func loadKey(path, from string) (*ecdsa.PrivateKey, error) {
	st, err := secretstore.Open(secretstore.OpenOptions{
		Path:          path,
		EncryptionKey: masterKey(),
		ReadOnly:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("open secret store: %w", err)
	}
	defer st.Close()

	key := "keeper/privkey"
	if from != "" {
		if !common.IsHexAddress(from) {
			return nil, errors.New("-from must be a hex address")
		}
		key = "wallet/key/" + strings.ToLower(common.HexToAddress(from).Hex())
	}
	v, ok, err := st.GetString(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("key %s not found in secret store (run wallet-init first)", key)
	}
	return signing.PrivateKeyFromHex(strings.TrimPrefix(strings.TrimSpace(v), "0x"))
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}

// masterKey 从 GOVAULT_MASTER_KEY 解析 32 字节密钥，未设置时按未加密方式打开
func masterKey() []byte {
	raw := strings.TrimSpace(os.Getenv("GOVAULT_MASTER_KEY"))
	if raw == "" {
		return nil
	}
	b, err := secretstore.ParseKey(raw)
	if err != nil || len(b) != 32 {
		fmt.Fprintln(os.Stderr, "warn: GOVAULT_MASTER_KEY 无效（需要 32 字节的 base64 或 hex），按未加密方式打开密钥库")
		return nil
	}
	return b
}
