package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"

	"github.com/dcabot/govault/pkg/secretstore"
)

// wallet-init 把助记词和派生私钥写入加密密钥库（Badger）。
// 约定键名：
//
//	wallet/mnemonic           助记词
//	wallet/key/<地址小写>      各派生账户的私钥 hex
//	keeper/address            keeper 身份地址（0 号账户）
//	keeper/privkey            keeper 身份私钥 hex
func main() {
	var (
		path  = flag.String("path", getenv("GOVAULT_SECRET_PATH", "data/secrets"), "密钥库目录")
		count = flag.Int("count", 3, "派生账户数量（m/44'/60'/0'/0/i）")
		force = flag.Bool("force", false, "已有助记词时覆盖")
	)
	flag.Parse()

	if *count <= 0 || *count > 100 {
		fatal(errors.New("count must be in 1..100"))
	}

	masterKey, err := loadMasterKey()
	if err != nil {
		fatal(err)
	}

	st, err := secretstore.Open(secretstore.OpenOptions{Path: *path, EncryptionKey: masterKey})
	if err != nil {
		fatal(fmt.Errorf("open secret store: %w", err))
	}
	defer st.Close()

	if _, exists, err := st.GetString("wallet/mnemonic"); err != nil {
		fatal(err)
	} else if exists && !*force {
		fatal(errors.New("mnemonic already stored (use -force to overwrite)"))
	}

	fmt.Fprintln(os.Stderr, "请输入助记词（12/15/18/21/24 个单词），输入完成后回车：")
	mnemonic := strings.TrimSpace(readLine())
	if mnemonic == "" {
		fatal(errors.New("mnemonic is empty"))
	}

	w, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		fatal(fmt.Errorf("invalid mnemonic: %w", err))
	}

	if err := st.SetString("wallet/mnemonic", mnemonic); err != nil {
		fatal(err)
	}

	for i := 0; i < *count; i++ {
		dp := fmt.Sprintf("m/44'/60'/0'/0/%d", i)
		dpath, err := hdwallet.ParseDerivationPath(dp)
		if err != nil {
			fatal(fmt.Errorf("invalid derivation_path: %w", err))
		}
		acct, err := w.Derive(dpath, false)
		if err != nil {
			fatal(fmt.Errorf("derive failed: %w", err))
		}
		pk, err := w.PrivateKeyHex(acct)
		if err != nil {
			fatal(fmt.Errorf("private key failed: %w", err))
		}
		addr := strings.ToLower(acct.Address.Hex())

		if err := st.SetString("wallet/key/"+addr, pk); err != nil {
			fatal(err)
		}
		if i == 0 {
			if err := st.SetString("keeper/address", addr); err != nil {
				fatal(err)
			}
			if err := st.SetString("keeper/privkey", pk); err != nil {
				fatal(err)
			}
		}
		fmt.Fprintf(os.Stderr, "账户 %d: %s (%s)\n", i, addr, dp)
	}

	fmt.Fprintf(os.Stderr, "已写入密钥库：%s（%d 个账户，0 号账户作为 keeper 身份）\n", *path, *count)
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func readLine() string {
	br := bufio.NewReader(os.Stdin)
	s, _ := br.ReadString('\n')
	return strings.TrimSpace(s)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}

func loadMasterKey() ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv("GOVAULT_MASTER_KEY"))
	if raw == "" {
		return nil, errors.New("GOVAULT_MASTER_KEY is required (32 bytes, base64 or hex)")
	}
	b, err := secretstore.ParseKey(raw)
	if err != nil {
		return nil, fmt.Errorf("GOVAULT_MASTER_KEY must be base64(32 bytes) or hex(32 bytes): %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("GOVAULT_MASTER_KEY decoded length must be 32, got %d", len(b))
	}
	return b, nil
}
