package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/dcabot/govault/internal/keeper"
	"github.com/dcabot/govault/pkg/config"
	"github.com/dcabot/govault/pkg/logger"
	"github.com/dcabot/govault/pkg/persistence"
	"github.com/dcabot/govault/pkg/sdk/api"
	"github.com/dcabot/govault/pkg/secretstore"
	"github.com/dcabot/govault/pkg/shutdown"
)

func main() {
	// Load .env (best-effort). If missing, fall back to real env vars.
	_ = godotenv.Load()

	getenv := func(key, def string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return def
	}

	var (
		configPath = flag.String("config", getenv("GOVAULT_CONFIG", ""), "配置文件路径（支持 .yaml, .yml, .json）")
		once       = flag.Bool("once", false, "巡检一轮后退出")
		dryRun     = flag.Bool("dry-run", false, "只读巡检，不触发真实执行（覆盖配置）")
	)
	flag.Parse()

	if err := logger.InitDefault(); err != nil {
		panic(fmt.Sprintf("初始化日志失败: %v", err))
	}

	if *configPath != "" {
		config.SetConfigPath(*configPath)
		logrus.Infof("使用配置文件: %s", *configPath)
	}
	cfg, err := config.Load()
	if err != nil {
		logrus.Errorf("加载配置失败: %v", err)
		os.Exit(1)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 10,
		MaxAge:     30,
		Compress:   true,
	}); err != nil {
		logrus.Errorf("重新初始化日志失败: %v", err)
		os.Exit(1)
	}

	identity := loadIdentity(cfg.Keeper.SecretPath)
	dry := cfg.DryRun || *dryRun
	if identity == (common.Address{}) && !dry {
		logrus.Warn("密钥库中没有 keeper 身份（先运行 wallet-init），强制 dry-run 模式")
		dry = true
	}

	kp := keeper.New(api.NewClient(cfg.Keeper.APIURL), keeper.Config{
		PollInterval: time.Duration(cfg.Keeper.PollSeconds) * time.Second,
		Vaults:       cfg.Keeper.Vaults,
		Identity:     identity,
		DryRun:       dry,
	}, persistence.NewJSONFileService(cfg.Keeper.StateDir))

	if *once {
		kp.RunOnce(context.Background())
		executed, failed := kp.Stats()
		logrus.Infof("单轮巡检完成 executed=%d failed=%d", executed, failed)
		return
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	if err := kp.Start(rootCtx); err != nil {
		logrus.Errorf("启动 keeper 失败: %v", err)
		os.Exit(1)
	}

	mgr := shutdown.NewManager()
	mgr.OnShutdown(kp.Stop)

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)

loop:
	for {
		select {
		case <-hupCh:
			logrus.Info("收到 SIGHUP，立即巡检一轮")
			kp.Kick()
		case <-stopCh:
			break loop
		}
	}

	logrus.Info("收到退出信号，开始优雅关停...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mgr.Shutdown(ctx)

	fmt.Println("keeper stopped")
}

// loadIdentity 从密钥库读取 keeper 身份地址：优先 keeper/address，
// 其次用 keeper/privkey 推导。密钥库不可用时返回零地址。
func loadIdentity(path string) common.Address {
	st, err := secretstore.Open(secretstore.OpenOptions{
		Path:          path,
		EncryptionKey: masterKey(),
		ReadOnly:      true,
	})
	if err != nil {
		logrus.Warnf("打开密钥库失败: %v", err)
		return common.Address{}
	}
	defer st.Close()

	if v, ok, err := st.GetString("keeper/address"); err == nil && ok && common.IsHexAddress(v) {
		return common.HexToAddress(v)
	}
	if v, ok, err := st.GetString("keeper/privkey"); err == nil && ok {
		raw, err := secretstore.ParseKey(v)
		if err != nil {
			logrus.Warnf("解析 keeper/privkey 失败: %v", err)
			return common.Address{}
		}
		pk, err := crypto.ToECDSA(raw)
		if err != nil {
			logrus.Warnf("keeper/privkey 不是合法私钥: %v", err)
			return common.Address{}
		}
		return crypto.PubkeyToAddress(pk.PublicKey)
	}
	return common.Address{}
}

// masterKey 从 GOVAULT_MASTER_KEY 解析 32 字节密钥（base64 或 hex），
// 未设置时返回 nil，密钥库按未加密方式打开
func masterKey() []byte {
	raw := strings.TrimSpace(os.Getenv("GOVAULT_MASTER_KEY"))
	if raw == "" {
		return nil
	}
	b, err := secretstore.ParseKey(raw)
	if err != nil || len(b) != 32 {
		logrus.Warn("GOVAULT_MASTER_KEY 无效（需要 32 字节的 base64 或 hex），按未加密方式打开密钥库")
		return nil
	}
	return b
}
