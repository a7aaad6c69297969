package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/dcabot/govault/internal/chain"
	"github.com/dcabot/govault/internal/events"
	"github.com/dcabot/govault/internal/metrics"
	"github.com/dcabot/govault/internal/router"
	"github.com/dcabot/govault/internal/server"
	"github.com/dcabot/govault/internal/store"
	"github.com/dcabot/govault/internal/vault"
	"github.com/dcabot/govault/pkg/config"
	"github.com/dcabot/govault/pkg/logger"
	"github.com/dcabot/govault/pkg/syncgroup"
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
		listenAddr = flag.String("listen", "", "监听地址（覆盖配置文件）")
	)
	flag.Parse()

	if err := logger.InitDefault(); err != nil {
		panic(fmt.Sprintf("初始化日志失败: %v", err))
	}

	if *configPath != "" {
		config.SetConfigPath(*configPath)
		logrus.Infof("使用配置文件: %s", *configPath)
	} else {
		logrus.Warnf("未指定配置文件，将使用环境变量和默认值")
	}
	cfg, err := config.Load()
	if err != nil {
		logrus.Errorf("加载配置失败: %v", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.Server.Listen = *listenAddr
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
		logrus.Warnf("无效的日志级别 %s，使用默认级别: info", cfg.LogLevel)
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

	logrus.Infof("🚀 启动 govault 守护进程 chain_id=%d listen=%s", cfg.Chain.ChainID, cfg.Server.Listen)

	// 链环境与创世状态
	env := chain.NewEnv()
	rtr, err := applyGenesis(env, cfg.Chain)
	if err != nil {
		logrus.Errorf("创世配置失败: %v", err)
		os.Exit(1)
	}

	factory := vault.NewFactory(env, rtr)
	logrus.Infof("工厂已部署: %s 路由: %s (%s)", factory.Address().Hex(), rtr.Address().Hex(), cfg.Chain.Router)

	relayerOwner := common.HexToAddress(cfg.Relayer.Owner)
	if cfg.Relayer.Owner == "" {
		relayerOwner = env.NextAddress(common.Address{})
		logrus.Warnf("relayer.owner 未配置，派生本地管理地址: %s", relayerOwner.Hex())
	}
	relayer, err := vault.NewRelayer(env, relayerOwner, big.NewInt(cfg.Chain.ChainID), cfg.Relayer.FeeBps, factory)
	if err != nil {
		logrus.Errorf("初始化中继失败: %v", err)
		os.Exit(1)
	}
	logrus.Infof("中继已部署: %s owner=%s fee=%dbps", relayer.Address().Hex(), relayer.Owner().Hex(), cfg.Relayer.FeeBps)

	// 事件总线：协议组件发布，落库与 websocket 订阅
	bus := events.NewBus(256)
	env.SetEventSink(bus.Publish)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	consumers := syncgroup.NewSyncGroup()

	var st *store.Store
	if cfg.Server.StorePath != "" {
		st, err = store.Open(cfg.Server.StorePath)
		if err != nil {
			logrus.Errorf("打开历史库失败: %v", err)
			os.Exit(1)
		}
		storeCh, _ := bus.Subscribe()
		consumers.Add(func() { st.RunRecorder(runCtx, storeCh) })
		logrus.Infof("历史落库已启用: %s", cfg.Server.StorePath)
	} else {
		logrus.Warn("server.store_path 为空，历史落库已关闭")
	}

	srv := server.New(env, factory, relayer, st)
	hubCh, _ := bus.Subscribe()
	consumers.Add(func() { srv.Hub().Run(runCtx, hubCh) })
	consumers.Run()

	if cfg.Server.DebugListen != "" {
		if _, err := metrics.StartAsync(runCtx, cfg.Server.DebugListen); err != nil {
			logrus.Errorf("启动调试端口失败: %v", err)
			os.Exit(1)
		}
		logrus.Infof("调试端口已启用（expvar/pprof）: %s", cfg.Server.DebugListen)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logrus.Infof("govault API listening on %s", cfg.Server.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Errorf("http server error: %v", err)
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	<-stopCh

	logrus.Info("收到退出信号，开始优雅关停...")

	// 先停 HTTP（不再产生新事件），再关总线让消费方排空退出
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logrus.Warnf("HTTP 关停超时: %v", err)
	}
	bus.Close()
	consumers.Wait()
	if st != nil {
		if err := st.Close(); err != nil {
			logrus.Warnf("关闭历史库失败: %v", err)
		}
	}

	fmt.Println("vaultd stopped")
}

// applyGenesis 按配置铸造创世状态：登记代币、部署路由并注入流动性、水龙头铸币
func applyGenesis(env *chain.Env, cc config.ChainConfig) (router.Router, error) {
	tokens := make(map[string]common.Address, len(cc.Tokens))
	for _, t := range cc.Tokens {
		addr, err := env.CreateToken(t.Symbol, t.Decimals)
		if err != nil {
			return nil, fmt.Errorf("登记代币 %s: %w", t.Symbol, err)
		}
		tokens[t.Symbol] = addr
		logrus.Infof("创世代币 %s decimals=%d addr=%s", t.Symbol, t.Decimals, addr.Hex())
	}

	var rtr router.Router
	switch cc.Router {
	case "amm":
		amm := router.NewAMM(env, cc.LPFeeBps)
		// 创世流动性提供者：铸币、授权、建池一次完成
		provider := env.NextAddress(common.Address{})
		for _, p := range cc.Pairs {
			if p.Liquidity == "" {
				logrus.Warnf("交易对 %s/%s 未配置流动性，amm 池未建仓", p.Quote, p.Base)
				continue
			}
			baseAmt, ok := new(big.Int).SetString(p.Liquidity, 10)
			if !ok {
				return nil, fmt.Errorf("交易对 %s/%s 流动性非法: %s", p.Quote, p.Base, p.Liquidity)
			}
			// 计价侧储备按 rate 反推，使池的边际价格与固定汇率一致
			quoteAmt := new(big.Int).Mul(baseAmt, big.NewInt(p.RateDen))
			quoteAmt.Quo(quoteAmt, big.NewInt(p.RateNum))
			if quoteAmt.Sign() == 0 {
				return nil, fmt.Errorf("交易对 %s/%s 流动性太小，无法按 %d/%d 建池", p.Quote, p.Base, p.RateNum, p.RateDen)
			}
			quote, base := tokens[p.Quote], tokens[p.Base]
			ledger := env.Ledger()
			if err := ledger.Mint(base, provider, baseAmt); err != nil {
				return nil, fmt.Errorf("铸造池内代币 %s: %w", p.Base, err)
			}
			if err := ledger.Mint(quote, provider, quoteAmt); err != nil {
				return nil, fmt.Errorf("铸造池内代币 %s: %w", p.Quote, err)
			}
			if err := ledger.Approve(base, provider, amm.Address(), baseAmt); err != nil {
				return nil, err
			}
			if err := ledger.Approve(quote, provider, amm.Address(), quoteAmt); err != nil {
				return nil, err
			}
			if err := amm.AddLiquidity(provider, quote, base, quoteAmt, baseAmt); err != nil {
				return nil, fmt.Errorf("建池 %s/%s: %w", p.Quote, p.Base, err)
			}
			logrus.Infof("创世 amm 池 %s/%s reserves=%s/%s lp_fee=%dbps", p.Quote, p.Base, quoteAmt, baseAmt, cc.LPFeeBps)
		}
		rtr = amm
	default:
		fixed := router.NewFixedRate(env)
		for _, p := range cc.Pairs {
			quote, base := tokens[p.Quote], tokens[p.Base]
			fixed.SetRate(quote, base, p.RateNum, p.RateDen)
			if p.Liquidity != "" {
				amt, ok := new(big.Int).SetString(p.Liquidity, 10)
				if !ok {
					return nil, fmt.Errorf("交易对 %s/%s 流动性非法: %s", p.Quote, p.Base, p.Liquidity)
				}
				if err := fixed.Fund(base, amt); err != nil {
					return nil, fmt.Errorf("注入路由库存 %s: %w", p.Base, err)
				}
			}
			logrus.Infof("创世交易对 %s->%s rate=%d/%d liquidity=%s", p.Quote, p.Base, p.RateNum, p.RateDen, p.Liquidity)
		}
		rtr = fixed
	}

	for _, f := range cc.Faucet {
		amt, ok := new(big.Int).SetString(f.Amount, 10)
		if !ok {
			return nil, fmt.Errorf("faucet 数量非法: %s", f.Amount)
		}
		if err := env.Ledger().Mint(tokens[f.Token], common.HexToAddress(f.Address), amt); err != nil {
			return nil, fmt.Errorf("faucet 铸币 %s: %w", f.Token, err)
		}
		logrus.Infof("faucet 铸币 amount=%s token=%s to=%s", f.Amount, f.Token, f.Address)
	}
	return rtr, nil
}
