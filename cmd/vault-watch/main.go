// vault-watch 是 govault 的终端监控面板：
// 左侧轮询展示全部金库的余额与下次执行倒计时，
// 右侧通过 /ws 事件流实时滚动成交、存取与配置变更。
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/big"
	"os"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"

	"github.com/dcabot/govault/pkg/amount"
	"github.com/dcabot/govault/pkg/sdk/api"
	sdkws "github.com/dcabot/govault/pkg/sdk/websocket"
)

const (
	feedDepth  = 12              // 事件栏保留的条数
	watchLimit = 20              // 金库表最多展示的数量
	pollEvery  = 2 * time.Second // 轮询间隔
)

// 样式定义
var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	upStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	downStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)
)

// feedEvent 汇总各类事件可能携带的字段，按事件种类取用
type feedEvent struct {
	Vault           string
	Source          string
	Copy            string
	BaseToken       string
	QuoteToken      string
	NewOwner        string
	Assets          *big.Int
	QuoteIn         *big.Int
	BaseOut         *big.Int
	QuoteAmount     *big.Int
	QuoteAssets     *big.Int
	BaseAssets      *big.Int
	IntervalSeconds uint64
	OldBps          uint64
	NewBps          uint64
	Paused          bool
	Timestamp       time.Time
}

type feedEntry struct {
	at  time.Time
	typ sdkws.EventType
	ev  feedEvent
}

// 事件回调在 websocket 读取 goroutine 里触发，
// 先写进全局缓冲，界面在每次渲染时取快照。
var (
	feedMu   sync.Mutex
	feedRows []feedEntry
)

func onEvent(env sdkws.Envelope) {
	var ev feedEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		log.Printf("解析事件失败: %v", err)
		return
	}
	at := ev.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	feedMu.Lock()
	feedRows = append(feedRows, feedEntry{at: at, typ: env.Type, ev: ev})
	if len(feedRows) > feedDepth {
		feedRows = feedRows[len(feedRows)-feedDepth:]
	}
	feedMu.Unlock()
}

func snapshotFeed() []feedEntry {
	feedMu.Lock()
	defer feedMu.Unlock()
	out := make([]feedEntry, len(feedRows))
	copy(out, feedRows)
	return out
}

// 消息类型
type tickMsg time.Time

type connectedMsg struct {
	events *sdkws.EventClient
}

type refreshMsg struct {
	info   *api.RelayerInfo
	tokens []api.Token
	vaults []api.VaultDetail
	total  uint64
	err    error
}

type model struct {
	apiURL string
	client *api.Client
	events *sdkws.EventClient

	info    *api.RelayerInfo
	total   uint64
	vaults  []api.VaultDetail
	tokens  map[string]api.Token       // 地址（小写）→ 代币
	byAddr  map[string]api.VaultDetail // 地址（小写）→ 金库
	fetched time.Time
	lastErr error

	err error

	ctx    context.Context
	cancel context.CancelFunc
}

func initialModel(apiURL string) model {
	ctx, cancel := context.WithCancel(context.Background())
	return model{
		apiURL: apiURL,
		client: api.NewClient(apiURL),
		tokens: map[string]api.Token{},
		byAddr: map[string]api.VaultDetail{},
		ctx:    ctx,
		cancel: cancel,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), connectCmd(m.ctx, m.apiURL), refreshCmd(m.ctx, m.client))
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// connectCmd 建立事件流连接；失败视为致命错误（此时轮询也必然不通）
func connectCmd(ctx context.Context, apiURL string) tea.Cmd {
	return func() tea.Msg {
		ec := sdkws.NewEventClient(apiURL, onEvent)
		if err := ec.Start(ctx); err != nil {
			return fmt.Errorf("连接事件流失败: %w", err)
		}
		return connectedMsg{events: ec}
	}
}

// refreshCmd 拉取中继信息、代币表和金库快照
func refreshCmd(ctx context.Context, client *api.Client) tea.Cmd {
	return func() tea.Msg {
		cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		var out refreshMsg
		info, err := client.RelayerInfo(cctx)
		if err != nil {
			out.err = err
			return out
		}
		out.info = info

		tokens, err := client.ListTokens(cctx)
		if err != nil {
			out.err = err
			return out
		}
		out.tokens = tokens

		list, err := client.ListVaults(cctx, 0, watchLimit)
		if err != nil {
			out.err = err
			return out
		}
		out.total = list.Total
		for _, addr := range list.Vaults {
			d, err := client.GetVault(cctx, addr)
			if err != nil {
				out.err = err
				return out
			}
			out.vaults = append(out.vaults, *d)
		}
		return out
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.events != nil {
				m.events.Stop()
			}
			m.cancel()
			return m, tea.Quit
		case "r":
			m.fetched = time.Now()
			return m, refreshCmd(m.ctx, m.client)
		}

	case tickMsg:
		if time.Since(m.fetched) >= pollEvery {
			// 先推进时间戳，慢请求不会在下个 tick 重复触发
			m.fetched = time.Now()
			return m, tea.Batch(tickCmd(), refreshCmd(m.ctx, m.client))
		}
		return m, tickCmd()

	case connectedMsg:
		m.events = msg.events
		return m, nil

	case refreshMsg:
		m.fetched = time.Now()
		if msg.err != nil {
			m.lastErr = msg.err
			return m, nil
		}
		m.lastErr = nil
		m.info = msg.info
		m.total = msg.total
		m.vaults = msg.vaults
		tokens := make(map[string]api.Token, len(msg.tokens))
		for _, t := range msg.tokens {
			tokens[strings.ToLower(t.Address)] = t
		}
		m.tokens = tokens
		byAddr := make(map[string]api.VaultDetail, len(msg.vaults))
		for _, v := range msg.vaults {
			byAddr[strings.ToLower(v.Address)] = v
		}
		m.byAddr = byAddr
		return m, nil

	case error:
		m.err = msg
		return m, nil
	}

	return m, nil
}

func (m model) View() string {
	if m.err != nil {
		return fmt.Sprintf("错误: %v\n\n按 q 退出\n", m.err)
	}
	if m.info == nil {
		return fmt.Sprintf("正在连接 %s ...\n\n按 q 退出\n", m.apiURL)
	}

	var b strings.Builder

	stream := downStyle.Render("事件流断开")
	if m.events != nil && m.events.IsRunning() {
		stream = upStyle.Render("事件流在线")
	}
	b.WriteString(headerStyle.Render(fmt.Sprintf(" govault 金库监控  %s  链ID %s  中继费 %d bps ",
		m.apiURL, m.info.ChainID, m.info.RelayerFeeBps)))
	b.WriteString("  ")
	b.WriteString(stream)
	b.WriteString("\n\n")

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, m.renderVaults(), "  ", m.renderFeed()))

	b.WriteString("\n\n")
	b.WriteString(dimStyle.Render("按 q 退出，按 r 立即刷新"))
	if m.lastErr != nil {
		b.WriteString("\n")
		b.WriteString(downStyle.Render(fmt.Sprintf("刷新失败: %v", m.lastErr)))
	}
	b.WriteString("\n")

	return b.String()
}

// renderVaults 金库总览表
func (m model) renderVaults() string {
	var b strings.Builder

	title := fmt.Sprintf("金库 (%d)", m.total)
	if m.total > uint64(len(m.vaults)) {
		title += fmt.Sprintf("，显示前 %d 个", len(m.vaults))
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n\n")

	if len(m.vaults) == 0 {
		b.WriteString(dimStyle.Render("（还没有金库）"))
		return borderStyle.Render(b.String())
	}

	b.WriteString(dimStyle.Render(fmt.Sprintf("%-13s %-10s %14s %14s %9s %s",
		"地址", "交易对", "计价余额", "目标余额", "下次执行", "状态")))
	b.WriteString("\n")

	now := time.Now().Unix()
	for _, v := range m.vaults {
		pair := m.symbolOf(v.BaseToken) + "/" + m.symbolOf(v.QuoteToken)

		next := "-"
		if !v.Config.Paused {
			if now >= v.NextExecTime {
				next = "可执行"
			} else {
				next = formatDur(v.NextExecTime - now)
			}
		}

		state := upStyle.Render("运行中")
		if v.Config.Paused {
			state = downStyle.Render("已暂停")
		}

		b.WriteString(fmt.Sprintf("%-13s %-10s %14s %14s %9s %s\n",
			shortAddr(v.Address), pair,
			m.fmtWei(v.QuoteBalance, v.QuoteToken),
			m.fmtWei(v.BaseBalance, v.BaseToken),
			next, state))
	}

	return borderStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// renderFeed 实时事件栏
func (m model) renderFeed() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("最近事件"))
	b.WriteString("\n\n")

	entries := snapshotFeed()
	if len(entries) == 0 {
		b.WriteString(dimStyle.Render("（暂无事件）"))
		return borderStyle.Render(b.String())
	}

	for _, e := range entries {
		b.WriteString(dimStyle.Render(e.at.Format("15:04:05")))
		b.WriteString(" ")
		b.WriteString(m.feedLine(e))
		b.WriteString("\n")
	}

	return borderStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// feedLine 把一条事件格式化成单行文本
func (m model) feedLine(e feedEntry) string {
	ev := e.ev
	switch e.typ {
	case sdkws.EventFill:
		q, base := m.vaultTokens(ev.Vault)
		return fmt.Sprintf("%s %s  %s → %s",
			upStyle.Render("成交"), shortAddr(ev.Vault),
			m.fmtToken(ev.QuoteIn, q), m.fmtToken(ev.BaseOut, base))
	case sdkws.EventDeposit:
		q, _ := m.vaultTokens(ev.Vault)
		return fmt.Sprintf("%s %s  %s",
			upStyle.Render("存入"), shortAddr(ev.Vault), m.fmtToken(ev.Assets, q))
	case sdkws.EventWithdraw:
		q, base := m.vaultTokens(ev.Vault)
		return fmt.Sprintf("%s %s  %s + %s",
			downStyle.Render("赎回"), shortAddr(ev.Vault),
			m.fmtToken(ev.QuoteAssets, q), m.fmtToken(ev.BaseAssets, base))
	case sdkws.EventVaultCreated:
		return fmt.Sprintf("新建 %s（%s/%s）",
			shortAddr(ev.Vault), m.symbolOf(ev.BaseToken), m.symbolOf(ev.QuoteToken))
	case sdkws.EventVaultCopied:
		return fmt.Sprintf("复制 %s（源 %s）", shortAddr(ev.Copy), shortAddr(ev.Source))
	case sdkws.EventConfigUpdated:
		line := fmt.Sprintf("配置 %s  间隔 %ds", shortAddr(ev.Vault), ev.IntervalSeconds)
		if ev.Paused {
			line += "  " + downStyle.Render("已暂停")
		}
		return line
	case sdkws.EventOwnershipTransferred:
		return fmt.Sprintf("转让 %s → %s", shortAddr(ev.Vault), shortAddr(ev.NewOwner))
	case sdkws.EventMetaTxExecuted:
		q, base := m.vaultTokens(ev.Vault)
		return fmt.Sprintf("%s %s  %s → %s",
			upStyle.Render("中继"), shortAddr(ev.Vault),
			m.fmtToken(ev.QuoteAmount, q), m.fmtToken(ev.BaseOut, base))
	case sdkws.EventRelayerFeeUpdated:
		return fmt.Sprintf("中继费率 %d → %d bps", ev.OldBps, ev.NewBps)
	default:
		return string(e.typ)
	}
}

// vaultTokens 查金库的计价/目标代币地址，未知金库返回空串
func (m model) vaultTokens(vault string) (quote, base string) {
	if d, ok := m.byAddr[strings.ToLower(vault)]; ok {
		return d.QuoteToken, d.BaseToken
	}
	return "", ""
}

// fmtToken 按代币精度格式化并附上符号，未知代币按 18 位精度处理
func (m model) fmtToken(v *big.Int, tokenAddr string) string {
	if t, ok := m.tokens[strings.ToLower(tokenAddr)]; ok {
		return amount.Format(v, t.Decimals) + " " + t.Symbol
	}
	return amount.Format(v, 18)
}

// fmtWei 十进制 wei 字符串按代币精度缩位
func (m model) fmtWei(s, tokenAddr string) string {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return s
	}
	if t, ok := m.tokens[strings.ToLower(tokenAddr)]; ok {
		return amount.Format(n, t.Decimals)
	}
	return amount.Format(n, 18)
}

func (m model) symbolOf(addr string) string {
	if t, ok := m.tokens[strings.ToLower(addr)]; ok {
		return t.Symbol
	}
	return shortAddr(addr)
}

func shortAddr(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}

func formatDur(secs int64) string {
	if secs >= 3600 {
		return fmt.Sprintf("%dh%02dm", secs/3600, secs%3600/60)
	}
	if secs >= 60 {
		return fmt.Sprintf("%dm%02ds", secs/60, secs%60)
	}
	return fmt.Sprintf("%ds", secs)
}

func main() {
	// Load .env (best-effort)
	_ = godotenv.Load()

	apiURL := flag.String("api", getenv("GOVAULT_API_URL", "http://127.0.0.1:8080"), "守护进程 API 地址")
	flag.Parse()

	// SDK 事件流走标准库 log，重定向到文件，避免打花终端界面
	if f, err := os.OpenFile("vault-watch.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
		log.SetOutput(f)
		defer f.Close()
	}

	if os.Getenv("DEBUG") != "" {
		if f, err := tea.LogToFile("debug.log", "debug"); err == nil {
			defer f.Close()
		}
	}

	p := tea.NewProgram(initialModel(*apiURL), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "运行失败: %v\n", err)
		os.Exit(1)
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
