// Command minig 是 IMAP 和 ManageSieve 客户端的命令行工具。
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/emersion/go-message/charset"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/luhaoyun888/go-minig/imapclient"
	"github.com/luhaoyun888/go-minig/internal/conf"
	"github.com/luhaoyun888/go-minig/internal/logging"
	"github.com/luhaoyun888/go-minig/sieveclient"
)

// app 保存所有子命令共享的状态。
type app struct {
	configPath  string
	logLevel    string
	metricsAddr string

	cfg      *conf.Config
	log      zerolog.Logger
	registry *prometheus.Registry
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(&app{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "错误:", err)
		os.Exit(1)
	}
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "minig",
		Short:         "IMAP 与 ManageSieve 命令行客户端",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	pflags := root.PersistentFlags()
	pflags.StringVarP(&a.configPath, "config", "c", "", "配置文件路径（默认查找 ./minig.yaml）")
	pflags.StringVar(&a.logLevel, "log-level", "", "日志级别：trace, debug, info, warn, error")
	pflags.StringVar(&a.metricsAddr, "metrics-addr", "", "在此地址上提供 Prometheus 指标，例如 :9090")

	root.AddCommand(
		newMailboxesCommand(a),
		newSearchCommand(a),
		newFetchCommand(a),
		newIdleCommand(a),
		newScriptsCommand(a),
	)
	return root
}

func (a *app) init() error {
	cfg, err := conf.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg
	a.log = logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	a.registry = prometheus.NewRegistry()

	if a.metricsAddr != "" {
		go a.serveMetrics()
	}
	return nil
}

func (a *app) serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	a.log.Info().Str("addr", a.metricsAddr).Msg("指标服务已启动")
	if err := http.ListenAndServe(a.metricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.log.Error().Err(err).Msg("指标服务退出")
	}
}

// password 返回端点的密码。配置中没有密码且标准输入是终端时提示输入。
func password(e *conf.Endpoint, label string) (string, error) {
	if e.Password != "" {
		return e.Password, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%v 未配置密码", label)
	}
	fmt.Fprintf(os.Stderr, "%v 密码 (%v): ", label, e.Username)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("读取密码失败: %w", err)
	}
	return string(b), nil
}

func tlsConfig(e *conf.Endpoint) *tls.Config {
	return &tls.Config{
		ServerName:         e.Host,
		InsecureSkipVerify: e.InsecureSkipVerify,
	}
}

// debugWriter 在启用协议日志时返回一个写入 trace 日志的 DebugWriter。
func (a *app) debugWriter(logger *zerolog.Logger) *logging.ProtocolWriter {
	if !a.cfg.Log.Protocol {
		return nil
	}
	return logging.NewProtocolWriter(logger)
}

// dialIMAP 连接并登录 IMAP 服务器。调用方负责调用 Logout。
func (a *app) dialIMAP(ctx context.Context) (*imapclient.Client, error) {
	e := &a.cfg.IMAP
	pass, err := password(e, "IMAP")
	if err != nil {
		return nil, err
	}

	logger := a.log.With().Str("proto", "imap").Logger()
	options := &imapclient.Options{
		TLSConfig:      tlsConfig(e),
		ImplicitTLS:    e.ImplicitTLS,
		DialTimeout:    e.DialTimeout,
		CommandTimeout: e.CommandTimeout,
		Logger:         &logger,
		Registerer:     a.registry,
		WordDecoder:    &mime.WordDecoder{CharsetReader: charset.Reader},
	}
	if w := a.debugWriter(&logger); w != nil {
		options.DebugWriter = w
	}

	client := imapclient.New(options)
	if err := client.Login(ctx, e.Host, e.Port, e.Username, pass, e.UseTLS() && !e.ImplicitTLS); err != nil {
		return nil, err
	}
	return client, nil
}

// dialSieve 连接并登录 ManageSieve 服务器。调用方负责调用 Logout。
func (a *app) dialSieve(ctx context.Context) (*sieveclient.Client, error) {
	e := &a.cfg.Sieve
	pass, err := password(e, "Sieve")
	if err != nil {
		return nil, err
	}

	logger := a.log
	options := &sieveclient.Options{
		TLSConfig:      tlsConfig(e),
		DialTimeout:    e.DialTimeout,
		CommandTimeout: e.CommandTimeout,
		Logger:         &logger,
		Registerer:     a.registry,
	}
	if w := a.debugWriter(&logger); w != nil {
		options.DebugWriter = w
	}

	client := sieveclient.New(e.Host, e.Port, e.Username, pass, options)
	if err := client.Login(ctx, e.UseTLS()); err != nil {
		return nil, err
	}
	return client, nil
}
