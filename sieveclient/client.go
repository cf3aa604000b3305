// Package sieveclient 实现了一个 ManageSieve 客户端（RFC 5804）。
//
// ManageSieve 的命令没有标签：每条命令的响应以一行 OK、NO 或 BYE 结束。
// 与 imapclient 一样，同一时刻只有一条命令在连接上执行，并发的调用按到达顺序排队。
package sieveclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/luhaoyun888/go-minig"
	"github.com/luhaoyun888/go-minig/internal/metrics"
	"github.com/luhaoyun888/go-minig/internal/transport"
)

// DefaultPort 是 ManageSieve 的标准端口。
const DefaultPort = 4190

// DefaultCommandTimeout 是 Options.CommandTimeout 为零时每条命令的最长等待时间。
const DefaultCommandTimeout = 2 * time.Minute

// Options 包含客户端的选项。
type Options struct {
	// 用于 STARTTLS 的配置。ServerName 为空时使用主机名。
	TLSConfig *tls.Config
	// 连接超时，为零时为 30 秒。
	DialTimeout time.Duration
	// 等待单条命令完成的最长时间，为零时使用 DefaultCommandTimeout，为负时不限制。
	CommandTimeout time.Duration
	// 原始的输入和输出数据将被写入此写入器（如果有），其中可能包含凭证。
	DebugWriter io.Writer
	Logger      *zerolog.Logger
	// 用于注册命令指标的注册表，为 nil 时不记录指标。
	Registerer prometheus.Registerer
}

func (options *Options) logger() zerolog.Logger {
	if options.Logger == nil {
		return zerolog.Nop()
	}
	return *options.Logger
}

func (options *Options) commandTimeout() time.Duration {
	if options.CommandTimeout == 0 {
		return DefaultCommandTimeout
	}
	return options.CommandTimeout
}

// Script 是服务器上的一个脚本。
type Script struct {
	Name   string
	Active bool
}

type session struct {
	id   string
	conn *transport.Conn
	log  zerolog.Logger
}

// Client 是一个 ManageSieve 客户端。
type Client struct {
	host     string
	port     int
	username string
	password string

	options Options
	metrics *metrics.Commands
	gate    *semaphore.Weighted

	mutex         sync.Mutex
	session       *session
	pending       *responseBatch
	connErr       error
	broken        bool
	authenticated bool
	caps          Capabilities
}

// New 创建一个新的客户端。此函数不执行 I/O。
func New(host string, port int, username, password string, options *Options) *Client {
	if options == nil {
		options = &Options{}
	}
	return &Client{
		host:     host,
		port:     port,
		username: username,
		password: password,
		options:  *options,
		metrics:  metrics.NewCommands(options.Registerer, "sieve"),
		gate:     semaphore.NewWeighted(1),
	}
}

// Login 连接到服务器，可选地执行 STARTTLS，然后使用 SASL PLAIN 进行身份验证。
//
// 服务器不支持 STARTTLS 时记录一条警告并继续使用未加密的连接。
// 失败时连接被关闭，之后可以再次调用 Login。
func (c *Client) Login(ctx context.Context, useTLS bool) error {
	if err := c.connect(ctx); err != nil {
		return err
	}
	if useTLS {
		if err := c.StartTLS(ctx); err != nil {
			c.teardown()
			return err
		}
	}
	if err := c.authenticatePlain(ctx); err != nil {
		c.teardown()
		return err
	}
	return nil
}

func (c *Client) connect(ctx context.Context) error {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.gate.Release(1)

	c.mutex.Lock()
	connected := c.session != nil
	c.mutex.Unlock()
	if connected {
		return imap.ErrAlreadyConnected
	}

	id := uuid.NewString()
	base := c.options.logger()
	log := base.With().Str("session", id).Str("proto", "sieve").Logger()
	address := net.JoinHostPort(c.host, strconv.Itoa(c.port))

	conn, err := transport.Dial(ctx, address, &transport.Options{
		DialTimeout: c.options.DialTimeout,
		TLSConfig:   c.options.TLSConfig,
		DebugWriter: c.options.DebugWriter,
		Logger:      &log,
	})
	if err != nil {
		return err
	}
	s := &session{id: id, conn: conn, log: log}

	// 问候就是一份能力列表
	greeting := newResponseBatch("GREETING")

	c.mutex.Lock()
	c.session = s
	c.pending = greeting
	c.connErr = nil
	c.broken = false
	c.authenticated = false
	c.caps = nil
	c.mutex.Unlock()

	conn.Start(c.deliverFunc(s), c.closedFunc(s))

	start := time.Now()
	err = c.wait(ctx, s, greeting, nil, nil)
	var caps Capabilities
	if err == nil {
		caps, err = parseBatch(s, &capabilityCommand{}, greeting)
	}
	c.metrics.Observe("GREETING", err, time.Since(start))
	if err != nil {
		c.teardown()
		return err
	}

	c.mutex.Lock()
	c.caps = caps
	c.mutex.Unlock()
	log.Debug().Str("address", address).Str("implementation", caps.Implementation()).Msg("已连接")
	return nil
}

// Logout 发送 LOGOUT 命令并关闭连接。未连接时不执行任何操作。
func (c *Client) Logout(ctx context.Context) error {
	c.mutex.Lock()
	s := c.session
	usable := s != nil && !c.broken && c.connErr == nil
	c.mutex.Unlock()
	if s == nil {
		return nil
	}

	var err error
	if usable {
		_, err = execute(ctx, c, &logoutCommand{})
		if errors.Is(err, imap.ErrSessionBroken) || imap.IsTransportError(err) {
			// 服务器可能在发送 OK 之前就关闭了连接
			err = nil
		}
	}
	if s.conn.Encrypted() {
		if tlsErr := s.conn.CloseTLS(); tlsErr != nil {
			s.log.Warn().Err(tlsErr).Msg("关闭 TLS 失败")
		}
	}
	c.teardown()
	return err
}

func (c *Client) teardown() {
	c.mutex.Lock()
	s := c.session
	c.session = nil
	c.pending = nil
	c.authenticated = false
	c.caps = nil
	c.mutex.Unlock()

	if s == nil {
		return
	}
	if err := s.conn.Close(); err != nil {
		s.log.Debug().Err(err).Msg("关闭连接失败")
	}
	s.log.Debug().Msg("已断开")
}

func (c *Client) logger() zerolog.Logger {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.session != nil {
		return c.session.log
	}
	return c.options.logger()
}

// Connected 报告客户端是否持有一条连接。
func (c *Client) Connected() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.session != nil
}

// Authenticated 报告会话是否已通过身份验证。
func (c *Client) Authenticated() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.authenticated
}

// Encrypted 报告连接当前是否经过 TLS 加密。
func (c *Client) Encrypted() bool {
	c.mutex.Lock()
	s := c.session
	c.mutex.Unlock()
	return s != nil && s.conn.Encrypted()
}

// Caps 返回最近一次得知的能力，不执行 I/O。
func (c *Client) Caps() Capabilities {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.caps
}

// String 返回 "user@host:port" 形式的描述，用于日志。
func (c *Client) String() string {
	return fmt.Sprintf("%v@%v", c.username, net.JoinHostPort(c.host, strconv.Itoa(c.port)))
}
