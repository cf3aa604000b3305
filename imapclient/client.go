// Package imapclient 实现了一个同步的 IMAP 客户端。
//
// 每个 Client 拥有一条到服务器的连接。命令以普通的阻塞方法调用的形式暴露：
// 方法发送命令，等待带标签的完成响应，然后在调用方的 goroutine 上解析结果。
// 多个 goroutine 可以同时使用同一个 Client，命令按照到达的顺序逐条执行。
//
// # 字符集解码
//
// 默认情况下，仅执行基本的字符集解码。对于非 UTF-8 的邮件主题和电子邮件地址名称解码，用户可以设置
// Options.WordDecoder。例如，要使用 go-message 的字符集集合：
//
//	import (
//		"mime"
//
//		"github.com/emersion/go-message/charset"
//	)
//
//	options := &imapclient.Options{
//		WordDecoder: &mime.WordDecoder{CharsetReader: charset.Reader},
//	}
//	client := imapclient.New(options)
package imapclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/luhaoyun888/go-minig"
	"github.com/luhaoyun888/go-minig/internal/imapwire"
	"github.com/luhaoyun888/go-minig/internal/metrics"
	"github.com/luhaoyun888/go-minig/internal/transport"
)

// DefaultCommandTimeout 是 Options.CommandTimeout 为零时每条命令的最长等待时间。
const DefaultCommandTimeout = 5 * time.Minute

// Options 包含客户端的选项。
type Options struct {
	// 用于 STARTTLS 和隐式 TLS 的配置。如果为 nil，则使用默认配置。
	// ServerName 为空时使用 Login 的主机名。
	TLSConfig *tls.Config
	// 直接以 TLS 建立连接（例如端口 993），不再执行 STARTTLS。
	ImplicitTLS bool
	// 连接超时，为零时为 30 秒。
	DialTimeout time.Duration
	// 等待单条命令完成的最长时间，为零时使用 DefaultCommandTimeout，为负时不限制。
	// 超时后会话被标记为损坏并关闭连接。
	CommandTimeout time.Duration
	// 原始的输入和输出数据将被写入此写入器（如果有）。注意，这可能包含在身份验证期间使用的敏感信息，例如凭证。
	DebugWriter io.Writer
	// 日志记录器，为 nil 时不记录日志。
	Logger *zerolog.Logger
	// 用于注册命令指标的注册表，为 nil 时不记录指标。
	Registerer prometheus.Registerer
	// 单边数据处理程序。
	UnilateralDataHandler *UnilateralDataHandler
	// RFC 2047 字符串的解码器。
	WordDecoder *mime.WordDecoder
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

// decodeText 解码 MIME 编码的字符串，返回解码后的字符串。
// 如果没有设置 WordDecoder，则使用默认的 MIME 解码器。
func (options *Options) decodeText(s string) (string, error) {
	wordDecoder := options.WordDecoder
	if wordDecoder == nil {
		wordDecoder = &mime.WordDecoder{}
	}
	out, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s, err // 解码失败则返回原始字符串和错误
	}
	return out, nil
}

func (options *Options) unilateralDataHandler() *UnilateralDataHandler {
	if options.UnilateralDataHandler == nil {
		return &UnilateralDataHandler{}
	}
	return options.UnilateralDataHandler
}

// UnilateralDataHandler 处理在没有命令等待、也不在 IDLE 状态时到达的单边数据。
//
// 处理函数在读取 goroutine 上调用，不能阻塞。
type UnilateralDataHandler struct {
	Exists  func(numMessages uint32)
	Recent  func(numRecent uint32)
	Expunge func(seqNum uint32)
	Alert   func(text string)
}

// session 是一次 Login 到 Logout 之间的连接状态。
type session struct {
	id   string
	conn *transport.Conn
	log  zerolog.Logger
}

// Client 是一个 IMAP 客户端。
//
// 零值不可用，请使用 New 创建。
type Client struct {
	options Options
	metrics *metrics.Commands

	gate *semaphore.Weighted // 同一时刻只允许一条命令在执行
	tags tagProducer         // 只在持有 gate 时使用
	idle idleController

	mutex         sync.Mutex
	session       *session
	pending       *responseBatch // 等待完成的命令
	connErr       error          // 读取 goroutine 退出的原因
	broken        bool           // 命令超时或被取消，协议状态未知
	bye           bool           // 已收到 BYE
	authenticated bool
	caps          imap.CapSet
	mailbox       string // 已选择的邮箱
}

// New 创建一个新的 IMAP 客户端。
//
// 此函数不执行 I/O。nil 选项指针等效于零选项值。
func New(options *Options) *Client {
	if options == nil {
		options = &Options{}
	}
	return &Client{
		options: *options,
		metrics: metrics.NewCommands(options.Registerer, "imap"),
		gate:    semaphore.NewWeighted(1),
	}
}

// Login 连接到 host:port，可选地执行 STARTTLS，然后使用 LOGIN 进行身份验证。
//
// 已经连接时立即返回 imap.ErrAlreadyConnected。服务器不支持或拒绝 STARTTLS 时
// 记录一条警告并继续使用未加密的连接；TLS 握手失败时连接被关闭并返回错误。
// 身份验证失败时连接同样被关闭，之后可以再次调用 Login。
func (c *Client) Login(ctx context.Context, host string, port int, username, password string, useTLS bool) error {
	if err := c.Connect(ctx, host, port); err != nil {
		return err
	}

	if useTLS && !c.Encrypted() {
		if err := c.StartTLS(ctx); err != nil {
			c.teardown()
			return err
		}
	}

	if c.Authenticated() {
		return nil // PREAUTH
	}
	caps, err := execute(ctx, c, &loginCommand{username: username, password: password})
	if err != nil {
		c.teardown()
		return err
	}
	c.setAuthenticated(caps)
	return nil
}

// Connect 建立连接并读取服务器问候，但不进行身份验证。
//
// 之后可以调用 StartTLS 和 Authenticate。
func (c *Client) Connect(ctx context.Context, host string, port int) error {
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
	log := base.With().Str("session", id).Logger()
	address := net.JoinHostPort(host, strconv.Itoa(port))

	conn, err := transport.Dial(ctx, address, &transport.Options{
		DialTimeout: c.options.DialTimeout,
		ImplicitTLS: c.options.ImplicitTLS,
		TLSConfig:   c.options.TLSConfig,
		DebugWriter: c.options.DebugWriter,
		Logger:      &log,
	})
	if err != nil {
		return err
	}
	s := &session{id: id, conn: conn, log: log}

	greeting := newResponseBatch("", "GREETING")
	greeting.greeting = true

	c.mutex.Lock()
	c.session = s
	c.pending = greeting
	c.connErr = nil
	c.broken = false
	c.bye = false
	c.authenticated = false
	c.caps = nil
	c.mailbox = ""
	c.mutex.Unlock()

	conn.Start(c.deliverFunc(s), c.closedFunc(s))

	start := time.Now()
	err = c.wait(ctx, s, greeting, nil, nil)
	if err == nil {
		err = c.handleGreeting(greeting)
	}
	c.metrics.Observe("GREETING", err, time.Since(start))
	if err != nil {
		c.teardown()
		return err
	}
	log.Debug().Str("address", address).Bool("tls", conn.Encrypted()).Msg("已连接")
	return nil
}

// handleGreeting 处理服务器问候。
func (c *Client) handleGreeting(b *responseBatch) error {
	if b.status == nil {
		return &imap.ParseError{Command: b.name, Line: b.line(0), Err: errors.New("不是状态响应")}
	}
	switch b.status.Type {
	case imap.StatusResponseTypeOK, imap.StatusResponseTypePreAuth:
	case imap.StatusResponseTypeBye:
		return &imap.Error{Type: imap.StatusResponseTypeBye, Code: b.status.Code, Text: b.status.Text}
	default:
		return &imap.ParseError{Command: b.name, Line: b.line(0), Err: fmt.Errorf("意外的问候类型 %v", b.status.Type)}
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.authenticated = b.status.Type == imap.StatusResponseTypePreAuth
	if b.status.Code == imap.ResponseCodeCapability {
		c.caps = parseCapabilityArg(b.status.CodeArg)
	}
	return nil
}

// Logout 发送 LOGOUT 命令并关闭连接。
//
// 连接已加密时，先有序地关闭 TLS 层；此时的错误只记录不返回。
// 未连接时不执行任何操作。
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
		if c.IdleState() == IdleActive {
			if stopErr := c.StopIdle(ctx); stopErr != nil {
				s.log.Warn().Err(stopErr).Msg("注销前停止 IDLE 失败")
			}
		}
		_, err = execute(ctx, c, &logoutCommand{})
		if errors.Is(err, imap.ErrSessionBroken) {
			err = nil // 连接已被关闭，注销的目的已经达到
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

// teardown 关闭连接并清空会话状态，之后可以再次 Login。
func (c *Client) teardown() {
	c.mutex.Lock()
	s := c.session
	c.session = nil
	c.pending = nil
	c.authenticated = false
	c.mailbox = ""
	c.caps = nil
	c.idle.shutdown(nil)
	c.mutex.Unlock()

	if s == nil {
		return
	}
	if err := s.conn.Close(); err != nil {
		s.log.Debug().Err(err).Msg("关闭连接失败")
	}
	s.log.Debug().Msg("已断开")
}

// logger 返回当前会话的日志记录器，未连接时返回客户端的日志记录器。
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

// State 返回客户端当前的连接状态。
func (c *Client) State() imap.ConnState {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	switch {
	case c.session == nil:
		return imap.ConnStateNone
	case c.bye || c.broken || c.connErr != nil:
		return imap.ConnStateLogout
	case c.mailbox != "":
		return imap.ConnStateSelected
	case c.authenticated:
		return imap.ConnStateAuthenticated
	default:
		return imap.ConnStateNotAuthenticated
	}
}

// Mailbox 返回当前选择的邮箱名称，没有时返回空字符串。
func (c *Client) Mailbox() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.mailbox
}

// SessionID 返回当前会话的标识符，用于关联日志。未连接时返回空字符串。
func (c *Client) SessionID() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.id
}

// TLSConnectionState 返回 TLS 连接状态，未加密时 ok 为 false。
func (c *Client) TLSConnectionState() (state tls.ConnectionState, ok bool) {
	c.mutex.Lock()
	s := c.session
	c.mutex.Unlock()
	if s == nil {
		return state, false
	}
	return s.conn.TLSConnectionState()
}

// handleUnilateral 在读取 goroutine 上处理单边数据。
func (c *Client) handleUnilateral(s *session, typ string, num uint32, resp *imapwire.Response) {
	s.log.Debug().Str("line", resp.String()).Msg("收到单边数据")

	handler := c.options.unilateralDataHandler()
	switch typ {
	case "EXISTS":
		if handler.Exists != nil {
			handler.Exists(num)
		}
	case "RECENT":
		if handler.Recent != nil {
			handler.Recent(num)
		}
	case "EXPUNGE":
		if handler.Expunge != nil {
			handler.Expunge(num)
		}
	case "OK", "NO", "BAD", "BYE":
		st, ok := resp.Status()
		if ok && st.Code == imap.ResponseCodeAlert && handler.Alert != nil {
			handler.Alert(st.Text)
		}
	}
}
