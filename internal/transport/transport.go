// Package transport 拥有到服务器的网络连接。
//
// 一个后台读取 goroutine 将分帧后的响应交给投递回调；写入在调用方的
// goroutine 上进行。连接可以在打开状态下原地升级为 TLS。
package transport

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/luhaoyun888/go-minig"
	"github.com/luhaoyun888/go-minig/internal/imapwire"
)

const (
	cmdWriteTimeout     = 30 * time.Second // 命令写入超时
	literalWriteTimeout = 5 * time.Minute  // 大块字面量写入超时

	// DefaultDialTimeout 是未指定时的连接超时
	DefaultDialTimeout = 30 * time.Second
)

// Options 包含连接的选项。
type Options struct {
	// 连接超时，为零时使用 DefaultDialTimeout
	DialTimeout time.Duration
	// 直接以 TLS 建立连接（例如端口 993）
	ImplicitTLS bool
	// 用于隐式 TLS 的配置。ServerName 为空时使用目标主机名
	TLSConfig *tls.Config
	// 原始的输入和输出数据将被写入此写入器（如果有）。
	// 注意，这可能包含身份验证期间使用的凭证。
	DebugWriter io.Writer
	Logger      *zerolog.Logger
}

func (options *Options) logger() *zerolog.Logger {
	if options.Logger == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return options.Logger
}

// wrapReadWriter 在设置了 DebugWriter 时返回一个同时记录读写数据的读写器。
func (options *Options) wrapReadWriter(rw io.ReadWriter) io.ReadWriter {
	if options.DebugWriter == nil {
		return rw
	}
	return struct {
		io.Reader
		io.Writer
	}{
		Reader: io.TeeReader(rw, options.DebugWriter),
		Writer: io.MultiWriter(rw, options.DebugWriter),
	}
}

// DeliverFunc 在读取 goroutine 上对每条响应调用一次，不能阻塞。
//
// 返回 true 时读取 goroutine 暂停，直到调用 UpgradeTLS 或 Resume。
type DeliverFunc func(resp *imapwire.Response) (pause bool)

// Conn 是一条到服务器的连接。
type Conn struct {
	options Options
	log     *zerolog.Logger

	host    string   // 用于 TLS 的 ServerName
	raw     net.Conn // 明文连接
	br      *bufio.Reader
	bw      *bufio.Writer

	mutex   sync.Mutex
	conn    net.Conn // 当前使用的连接，升级后为 *tls.Conn
	tlsConn *tls.Conn

	writeMutex sync.Mutex
	encrypted  atomic.Bool

	started   bool
	resume    chan struct{}
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Dial 连接到 address，连接超时由 options.DialTimeout 和 ctx 共同限制。
func Dial(ctx context.Context, address string, options *Options) (*Conn, error) {
	if options == nil {
		options = &Options{}
	}
	timeout := options.DialTimeout
	if timeout == 0 {
		timeout = DefaultDialTimeout
	}
	dialer := &net.Dialer{Timeout: timeout}

	var (
		conn net.Conn
		err  error
	)
	if options.ImplicitTLS {
		host, _, splitErr := net.SplitHostPort(address)
		if splitErr != nil {
			return nil, &imap.TransportError{Op: "dial", Err: splitErr}
		}
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: tlsConfig(options.TLSConfig, host)}
		conn, err = tlsDialer.DialContext(ctx, "tcp", address)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", address)
	}
	if err != nil {
		return nil, &imap.TransportError{Op: "dial", Err: err}
	}

	c := New(conn, options)
	c.host, _, _ = net.SplitHostPort(address)
	c.log.Debug().Str("remote", conn.RemoteAddr().String()).Bool("tls", options.ImplicitTLS).Msg("连接已建立")
	return c, nil
}

// New 包装一条已经建立的连接。此函数不执行 I/O。
func New(conn net.Conn, options *Options) *Conn {
	if options == nil {
		options = &Options{}
	}
	c := &Conn{
		options: *options,
		log:     options.logger(),
		raw:     conn,
		conn:    conn,
		resume:  make(chan struct{}),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	if tlsConn, ok := conn.(*tls.Conn); ok {
		c.tlsConn = tlsConn
		c.encrypted.Store(true)
	}
	rw := c.options.wrapReadWriter(conn)
	c.br = bufio.NewReader(rw)
	c.bw = bufio.NewWriter(rw)
	return c
}

func tlsConfig(config *tls.Config, host string) *tls.Config {
	var cfg *tls.Config
	if config != nil {
		cfg = config.Clone()
	} else {
		cfg = new(tls.Config)
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	return cfg
}

// Start 启动读取 goroutine。连接结束后 closed 被调用一次，参数为导致结束的错误。
func (c *Conn) Start(deliver DeliverFunc, closed func(err error)) {
	c.started = true
	go c.read(deliver, closed)
}

func (c *Conn) read(deliver DeliverFunc, closed func(err error)) {
	var err error
	defer func() {
		c.current().Close()
		if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			err = io.EOF
		}
		closed(err)
		close(c.done)
	}()

	for {
		var resp *imapwire.Response
		resp, err = imapwire.ReadResponse(c.br)
		if err != nil {
			select {
			case <-c.closing:
				err = net.ErrClosed
			default:
			}
			return
		}
		if !deliver(resp) {
			continue
		}
		select {
		case <-c.resume:
		case <-c.closing:
			err = net.ErrClosed
			return
		}
	}
}

// Resume 唤醒因投递回调返回 true 而暂停的读取 goroutine。
func (c *Conn) Resume() {
	select {
	case c.resume <- struct{}{}:
	case <-c.done:
	}
}

// Write 写入并刷新 b。写入失败时连接被关闭。
func (c *Conn) Write(b []byte) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	timeout := cmdWriteTimeout
	if len(b) > 4096 {
		timeout = literalWriteTimeout
	}
	conn := c.current()
	conn.SetWriteDeadline(time.Now().Add(timeout))
	defer conn.SetWriteDeadline(time.Time{})

	_, err := c.bw.Write(b)
	if err == nil {
		err = c.bw.Flush()
	}
	if err != nil {
		c.Close()
		return &imap.TransportError{Op: "write", Err: err}
	}
	return nil
}

// UpgradeTLS 在已打开的连接上插入 TLS 层并完成握手。
//
// 只能在读取 goroutine 因投递回调返回 true 而暂停时调用；成功后读取 goroutine
// 在加密流上继续运行。握手失败时连接被关闭。
func (c *Conn) UpgradeTLS(ctx context.Context, config *tls.Config) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	// 清空 bufio.Reader 中已缓冲的明文数据
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, c.br, int64(c.br.Buffered())); err != nil {
		panic(err) // 不会到达这里
	}

	var cleartextConn net.Conn = c.raw
	if buf.Len() > 0 {
		cleartextConn = startTLSConn{c.raw, io.MultiReader(&buf, c.raw)}
	}

	tlsConn := tls.Client(cleartextConn, tlsConfig(config, c.host))
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		// 不允许停留在半加密状态
		c.Close()
		return &imap.TransportError{Op: "handshake", Err: err}
	}

	rw := c.options.wrapReadWriter(tlsConn)
	c.br.Reset(rw)
	c.bw = bufio.NewWriter(rw)
	c.mutex.Lock()
	c.conn = tlsConn
	c.tlsConn = tlsConn
	c.mutex.Unlock()
	c.encrypted.Store(true)

	state := tlsConn.ConnectionState()
	c.log.Info().Str("version", tls.VersionName(state.Version)).Msg("与服务器之间的网络流量现已加密")

	c.Resume()
	return nil
}

func (c *Conn) current() net.Conn {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.conn
}

// CloseTLS 发送 TLS close_notify，有序地关闭加密层的写方向。
func (c *Conn) CloseTLS() error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	c.mutex.Lock()
	tlsConn := c.tlsConn
	c.mutex.Unlock()
	if tlsConn == nil {
		return nil
	}
	tlsConn.SetWriteDeadline(time.Now().Add(cmdWriteTimeout))
	if err := tlsConn.CloseWrite(); err != nil {
		return fmt.Errorf("transport: 关闭 TLS 失败: %w", err)
	}
	return nil
}

// Close 立即关闭连接，并等待读取 goroutine 退出。
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		// 在这里忽略 net.ErrClosed，因为读取 goroutine 也会调用 conn.Close
		conn := c.current()
		if closeErr := conn.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) && !errors.Is(closeErr, io.ErrClosedPipe) {
			err = closeErr
		}
		if conn != c.raw {
			c.raw.Close()
		}
	})
	if c.started {
		<-c.done
	}
	return err
}

// Done 在读取 goroutine 退出后关闭。
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Encrypted 报告连接当前是否经过 TLS 加密。
func (c *Conn) Encrypted() bool {
	return c.encrypted.Load()
}

// TLSConnectionState 返回 TLS 状态，未加密时 ok 为 false。
func (c *Conn) TLSConnectionState() (state tls.ConnectionState, ok bool) {
	c.mutex.Lock()
	tlsConn := c.tlsConn
	c.mutex.Unlock()
	if tlsConn == nil {
		return state, false
	}
	return tlsConn.ConnectionState(), true
}

// startTLSConn 先返回缓冲区中已读取的数据，再从底层连接读取。
type startTLSConn struct {
	net.Conn
	r io.Reader
}

func (conn startTLSConn) Read(b []byte) (int, error) {
	return conn.r.Read(b)
}
