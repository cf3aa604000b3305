package sieveclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"github.com/luhaoyun888/go-minig"
	"github.com/luhaoyun888/go-minig/internal/imapwire"
)

var errCommandTimeout = errors.New("命令超时")

// command 是一条 ManageSieve 命令。
type command[T any] interface {
	name() string
	encode(enc *imapwire.Encoder)
	parse(b *responseBatch) (T, error)
}

type commandFlags uint8

const (
	flagNotAuthenticated commandFlags = 1 << iota
	flagPauseOnOK                     // 收到 OK 后暂停读取，直到 TLS 升级完成
	flagAllowBye                      // BYE 也视为成功，用于 LOGOUT
)

type flaggedCommand interface {
	flags() commandFlags
}

// interactiveCommand 回应服务器在命令完成前发来的字符串行，例如 SASL 质询。
type interactiveCommand interface {
	onChallenge(resp *imapwire.Response) ([]byte, error)
}

type upgrader interface {
	upgrade(ctx context.Context, c *Client, s *session) error
}

func flagsOf(cmd any) commandFlags {
	if f, ok := cmd.(flaggedCommand); ok {
		return f.flags()
	}
	return 0
}

// responseBatch 收集一条命令的数据行和结束它的状态行。
type responseBatch struct {
	name   string
	lines  []*imapwire.Response
	status *imapwire.StatusLine
	final  *imapwire.Response

	interactive bool
	pauseOnOK   bool

	challenge chan *imapwire.Response
	done      chan error
	finished  bool
}

func newResponseBatch(name string) *responseBatch {
	return &responseBatch{
		name:      name,
		challenge: make(chan *imapwire.Response, 1),
		done:      make(chan error, 1),
	}
}

func (b *responseBatch) finish(err error) {
	if b.finished {
		return
	}
	b.finished = true
	b.done <- err
}

// each 对每个数据行调用 f。
func (b *responseBatch) each(f func(dec *imapwire.Decoder) error) error {
	for _, resp := range b.lines {
		dec := imapwire.NewDecoder(resp.Raw)
		if err := f(dec); err != nil {
			return &imap.ParseError{Command: b.name, Line: resp.String(), Err: err}
		}
	}
	return nil
}

// readStatus 在一行是 OK、NO 或 BYE 状态行时返回它。
func readStatus(resp *imapwire.Response) (*imapwire.StatusLine, bool) {
	st, ok := imapwire.ReadStatus(imapwire.NewDecoder(resp.Raw))
	if !ok {
		return nil, false
	}
	switch st.Type {
	case imap.StatusResponseTypeOK, imap.StatusResponseTypeNo, imap.StatusResponseTypeBye:
		return st, true
	default:
		return nil, false
	}
}

// execute 执行一条命令并返回解析结果。
func execute[T any](ctx context.Context, c *Client, cmd command[T]) (T, error) {
	var zero T
	name := cmd.name()
	flags := flagsOf(cmd)

	s, err := c.acquire(ctx, flags)
	if err != nil {
		c.metrics.Observe(name, err, 0)
		return zero, err
	}
	defer c.gate.Release(1)

	start := time.Now()
	enc := imapwire.NewEncoder()
	// 服务器必须支持非同步字面量
	enc.LiteralPlus = true
	enc.Atom(name)
	cmd.encode(enc)
	enc.CRLF()

	b := newResponseBatch(name)
	b.pauseOnOK = flags&flagPauseOnOK != 0
	var onChallenge func(*imapwire.Response) ([]byte, error)
	if ic, ok := cmd.(interactiveCommand); ok {
		b.interactive = true
		onChallenge = ic.onChallenge
	}

	c.mutex.Lock()
	c.pending = b
	c.mutex.Unlock()

	err = c.wait(ctx, s, b, enc.Bytes(), onChallenge)
	if err == nil && b.pauseOnOK && b.status != nil && b.status.Type == imap.StatusResponseTypeOK {
		err = cmd.(upgrader).upgrade(ctx, c, s)
	}
	var v T
	if err == nil {
		if b.status != nil && b.status.Type == imap.StatusResponseTypeBye && flags&flagAllowBye == 0 {
			err = &imap.Error{Type: imap.StatusResponseTypeBye, Code: b.status.Code, Text: b.status.Text}
		} else {
			v, err = parseBatch(s, cmd, b)
		}
	}
	d := time.Since(start)
	c.metrics.Observe(name, err, d)

	ev := s.log.Debug()
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Str("cmd", name).Dur("duration", d).Msg("命令完成")

	if err != nil {
		return zero, err
	}
	return v, nil
}

func (c *Client) acquire(ctx context.Context, flags commandFlags) (*session, error) {
	if _, err := c.current(flags); err != nil {
		return nil, err
	}
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	s, err := c.current(flags)
	if err != nil {
		c.gate.Release(1)
		return nil, err
	}
	return s, nil
}

func (c *Client) current(flags commandFlags) (*session, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	switch {
	case c.session == nil:
		return nil, imap.ErrNotConnected
	case c.broken:
		return nil, imap.ErrSessionBroken
	case c.connErr != nil:
		return nil, &imap.TransportError{Op: "read", Err: c.connErr}
	case !c.authenticated && flags&flagNotAuthenticated == 0:
		return nil, imap.ErrNotAuthenticated
	}
	return c.session, nil
}

// wait 写入 data（如果有）并等待批次完成。
func (c *Client) wait(ctx context.Context, s *session, b *responseBatch, data []byte, onChallenge func(*imapwire.Response) ([]byte, error)) error {
	if data != nil {
		if err := s.conn.Write(data); err != nil {
			c.clearPending(b)
			return err
		}
	}

	var timeout <-chan time.Time
	if d := c.options.commandTimeout(); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	var challengeErr error
	for {
		select {
		case err := <-b.done:
			if err == nil && challengeErr != nil && (b.status == nil || b.status.Type != imap.StatusResponseTypeOK) {
				return challengeErr
			}
			return err
		case resp := <-b.challenge:
			var reply []byte
			if onChallenge != nil && challengeErr == nil {
				var err error
				reply, err = onChallenge(resp)
				if err != nil {
					challengeErr = err
					reply = []byte("\"*\"\r\n") // 取消交换
				}
			} else {
				reply = []byte("\"*\"\r\n")
			}
			if err := s.conn.Write(reply); err != nil {
				c.clearPending(b)
				return err
			}
		case <-ctx.Done():
			return c.breakSession(s, b, ctx.Err())
		case <-timeout:
			return c.breakSession(s, b, errCommandTimeout)
		}
	}
}

func (c *Client) clearPending(b *responseBatch) {
	c.mutex.Lock()
	if c.pending == b {
		c.pending = nil
	}
	c.mutex.Unlock()
}

func (c *Client) breakSession(s *session, b *responseBatch, cause error) error {
	c.mutex.Lock()
	if c.session == s {
		c.broken = true
	}
	if c.pending == b {
		c.pending = nil
	}
	c.mutex.Unlock()

	s.log.Error().Err(cause).Str("cmd", b.name).Msg("命令未完成，关闭连接")
	s.conn.Close()
	return fmt.Errorf("%w: %v: %w", imap.ErrSessionBroken, b.name, cause)
}

func parseBatch[T any](s *session, cmd command[T], b *responseBatch) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("cmd", b.name).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("解析响应时发生 panic")
			var zero T
			v, err = zero, &imap.ParseError{Command: b.name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if b.status == nil {
		return v, &imap.ParseError{Command: b.name, Err: errors.New("缺少完成响应")}
	}
	if err := b.status.Err(); err != nil {
		return v, err
	}
	return cmd.parse(b)
}

// deliverFunc 返回读取 goroutine 对每行调用的回调。
func (c *Client) deliverFunc(s *session) func(resp *imapwire.Response) bool {
	return func(resp *imapwire.Response) (pause bool) {
		c.mutex.Lock()
		defer c.mutex.Unlock()

		b := c.pending
		if c.session != s {
			b = nil
		}
		if b == nil {
			s.log.Warn().Str("line", resp.String()).Msg("没有等待中的命令，忽略响应")
			return false
		}

		st, ok := readStatus(resp)
		if !ok {
			if b.interactive {
				select {
				case b.challenge <- resp:
				default:
					s.log.Warn().Str("line", resp.String()).Msg("质询未被处理")
				}
				return false
			}
			b.lines = append(b.lines, resp)
			return false
		}

		b.status = st
		b.final = resp
		c.pending = nil
		if b.pauseOnOK && st.Type == imap.StatusResponseTypeOK {
			pause = true
		}
		b.finish(nil)
		return pause
	}
}

func (c *Client) closedFunc(s *session) func(err error) {
	return func(err error) {
		if err == nil {
			err = io.EOF
		}

		c.mutex.Lock()
		defer c.mutex.Unlock()
		if c.session != s {
			return
		}
		c.connErr = err
		if b := c.pending; b != nil {
			c.pending = nil
			b.finish(&imap.TransportError{Op: "read", Err: err})
		}
		s.log.Debug().Err(err).Msg("连接已关闭")
	}
}
