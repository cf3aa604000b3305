package imapclient

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

var (
	errCommandTimeout = errors.New("命令超时")
	errIdleEnded      = errors.New("IDLE 已经结束")
)

// command 是一条 IMAP 命令。
//
// encode 写入命令名称之后的参数（包括前导空格），parse 在调用方的 goroutine
// 上解析一个以 OK 结束的响应批次。
type command[T any] interface {
	name() string
	encode(enc *imapwire.Encoder)
	parse(b *responseBatch) (T, error)
}

// commandFlags 改变引擎对命令的处理方式。
type commandFlags uint8

const (
	flagNotAuthenticated commandFlags = 1 << iota // 认证之前也可以发送
	flagWhileIdle                                 // IDLE 期间发送
	flagCompleteOnCont                            // 收到 "+" 即完成
	flagPauseOnOK                                 // 收到 OK 后暂停读取，直到 TLS 升级完成
	flagJoinIdle                                  // IDLE 期间也可以获取执行权，由 prepare 决定是否发送
)

type flaggedCommand interface {
	flags() commandFlags
}

// rawCommand 自己提供要等待的标签和要写入的数据，不分配新标签。
type rawCommand interface {
	raw(c *Client) (tag string, data []byte)
}

// preparer 在持有 gate 之后、发送命令之前运行。返回 true 时命令不发送。
type preparer interface {
	prepare(c *Client) (skip bool)
}

// interactiveCommand 处理命令参数写完后服务器发来的继续请求，例如 SASL 质询。
type interactiveCommand interface {
	onContinue(resp *imapwire.Response) ([]byte, error)
}

// upgrader 在带有 flagPauseOnOK 的命令成功后升级连接。
type upgrader interface {
	upgrade(ctx context.Context, s *session) error
}

func flagsOf(cmd any) commandFlags {
	if f, ok := cmd.(flaggedCommand); ok {
		return f.flags()
	}
	return 0
}

// responseBatch 收集一条命令的全部响应。
//
// 读取 goroutine 只在持有 Client.mutex 时追加数据；完成信号发出后，
// 批次只属于等待它的调用方。
type responseBatch struct {
	name   string
	tag    string
	lines  []*imapwire.Response
	status *imapwire.StatusLine // 完成响应，无法解析时为 nil
	final  *imapwire.Response

	greeting       bool
	completeOnCont bool
	pauseOnOK      bool
	endsIdle       bool

	cont     chan *imapwire.Response
	done     chan error
	finished bool
}

func newResponseBatch(tag, name string) *responseBatch {
	return &responseBatch{
		name: name,
		tag:  tag,
		cont: make(chan *imapwire.Response, 1),
		done: make(chan error, 1),
	}
}

// finish 发出完成信号，只生效一次。调用方必须持有 Client.mutex。
func (b *responseBatch) finish(err error) {
	if b.finished {
		return
	}
	b.finished = true
	b.done <- err
}

// line 返回第 i 行的原始内容，用于错误信息。
func (b *responseBatch) line(i int) string {
	if i < 0 || i >= len(b.lines) {
		return ""
	}
	return b.lines[i].String()
}

// each 对每个类型为 typ 的非标签响应调用 f。f 返回错误时停止并返回 *imap.ParseError。
func (b *responseBatch) each(typ string, f func(num uint32, dec *imapwire.Decoder) error) error {
	for _, resp := range b.lines {
		t, num := resp.Type()
		if t != typ {
			continue
		}
		dec := resp.Data()
		if startsWithDigit(resp) {
			dec.Number(new(uint32))
			dec.SP()
		}
		var atom string
		dec.Atom(&atom)
		if err := f(num, dec); err != nil {
			return &imap.ParseError{Command: b.name, Line: resp.String(), Err: err}
		}
	}
	return nil
}

func startsWithDigit(resp *imapwire.Response) bool {
	return len(resp.Raw) > 2 && resp.Raw[2] >= '0' && resp.Raw[2] <= '9'
}

// execute 执行一条命令并返回解析结果。
//
// 同一时刻只有一条命令在执行。NO/BAD 返回 *imap.Error，无法解析的响应返回
// *imap.ParseError，连接故障返回 *imap.TransportError。
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

	if p, ok := cmd.(preparer); ok && p.prepare(c) {
		return zero, nil
	}

	start := time.Now()
	b, err := c.roundTrip(ctx, s, cmd, flags)
	if err == nil && b.pauseOnOK && b.status != nil && b.status.Type == imap.StatusResponseTypeOK {
		// 读取 goroutine 已暂停，必须由 upgrade 恢复
		err = cmd.(upgrader).upgrade(ctx, s)
	}
	var v T
	if err == nil {
		v, err = parseBatch(s, cmd, b)
	}
	d := time.Since(start)
	c.metrics.Observe(name, err, d)

	ev := s.log.Debug()
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Str("tag", b.tagOrEmpty()).Str("cmd", name).Dur("duration", d).Msg("命令完成")

	if err != nil {
		return zero, err
	}
	return v, nil
}

func (b *responseBatch) tagOrEmpty() string {
	if b == nil {
		return ""
	}
	return b.tag
}

// acquire 检查会话状态并获取执行权。调用方必须在成功后释放 gate。
func (c *Client) acquire(ctx context.Context, flags commandFlags) (*session, error) {
	if _, err := c.current(flags); err != nil {
		return nil, err
	}
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	// 等待期间状态可能已经改变
	s, err := c.current(flags)
	if err == nil {
		idling := c.idle.active()
		switch {
		case idling && flags&(flagWhileIdle|flagJoinIdle) == 0:
			err = imap.ErrIdling
		case !idling && flags&flagWhileIdle != 0:
			// 等待期间 IDLE 已由其他调用方或服务器结束
			err = errIdleEnded
		}
	}
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

// roundTrip 写入命令并等待其完成。只能在持有 gate 时调用。
func (c *Client) roundTrip(ctx context.Context, s *session, cmd interface {
	name() string
	encode(enc *imapwire.Encoder)
}, flags commandFlags) (*responseBatch, error) {
	var (
		tag      string
		segments [][]byte
	)
	raw, isRaw := cmd.(rawCommand)
	if !isRaw {
		tag = c.tags.next()
		enc := imapwire.NewEncoder()
		enc.LiteralPlus = c.Caps().Has(imap.CapLiteralPlus)
		enc.Atom(tag).SP().Atom(cmd.name())
		cmd.encode(enc)
		enc.CRLF()
		segments = enc.Segments()
	}

	b := newResponseBatch(tag, cmd.name())
	b.completeOnCont = flags&flagCompleteOnCont != 0
	b.pauseOnOK = flags&flagPauseOnOK != 0
	b.endsIdle = flags&flagWhileIdle != 0

	var onCont func(*imapwire.Response) ([]byte, error)
	if ic, ok := cmd.(interactiveCommand); ok {
		onCont = ic.onContinue
	}

	c.mutex.Lock()
	if isRaw {
		// 与投递回调互斥，保证等待的标签在安装 pending 之前不会被完成
		var data []byte
		tag, data = raw.raw(c)
		if tag == "" {
			c.mutex.Unlock()
			return nil, errIdleEnded
		}
		b.tag = tag
		segments = [][]byte{data}
	}
	c.pending = b
	c.mutex.Unlock()

	if err := c.wait(ctx, s, b, segments, onCont); err != nil {
		return b, err
	}
	return b, nil
}

// wait 写入 segments 并等待批次完成。
//
// 第一个片段立即写入，其余片段各自在收到一个 "+" 继续请求后写入。
// ctx 被取消或超过命令期限时，会话被标记为损坏并关闭连接。
func (c *Client) wait(ctx context.Context, s *session, b *responseBatch, segments [][]byte, onCont func(*imapwire.Response) ([]byte, error)) error {
	if len(segments) > 0 {
		if err := s.conn.Write(segments[0]); err != nil {
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

	var interactErr error
	next := 1
	for {
		select {
		case err := <-b.done:
			if err == nil && interactErr != nil {
				// 服务器已经拒绝了被取消的交换，报告更具体的原因
				if b.status == nil || b.status.Type != imap.StatusResponseTypeOK {
					return interactErr
				}
			}
			return err
		case resp := <-b.cont:
			var data []byte
			switch {
			case next < len(segments):
				data = segments[next]
				next++
			case onCont != nil && interactErr == nil:
				var err error
				data, err = onCont(resp)
				if err != nil {
					interactErr = err
					data = []byte("*\r\n") // 取消交换
				}
			default:
				s.log.Warn().Str("cmd", b.name).Str("line", resp.String()).Msg("忽略意外的继续请求")
				continue
			}
			if err := s.conn.Write(data); err != nil {
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

// breakSession 放弃一条未完成的命令。
//
// 响应流已经无法与命令重新对齐，所以会话被标记为损坏，连接被关闭。
func (c *Client) breakSession(s *session, b *responseBatch, cause error) error {
	c.mutex.Lock()
	if c.session == s {
		c.broken = true
	}
	if c.pending == b {
		c.pending = nil
	}
	c.mutex.Unlock()

	s.log.Error().Err(cause).Str("tag", b.tag).Str("cmd", b.name).Msg("命令未完成，关闭连接")
	s.conn.Close()
	return fmt.Errorf("%w: %v: %w", imap.ErrSessionBroken, b.name, cause)
}

// parseBatch 检查完成状态并解析批次。解析过程中的 panic 被转换为 *imap.ParseError。
func parseBatch[T any](s *session, cmd command[T], b *responseBatch) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("cmd", b.name).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("解析响应时发生 panic")
			var zero T
			v, err = zero, &imap.ParseError{Command: b.name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if b.status == nil {
		line := ""
		if b.final != nil {
			line = b.final.String()
		}
		return v, &imap.ParseError{Command: b.name, Line: line, Err: errors.New("无法解析的完成响应")}
	}
	if err := b.status.Err(); err != nil {
		return v, err
	}
	return cmd.parse(b)
}

// deliverFunc 返回读取 goroutine 对每条响应调用的回调。
//
// 回调从不阻塞：它只在持有 mutex 时追加数据、切换 IDLE 状态或发出完成信号。
func (c *Client) deliverFunc(s *session) func(resp *imapwire.Response) bool {
	return func(resp *imapwire.Response) (pause bool) {
		var unilateral func()

		c.mutex.Lock()
		b := c.pending
		if c.session != s {
			b = nil
		}

		switch resp.Kind {
		case imapwire.ResponseContinuation:
			switch {
			case b == nil:
				s.log.Warn().Str("line", resp.String()).Msg("没有等待中的命令，忽略继续请求")
			case b.completeOnCont:
				b.status = &imapwire.StatusLine{Type: imap.StatusResponseTypeOK}
				b.final = resp
				c.pending = nil
				c.idle.activate(b.tag)
				b.finish(nil)
			default:
				select {
				case b.cont <- resp:
				default:
					s.log.Warn().Str("line", resp.String()).Msg("继续请求未被处理")
				}
			}

		case imapwire.ResponseTagged:
			if b == nil || b.tag != resp.Tag {
				if c.idle.active() && resp.Tag == c.idle.tag() {
					// 服务器自行结束了 IDLE
					c.idle.shutdown(&IdleEvent{Kind: IdleEventTerminated, Line: resp.String()})
					break
				}
				s.log.Warn().Str("line", resp.String()).Msg("忽略未知标签的响应")
				break
			}
			st, _ := resp.Status()
			b.status = st
			b.final = resp
			c.pending = nil
			if b.endsIdle {
				c.idle.shutdown(nil)
			}
			if b.pauseOnOK && st != nil && st.Type == imap.StatusResponseTypeOK {
				pause = true
			}
			b.finish(nil)

		case imapwire.ResponseUntagged:
			typ, num := resp.Type()
			if typ == string(imap.StatusResponseTypeBye) {
				c.bye = true
			}
			switch {
			case b != nil && b.greeting:
				b.lines = append(b.lines, resp)
				b.status, _ = resp.Status()
				b.final = resp
				c.pending = nil
				b.finish(nil)
			case c.idle.active():
				c.idle.push(newIdleEvent(typ, num, resp))
			case b != nil:
				b.lines = append(b.lines, resp)
			default:
				unilateral = func() { c.handleUnilateral(s, typ, num, resp) }
			}
		}
		c.mutex.Unlock()

		if unilateral != nil {
			unilateral()
		}
		return pause
	}
}

// closedFunc 返回读取 goroutine 退出时调用的回调。
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
		if c.idle.active() {
			c.idle.shutdown(&IdleEvent{Kind: IdleEventClosed})
		}
		if !c.bye {
			s.log.Warn().Err(err).Msg("连接意外关闭")
		}
	}
}
