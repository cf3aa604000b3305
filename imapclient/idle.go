package imapclient

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/luhaoyun888/go-minig/internal/imapwire"
)

// IdleState 是 IDLE 子状态机的状态。
type IdleState int

const (
	IdleInactive IdleState = iota // 未处于 IDLE
	IdleActive                    // IDLE 正在运行，普通命令会立即失败
)

func (state IdleState) String() string {
	switch state {
	case IdleInactive:
		return "inactive"
	case IdleActive:
		return "active"
	default:
		panic(fmt.Errorf("imapclient: 未知的 IDLE 状态 %v", int(state)))
	}
}

// IdleEventKind 是 IDLE 事件的类型。
type IdleEventKind int

const (
	IdleEventExists     IdleEventKind = iota // "* n EXISTS"
	IdleEventRecent                          // "* n RECENT"
	IdleEventExpunge                         // "* n EXPUNGE"
	IdleEventFetch                           // "* n FETCH (...)"
	IdleEventOther                           // 其他非标签响应
	IdleEventTerminated                      // 服务器结束了 IDLE
	IdleEventClosed                          // 连接已关闭，这是最后一个事件
)

// IdleEvent 是 IDLE 期间服务器推送的一条数据。
type IdleEvent struct {
	Kind IdleEventKind
	Num  uint32 // 消息数量或序号，取决于 Kind
	Line string // 原始响应行
}

func newIdleEvent(typ string, num uint32, resp *imapwire.Response) *IdleEvent {
	ev := &IdleEvent{Kind: IdleEventOther, Num: num, Line: resp.String()}
	switch typ {
	case "EXISTS":
		ev.Kind = IdleEventExists
	case "RECENT":
		ev.Kind = IdleEventRecent
	case "EXPUNGE":
		ev.Kind = IdleEventExpunge
	case "FETCH":
		ev.Kind = IdleEventFetch
	}
	return ev
}

// IdleObserver 接收 IDLE 事件。
//
// OnIdleEvent 在一个专用的 goroutine 上按顺序调用。
type IdleObserver interface {
	OnIdleEvent(ev *IdleEvent)
}

// IdleObserverFunc 将普通函数适配为 IdleObserver。
type IdleObserverFunc func(ev *IdleEvent)

func (f IdleObserverFunc) OnIdleEvent(ev *IdleEvent) {
	f(ev)
}

// IdleSubscription 表示一个已注册的观察者。
type IdleSubscription struct {
	ic       *idleController
	observer IdleObserver
}

// Detach 移除此观察者。IDLE 本身继续运行。
func (sub *IdleSubscription) Detach() {
	sub.ic.detach(sub)
}

// idleController 保存 IDLE 状态和观察者，并把事件分发给观察者。
//
// 投递回调只把事件放入队列；观察者在分发 goroutine 上调用。
type idleController struct {
	mutex     sync.Mutex
	state     IdleState
	idleTag   string
	observers []*IdleSubscription
	queue     []*IdleEvent
	run       *idleRun
}

// idleRun 是一次 IDLE 期间的分发 goroutine。
type idleRun struct {
	notify chan struct{}
	stop   chan struct{}

	final       []*IdleSubscription
	finalEvents []*IdleEvent
}

func (ic *idleController) active() bool {
	ic.mutex.Lock()
	defer ic.mutex.Unlock()
	return ic.state == IdleActive
}

func (ic *idleController) tag() string {
	ic.mutex.Lock()
	defer ic.mutex.Unlock()
	return ic.idleTag
}

func (ic *idleController) attach(sub *IdleSubscription) {
	ic.mutex.Lock()
	ic.observers = append(ic.observers, sub)
	ic.mutex.Unlock()
}

func (ic *idleController) detach(sub *IdleSubscription) {
	ic.mutex.Lock()
	defer ic.mutex.Unlock()
	ic.observers = slices.DeleteFunc(ic.observers, func(other *IdleSubscription) bool {
		return other == sub
	})
}

// activate 在 IDLE 命令收到继续请求时调用。
func (ic *idleController) activate(tag string) {
	ic.mutex.Lock()
	defer ic.mutex.Unlock()
	ic.state = IdleActive
	ic.idleTag = tag
	if ic.run == nil {
		run := &idleRun{
			notify: make(chan struct{}, 1),
			stop:   make(chan struct{}),
		}
		ic.run = run
		go ic.dispatch(run)
	}
}

// push 将事件放入队列，从不阻塞。
func (ic *idleController) push(ev *IdleEvent) {
	ic.mutex.Lock()
	defer ic.mutex.Unlock()
	ic.queue = append(ic.queue, ev)
	if ic.run != nil {
		select {
		case ic.run.notify <- struct{}{}:
		default:
		}
	}
}

// shutdown 结束 IDLE，移除所有观察者并停止分发 goroutine。
//
// 只在持有 Client.mutex 的投递回调或连接关闭回调中调用。
// 已排队的事件和 final（如果有）会在停止前分发给被移除的观察者。
func (ic *idleController) shutdown(final *IdleEvent) {
	ic.mutex.Lock()
	defer ic.mutex.Unlock()
	ic.state = IdleInactive
	ic.idleTag = ""
	if run := ic.run; run != nil {
		if final != nil {
			ic.queue = append(ic.queue, final)
		}
		run.final = ic.observers
		run.finalEvents = ic.queue
		ic.queue = nil
		ic.run = nil
		close(run.stop)
	}
	ic.observers = nil
}

func (ic *idleController) dispatch(run *idleRun) {
	for {
		stopped := false
		select {
		case <-run.notify:
		case <-run.stop:
			stopped = true
		}

		var (
			events    []*IdleEvent
			observers []*IdleSubscription
		)
		ic.mutex.Lock()
		if stopped {
			events, observers = run.finalEvents, run.final
		} else if ic.run == run {
			events, observers = ic.queue, slices.Clone(ic.observers)
			ic.queue = nil
		}
		ic.mutex.Unlock()

		for _, ev := range events {
			for _, sub := range observers {
				sub.observer.OnIdleEvent(ev)
			}
		}
		if stopped {
			return
		}
	}
}

// IdleState 返回当前的 IDLE 状态。
func (c *Client) IdleState() IdleState {
	if c.idle.active() {
		return IdleActive
	}
	return IdleInactive
}

// StartIdle 注册 observer，并在 IDLE 尚未运行时发送 IDLE 命令。
//
// IDLE 在服务器发出继续请求后即视为开始，此后服务器推送的所有数据都分发给观察者，
// 除 StopIdle 之外的其他命令都会立即以 imap.ErrIdling 失败。IDLE 已经运行时
// 只添加观察者，不重新发送命令。观察者在持有执行权时注册，因此不会被
// 正在进行的 StopIdle 移除。
func (c *Client) StartIdle(ctx context.Context, observer IdleObserver) (*IdleSubscription, error) {
	cmd := &idleCommand{sub: &IdleSubscription{ic: &c.idle, observer: observer}}
	if _, err := execute(ctx, c, cmd); err != nil {
		cmd.sub.Detach()
		return nil, err
	}
	return cmd.sub, nil
}

// StopIdle 发送 DONE 并等待 IDLE 命令完成。IDLE 结束时所有观察者都被移除。
//
// 未处于 IDLE 状态时不执行任何操作，IDLE 在等待执行权期间结束时也一样。
func (c *Client) StopIdle(ctx context.Context) error {
	if c.IdleState() != IdleActive {
		return nil
	}
	_, err := execute(ctx, c, &doneCommand{})
	if errors.Is(err, errIdleEnded) {
		return nil
	}
	return err
}

// idleCommand 是 IDLE 命令，在收到继续请求时完成。
type idleCommand struct {
	sub *IdleSubscription
}

func (*idleCommand) name() string                 { return "IDLE" }
func (*idleCommand) encode(enc *imapwire.Encoder) {}
func (*idleCommand) flags() commandFlags          { return flagCompleteOnCont | flagJoinIdle }

// prepare 注册观察者。IDLE 已经在运行时不再发送命令。
func (cmd *idleCommand) prepare(c *Client) bool {
	c.idle.attach(cmd.sub)
	return c.idle.active()
}

func (*idleCommand) parse(b *responseBatch) (struct{}, error) {
	return struct{}{}, nil
}

// doneCommand 结束 IDLE。它不使用新标签，而是等待 IDLE 命令的完成响应。
type doneCommand struct{}

func (*doneCommand) name() string                 { return "DONE" }
func (*doneCommand) encode(enc *imapwire.Encoder) {}
func (*doneCommand) flags() commandFlags          { return flagWhileIdle }

func (*doneCommand) raw(c *Client) (string, []byte) {
	return c.idle.tag(), []byte("DONE\r\n")
}

func (*doneCommand) parse(b *responseBatch) (struct{}, error) {
	return struct{}{}, nil
}
