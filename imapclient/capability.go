package imapclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/luhaoyun888/go-minig"
	"github.com/luhaoyun888/go-minig/internal/imapwire"
)

// Capabilities 发送 CAPABILITY 命令并返回服务器的能力集合。
//
// 结果会被缓存，Caps 随后返回同一集合。
func (c *Client) Capabilities(ctx context.Context) (imap.CapSet, error) {
	caps, err := execute(ctx, c, &capabilityCommand{})
	if err != nil {
		return nil, err
	}
	c.mutex.Lock()
	c.caps = caps
	c.mutex.Unlock()
	return caps, nil
}

// Caps 返回最近一次得知的能力集合，不执行 I/O。尚不知道时返回 nil。
func (c *Client) Caps() imap.CapSet {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.caps
}

// Noop 发送 NOOP 命令。
func (c *Client) Noop(ctx context.Context) error {
	_, err := execute(ctx, c, &noopCommand{})
	return err
}

type capabilityCommand struct{}

func (*capabilityCommand) name() string                 { return "CAPABILITY" }
func (*capabilityCommand) flags() commandFlags          { return flagNotAuthenticated }
func (*capabilityCommand) encode(enc *imapwire.Encoder) {}

func (*capabilityCommand) parse(b *responseBatch) (imap.CapSet, error) {
	var caps imap.CapSet
	err := b.each("CAPABILITY", func(_ uint32, dec *imapwire.Decoder) error {
		var err error
		caps, err = readCapabilities(dec)
		return err
	})
	if err != nil {
		return nil, err
	}
	if caps == nil {
		return nil, &imap.ParseError{Command: b.name, Err: fmt.Errorf("缺少 CAPABILITY 响应")}
	}
	return caps, nil
}

type noopCommand struct{}

func (*noopCommand) name() string                 { return "NOOP" }
func (*noopCommand) flags() commandFlags          { return flagNotAuthenticated }
func (*noopCommand) encode(enc *imapwire.Encoder) {}

func (*noopCommand) parse(b *responseBatch) (struct{}, error) {
	return struct{}{}, nil
}

// readCapabilities 读取能力数据并返回能力集合。
func readCapabilities(dec *imapwire.Decoder) (imap.CapSet, error) {
	caps := make(imap.CapSet)
	for dec.SP() {
		var name string
		if !dec.ExpectAtom(&name) {
			return caps, fmt.Errorf("在能力数据中: %v", dec.Err())
		}
		caps[imap.Cap(name)] = struct{}{}
	}
	return caps, nil
}

// parseCapabilityArg 解析 "[CAPABILITY ...]" 响应代码的参数。
func parseCapabilityArg(arg string) imap.CapSet {
	return imap.NewCapSet(strings.Fields(arg)...)
}
