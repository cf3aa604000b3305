package sieveclient

import (
	"context"
	"strings"

	"github.com/luhaoyun888/go-minig/internal/imapwire"
)

// Capabilities 是服务器通告的能力，键为大写的能力名称，值为其参数（可能为空）。
type Capabilities map[string]string

// Has 报告服务器是否通告了能力 name。
func (caps Capabilities) Has(name string) bool {
	_, ok := caps[strings.ToUpper(name)]
	return ok
}

// Implementation 返回服务器实现的名称。
func (caps Capabilities) Implementation() string {
	return caps["IMPLEMENTATION"]
}

// SASLMechanisms 返回服务器支持的 SASL 机制。
func (caps Capabilities) SASLMechanisms() []string {
	return strings.Fields(caps["SASL"])
}

// Extensions 返回服务器支持的 Sieve 扩展，例如 "fileinto"。
func (caps Capabilities) Extensions() []string {
	return strings.Fields(caps["SIEVE"])
}

// Capabilities 发送 CAPABILITY 命令并缓存结果。
func (c *Client) Capabilities(ctx context.Context) (Capabilities, error) {
	caps, err := execute(ctx, c, &capabilityCommand{})
	if err != nil {
		return nil, err
	}
	c.mutex.Lock()
	c.caps = caps
	c.mutex.Unlock()
	return caps, nil
}

type capabilityCommand struct{}

func (*capabilityCommand) name() string                 { return "CAPABILITY" }
func (*capabilityCommand) flags() commandFlags          { return flagNotAuthenticated }
func (*capabilityCommand) encode(enc *imapwire.Encoder) {}

// parse 读取 `"SASL" "PLAIN LOGIN"` 形式的能力行。
func (*capabilityCommand) parse(b *responseBatch) (Capabilities, error) {
	caps := make(Capabilities)
	err := b.each(func(dec *imapwire.Decoder) error {
		var name, value string
		if !dec.ExpectString(&name) {
			return dec.Err()
		}
		if dec.SP() && !dec.ExpectString(&value) {
			return dec.Err()
		}
		caps[strings.ToUpper(name)] = value
		return nil
	})
	if err != nil {
		return nil, err
	}
	return caps, nil
}
