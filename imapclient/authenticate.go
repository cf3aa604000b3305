package imapclient

import (
	"context"
	"fmt"

	"github.com/emersion/go-sasl"

	"github.com/luhaoyun888/go-minig"
	"github.com/luhaoyun888/go-minig/internal"
	"github.com/luhaoyun888/go-minig/internal/imapwire"
)

// loginCommand 是 LOGIN 命令，结果为完成响应中携带的能力（如果有）。
type loginCommand struct {
	username, password string
}

func (*loginCommand) name() string        { return "LOGIN" }
func (*loginCommand) flags() commandFlags { return flagNotAuthenticated }

func (cmd *loginCommand) encode(enc *imapwire.Encoder) {
	enc.SP().String(cmd.username).SP().String(cmd.password)
}

func (cmd *loginCommand) parse(b *responseBatch) (imap.CapSet, error) {
	return capsFromBatch(b), nil
}

// capsFromBatch 返回完成响应或非标签 CAPABILITY 响应中的能力，都没有时返回 nil。
func capsFromBatch(b *responseBatch) imap.CapSet {
	if b.status != nil && b.status.Code == imap.ResponseCodeCapability {
		return parseCapabilityArg(b.status.CodeArg)
	}
	var caps imap.CapSet
	b.each("CAPABILITY", func(_ uint32, dec *imapwire.Decoder) error {
		caps, _ = readCapabilities(dec)
		return nil
	})
	return caps
}

// setAuthenticated 在身份验证成功后更新会话状态。
func (c *Client) setAuthenticated(caps imap.CapSet) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.authenticated = true
	// 服务器在认证后可能通告不同的能力
	c.caps = caps
}

// Authenticate 发送 AUTHENTICATE 命令。
//
// 与其他命令不同，此方法会阻塞，直到 SASL 交换完成。服务器通告 SASL-IR 时，
// 初始响应随命令一起发送。
func (c *Client) Authenticate(ctx context.Context, saslClient sasl.Client) error {
	mech, initialResp, err := saslClient.Start() // 启动 SASL 认证
	if err != nil {
		return err
	}

	cmd := &authenticateCommand{mech: mech, client: saslClient}
	if initialResp != nil {
		if c.Caps().Has(imap.CapSASLIR) {
			cmd.initialResp = internal.EncodeSASL(initialResp)
		} else {
			cmd.pendingResp = initialResp
		}
	}
	caps, err := execute(ctx, c, cmd)
	if err != nil {
		return err
	}
	c.setAuthenticated(caps)
	return nil
}

type authenticateCommand struct {
	mech        string
	initialResp string
	pendingResp []byte // 等待服务器以空质询索取的初始响应
	client      sasl.Client
}

func (*authenticateCommand) name() string        { return "AUTHENTICATE" }
func (*authenticateCommand) flags() commandFlags { return flagNotAuthenticated }

func (cmd *authenticateCommand) encode(enc *imapwire.Encoder) {
	enc.SP().Atom(cmd.mech)
	if cmd.initialResp != "" {
		enc.SP().Atom(cmd.initialResp) // 添加初始响应
	}
}

// onContinue 回应一个 SASL 质询。
func (cmd *authenticateCommand) onContinue(resp *imapwire.Response) ([]byte, error) {
	var challengeStr string
	dec := resp.Data()
	dec.Text(&challengeStr)

	if challengeStr == "" && cmd.pendingResp != nil {
		data := cmd.pendingResp
		cmd.pendingResp = nil
		return []byte(internal.EncodeSASL(data) + "\r\n"), nil
	}

	challenge, err := internal.DecodeSASL(challengeStr) // 解码挑战
	if err != nil {
		return nil, fmt.Errorf("imapclient: 无效的 SASL 质询: %w", err)
	}
	next, err := cmd.client.Next(challenge)
	if err != nil {
		return nil, err
	}
	return []byte(internal.EncodeSASL(next) + "\r\n"), nil
}

func (cmd *authenticateCommand) parse(b *responseBatch) (imap.CapSet, error) {
	return capsFromBatch(b), nil
}

// logoutCommand 是 LOGOUT 命令。
type logoutCommand struct{}

func (*logoutCommand) name() string                 { return "LOGOUT" }
func (*logoutCommand) flags() commandFlags          { return flagNotAuthenticated }
func (*logoutCommand) encode(enc *imapwire.Encoder) {}

func (*logoutCommand) parse(b *responseBatch) (struct{}, error) {
	return struct{}{}, nil
}
