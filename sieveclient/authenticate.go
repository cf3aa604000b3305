package sieveclient

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/emersion/go-sasl"

	"github.com/luhaoyun888/go-minig/internal"
	"github.com/luhaoyun888/go-minig/internal/imapwire"
)

func (c *Client) authenticatePlain(ctx context.Context) error {
	return c.Authenticate(ctx, sasl.NewPlainClient("", c.username, c.password))
}

// Authenticate 发送 AUTHENTICATE 命令，使用 saslClient 完成交换。
//
// 初始响应（如果有）总是随命令一起发送。
func (c *Client) Authenticate(ctx context.Context, saslClient sasl.Client) error {
	mech, initialResp, err := saslClient.Start()
	if err != nil {
		return err
	}
	cmd := &authenticateCommand{mech: mech, client: saslClient}
	if initialResp != nil {
		cmd.initialResp = base64.StdEncoding.EncodeToString(initialResp)
	}
	if _, err := execute(ctx, c, cmd); err != nil {
		return err
	}

	c.mutex.Lock()
	c.authenticated = true
	c.mutex.Unlock()
	log := c.logger()
	log.Debug().Str("mech", mech).Msg("身份验证成功")
	return nil
}

type authenticateCommand struct {
	mech        string
	initialResp string
	client      sasl.Client
}

func (*authenticateCommand) name() string        { return "AUTHENTICATE" }
func (*authenticateCommand) flags() commandFlags { return flagNotAuthenticated }

func (cmd *authenticateCommand) encode(enc *imapwire.Encoder) {
	enc.SP().Quoted(cmd.mech)
	if cmd.initialResp != "" {
		enc.SP().Quoted(cmd.initialResp)
	}
}

// onChallenge 回应一个以字符串形式发送的 SASL 质询。
func (cmd *authenticateCommand) onChallenge(resp *imapwire.Response) ([]byte, error) {
	var challengeStr string
	dec := imapwire.NewDecoder(resp.Raw)
	if !dec.ExpectString(&challengeStr) {
		return nil, fmt.Errorf("sieveclient: 无效的 SASL 质询: %w", dec.Err())
	}
	challenge, err := internal.DecodeSASL(challengeStr)
	if err != nil {
		return nil, fmt.Errorf("sieveclient: 无效的 SASL 质询: %w", err)
	}
	next, err := cmd.client.Next(challenge)
	if err != nil {
		return nil, err
	}
	// 与 IMAP 不同，空响应编码为空字符串
	enc := imapwire.NewEncoder()
	enc.Quoted(base64.StdEncoding.EncodeToString(next)).CRLF()
	return enc.Bytes(), nil
}

func (*authenticateCommand) parse(b *responseBatch) (struct{}, error) {
	return struct{}{}, nil
}

type logoutCommand struct{}

func (*logoutCommand) name() string                 { return "LOGOUT" }
func (*logoutCommand) flags() commandFlags          { return flagNotAuthenticated | flagAllowBye }
func (*logoutCommand) encode(enc *imapwire.Encoder) {}

func (*logoutCommand) parse(b *responseBatch) (struct{}, error) {
	return struct{}{}, nil
}
