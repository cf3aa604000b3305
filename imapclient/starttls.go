package imapclient

import (
	"context"
	"crypto/tls"
	"errors"

	"github.com/luhaoyun888/go-minig"
	"github.com/luhaoyun888/go-minig/internal/imapwire"
)

// StartTLS 发送 STARTTLS 命令，并在服务器确认后将连接原地升级为 TLS。
//
// 服务器没有通告 STARTTLS 或以 NO/BAD 拒绝时，只记录一条警告并返回 nil，
// 会话继续使用未加密的连接。TLS 握手失败时会话被拆除并返回 *imap.TransportError，
// 之后可以再次连接。
func (c *Client) StartTLS(ctx context.Context) error {
	if c.Encrypted() {
		return nil
	}
	log := c.logger()
	if caps := c.Caps(); caps != nil && !caps.Has(imap.CapStartTLS) {
		log.Warn().Msg("服务器不支持 STARTTLS，继续使用未加密的连接")
		return nil
	}

	_, err := execute(ctx, c, &startTLSCommand{config: c.options.TLSConfig})
	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		log.Warn().Err(err).Msg("服务器拒绝了 STARTTLS，继续使用未加密的连接")
		return nil
	} else if err != nil {
		if imap.IsTransportError(err) || errors.Is(err, imap.ErrSessionBroken) {
			// 连接已被关闭，不允许停留在半加密状态
			c.teardown()
		}
		return err
	}

	// 升级之前得知的能力不再可信
	c.mutex.Lock()
	c.caps = nil
	c.mutex.Unlock()
	return nil
}

// startTLSCommand 是 STARTTLS 命令。
//
// 读取 goroutine 在收到 OK 后暂停，由 upgrade 在调用方的 goroutine 上完成握手后恢复。
type startTLSCommand struct {
	config *tls.Config
}

func (*startTLSCommand) name() string                 { return "STARTTLS" }
func (*startTLSCommand) flags() commandFlags          { return flagNotAuthenticated | flagPauseOnOK }
func (*startTLSCommand) encode(enc *imapwire.Encoder) {}

func (cmd *startTLSCommand) upgrade(ctx context.Context, s *session) error {
	return s.conn.UpgradeTLS(ctx, cmd.config)
}

func (*startTLSCommand) parse(b *responseBatch) (struct{}, error) {
	return struct{}{}, nil
}
