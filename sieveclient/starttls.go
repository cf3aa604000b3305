package sieveclient

import (
	"context"
	"crypto/tls"
	"errors"

	"github.com/luhaoyun888/go-minig"
	"github.com/luhaoyun888/go-minig/internal/imapwire"
)

// StartTLS 发送 STARTTLS 命令，并在服务器确认后将连接原地升级为 TLS。
//
// 升级后服务器重新发送能力列表，缓存的能力随之更新。服务器不支持或拒绝
// STARTTLS 时只记录一条警告并返回 nil。
func (c *Client) StartTLS(ctx context.Context) error {
	if c.Encrypted() {
		return nil
	}
	log := c.logger()
	if caps := c.Caps(); caps != nil && !caps.Has("STARTTLS") {
		log.Warn().Msg("服务器不支持 STARTTLS，继续使用未加密的连接")
		return nil
	}

	_, err := execute(ctx, c, &startTLSCommand{config: c.options.TLSConfig})
	var imapErr *imap.Error
	if errors.As(err, &imapErr) && imapErr.Type == imap.StatusResponseTypeNo {
		log.Warn().Err(err).Msg("服务器拒绝了 STARTTLS，继续使用未加密的连接")
		return nil
	}
	return err
}

type startTLSCommand struct {
	config *tls.Config
}

func (*startTLSCommand) name() string                 { return "STARTTLS" }
func (*startTLSCommand) flags() commandFlags          { return flagNotAuthenticated | flagPauseOnOK }
func (*startTLSCommand) encode(enc *imapwire.Encoder) {}

// upgrade 在读取 goroutine 暂停时完成握手，然后读取服务器重新发送的能力列表。
func (cmd *startTLSCommand) upgrade(ctx context.Context, c *Client, s *session) error {
	b := newResponseBatch("STARTTLS")
	c.mutex.Lock()
	c.pending = b
	c.mutex.Unlock()

	if err := s.conn.UpgradeTLS(ctx, cmd.config); err != nil {
		c.clearPending(b)
		return err
	}
	if err := c.wait(ctx, s, b, nil, nil); err != nil {
		return err
	}
	caps, err := parseBatch(s, &capabilityCommand{}, b)
	if err != nil {
		return err
	}
	c.mutex.Lock()
	c.caps = caps
	c.mutex.Unlock()
	return nil
}

func (*startTLSCommand) parse(b *responseBatch) (struct{}, error) {
	return struct{}{}, nil
}
