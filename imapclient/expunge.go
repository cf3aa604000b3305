package imapclient

import (
	"context"

	"github.com/luhaoyun888/go-minig/internal/imapwire"
)

// Expunge 发送 EXPUNGE 命令，永久删除当前邮箱中带有 \Deleted 标志的消息。
func (c *Client) Expunge(ctx context.Context) error {
	_, err := execute(ctx, c, &expungeCommand{})
	return err
}

// ExpungeSeqNums 与 Expunge 相同，但返回服务器报告的被删除消息的序号。
//
// 序号按服务器发送的顺序返回，每个序号都相对于之前的删除生效后的邮箱。
func (c *Client) ExpungeSeqNums(ctx context.Context) ([]uint32, error) {
	return execute(ctx, c, &expungeCommand{})
}

type expungeCommand struct{}

func (*expungeCommand) name() string                 { return "EXPUNGE" }
func (*expungeCommand) encode(enc *imapwire.Encoder) {}

func (*expungeCommand) parse(b *responseBatch) ([]uint32, error) {
	var seqNums []uint32
	for _, resp := range b.lines {
		if typ, num := resp.Type(); typ == "EXPUNGE" {
			seqNums = append(seqNums, num)
		}
	}
	return seqNums, nil
}
