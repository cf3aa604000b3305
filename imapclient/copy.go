package imapclient

import (
	"context"

	"github.com/luhaoyun888/go-minig"
	"github.com/luhaoyun888/go-minig/internal/imapwire"
)

// UIDCopy 发送 UID COPY 命令，返回复制后的消息在 dest 中的 UID。
//
// 返回的 UID 与 uids 中的源 UID 按升序一一对应。服务器不支持 UIDPLUS 时返回 nil。
func (c *Client) UIDCopy(ctx context.Context, uids imap.UIDSet, dest string) ([]imap.UID, error) {
	data, err := c.UIDCopyData(ctx, uids, dest)
	if err != nil {
		return nil, err
	}
	destUIDs, _ := data.DestUIDs.Nums()
	return destUIDs, nil
}

// UIDCopyData 与 UIDCopy 相同，但返回完整的 COPYUID 数据。
func (c *Client) UIDCopyData(ctx context.Context, uids imap.UIDSet, dest string) (*imap.CopyData, error) {
	return execute(ctx, c, &copyCommand{uids: uids, dest: dest})
}

type copyCommand struct {
	uids imap.UIDSet
	dest string
}

func (*copyCommand) name() string { return "UID COPY" }

func (cmd *copyCommand) encode(enc *imapwire.Encoder) {
	enc.SP().UIDSet(cmd.uids).SP().Mailbox(cmd.dest)
}

func (*copyCommand) parse(b *responseBatch) (*imap.CopyData, error) {
	var data imap.CopyData
	if b.status.Code != imap.ResponseCodeCopyUID {
		return &data, nil
	}
	// COPYUID <uidvalidity> <源 UID 集合> <目标 UID 集合>
	dec := imapwire.NewDecoder([]byte(b.status.CodeArg))
	if !dec.ExpectNumber(&data.UIDValidity) || !dec.ExpectSP() ||
		!dec.ExpectUIDSet(&data.SourceUIDs) || !dec.ExpectSP() || !dec.ExpectUIDSet(&data.DestUIDs) {
		return nil, &imap.ParseError{Command: b.name, Line: b.final.String(), Err: dec.Err()}
	}
	return &data, nil
}
