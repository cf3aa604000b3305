package imapclient

import (
	"context"
	"fmt"
	"io"

	"github.com/luhaoyun888/go-minig"
	"github.com/luhaoyun888/go-minig/internal"
	"github.com/luhaoyun888/go-minig/internal/imapwire"
)

// Append 发送 APPEND 命令，将 r 中的消息追加到 mailbox。
//
// 服务器支持 UIDPLUS 时返回新消息的 UID，否则返回 0。
func (c *Client) Append(ctx context.Context, mailbox string, r io.Reader, flags imap.FlagsList) (imap.UID, error) {
	data, err := c.AppendWithOptions(ctx, mailbox, r, &imap.AppendOptions{Flags: flags})
	if err != nil {
		return 0, err
	}
	return data.UID, nil
}

// AppendWithOptions 与 Append 相同，但可以指定内部日期。options 可以为 nil。
//
// 消息内容在发送前被完整读入内存，并作为一个字面量发送。
func (c *Client) AppendWithOptions(ctx context.Context, mailbox string, r io.Reader, options *imap.AppendOptions) (*imap.AppendData, error) {
	msg, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("imapclient: 读取消息内容失败: %w", err)
	}
	if options == nil {
		options = new(imap.AppendOptions)
	}
	return execute(ctx, c, &appendCommand{mailbox: mailbox, msg: msg, options: options})
}

type appendCommand struct {
	mailbox string
	msg     []byte
	options *imap.AppendOptions
}

func (*appendCommand) name() string { return "APPEND" }

func (cmd *appendCommand) encode(enc *imapwire.Encoder) {
	enc.SP().Mailbox(cmd.mailbox).SP()
	if len(cmd.options.Flags) > 0 {
		enc.FlagList(cmd.options.Flags).SP()
	}
	if !cmd.options.Time.IsZero() {
		enc.Quoted(cmd.options.Time.Format(internal.DateTimeLayout)).SP()
	}
	enc.Literal(cmd.msg)
}

func (*appendCommand) parse(b *responseBatch) (*imap.AppendData, error) {
	var data imap.AppendData
	if b.status.Code != imap.ResponseCodeAppendUID {
		return &data, nil
	}
	// APPENDUID <uidvalidity> <uid>
	dec := imapwire.NewDecoder([]byte(b.status.CodeArg))
	if !dec.ExpectNumber(&data.UIDValidity) || !dec.ExpectSP() || !dec.ExpectUID(&data.UID) {
		return nil, &imap.ParseError{Command: b.name, Line: b.final.String(), Err: dec.Err()}
	}
	return &data, nil
}
