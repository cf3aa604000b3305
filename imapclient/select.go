package imapclient

import (
	"context"
	"strconv"

	"github.com/luhaoyun888/go-minig"
	"github.com/luhaoyun888/go-minig/internal"
	"github.com/luhaoyun888/go-minig/internal/imapwire"
)

// Select 发送 SELECT 命令。
func (c *Client) Select(ctx context.Context, mailbox string) (*imap.SelectData, error) {
	return c.selectMailbox(ctx, mailbox, false)
}

// Examine 发送 EXAMINE 命令，以只读方式选择邮箱。
func (c *Client) Examine(ctx context.Context, mailbox string) (*imap.SelectData, error) {
	return c.selectMailbox(ctx, mailbox, true)
}

func (c *Client) selectMailbox(ctx context.Context, mailbox string, readOnly bool) (*imap.SelectData, error) {
	data, err := execute(ctx, c, &selectCommand{mailbox: mailbox, readOnly: readOnly})

	c.mutex.Lock()
	if err == nil {
		c.mailbox = mailbox
	} else if !imap.IsTransportError(err) {
		// 失败的 SELECT 也会取消之前选择的邮箱
		c.mailbox = ""
	}
	c.mutex.Unlock()
	return data, err
}

type selectCommand struct {
	mailbox  string
	readOnly bool
}

func (cmd *selectCommand) name() string {
	if cmd.readOnly {
		return "EXAMINE"
	}
	return "SELECT"
}

func (cmd *selectCommand) encode(enc *imapwire.Encoder) {
	enc.SP().Mailbox(cmd.mailbox)
}

func (cmd *selectCommand) parse(b *responseBatch) (*imap.SelectData, error) {
	var data imap.SelectData
	for _, resp := range b.lines {
		typ, num := resp.Type()
		switch typ {
		case "EXISTS":
			data.NumMessages = num
		case "RECENT":
			data.NumRecent = num
		case "FLAGS":
			dec := resp.Data()
			var atom string
			if !dec.ExpectAtom(&atom) || !dec.ExpectSP() {
				return nil, &imap.ParseError{Command: b.name, Line: resp.String(), Err: dec.Err()}
			}
			flags, err := internal.ExpectFlagList(dec)
			if err != nil {
				return nil, &imap.ParseError{Command: b.name, Line: resp.String(), Err: err}
			}
			data.Flags = flags
		case "OK":
			st, ok := resp.Status()
			if !ok {
				continue
			}
			if err := applySelectCode(&data, st); err != nil {
				return nil, &imap.ParseError{Command: b.name, Line: resp.String(), Err: err}
			}
		}
	}
	if err := applySelectCode(&data, b.status); err != nil {
		return nil, &imap.ParseError{Command: b.name, Line: b.final.String(), Err: err}
	}
	return &data, nil
}

// applySelectCode 从响应代码中取出 SELECT 数据。
func applySelectCode(data *imap.SelectData, st *imapwire.StatusLine) error {
	switch st.Code {
	case imap.ResponseCodePermanentFlags:
		flags, err := internal.ExpectFlagList(imapwire.NewDecoder([]byte(st.CodeArg)))
		if err != nil {
			return err
		}
		data.PermanentFlags = flags
	case imap.ResponseCodeUIDNext:
		n, err := strconv.ParseUint(st.CodeArg, 10, 32)
		if err != nil {
			return err
		}
		data.UIDNext = imap.UID(n)
	case imap.ResponseCodeUIDValidity:
		n, err := strconv.ParseUint(st.CodeArg, 10, 32)
		if err != nil {
			return err
		}
		data.UIDValidity = uint32(n)
	case imap.ResponseCodeReadOnly:
		data.ReadOnly = true
	}
	return nil
}
