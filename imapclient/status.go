package imapclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/luhaoyun888/go-minig"
	"github.com/luhaoyun888/go-minig/internal/imapwire"
)

// Status 发送 STATUS 命令，在不选择邮箱的情况下读取它的计数器。
//
// nil 的 options 只请求 MESSAGES。
func (c *Client) Status(ctx context.Context, mailbox string, options *imap.StatusOptions) (*imap.StatusData, error) {
	if options == nil {
		options = new(imap.StatusOptions)
	}
	return execute(ctx, c, &statusCommand{mailbox: mailbox, items: options.Items()})
}

type statusCommand struct {
	mailbox string
	items   []string
}

func (*statusCommand) name() string { return "STATUS" }

func (cmd *statusCommand) encode(enc *imapwire.Encoder) {
	enc.SP().Mailbox(cmd.mailbox).SP()
	enc.List(len(cmd.items), func(i int) {
		enc.Atom(cmd.items[i])
	})
}

func (cmd *statusCommand) parse(b *responseBatch) (*imap.StatusData, error) {
	var data *imap.StatusData
	err := b.each("STATUS", func(_ uint32, dec *imapwire.Decoder) error {
		if !dec.ExpectSP() {
			return dec.Err()
		}
		d, err := readStatus(dec)
		if err != nil {
			return err
		}
		// 某些服务器会同时推送其他邮箱的状态
		if data == nil || d.Mailbox == cmd.mailbox {
			data = d
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, &imap.ParseError{Command: b.name, Err: fmt.Errorf("缺少 STATUS 响应")}
	}
	return data, nil
}

// readStatus 读取 "mailbox (MESSAGES 3 UIDNEXT 4)"。
func readStatus(dec *imapwire.Decoder) (*imap.StatusData, error) {
	var data imap.StatusData
	if !dec.ExpectMailbox(&data.Mailbox) || !dec.ExpectSP() {
		return nil, dec.Err()
	}
	err := dec.ExpectList(func() error {
		if err := readStatusAttVal(dec, &data); err != nil {
			return fmt.Errorf("在状态属性值中: %v", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &data, nil
}

func readStatusAttVal(dec *imapwire.Decoder, data *imap.StatusData) error {
	var name string
	if !dec.ExpectAtom(&name) || !dec.ExpectSP() {
		return dec.Err()
	}

	var ok bool
	switch strings.ToUpper(name) {
	case "MESSAGES":
		var num uint32
		ok = dec.ExpectNumber(&num)
		data.NumMessages = &num
	case "RECENT":
		var num uint32
		ok = dec.ExpectNumber(&num)
		data.NumRecent = &num
	case "UIDNEXT":
		ok = dec.ExpectUID(&data.UIDNext)
	case "UIDVALIDITY":
		ok = dec.ExpectNumber(&data.UIDValidity)
	case "UNSEEN":
		var num uint32
		ok = dec.ExpectNumber(&num)
		data.NumUnseen = &num
	default:
		ok = dec.DiscardValue()
	}
	if !ok {
		return dec.Err()
	}
	return nil
}
