package imapclient

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/luhaoyun888/go-minig"
	"github.com/luhaoyun888/go-minig/internal"
	"github.com/luhaoyun888/go-minig/internal/imapwire"
)

// ListAll 发送 LIST 命令，返回与 ref 和 pattern 匹配的全部邮箱。
//
// pattern 中可以使用通配符 "*" 和 "%"。
func (c *Client) ListAll(ctx context.Context, ref, pattern string) (*imap.ListResult, error) {
	return execute(ctx, c, &listCommand{cmd: "LIST", ref: ref, pattern: pattern})
}

// ListSubscribed 发送 LSUB 命令，返回已订阅的邮箱。
func (c *Client) ListSubscribed(ctx context.Context, ref, pattern string) (*imap.ListResult, error) {
	return execute(ctx, c, &listCommand{cmd: "LSUB", ref: ref, pattern: pattern})
}

type listCommand struct {
	cmd          string // LIST 或 LSUB
	ref, pattern string
}

func (cmd *listCommand) name() string { return cmd.cmd }

func (cmd *listCommand) encode(enc *imapwire.Encoder) {
	enc.SP().Mailbox(cmd.ref).SP().Mailbox(cmd.pattern)
}

func (cmd *listCommand) parse(b *responseBatch) (*imap.ListResult, error) {
	result := &imap.ListResult{}
	err := b.each(cmd.cmd, func(_ uint32, dec *imapwire.Decoder) error {
		if !dec.ExpectSP() {
			return dec.Err()
		}
		info, delim, err := readList(dec)
		if err != nil {
			return err
		}
		if result.Delimiter == 0 {
			result.Delimiter = delim
		}
		result.Infos = append(result.Infos, *info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// readList 读取 LIST 或 LSUB 响应。
func readList(dec *imapwire.Decoder) (*imap.ListInfo, rune, error) {
	var info imap.ListInfo

	var err error
	info.Attrs, err = internal.ExpectMailboxAttrList(dec) // 读取邮箱属性列表
	if err != nil {
		return nil, 0, fmt.Errorf("在 mbx-list-flags 中: %w", err)
	}
	info.Selectable = !info.HasAttr(imap.MailboxAttrNoSelect) && !info.HasAttr(imap.MailboxAttrNonExistent)

	if !dec.ExpectSP() {
		return nil, 0, dec.Err()
	}
	delim, err := readDelim(dec)
	if err != nil {
		return nil, 0, err
	}

	if !dec.ExpectSP() || !dec.ExpectMailbox(&info.Name) {
		return nil, 0, dec.Err()
	}

	// 跳过 LIST 扩展数据
	for dec.SP() {
		if !dec.DiscardValue() {
			return nil, 0, dec.Err()
		}
	}
	return &info, delim, nil
}

// readDelim 读取分隔符，NIL 表示没有层级。
func readDelim(dec *imapwire.Decoder) (rune, error) {
	var delimStr string
	if dec.Quoted(&delimStr) {
		delim, size := utf8.DecodeRuneInString(delimStr)
		if delim == utf8.RuneError || size != len(delimStr) {
			return 0, fmt.Errorf("邮箱分隔符必须是单个字符")
		}
		return delim, nil
	} else if !dec.ExpectNIL() {
		return 0, dec.Err()
	}
	return 0, nil
}
