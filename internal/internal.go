// Package internal 包含 imapclient 与 sieveclient 共享的语法辅助函数。
package internal

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/luhaoyun888/go-minig"
	"github.com/luhaoyun888/go-minig/internal/imapwire"
)

const (
	// DateTimeLayout 是 INTERNALDATE 与 APPEND 使用的 date-time 格式。
	DateTimeLayout = "_2-Jan-2006 15:04:05 -0700"
	// DateLayout 是 SEARCH 使用的 date 格式。
	DateLayout = "2-Jan-2006"
)

// ExpectDateTime 读取一个带引号的 date-time。
func ExpectDateTime(dec *imapwire.Decoder) (time.Time, error) {
	var s string
	if !dec.Expect(dec.Quoted(&s), "date-time") {
		return time.Time{}, dec.Err()
	}
	t, err := time.Parse(DateTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("在 date-time 中: %v", err)
	}
	return t, nil
}

// ExpectFlagList 读取一个括号标志列表。
func ExpectFlagList(dec *imapwire.Decoder) ([]imap.Flag, error) {
	var flags []imap.Flag
	err := dec.ExpectList(func() error {
		var flag imap.Flag
		if !dec.ExpectFlag(&flag) {
			return dec.Err()
		}
		flags = append(flags, flag)
		return nil
	})
	return flags, err
}

// ExpectMailboxAttrList 读取 LIST 响应中的邮箱属性列表。
func ExpectMailboxAttrList(dec *imapwire.Decoder) ([]imap.MailboxAttr, error) {
	var attrs []imap.MailboxAttr
	err := dec.ExpectList(func() error {
		var flag imap.Flag
		if !dec.ExpectFlag(&flag) {
			return dec.Err()
		}
		attrs = append(attrs, canonMailboxAttr(string(flag)))
		return nil
	})
	return attrs, err
}

var mailboxAttrs = []imap.MailboxAttr{
	imap.MailboxAttrNoInferiors,
	imap.MailboxAttrNoSelect,
	imap.MailboxAttrNonExistent,
	imap.MailboxAttrHasChildren,
	imap.MailboxAttrHasNoChildren,
	imap.MailboxAttrMarked,
	imap.MailboxAttrUnmarked,
}

func canonMailboxAttr(s string) imap.MailboxAttr {
	for _, attr := range mailboxAttrs {
		if strings.EqualFold(s, string(attr)) {
			return attr
		}
	}
	return imap.MailboxAttr(s)
}

// EncodeSASL 以 base64 编码 SASL 数据。空数据编码为 "="。
func EncodeSASL(b []byte) string {
	if len(b) == 0 {
		return "="
	}
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeSASL 解码服务器发来的 base64 SASL 质询。
func DecodeSASL(s string) ([]byte, error) {
	if s == "=" || s == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
