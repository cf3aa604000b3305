package imapwire

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/emersion/go-imap/utf7"

	"github.com/luhaoyun888/go-minig"
)

// Encoder 构造一条命令。
//
// 同步字面量 "{n}" 会把命令切分成多个片段：每个片段（除最后一个外）都以
// 字面量头结束，发送方必须在收到服务器的 "+" 继续请求后才能发送下一个片段。
type Encoder struct {
	// 使用 LITERAL+ 的非同步字面量 "{n+}"，不切分命令
	LiteralPlus bool

	buf      bytes.Buffer
	segments [][]byte
}

// NewEncoder 创建一个空的编码器。
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Atom 写入一个原子，调用方负责保证 s 是合法原子。
func (enc *Encoder) Atom(s string) *Encoder {
	enc.buf.WriteString(s)
	return enc
}

// SP 写入一个空格。
func (enc *Encoder) SP() *Encoder {
	enc.buf.WriteByte(' ')
	return enc
}

// Special 写入一个特殊字符。
func (enc *Encoder) Special(ch byte) *Encoder {
	enc.buf.WriteByte(ch)
	return enc
}

// Number 写入一个数字。
func (enc *Encoder) Number(v uint32) *Encoder {
	enc.buf.WriteString(strconv.FormatUint(uint64(v), 10))
	return enc
}

// Number64 写入一个 64 位数字。
func (enc *Encoder) Number64(v int64) *Encoder {
	enc.buf.WriteString(strconv.FormatInt(v, 10))
	return enc
}

// UIDSet 写入一个 sequence-set。
func (enc *Encoder) UIDSet(set imap.UIDSet) *Encoder {
	return enc.Atom(set.String())
}

// Quoted 写入一个带引号的字符串。调用方需确保 s 可以被引用（见 canQuote）。
func (enc *Encoder) Quoted(s string) *Encoder {
	enc.buf.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			enc.buf.WriteByte('\\')
		}
		enc.buf.WriteByte(s[i])
	}
	enc.buf.WriteByte('"')
	return enc
}

// String 写入一个字符串，能引用时使用带引号形式，否则使用字面量。
func (enc *Encoder) String(s string) *Encoder {
	if canQuote(s) {
		return enc.Quoted(s)
	}
	return enc.Literal([]byte(s))
}

// AString 写入一个 astring，能作为原子时直接写入原子。
func (enc *Encoder) AString(s string) *Encoder {
	if s != "" && isAtom(s) && !strings.EqualFold(s, "NIL") {
		return enc.Atom(s)
	}
	return enc.String(s)
}

// Mailbox 写入一个邮箱名称，使用修改版 UTF-7 编码。
func (enc *Encoder) Mailbox(name string) *Encoder {
	if strings.EqualFold(name, "INBOX") {
		return enc.Atom("INBOX")
	}
	encoded, err := utf7.Encoding.NewEncoder().String(name)
	if err != nil {
		encoded = name
	}
	return enc.String(encoded)
}

// Flag 写入一个标志。
func (enc *Encoder) Flag(flag imap.Flag) *Encoder {
	return enc.Atom(string(flag))
}

// FlagList 写入一个括号标志列表。
func (enc *Encoder) FlagList(flags []imap.Flag) *Encoder {
	return enc.List(len(flags), func(i int) {
		enc.Flag(flags[i])
	})
}

// List 写入一个包含 n 个元素的括号列表，f 负责写入第 i 个元素。
func (enc *Encoder) List(n int, f func(i int)) *Encoder {
	enc.buf.WriteByte('(')
	for i := 0; i < n; i++ {
		if i > 0 {
			enc.SP()
		}
		f(i)
	}
	enc.buf.WriteByte(')')
	return enc
}

// Literal 写入一个字面量。
func (enc *Encoder) Literal(b []byte) *Encoder {
	enc.buf.WriteByte('{')
	enc.buf.WriteString(strconv.Itoa(len(b)))
	if enc.LiteralPlus {
		enc.buf.WriteString("+}\r\n")
	} else {
		enc.buf.WriteString("}\r\n")
		enc.cut()
	}
	enc.buf.Write(b)
	return enc
}

// CRLF 结束命令行。
func (enc *Encoder) CRLF() *Encoder {
	enc.buf.WriteString("\r\n")
	return enc
}

func (enc *Encoder) cut() {
	enc.segments = append(enc.segments, bytes.Clone(enc.buf.Bytes()))
	enc.buf.Reset()
}

// Segments 返回编码后的命令片段。
//
// 只有一个片段时，命令可以一次写出。
func (enc *Encoder) Segments() [][]byte {
	segs := append([][]byte(nil), enc.segments...)
	return append(segs, bytes.Clone(enc.buf.Bytes()))
}

// Bytes 返回完整的命令字节，忽略片段边界。用于日志和测试。
func (enc *Encoder) Bytes() []byte {
	return bytes.Join(enc.Segments(), nil)
}

func canQuote(s string) bool {
	if len(s) > 1024 {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '\r' || ch == '\n' || ch == 0 || ch > 0x7f {
			return false
		}
	}
	return true
}

func isAtom(s string) bool {
	for i := 0; i < len(s); i++ {
		if !IsAtomChar(s[i]) || s[i] > 0x7f {
			return false
		}
	}
	return true
}
