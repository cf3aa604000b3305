// Package imapwire 实现 IMAP 与 ManageSieve 共用的线路格式：
// 响应分帧、响应解码与命令编码。
package imapwire

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/luhaoyun888/go-minig"
)

const (
	// MaxLiteralSize 是单个服务器字面量允许的最大字节数。
	MaxLiteralSize = 256 << 20
	// MaxLineSize 是一条响应中字面量之外的字节数上限。
	MaxLineSize = 8 << 20
)

// ErrLineTooLong 表示响应行超过了 MaxLineSize。
var ErrLineTooLong = errors.New("imapwire: 响应行过长")

// ResponseKind 区分三种响应行。
type ResponseKind int

const (
	ResponseUntagged     ResponseKind = iota // "* ..."，或 ManageSieve 的普通数据行
	ResponseTagged                           // "<tag> OK|NO|BAD ..."
	ResponseContinuation                     // "+ ..."
)

// Response 是一条完整的服务器响应。
//
// Raw 不含结尾的 CRLF。服务器字面量以 "{n}\r\n<n 字节>" 的形式原样保留在 Raw 中。
type Response struct {
	Kind ResponseKind
	Tag  string
	Raw  []byte
}

// ReadResponse 从 br 中读取一条完整的响应，包括其中嵌入的所有字面量。
//
// 连接在两条响应之间干净地结束时返回 io.EOF，在响应中途结束时返回 io.ErrUnexpectedEOF。
func ReadResponse(br *bufio.Reader) (*Response, error) {
	var (
		raw       []byte
		lineBytes int
	)
	for {
		line, err := readLine(br, MaxLineSize-lineBytes)
		lineBytes += len(line)
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(raw) == 0 && len(line) == 0 {
					return nil, io.EOF
				}
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		line = bytes.TrimSuffix(bytes.TrimSuffix(line, []byte("\n")), []byte("\r"))
		raw = append(raw, line...)

		n, ok := trailingLiteral(line)
		if !ok {
			break
		}
		if n > MaxLiteralSize {
			return nil, fmt.Errorf("imapwire: 字面量过大 (%v 字节)", n)
		}
		raw = append(raw, '\r', '\n')
		start := len(raw)
		raw = append(raw, make([]byte, n)...)
		if _, err := io.ReadFull(br, raw[start:]); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
	return NewResponse(raw), nil
}

// readLine 读取到 '\n' 为止（包括 '\n'），超过 limit 字节时返回 ErrLineTooLong。
func readLine(br *bufio.Reader, limit int) ([]byte, error) {
	var line []byte
	for {
		chunk, err := br.ReadSlice('\n')
		if len(line)+len(chunk) > limit {
			return nil, ErrLineTooLong
		}
		line = append(line, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, err
	}
}

// NewResponse 根据原始行确定响应类型和标签。
func NewResponse(raw []byte) *Response {
	resp := &Response{Raw: raw}
	switch {
	case bytes.HasPrefix(raw, []byte("* ")) || bytes.Equal(raw, []byte("*")):
		resp.Kind = ResponseUntagged
	case bytes.HasPrefix(raw, []byte("+")):
		resp.Kind = ResponseContinuation
	default:
		resp.Kind = ResponseTagged
		tag, _, _ := bytes.Cut(raw, []byte(" "))
		resp.Tag = string(tag)
	}
	return resp
}

// trailingLiteral 检查一行是否以 "{n}" 或 "{n+}" 结尾。
func trailingLiteral(line []byte) (int64, bool) {
	if len(line) < 3 || line[len(line)-1] != '}' {
		return 0, false
	}
	i := bytes.LastIndexByte(line, '{')
	if i < 0 {
		return 0, false
	}
	num := line[i+1 : len(line)-1]
	num = bytes.TrimSuffix(num, []byte("+"))
	if len(num) == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(string(num), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Data 返回一个跳过了 "* "、"+ " 或 "<tag> " 前缀的解码器。
func (resp *Response) Data() *Decoder {
	dec := NewDecoder(resp.Raw)
	switch resp.Kind {
	case ResponseUntagged:
		dec.Special('*')
		dec.SP()
	case ResponseContinuation:
		dec.Special('+')
		dec.SP()
	case ResponseTagged:
		dec.pos = len(resp.Tag)
		dec.SP()
	}
	return dec
}

// Type 返回响应数据的第一个原子（大写），例如 "OK"、"LIST"、"FETCH"。
//
// 对于 "* 12 EXISTS" 这样的数字前缀响应，返回数字之后的原子，num 为该数字。
func (resp *Response) Type() (typ string, num uint32) {
	dec := resp.Data()
	if dec.Number(&num) {
		if !dec.SP() {
			return "", num
		}
	}
	dec.Atom(&typ)
	return strings.ToUpper(typ), num
}

// String 返回适合写入日志的响应文本，较长的内容会被截断。
func (resp *Response) String() string {
	const max = 256
	s := string(resp.Raw)
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}

// StatusLine 是解析后的 OK/NO/BAD/BYE/PREAUTH 状态行。
type StatusLine struct {
	Type    imap.StatusResponseType
	Code    imap.ResponseCode
	CodeArg string // 响应代码之后、"]" 之前的原始参数
	Text    string
}

// Err 在状态为 NO 或 BAD 时返回对应的 *imap.Error。
func (st *StatusLine) Err() error {
	switch st.Type {
	case imap.StatusResponseTypeNo, imap.StatusResponseTypeBad:
		return &imap.Error{Type: st.Type, Code: st.Code, Text: st.Text}
	default:
		return nil
	}
}

// Status 将响应解析为状态行。不是状态行时 ok 为 false。
func (resp *Response) Status() (st *StatusLine, ok bool) {
	return ReadStatus(resp.Data())
}

// ReadStatus 从 dec 的当前位置解析 resp-cond-state 语法。
func ReadStatus(dec *Decoder) (*StatusLine, bool) {
	var typ string
	if !dec.Atom(&typ) {
		return nil, false
	}
	st := &StatusLine{Type: imap.StatusResponseType(strings.ToUpper(typ))}
	switch st.Type {
	case imap.StatusResponseTypeOK, imap.StatusResponseTypeNo, imap.StatusResponseTypeBad,
		imap.StatusResponseTypeBye, imap.StatusResponseTypePreAuth:
	default:
		return nil, false
	}

	// 某些服务器即使 RFC 要求也不提供文本
	if !dec.SP() {
		return st, true
	}
	// ManageSieve 的响应代码使用括号而不是方括号
	closing := byte(0)
	if dec.Special('[') {
		closing = ']'
	} else if dec.Special('(') {
		closing = ')'
	}
	if closing != 0 {
		var code string
		dec.Func(&code, func(ch byte) bool { return ch != closing && ch != ' ' })
		st.Code = imap.ResponseCode(strings.ToUpper(code))
		if dec.SP() {
			start := dec.pos
			dec.DiscardUntilByte(closing)
			st.CodeArg = string(dec.buf[start:dec.pos])
		}
		dec.Special(closing)
		dec.SP()
	}

	start := dec.pos
	var text string
	if dec.String(&text) && dec.EOF() {
		st.Text = text
	} else {
		dec.pos, dec.err = start, nil
		dec.Text(&st.Text)
	}
	return st, true
}
