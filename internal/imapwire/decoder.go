package imapwire

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/emersion/go-imap/utf7"

	"github.com/luhaoyun888/go-minig"
)

// IsAtomChar 检查字符是否可以出现在原子中。
func IsAtomChar(ch byte) bool {
	switch ch {
	case '(', ')', '{', ' ', '%', '*', '"', '\\', ']':
		return false
	default:
		return ch > 0x1f && ch != 0x7f
	}
}

// isAStringChar 与 IsAtomChar 相同，但允许 "]"。
func isAStringChar(ch byte) bool {
	return IsAtomChar(ch) || ch == ']'
}

// Decoder 解码一条已分帧的响应。
//
// 方法遵循同一约定：以 Expect 开头的方法在失败时记录错误，
// 其余方法在不匹配时返回 false 且不消耗输入。
type Decoder struct {
	buf []byte
	pos int
	err error
}

// NewDecoder 创建一个读取 b 的解码器。
func NewDecoder(b []byte) *Decoder {
	return &Decoder{buf: b}
}

// Err 返回第一个解码错误。
func (dec *Decoder) Err() error {
	return dec.err
}

// EOF 在所有输入都已消耗时返回 true。
func (dec *Decoder) EOF() bool {
	return dec.pos >= len(dec.buf)
}

// Rest 返回尚未消耗的输入。
func (dec *Decoder) Rest() string {
	if dec.EOF() {
		return ""
	}
	return string(dec.buf[dec.pos:])
}

func (dec *Decoder) peek() (byte, bool) {
	if dec.EOF() {
		return 0, false
	}
	return dec.buf[dec.pos], true
}

// Expect 在 ok 为 false 时记录一个 "期望 name" 错误。
func (dec *Decoder) Expect(ok bool, name string) bool {
	if !ok && dec.err == nil {
		got := dec.Rest()
		if len(got) > 32 {
			got = got[:32] + "..."
		}
		dec.err = fmt.Errorf("imapwire: 期望 %v，得到 %q (位置 %v)", name, got, dec.pos)
	}
	return ok
}

// ExpectEOF 检查所有输入是否都已消耗。
func (dec *Decoder) ExpectEOF() bool {
	return dec.Expect(dec.EOF(), "行尾")
}

// Special 消耗一个指定字符。
func (dec *Decoder) Special(b byte) bool {
	if ch, ok := dec.peek(); ok && ch == b {
		dec.pos++
		return true
	}
	return false
}

// ExpectSpecial 与 Special 相同，但失败时记录错误。
func (dec *Decoder) ExpectSpecial(b byte) bool {
	return dec.Expect(dec.Special(b), fmt.Sprintf("'%v'", string(rune(b))))
}

// SP 消耗一个空格。
func (dec *Decoder) SP() bool {
	return dec.Special(' ')
}

// ExpectSP 与 SP 相同，但失败时记录错误。
func (dec *Decoder) ExpectSP() bool {
	return dec.Expect(dec.SP(), "SP")
}

// Func 读取尽可能多的满足 valid 的字符。
func (dec *Decoder) Func(ptr *string, valid func(ch byte) bool) bool {
	start := dec.pos
	for dec.pos < len(dec.buf) && valid(dec.buf[dec.pos]) {
		dec.pos++
	}
	if dec.pos == start {
		return false
	}
	*ptr = string(dec.buf[start:dec.pos])
	return true
}

// Atom 读取一个原子。
func (dec *Decoder) Atom(ptr *string) bool {
	return dec.Func(ptr, IsAtomChar)
}

// ExpectAtom 与 Atom 相同，但失败时记录错误。
func (dec *Decoder) ExpectAtom(ptr *string) bool {
	return dec.Expect(dec.Atom(ptr), "原子")
}

// Number 读取一个 32 位无符号整数。
func (dec *Decoder) Number(ptr *uint32) bool {
	var s string
	start := dec.pos
	if !dec.Func(&s, isDigit) {
		return false
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		dec.pos = start
		return false
	}
	*ptr = uint32(v)
	return true
}

// ExpectNumber 与 Number 相同，但失败时记录错误。
func (dec *Decoder) ExpectNumber(ptr *uint32) bool {
	return dec.Expect(dec.Number(ptr), "数字")
}

// Number64 读取一个 63 位非负整数。
func (dec *Decoder) Number64(ptr *int64) bool {
	var s string
	start := dec.pos
	if !dec.Func(&s, isDigit) {
		return false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		dec.pos = start
		return false
	}
	*ptr = v
	return true
}

// ExpectNumber64 与 Number64 相同，但失败时记录错误。
func (dec *Decoder) ExpectNumber64(ptr *int64) bool {
	return dec.Expect(dec.Number64(ptr), "数字")
}

// ExpectUID 读取一个非零 UID。
func (dec *Decoder) ExpectUID(ptr *imap.UID) bool {
	var num uint32
	if !dec.ExpectNumber(&num) {
		return false
	}
	*ptr = imap.UID(num)
	return dec.Expect(num != 0, "非零 UID")
}

// ExpectUIDSet 读取一个 sequence-set，例如 "4:6,9"。
func (dec *Decoder) ExpectUIDSet(ptr *imap.UIDSet) bool {
	var s string
	if !dec.Expect(dec.Func(&s, isSeqSetChar), "sequence-set") {
		return false
	}
	set, err := imap.ParseUIDSet(s)
	if err != nil {
		if dec.err == nil {
			dec.err = err
		}
		return false
	}
	*ptr = set
	return true
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

func isSeqSetChar(ch byte) bool {
	return isDigit(ch) || ch == ',' || ch == ':' || ch == '*'
}

// Quoted 读取一个带引号的字符串。
func (dec *Decoder) Quoted(ptr *string) bool {
	if !dec.Special('"') {
		return false
	}
	var sb strings.Builder
	for {
		ch, ok := dec.peek()
		if !ok {
			dec.Expect(false, "'\"'")
			return false
		}
		dec.pos++
		switch ch {
		case '"':
			*ptr = sb.String()
			return true
		case '\\':
			next, ok := dec.peek()
			if !ok {
				dec.Expect(false, "转义字符")
				return false
			}
			dec.pos++
			sb.WriteByte(next)
		default:
			sb.WriteByte(ch)
		}
	}
}

// Literal 读取一个字面量 "{n}\r\n<n 字节>"，也接受 "{n+}"。
func (dec *Decoder) Literal(ptr *[]byte) bool {
	start := dec.pos
	if !dec.Special('{') {
		return false
	}
	var n int64
	if !dec.ExpectNumber64(&n) {
		return false
	}
	dec.Special('+')
	if !dec.ExpectSpecial('}') || !dec.ExpectSpecial('\r') || !dec.ExpectSpecial('\n') {
		return false
	}
	if int64(len(dec.buf)-dec.pos) < n {
		dec.pos = start
		dec.Expect(false, "完整的字面量")
		return false
	}
	*ptr = dec.buf[dec.pos : dec.pos+int(n)]
	dec.pos += int(n)
	return true
}

// StringBytes 读取一个带引号的字符串或字面量。
func (dec *Decoder) StringBytes(ptr *[]byte) bool {
	var s string
	if dec.Quoted(&s) {
		*ptr = []byte(s)
		return true
	}
	return dec.Literal(ptr)
}

// String 读取一个带引号的字符串或字面量。
func (dec *Decoder) String(ptr *string) bool {
	var b []byte
	if !dec.StringBytes(&b) {
		return false
	}
	*ptr = string(b)
	return true
}

// ExpectString 与 String 相同，但失败时记录错误。
func (dec *Decoder) ExpectString(ptr *string) bool {
	return dec.Expect(dec.String(ptr), "字符串")
}

// NIL 消耗原子 NIL（不区分大小写）。
func (dec *Decoder) NIL() bool {
	if len(dec.buf)-dec.pos < 3 || !strings.EqualFold(string(dec.buf[dec.pos:dec.pos+3]), "NIL") {
		return false
	}
	if len(dec.buf)-dec.pos > 3 && IsAtomChar(dec.buf[dec.pos+3]) {
		return false
	}
	dec.pos += 3
	return true
}

// ExpectNIL 与 NIL 相同，但失败时记录错误。
func (dec *Decoder) ExpectNIL() bool {
	return dec.Expect(dec.NIL(), "NIL")
}

// ExpectNString 读取一个字符串或 NIL，NIL 解码为空字符串。
func (dec *Decoder) ExpectNString(ptr *string) bool {
	if dec.NIL() {
		*ptr = ""
		return true
	}
	return dec.ExpectString(ptr)
}

// ExpectNStringBytes 读取一个字符串或 NIL，NIL 解码为 nil。
func (dec *Decoder) ExpectNStringBytes(ptr *[]byte) bool {
	if dec.NIL() {
		*ptr = nil
		return true
	}
	return dec.Expect(dec.StringBytes(ptr), "字符串")
}

// AString 读取一个 astring：原子或字符串。
func (dec *Decoder) AString(ptr *string) bool {
	if dec.String(ptr) {
		return true
	}
	return dec.Func(ptr, isAStringChar)
}

// ExpectAString 与 AString 相同，但失败时记录错误。
func (dec *Decoder) ExpectAString(ptr *string) bool {
	return dec.Expect(dec.AString(ptr), "astring")
}

// ExpectMailbox 读取一个邮箱名称并将其从修改版 UTF-7 解码。
//
// "INBOX" 不区分大小写，总是规范化为大写。
func (dec *Decoder) ExpectMailbox(ptr *string) bool {
	var name string
	if !dec.ExpectAString(&name) {
		return false
	}
	if strings.EqualFold(name, "INBOX") {
		*ptr = "INBOX"
		return true
	}
	decoded, err := utf7.Encoding.NewDecoder().String(name)
	if err != nil {
		// 不是合法的修改版 UTF-7，保留原样
		decoded = name
	}
	*ptr = decoded
	return true
}

// List 读取一个括号列表，对每个元素调用 f。不是列表时 isList 为 false。
func (dec *Decoder) List(f func() error) (isList bool, err error) {
	if !dec.Special('(') {
		return false, nil
	}
	if dec.Special(')') {
		return true, nil
	}
	for {
		if err := f(); err != nil {
			return true, err
		}
		if dec.Special(')') {
			return true, nil
		}
		if !dec.ExpectSP() {
			return true, dec.Err()
		}
	}
}

// ExpectList 与 List 相同，但不是列表时返回错误。
func (dec *Decoder) ExpectList(f func() error) error {
	isList, err := dec.List(f)
	if err != nil {
		return err
	}
	if !dec.Expect(isList, "'('") {
		return dec.Err()
	}
	return nil
}

// ExpectNList 读取一个列表或 NIL。
func (dec *Decoder) ExpectNList(f func() error) error {
	if dec.NIL() {
		return nil
	}
	return dec.ExpectList(f)
}

// Text 读取直到行尾的全部内容。
func (dec *Decoder) Text(ptr *string) bool {
	*ptr = dec.Rest()
	dec.pos = len(dec.buf)
	return true
}

// DiscardUntilByte 跳过输入直到遇到 b（不消耗 b）或行尾。
func (dec *Decoder) DiscardUntilByte(b byte) {
	for dec.pos < len(dec.buf) && dec.buf[dec.pos] != b {
		dec.pos++
	}
}

// DiscardValue 跳过一个值：列表、字符串、NIL、数字或原子。
func (dec *Decoder) DiscardValue() bool {
	var s string
	var b []byte
	if dec.StringBytes(&b) || dec.NIL() {
		return true
	}
	if isList, err := dec.List(dec.discardListItem); isList {
		return err == nil
	}
	return dec.Expect(dec.Func(&s, func(ch byte) bool { return IsAtomChar(ch) || ch == '\\' || ch == ']' }), "值")
}

func (dec *Decoder) discardListItem() error {
	if !dec.DiscardValue() {
		return dec.Err()
	}
	return nil
}

// ExpectFlag 读取一个标志，例如 "\Seen"、"$Junk" 或 "\*"。
func (dec *Decoder) ExpectFlag(ptr *imap.Flag) bool {
	if dec.Special('\\') {
		if dec.Special('*') {
			*ptr = "\\*"
			return true
		}
		var name string
		if !dec.ExpectAtom(&name) {
			return false
		}
		*ptr = imap.Flag("\\" + name)
		return true
	}
	var name string
	if !dec.ExpectAtom(&name) {
		return false
	}
	*ptr = imap.Flag(name)
	return true
}
