package imap

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/textproto"
)

// Envelope 是消息的信封结构。
//
// 主题和地址已解码为 UTF-8。InReplyTo 和 MessageID 中的消息标识符不含尖括号。
type Envelope struct {
	Date      time.Time
	Subject   string
	From      []Address
	Sender    []Address
	ReplyTo   []Address
	To        []Address
	Cc        []Address
	Bcc       []Address
	InReplyTo []string
	MessageID string
}

// Address 表示消息的发送者或接收者。
type Address struct {
	Name    string
	Mailbox string
	Host    string
}

// Addr 返回 "foo@example.org" 形式的地址。
//
// 组的开始或结束标记返回空字符串。
func (addr *Address) Addr() string {
	if addr.Mailbox == "" || addr.Host == "" {
		return ""
	}
	return addr.Mailbox + "@" + addr.Host
}

// IsGroupStart 在地址是组的开始标记时返回 true，此时 Mailbox 为组名。
func (addr *Address) IsGroupStart() bool {
	return addr.Host == "" && addr.Mailbox != ""
}

// IsGroupEnd 在地址是组的结束标记时返回 true。
func (addr *Address) IsGroupEnd() bool {
	return addr.Host == "" && addr.Mailbox == ""
}

// MessageEnvelope 是 UID FETCH ENVELOPE 的单条结果。
type MessageEnvelope struct {
	UID      UID
	Envelope *Envelope
}

// InternalDate 是 UID FETCH INTERNALDATE 的单条结果。
type InternalDate struct {
	UID  UID
	Date time.Time
}

// IMAPHeaders 是 UID FETCH BODY.PEEK[HEADER.FIELDS (...)] 的单条结果。
type IMAPHeaders struct {
	UID    UID
	Header textproto.Header
}

// Get 返回头字段 key 的第一个值。
func (h *IMAPHeaders) Get(key string) string {
	return h.Header.Get(key)
}

// MessageBodyStructure 是 UID FETCH BODYSTRUCTURE 的单条结果。
type MessageBodyStructure struct {
	UID           UID
	BodyStructure BodyStructure
}

// BodyStructure 描述消息的 MIME 树。
//
// 值为 *BodyStructureSinglePart 或 *BodyStructureMultiPart。
type BodyStructure interface {
	// MediaType 返回 MIME 类型，例如 "text/plain"。
	MediaType() string
	// Walk 以 DFS 前序遍历结构树，包括 bs 本身。
	Walk(f BodyStructureWalkFunc)
	Disposition() *BodyStructureDisposition

	bodyStructure()
}

// BodyStructureSinglePart 是单个 MIME 部分。
type BodyStructureSinglePart struct {
	Type, Subtype string
	Params        map[string]string
	ID            string
	Description   string
	Encoding      string
	Size          uint32

	MessageRFC822 *BodyStructureMessageRFC822 // 仅 "message/rfc822"
	Text          *BodyStructureText          // 仅 "text/*"
	Extended      *BodyStructureSinglePartExt
}

func (bs *BodyStructureSinglePart) MediaType() string {
	return strings.ToLower(bs.Type) + "/" + strings.ToLower(bs.Subtype)
}

func (bs *BodyStructureSinglePart) Walk(f BodyStructureWalkFunc) {
	f([]int{1}, bs)
}

func (bs *BodyStructureSinglePart) Disposition() *BodyStructureDisposition {
	if bs.Extended == nil {
		return nil
	}
	return bs.Extended.Disposition
}

// Filename 返回部分的文件名（如果有）。
func (bs *BodyStructureSinglePart) Filename() string {
	var filename string
	if bs.Extended != nil && bs.Extended.Disposition != nil {
		filename = bs.Extended.Disposition.Params["filename"]
	}
	if filename == "" {
		// Content-Type 的 "name" 参数已不推荐使用，但仍然常见
		filename = bs.Params["name"]
	}
	return filename
}

func (*BodyStructureSinglePart) bodyStructure() {}

// BodyStructureMessageRFC822 是内嵌消息的元数据。
type BodyStructureMessageRFC822 struct {
	Envelope      *Envelope
	BodyStructure BodyStructure
	NumLines      int64
}

// BodyStructureText 是文本部分的元数据。
type BodyStructureText struct {
	NumLines int64
}

// BodyStructureSinglePartExt 是单部分的扩展数据。
type BodyStructureSinglePartExt struct {
	Disposition *BodyStructureDisposition
	Language    []string
	Location    string
}

// BodyStructureMultiPart 是 multipart/* 部分。
type BodyStructureMultiPart struct {
	Children []BodyStructure
	Subtype  string

	Extended *BodyStructureMultiPartExt
}

func (bs *BodyStructureMultiPart) MediaType() string {
	return "multipart/" + strings.ToLower(bs.Subtype)
}

func (bs *BodyStructureMultiPart) Walk(f BodyStructureWalkFunc) {
	bs.walk(f, nil)
}

func (bs *BodyStructureMultiPart) walk(f BodyStructureWalkFunc, path []int) {
	if !f(path, bs) {
		return
	}

	for i, part := range bs.Children {
		partPath := append(append([]int(nil), path...), i+1)

		switch part := part.(type) {
		case *BodyStructureSinglePart:
			f(partPath, part)
		case *BodyStructureMultiPart:
			part.walk(f, partPath)
		default:
			panic(fmt.Errorf("imap: 不支持的体结构类型 %T", part))
		}
	}
}

func (bs *BodyStructureMultiPart) Disposition() *BodyStructureDisposition {
	if bs.Extended == nil {
		return nil
	}
	return bs.Extended.Disposition
}

func (*BodyStructureMultiPart) bodyStructure() {}

// BodyStructureMultiPartExt 是多部分的扩展数据。
type BodyStructureMultiPartExt struct {
	Params      map[string]string
	Disposition *BodyStructureDisposition
	Language    []string
	Location    string
}

// BodyStructureDisposition 是 Content-Disposition 头字段的内容。
type BodyStructureDisposition struct {
	Value  string
	Params map[string]string
}

// BodyStructureWalkFunc 由 BodyStructure.Walk 对每个部分调用。
//
// path 是 IMAP 部分路径。返回 false 时跳过该部分的子项。
type BodyStructureWalkFunc func(path []int, part BodyStructure) (walkChildren bool)

// PartAddress 将部分路径格式化为 UID FETCH BODY[...] 使用的地址，例如 "1.2"。
func PartAddress(path []int) string {
	l := make([]string, len(path))
	for i, n := range path {
		l[i] = fmt.Sprint(n)
	}
	return strings.Join(l, ".")
}
