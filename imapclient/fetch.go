package imapclient

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/luhaoyun888/go-minig"
	"github.com/luhaoyun888/go-minig/internal"
	"github.com/luhaoyun888/go-minig/internal/imapwire"
)

// DefaultHeaderFields 是 UIDFetchHeaders 未指定字段时获取的头字段。
var DefaultHeaderFields = []string{"From", "To", "Cc", "Subject", "Date", "Message-ID", "In-Reply-To", "References"}

// UIDFetchBodyStructure 获取 uids 中每条消息的 MIME 结构。
func (c *Client) UIDFetchBodyStructure(ctx context.Context, uids imap.UIDSet) ([]imap.MessageBodyStructure, error) {
	msgs, err := c.uidFetch(ctx, uids, "BODYSTRUCTURE")
	if err != nil {
		return nil, err
	}
	result := make([]imap.MessageBodyStructure, 0, len(msgs))
	for _, msg := range msgs {
		if msg.bodyStructure == nil {
			continue
		}
		result = append(result, imap.MessageBodyStructure{UID: msg.uid, BodyStructure: msg.bodyStructure})
	}
	return result, nil
}

// UIDFetchHeaders 获取 uids 中每条消息的指定头字段，不设置 \Seen 标志。
//
// fields 为空时使用 DefaultHeaderFields。
func (c *Client) UIDFetchHeaders(ctx context.Context, uids imap.UIDSet, fields ...string) ([]imap.IMAPHeaders, error) {
	if len(fields) == 0 {
		fields = DefaultHeaderFields
	}
	var sb strings.Builder
	sb.WriteString("BODY.PEEK[HEADER.FIELDS (")
	for i, f := range fields {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strings.ToUpper(f))
	}
	sb.WriteString(")]")

	msgs, err := c.uidFetch(ctx, uids, sb.String())
	if err != nil {
		return nil, err
	}
	result := make([]imap.IMAPHeaders, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.sections["HEADER.FIELDS"]
		if !ok {
			continue
		}
		h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
		if err != nil {
			return nil, &imap.ParseError{Command: "UID FETCH", Err: fmt.Errorf("消息 %v 的头部: %w", msg.uid, err)}
		}
		result = append(result, imap.IMAPHeaders{UID: msg.uid, Header: h})
	}
	return result, nil
}

// UIDFetchEnvelope 获取 uids 中每条消息的信封。
func (c *Client) UIDFetchEnvelope(ctx context.Context, uids imap.UIDSet) ([]imap.MessageEnvelope, error) {
	msgs, err := c.uidFetch(ctx, uids, "ENVELOPE")
	if err != nil {
		return nil, err
	}
	result := make([]imap.MessageEnvelope, 0, len(msgs))
	for _, msg := range msgs {
		if msg.envelope == nil {
			continue
		}
		result = append(result, imap.MessageEnvelope{UID: msg.uid, Envelope: msg.envelope})
	}
	return result, nil
}

// UIDFetchFlags 获取 uids 中每条消息的标志。
func (c *Client) UIDFetchFlags(ctx context.Context, uids imap.UIDSet) ([]imap.MessageFlags, error) {
	msgs, err := c.uidFetch(ctx, uids, "FLAGS")
	if err != nil {
		return nil, err
	}
	result := make([]imap.MessageFlags, 0, len(msgs))
	for _, msg := range msgs {
		if msg.flags == nil {
			continue
		}
		result = append(result, imap.MessageFlags{UID: msg.uid, Flags: msg.flags})
	}
	return result, nil
}

// UIDFetchInternalDate 获取 uids 中每条消息的内部日期。
func (c *Client) UIDFetchInternalDate(ctx context.Context, uids imap.UIDSet) ([]imap.InternalDate, error) {
	msgs, err := c.uidFetch(ctx, uids, "INTERNALDATE")
	if err != nil {
		return nil, err
	}
	result := make([]imap.InternalDate, 0, len(msgs))
	for _, msg := range msgs {
		if msg.internalDate.IsZero() {
			continue
		}
		result = append(result, imap.InternalDate{UID: msg.uid, Date: msg.internalDate})
	}
	return result, nil
}

// UIDFetchMessage 获取一条完整的消息，不设置 \Seen 标志。
func (c *Client) UIDFetchMessage(ctx context.Context, uid imap.UID) ([]byte, error) {
	return c.uidFetchSection(ctx, uid, "")
}

// UIDFetchPart 获取一条消息中的一个 MIME 部分，不设置 \Seen 标志。
//
// address 是部分路径，例如 "1.2"，参见 imap.PartAddress。返回的数据保留传输编码。
func (c *Client) UIDFetchPart(ctx context.Context, uid imap.UID, address string) ([]byte, error) {
	return c.uidFetchSection(ctx, uid, address)
}

func (c *Client) uidFetchSection(ctx context.Context, uid imap.UID, section string) ([]byte, error) {
	msgs, err := c.uidFetch(ctx, imap.UIDSetNum(uid), "BODY.PEEK["+section+"]")
	if err != nil {
		return nil, err
	}
	for _, msg := range msgs {
		if msg.uid != uid {
			continue
		}
		if b, ok := msg.sections[strings.ToUpper(section)]; ok {
			return b, nil
		}
	}
	return nil, &imap.ParseError{Command: "UID FETCH", Err: fmt.Errorf("服务器没有返回消息 %v 的 BODY[%v]", uid, section)}
}

func (c *Client) uidFetch(ctx context.Context, uids imap.UIDSet, items string) ([]*fetchItems, error) {
	return execute(ctx, c, &fetchCommand{uids: uids, items: items, options: &c.options})
}

type fetchCommand struct {
	uids    imap.UIDSet
	items   string
	options *Options
}

func (*fetchCommand) name() string { return "UID FETCH" }

func (cmd *fetchCommand) encode(enc *imapwire.Encoder) {
	// UID 总是被返回，但明确请求它可以兼容不规范的服务器
	enc.SP().UIDSet(cmd.uids).SP().Special('(').Atom("UID").SP().Atom(cmd.items).Special(')')
}

func (cmd *fetchCommand) parse(b *responseBatch) ([]*fetchItems, error) {
	var msgs []*fetchItems
	err := eachFetch(b, cmd.options, func(_ uint32, msg *fetchItems) {
		// 其他会话的修改也可能产生不带 UID 的 FETCH 响应
		if msg.uid != 0 {
			msgs = append(msgs, msg)
		}
	})
	return msgs, err
}

// fetchItems 是一条 FETCH 响应中的数据项。
type fetchItems struct {
	uid           imap.UID
	flags         imap.FlagsList
	envelope      *imap.Envelope
	bodyStructure imap.BodyStructure
	internalDate  time.Time
	size          int64

	// 键为大写的节说明，例如 ""、"1.2"、"HEADER.FIELDS"
	sections map[string][]byte
}

// eachFetch 对批次中的每条 FETCH 响应调用 f。
func eachFetch(b *responseBatch, options *Options, f func(seqNum uint32, msg *fetchItems)) error {
	return b.each("FETCH", func(seqNum uint32, dec *imapwire.Decoder) error {
		if !dec.ExpectSP() {
			return dec.Err()
		}
		msg, err := readFetchItems(dec, options)
		if err != nil {
			return err
		}
		f(seqNum, msg)
		return nil
	})
}

func readFetchItems(dec *imapwire.Decoder, options *Options) (*fetchItems, error) {
	msg := &fetchItems{sections: make(map[string][]byte)}
	err := dec.ExpectList(func() error {
		var attName string
		if !dec.Expect(dec.Func(&attName, isMsgAttNameChar), "消息属性名称") {
			return dec.Err()
		}
		attName = strings.ToUpper(attName)

		switch attName {
		case "UID":
			if !dec.ExpectSP() || !dec.ExpectUID(&msg.uid) {
				return dec.Err()
			}
		case "FLAGS":
			if !dec.ExpectSP() {
				return dec.Err()
			}
			flags, err := internal.ExpectFlagList(dec)
			if err != nil {
				return err
			}
			msg.flags = append(imap.FlagsList{}, flags...)
		case "ENVELOPE":
			if !dec.ExpectSP() {
				return dec.Err()
			}
			envelope, err := readEnvelope(dec, options)
			if err != nil {
				return fmt.Errorf("在 envelope 中: %v", err)
			}
			msg.envelope = envelope
		case "INTERNALDATE":
			if !dec.ExpectSP() {
				return dec.Err()
			}
			t, err := internal.ExpectDateTime(dec)
			if err != nil {
				return err
			}
			msg.internalDate = t
		case "RFC822.SIZE":
			if !dec.ExpectSP() || !dec.ExpectNumber64(&msg.size) {
				return dec.Err()
			}
		case "BODYSTRUCTURE", "BODY":
			if attName == "BODY" && dec.Special('[') {
				section, err := readSectionSpec(dec)
				if err != nil {
					return fmt.Errorf("在 section-spec 中: %v", err)
				}
				var b []byte
				if !dec.ExpectSP() || !dec.ExpectNStringBytes(&b) {
					return dec.Err()
				}
				msg.sections[section] = b
				break
			}
			if !dec.ExpectSP() {
				return dec.Err()
			}
			bs, err := readBody(dec, options)
			if err != nil {
				return fmt.Errorf("在 body 中: %v", err)
			}
			msg.bodyStructure = bs
		default:
			// 跳过不认识的数据项
			if !dec.ExpectSP() || !dec.DiscardValue() {
				return dec.Err()
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func isMsgAttNameChar(ch byte) bool {
	return ch != '[' && imapwire.IsAtomChar(ch)
}

// readSectionSpec 读取 "[" 之后的节说明和 "]"，返回规范化的键。
//
// HEADER.FIELDS 和 HEADER.FIELDS.NOT 的字段列表不计入键。
func readSectionSpec(dec *imapwire.Decoder) (string, error) {
	var key strings.Builder

	part, dot := readSectionPart(dec)
	key.WriteString(imap.PartAddress(part))
	if dot || len(part) == 0 {
		var specifier string
		if dot {
			if !dec.ExpectAtom(&specifier) {
				return "", dec.Err()
			}
			key.WriteByte('.')
		} else {
			dec.Atom(&specifier)
		}
		specifier = strings.ToUpper(specifier)
		key.WriteString(specifier)

		if specifier == "HEADER.FIELDS" || specifier == "HEADER.FIELDS.NOT" {
			if !dec.ExpectSP() {
				return "", dec.Err()
			}
			err := dec.ExpectList(func() error {
				var s string
				if !dec.ExpectAString(&s) {
					return dec.Err()
				}
				return nil
			})
			if err != nil {
				return "", err
			}
		}
	}

	if !dec.ExpectSpecial(']') {
		return "", dec.Err()
	}
	// 部分获取的起始偏移 "<n>"
	if dec.Special('<') {
		var offset uint32
		if !dec.ExpectNumber(&offset) || !dec.ExpectSpecial('>') {
			return "", dec.Err()
		}
	}
	return key.String(), nil
}

// readSectionPart 读取 "1.2.3" 形式的部分路径。dot 表示路径之后还有 "." 和说明符。
func readSectionPart(dec *imapwire.Decoder) (part []int, dot bool) {
	for {
		dot = len(part) > 0
		if dot && !dec.Special('.') {
			return part, false
		}

		var num uint32
		if !dec.Number(&num) {
			return part, dot
		}
		part = append(part, int(num))
	}
}

func readEnvelope(dec *imapwire.Decoder, options *Options) (*imap.Envelope, error) {
	var envelope imap.Envelope

	if !dec.ExpectSpecial('(') {
		return nil, dec.Err()
	}

	var date, subject string
	if !dec.ExpectNString(&date) || !dec.ExpectSP() || !dec.ExpectNString(&subject) || !dec.ExpectSP() {
		return nil, dec.Err()
	}
	// 日期或编码不规范时保留零值或原文
	envelope.Date, _ = netmail.ParseDate(date)
	envelope.Subject, _ = options.decodeText(subject)

	addrLists := []struct {
		name string
		out  *[]imap.Address
	}{
		{"env-from", &envelope.From},
		{"env-sender", &envelope.Sender},
		{"env-reply-to", &envelope.ReplyTo},
		{"env-to", &envelope.To},
		{"env-cc", &envelope.Cc},
		{"env-bcc", &envelope.Bcc},
	}
	for _, addrList := range addrLists {
		l, err := readAddressList(dec, options)
		if err != nil {
			return nil, fmt.Errorf("在 %v 中: %v", addrList.name, err)
		} else if !dec.ExpectSP() {
			return nil, dec.Err()
		}
		*addrList.out = l
	}

	var inReplyTo, messageID string
	if !dec.ExpectNString(&inReplyTo) || !dec.ExpectSP() || !dec.ExpectNString(&messageID) {
		return nil, dec.Err()
	}
	envelope.InReplyTo, _ = parseMsgIDList(inReplyTo)
	envelope.MessageID, _ = parseMsgID(messageID)

	if !dec.ExpectSpecial(')') {
		return nil, dec.Err()
	}
	return &envelope, nil
}

func readAddressList(dec *imapwire.Decoder, options *Options) ([]imap.Address, error) {
	var l []imap.Address
	err := dec.ExpectNList(func() error {
		addr, err := readAddress(dec, options)
		if err != nil {
			return err
		}
		l = append(l, *addr)
		return nil
	})
	return l, err
}

func readAddress(dec *imapwire.Decoder, options *Options) (*imap.Address, error) {
	var (
		addr     imap.Address
		name     string
		obsRoute string
	)
	ok := dec.ExpectSpecial('(') &&
		dec.ExpectNString(&name) && dec.ExpectSP() &&
		dec.ExpectNString(&obsRoute) && dec.ExpectSP() &&
		dec.ExpectNString(&addr.Mailbox) && dec.ExpectSP() &&
		dec.ExpectNString(&addr.Host) && dec.ExpectSpecial(')')
	if !ok {
		return nil, fmt.Errorf("在 address 中: %v", dec.Err())
	}
	addr.Name, _ = options.decodeText(name)
	return &addr, nil
}

func parseMsgID(s string) (string, error) {
	var h mail.Header
	h.Set("Message-Id", s)
	return h.MessageID()
}

func parseMsgIDList(s string) ([]string, error) {
	var h mail.Header
	h.Set("In-Reply-To", s)
	return h.MsgIDList("In-Reply-To")
}

// readBody 读取 BODYSTRUCTURE 中的一个部分。
func readBody(dec *imapwire.Decoder, options *Options) (imap.BodyStructure, error) {
	if !dec.ExpectSpecial('(') {
		return nil, dec.Err()
	}

	var (
		mediaType string
		token     string
		bs        imap.BodyStructure
		err       error
	)
	if dec.String(&mediaType) {
		token = "body-type-1part"
		bs, err = readBodyType1part(dec, mediaType, options)
	} else {
		token = "body-type-mpart"
		bs, err = readBodyTypeMpart(dec, options)
	}
	if err != nil {
		return nil, fmt.Errorf("在 %v 中: %v", token, err)
	}

	for dec.SP() {
		if !dec.DiscardValue() {
			return nil, dec.Err()
		}
	}

	if !dec.ExpectSpecial(')') {
		return nil, dec.Err()
	}
	return bs, nil
}

func readBodyType1part(dec *imapwire.Decoder, typ string, options *Options) (*imap.BodyStructureSinglePart, error) {
	bs := imap.BodyStructureSinglePart{Type: typ}

	if !dec.ExpectSP() || !dec.ExpectString(&bs.Subtype) || !dec.ExpectSP() {
		return nil, dec.Err()
	}
	var err error
	bs.Params, err = readBodyFldParam(dec, options)
	if err != nil {
		return nil, err
	}

	var description string
	if !dec.ExpectSP() || !dec.ExpectNString(&bs.ID) || !dec.ExpectSP() || !dec.ExpectNString(&description) || !dec.ExpectSP() || !dec.ExpectNString(&bs.Encoding) || !dec.ExpectSP() || !dec.ExpectNumber(&bs.Size) {
		return nil, dec.Err()
	}

	// 有些服务器对 body-fld-enc 返回 NIL
	if bs.Encoding == "" {
		bs.Encoding = "7BIT"
	}

	bs.Description, _ = options.decodeText(description)

	hasSP := dec.SP()
	if !hasSP {
		return &bs, nil
	}

	if strings.EqualFold(bs.Type, "message") && (strings.EqualFold(bs.Subtype, "rfc822") || strings.EqualFold(bs.Subtype, "global")) {
		var msg imap.BodyStructureMessageRFC822

		msg.Envelope, err = readEnvelope(dec, options)
		if err != nil {
			return nil, err
		}

		if !dec.ExpectSP() {
			return nil, dec.Err()
		}

		msg.BodyStructure, err = readBody(dec, options)
		if err != nil {
			return nil, err
		}

		if !dec.ExpectSP() || !dec.ExpectNumber64(&msg.NumLines) {
			return nil, dec.Err()
		}

		bs.MessageRFC822 = &msg
		hasSP = false
	} else if strings.EqualFold(bs.Type, "text") {
		var text imap.BodyStructureText

		if !dec.ExpectNumber64(&text.NumLines) {
			return nil, dec.Err()
		}

		bs.Text = &text
		hasSP = false
	}

	if !hasSP {
		hasSP = dec.SP()
	}
	if hasSP {
		bs.Extended, err = readBodyExt1part(dec, options)
		if err != nil {
			return nil, fmt.Errorf("在 body-ext-1part 中: %v", err)
		}
	}

	return &bs, nil
}

func readBodyExt1part(dec *imapwire.Decoder, options *Options) (*imap.BodyStructureSinglePartExt, error) {
	var ext imap.BodyStructureSinglePartExt

	var md5 string
	if !dec.ExpectNString(&md5) {
		return nil, dec.Err()
	}

	if !dec.SP() {
		return &ext, nil
	}

	var err error
	ext.Disposition, err = readBodyFldDsp(dec, options)
	if err != nil {
		return nil, fmt.Errorf("在 body-fld-dsp 中: %v", err)
	}

	if !dec.SP() {
		return &ext, nil
	}

	ext.Language, err = readBodyFldLang(dec)
	if err != nil {
		return nil, fmt.Errorf("在 body-fld-lang 中: %v", err)
	}

	if !dec.SP() {
		return &ext, nil
	}

	if !dec.ExpectNString(&ext.Location) {
		return nil, dec.Err()
	}

	return &ext, nil
}

func readBodyTypeMpart(dec *imapwire.Decoder, options *Options) (*imap.BodyStructureMultiPart, error) {
	var bs imap.BodyStructureMultiPart

	for {
		child, err := readBody(dec, options)
		if err != nil {
			return nil, err
		}
		bs.Children = append(bs.Children, child)

		if dec.SP() && dec.String(&bs.Subtype) {
			break
		}
	}

	if dec.SP() {
		var err error
		bs.Extended, err = readBodyExtMpart(dec, options)
		if err != nil {
			return nil, fmt.Errorf("在 body-ext-mpart 中: %v", err)
		}
	}

	return &bs, nil
}

func readBodyExtMpart(dec *imapwire.Decoder, options *Options) (*imap.BodyStructureMultiPartExt, error) {
	var ext imap.BodyStructureMultiPartExt

	var err error
	ext.Params, err = readBodyFldParam(dec, options)
	if err != nil {
		return nil, fmt.Errorf("在 body-fld-param 中: %v", err)
	}

	if !dec.SP() {
		return &ext, nil
	}

	ext.Disposition, err = readBodyFldDsp(dec, options)
	if err != nil {
		return nil, fmt.Errorf("在 body-fld-dsp 中: %v", err)
	}

	if !dec.SP() {
		return &ext, nil
	}

	ext.Language, err = readBodyFldLang(dec)
	if err != nil {
		return nil, fmt.Errorf("在 body-fld-lang 中: %v", err)
	}

	if !dec.SP() {
		return &ext, nil
	}

	if !dec.ExpectNString(&ext.Location) {
		return nil, dec.Err()
	}

	return &ext, nil
}

func readBodyFldDsp(dec *imapwire.Decoder, options *Options) (*imap.BodyStructureDisposition, error) {
	if !dec.Special('(') {
		if !dec.ExpectNIL() {
			return nil, dec.Err()
		}
		return nil, nil
	}

	var disp imap.BodyStructureDisposition
	if !dec.ExpectString(&disp.Value) || !dec.ExpectSP() {
		return nil, dec.Err()
	}

	var err error
	disp.Params, err = readBodyFldParam(dec, options)
	if err != nil {
		return nil, err
	}
	if !dec.ExpectSpecial(')') {
		return nil, dec.Err()
	}
	return &disp, nil
}

func readBodyFldParam(dec *imapwire.Decoder, options *Options) (map[string]string, error) {
	var (
		params map[string]string
		k      string
	)
	err := dec.ExpectNList(func() error {
		var s string
		if !dec.ExpectString(&s) {
			return dec.Err()
		}

		if k == "" {
			k = s
		} else {
			if params == nil {
				params = make(map[string]string)
			}
			decoded, _ := options.decodeText(s)
			params[strings.ToLower(k)] = decoded
			k = ""
		}
		return nil
	})
	if err != nil {
		return nil, err
	} else if k != "" {
		return nil, fmt.Errorf("在 body-fld-param 中: 有键但无值")
	}
	return params, nil
}

func readBodyFldLang(dec *imapwire.Decoder) ([]string, error) {
	var l []string
	isList, err := dec.List(func() error {
		var s string
		if !dec.ExpectString(&s) {
			return dec.Err()
		}
		l = append(l, s)
		return nil
	})
	if err != nil || isList {
		return l, err
	}

	var s string
	if !dec.ExpectNString(&s) {
		return nil, dec.Err()
	}
	if s != "" {
		return []string{s}, nil
	}
	return nil, nil
}
