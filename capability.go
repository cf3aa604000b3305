package imap

import (
	"strings"
)

// Cap 表示 IMAP 的能力。
type Cap string

// 客户端关心的能力。
//
// 参见：https://www.iana.org/assignments/imap-capabilities/
const (
	CapIMAP4rev1 Cap = "IMAP4rev1" // RFC 3501

	CapAuthPlain Cap = "AUTH=PLAIN"
	CapSASLIR    Cap = "SASL-IR" // RFC 4959

	CapStartTLS      Cap = "STARTTLS"      // 支持 STARTTLS
	CapLoginDisabled Cap = "LOGINDISABLED" // 登录被禁用

	CapNamespace      Cap = "NAMESPACE"        // RFC 2342
	CapUIDPlus        Cap = "UIDPLUS"          // RFC 4315
	CapIdle           Cap = "IDLE"             // RFC 2177
	CapQuota          Cap = "QUOTA"            // RFC 9208
	CapLiteralPlus    Cap = "LITERAL+"         // RFC 7888
	CapThreadRefs     Cap = "THREAD=REFERENCES" // RFC 5256
	CapThreadOrderSub Cap = "THREAD=ORDEREDSUBJECT"
)

// AuthCap 返回 SASL 身份验证机制的能力名称。
func AuthCap(mechanism string) Cap {
	return Cap("AUTH=" + mechanism)
}

// CapSet 是能力集合的类型。
type CapSet map[Cap]struct{}

// NewCapSet 从原子列表构造能力集合。
func NewCapSet(caps ...string) CapSet {
	set := make(CapSet, len(caps))
	for _, c := range caps {
		set[Cap(c)] = struct{}{}
	}
	return set
}

// Has 检查能力集合是否支持某个能力，比较时不区分大小写。
func (set CapSet) Has(c Cap) bool {
	if _, ok := set[c]; ok {
		return true
	}
	for k := range set {
		if strings.EqualFold(string(k), string(c)) {
			return true
		}
	}
	return false
}

// AuthMechanisms 返回服务器通告的 SASL 机制。
func (set CapSet) AuthMechanisms() []string {
	var l []string
	for c := range set {
		if mech, ok := strings.CutPrefix(string(c), "AUTH="); ok {
			l = append(l, mech)
		}
	}
	return l
}
