package imap

import (
	"fmt"
	"strings"
)

// StatusResponseType 是一种通用状态响应类型。
type StatusResponseType string

const (
	StatusResponseTypeOK      StatusResponseType = "OK"      // 表示请求成功
	StatusResponseTypeNo      StatusResponseType = "NO"      // 表示请求失败
	StatusResponseTypeBad     StatusResponseType = "BAD"     // 表示请求无效
	StatusResponseTypePreAuth StatusResponseType = "PREAUTH" // 表示已预先授权
	StatusResponseTypeBye     StatusResponseType = "BYE"     // 表示会话结束
)

// ResponseCode 是一种响应代码。
type ResponseCode string

const (
	ResponseCodeAlert                ResponseCode = "ALERT"
	ResponseCodeAlreadyExists        ResponseCode = "ALREADYEXISTS"
	ResponseCodeAuthenticationFailed ResponseCode = "AUTHENTICATIONFAILED"
	ResponseCodeCannot               ResponseCode = "CANNOT"
	ResponseCodeNonExistent          ResponseCode = "NONEXISTENT"
	ResponseCodeOverQuota            ResponseCode = "OVERQUOTA"
	ResponseCodeTryCreate            ResponseCode = "TRYCREATE"
	ResponseCodeUnavailable          ResponseCode = "UNAVAILABLE"

	// 携带数据的响应代码
	ResponseCodeCapability     ResponseCode = "CAPABILITY"
	ResponseCodePermanentFlags ResponseCode = "PERMANENTFLAGS"
	ResponseCodeReadOnly       ResponseCode = "READ-ONLY"
	ResponseCodeReadWrite      ResponseCode = "READ-WRITE"
	ResponseCodeUIDNext        ResponseCode = "UIDNEXT"
	ResponseCodeUIDValidity    ResponseCode = "UIDVALIDITY"
	ResponseCodeUnseen         ResponseCode = "UNSEEN"
	ResponseCodeAppendUID      ResponseCode = "APPENDUID" // RFC 4315
	ResponseCodeCopyUID        ResponseCode = "COPYUID"   // RFC 4315

	// ManageSieve，RFC 5804
	ResponseCodeQuota    ResponseCode = "QUOTA"
	ResponseCodeActive   ResponseCode = "ACTIVE"
	ResponseCodeWarnings ResponseCode = "WARNINGS"
)

// StatusResponse 是一种通用状态响应。
//
// 参见 RFC 3501 第 7.1 节。
type StatusResponse struct {
	Type StatusResponseType // 状态响应类型
	Code ResponseCode       // 响应代码
	Text string             // 额外信息
}

// Error 是由 NO 或 BAD 状态响应引起的协议错误。
//
// 命令失败后会话仍然可用。
type Error StatusResponse

var _ error = (*Error)(nil)

// Error 实现了 error 接口。
func (err *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "imap: %v", err.Type)
	if err.Code != "" {
		fmt.Fprintf(&sb, " [%v]", err.Code)
	}
	text := err.Text
	if text == "" {
		text = "<unknown>"
	}
	fmt.Fprintf(&sb, " %v", text)
	return sb.String()
}
