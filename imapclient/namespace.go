package imapclient

import (
	"context"
	"fmt"

	"github.com/luhaoyun888/go-minig"
	"github.com/luhaoyun888/go-minig/internal/imapwire"
)

// Namespace 发送 NAMESPACE 命令。
//
// 此命令需要支持 NAMESPACE 扩展（RFC 2342）。
func (c *Client) Namespace(ctx context.Context) (*imap.NamespaceInfo, error) {
	return execute(ctx, c, &namespaceCommand{})
}

type namespaceCommand struct{}

func (*namespaceCommand) name() string                 { return "NAMESPACE" }
func (*namespaceCommand) encode(enc *imapwire.Encoder) {}

func (*namespaceCommand) parse(b *responseBatch) (*imap.NamespaceInfo, error) {
	var info *imap.NamespaceInfo
	err := b.each("NAMESPACE", func(_ uint32, dec *imapwire.Decoder) error {
		if !dec.ExpectSP() {
			return dec.Err()
		}
		var err error
		info, err = readNamespaceResponse(dec)
		return err
	})
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, &imap.ParseError{Command: b.name, Err: fmt.Errorf("缺少 NAMESPACE 响应")}
	}
	return info, nil
}

// readNamespaceResponse 读取 NAMESPACE 响应。
func readNamespaceResponse(dec *imapwire.Decoder) (*imap.NamespaceInfo, error) {
	var (
		info imap.NamespaceInfo
		err  error
	)

	info.Personal, err = readNamespace(dec) // 读取个人命名空间
	if err != nil {
		return nil, err
	}
	if !dec.ExpectSP() {
		return nil, dec.Err()
	}

	info.Other, err = readNamespace(dec) // 读取其他用户的命名空间
	if err != nil {
		return nil, err
	}
	if !dec.ExpectSP() {
		return nil, dec.Err()
	}

	info.Shared, err = readNamespace(dec) // 读取共享命名空间
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// readNamespace 读取命名空间描述符列表或 NIL。
func readNamespace(dec *imapwire.Decoder) ([]imap.NamespaceDescriptor, error) {
	var l []imap.NamespaceDescriptor
	err := dec.ExpectNList(func() error {
		descr, err := readNamespaceDescr(dec)
		if err != nil {
			return fmt.Errorf("在 namespace-descr 中: %v", err)
		}
		l = append(l, *descr)
		return nil
	})
	return l, err
}

func readNamespaceDescr(dec *imapwire.Decoder) (*imap.NamespaceDescriptor, error) {
	var descr imap.NamespaceDescriptor

	if !dec.ExpectSpecial('(') || !dec.ExpectString(&descr.Prefix) || !dec.ExpectSP() {
		return nil, dec.Err()
	}

	var err error
	descr.Delim, err = readDelim(dec)
	if err != nil {
		return nil, err
	}

	// 跳过命名空间响应扩展
	for dec.SP() {
		if !dec.DiscardValue() {
			return nil, dec.Err()
		}
	}

	if !dec.ExpectSpecial(')') {
		return nil, dec.Err()
	}
	return &descr, nil
}
