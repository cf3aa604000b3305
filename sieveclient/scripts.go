package sieveclient

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/luhaoyun888/go-minig"
	"github.com/luhaoyun888/go-minig/internal/imapwire"
)

// PutScript 上传脚本 name，已存在时覆盖。脚本不会被自动激活。
//
// 服务器检查脚本语法，语法错误以 *imap.Error 返回。
func (c *Client) PutScript(ctx context.Context, name string, content io.Reader) error {
	b, err := io.ReadAll(content)
	if err != nil {
		return fmt.Errorf("sieveclient: 读取脚本内容失败: %w", err)
	}
	_, err = execute(ctx, c, &putScriptCommand{script: name, content: b})
	return err
}

// ListScripts 返回服务器上的全部脚本，其中最多一个处于激活状态。
func (c *Client) ListScripts(ctx context.Context) ([]Script, error) {
	return execute(ctx, c, &listScriptsCommand{})
}

// GetScript 下载脚本 name 的内容。
func (c *Client) GetScript(ctx context.Context, name string) (string, error) {
	return execute(ctx, c, &getScriptCommand{script: name})
}

// DeleteScript 删除脚本 name。激活的脚本不能被删除。
func (c *Client) DeleteScript(ctx context.Context, name string) error {
	_, err := execute(ctx, c, &scriptCommand{cmd: "DELETESCRIPT", script: name})
	return err
}

// SetActive 激活脚本 name，并取消之前激活的脚本。name 为空时取消所有脚本的激活。
func (c *Client) SetActive(ctx context.Context, name string) error {
	_, err := execute(ctx, c, &scriptCommand{cmd: "SETACTIVE", script: name})
	return err
}

// Noop 发送 NOOP 命令。
func (c *Client) Noop(ctx context.Context) error {
	_, err := execute(ctx, c, &noopCommand{})
	return err
}

type putScriptCommand struct {
	script  string
	content []byte
}

func (*putScriptCommand) name() string { return "PUTSCRIPT" }

func (cmd *putScriptCommand) encode(enc *imapwire.Encoder) {
	enc.SP().String(cmd.script).SP().Literal(cmd.content)
}

func (*putScriptCommand) parse(b *responseBatch) (struct{}, error) {
	return struct{}{}, nil
}

type listScriptsCommand struct{}

func (*listScriptsCommand) name() string                 { return "LISTSCRIPTS" }
func (*listScriptsCommand) encode(enc *imapwire.Encoder) {}

func (*listScriptsCommand) parse(b *responseBatch) ([]Script, error) {
	var scripts []Script
	err := b.each(func(dec *imapwire.Decoder) error {
		var script Script
		if !dec.ExpectString(&script.Name) {
			return dec.Err()
		}
		if dec.SP() {
			var atom string
			if !dec.ExpectAtom(&atom) {
				return dec.Err()
			}
			script.Active = strings.EqualFold(atom, "ACTIVE")
		}
		scripts = append(scripts, script)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return scripts, nil
}

type getScriptCommand struct {
	script string
}

func (*getScriptCommand) name() string { return "GETSCRIPT" }

func (cmd *getScriptCommand) encode(enc *imapwire.Encoder) {
	enc.SP().String(cmd.script)
}

func (*getScriptCommand) parse(b *responseBatch) (string, error) {
	var content string
	found := false
	err := b.each(func(dec *imapwire.Decoder) error {
		if found {
			return nil
		}
		if !dec.ExpectString(&content) {
			return dec.Err()
		}
		found = true
		return nil
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", &imap.ParseError{Command: b.name, Err: fmt.Errorf("缺少脚本内容")}
	}
	return content, nil
}

// scriptCommand 是只带一个脚本名称参数的命令。
type scriptCommand struct {
	cmd    string
	script string
}

func (cmd *scriptCommand) name() string { return cmd.cmd }

func (cmd *scriptCommand) encode(enc *imapwire.Encoder) {
	enc.SP().String(cmd.script)
}

func (*scriptCommand) parse(b *responseBatch) (struct{}, error) {
	return struct{}{}, nil
}

type noopCommand struct{}

func (*noopCommand) name() string                 { return "NOOP" }
func (*noopCommand) encode(enc *imapwire.Encoder) {}

func (*noopCommand) parse(b *responseBatch) (struct{}, error) {
	return struct{}{}, nil
}
