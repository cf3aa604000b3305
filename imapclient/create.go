package imapclient

import (
	"context"

	"github.com/luhaoyun888/go-minig/internal/imapwire"
)

// Create 发送 CREATE 命令，用于创建新的邮箱。
func (c *Client) Create(ctx context.Context, mailbox string) error {
	_, err := execute(ctx, c, &mailboxCommand{cmd: "CREATE", mailbox: mailbox})
	return err
}

// Delete 发送 DELETE 命令。
func (c *Client) Delete(ctx context.Context, mailbox string) error {
	_, err := execute(ctx, c, &mailboxCommand{cmd: "DELETE", mailbox: mailbox})
	return err
}

// Subscribe 发送 SUBSCRIBE 命令。
func (c *Client) Subscribe(ctx context.Context, mailbox string) error {
	_, err := execute(ctx, c, &mailboxCommand{cmd: "SUBSCRIBE", mailbox: mailbox})
	return err
}

// Unsubscribe 发送 UNSUBSCRIBE 命令。
func (c *Client) Unsubscribe(ctx context.Context, mailbox string) error {
	_, err := execute(ctx, c, &mailboxCommand{cmd: "UNSUBSCRIBE", mailbox: mailbox})
	return err
}

// Rename 发送 RENAME 命令。
func (c *Client) Rename(ctx context.Context, mailbox, newName string) error {
	_, err := execute(ctx, c, &renameCommand{mailbox: mailbox, newName: newName})
	return err
}

// mailboxCommand 是只带一个邮箱参数、没有返回数据的命令。
type mailboxCommand struct {
	cmd     string
	mailbox string
}

func (cmd *mailboxCommand) name() string { return cmd.cmd }

func (cmd *mailboxCommand) encode(enc *imapwire.Encoder) {
	enc.SP().Mailbox(cmd.mailbox)
}

func (*mailboxCommand) parse(b *responseBatch) (struct{}, error) {
	return struct{}{}, nil
}

type renameCommand struct {
	mailbox, newName string
}

func (*renameCommand) name() string { return "RENAME" }

func (cmd *renameCommand) encode(enc *imapwire.Encoder) {
	enc.SP().Mailbox(cmd.mailbox).SP().Mailbox(cmd.newName)
}

func (*renameCommand) parse(b *responseBatch) (struct{}, error) {
	return struct{}{}, nil
}
