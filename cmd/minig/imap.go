package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/luhaoyun888/go-minig"
	"github.com/luhaoyun888/go-minig/imapclient"
)

// withIMAP 登录 IMAP 服务器，运行 f，然后注销。
func (a *app) withIMAP(ctx context.Context, f func(client *imapclient.Client) error) error {
	client, err := a.dialIMAP(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Logout(context.WithoutCancel(ctx)); err != nil {
			a.log.Warn().Err(err).Msg("注销失败")
		}
	}()
	return f(client)
}

func newMailboxesCommand(a *app) *cobra.Command {
	var subscribed, status bool
	cmd := &cobra.Command{
		Use:   "mailboxes [pattern]",
		Short: "列出邮箱",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := "*"
			if len(args) > 0 {
				pattern = args[0]
			}
			return a.withIMAP(cmd.Context(), func(client *imapclient.Client) error {
				list := client.ListAll
				if subscribed {
					list = client.ListSubscribed
				}
				result, err := list(cmd.Context(), "", pattern)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				for _, info := range result.Infos {
					attrs := make([]string, len(info.Attrs))
					for i, attr := range info.Attrs {
						attrs[i] = string(attr)
					}
					counts := ""
					if status && info.Selectable {
						data, err := client.Status(cmd.Context(), info.Name, &imap.StatusOptions{NumMessages: true, NumUnseen: true})
						if err != nil {
							return err
						}
						counts = fmt.Sprintf("%v/%v", deref(data.NumUnseen), deref(data.NumMessages))
					}
					fmt.Fprintf(tw, "%v\t%v\t%v\n", info.Name, counts, strings.Join(attrs, " "))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&subscribed, "subscribed", false, "只列出已订阅的邮箱")
	cmd.Flags().BoolVar(&status, "status", false, "显示未读/总消息数")
	return cmd
}

func deref(p *uint32) string {
	if p == nil {
		return "?"
	}
	return strconv.FormatUint(uint64(*p), 10)
}

func newSearchCommand(a *app) *cobra.Command {
	var (
		from, subject, since string
		unseen               bool
		limit                int
	)
	cmd := &cobra.Command{
		Use:   "search <mailbox>",
		Short: "搜索邮箱并显示匹配消息的信封",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			criteria := &imap.SearchCriteria{}
			if from != "" {
				criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{Key: "From", Value: from})
			}
			if subject != "" {
				criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{Key: "Subject", Value: subject})
			}
			if since != "" {
				t, err := time.Parse(time.DateOnly, since)
				if err != nil {
					return fmt.Errorf("无效的日期 %q: %w", since, err)
				}
				criteria.Since = t
			}
			if unseen {
				criteria.NotFlag = append(criteria.NotFlag, imap.FlagSeen)
			}

			ctx := cmd.Context()
			return a.withIMAP(ctx, func(client *imapclient.Client) error {
				if _, err := client.Examine(ctx, args[0]); err != nil {
					return err
				}
				uids, err := client.UIDSearch(ctx, criteria)
				if err != nil {
					return err
				}
				if limit > 0 && len(uids) > limit {
					uids = uids[len(uids)-limit:]
				}
				if len(uids) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "没有匹配的消息")
					return nil
				}
				envelopes, err := client.UIDFetchEnvelope(ctx, imap.UIDSetNum(uids...))
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				for _, msg := range envelopes {
					env := msg.Envelope
					if env == nil {
						continue
					}
					var sender string
					if len(env.From) > 0 {
						sender = env.From[0].Addr()
					}
					fmt.Fprintf(tw, "%v\t%v\t%v\t%v\n", msg.UID, env.Date.Format(time.DateTime), sender, env.Subject)
				}
				return tw.Flush()
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&from, "from", "", "发件人包含此字符串")
	flags.StringVar(&subject, "subject", "", "主题包含此字符串")
	flags.StringVar(&since, "since", "", "只匹配此日期之后的消息 (YYYY-MM-DD)")
	flags.BoolVar(&unseen, "unseen", false, "只匹配未读消息")
	flags.IntVar(&limit, "limit", 50, "最多显示的消息数量，0 表示不限制")
	return cmd
}

func newFetchCommand(a *app) *cobra.Command {
	var (
		part      string
		structure bool
	)
	cmd := &cobra.Command{
		Use:   "fetch <mailbox> <uid>",
		Short: "下载一封消息或其中的一个部分",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil || n == 0 {
				return fmt.Errorf("无效的 UID %q", args[1])
			}
			uid := imap.UID(n)

			ctx := cmd.Context()
			return a.withIMAP(ctx, func(client *imapclient.Client) error {
				if _, err := client.Examine(ctx, args[0]); err != nil {
					return err
				}
				if structure {
					return printStructure(ctx, cmd, client, uid)
				}
				var b []byte
				if part != "" {
					b, err = client.UIDFetchPart(ctx, uid, part)
				} else {
					b, err = client.UIDFetchMessage(ctx, uid)
				}
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(b)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&part, "part", "", "部分地址，例如 1.2")
	cmd.Flags().BoolVar(&structure, "structure", false, "显示 MIME 结构而不是内容")
	return cmd
}

func printStructure(ctx context.Context, cmd *cobra.Command, client *imapclient.Client, uid imap.UID) error {
	msgs, err := client.UIDFetchBodyStructure(ctx, imap.UIDSetNum(uid))
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return fmt.Errorf("消息 %v 不存在", uid)
	}
	out := cmd.OutOrStdout()
	msgs[0].BodyStructure.Walk(func(path []int, part imap.BodyStructure) bool {
		address := imap.PartAddress(path)
		if address == "" {
			address = "-"
		}
		line := fmt.Sprintf("%v%v %v", strings.Repeat("  ", len(path)), address, part.MediaType())
		if single, ok := part.(*imap.BodyStructureSinglePart); ok {
			if name := single.Filename(); name != "" {
				line += " " + strconv.Quote(name)
			}
			line += fmt.Sprintf(" %v 字节", single.Size)
		}
		fmt.Fprintln(out, line)
		return true
	})
	return nil
}

func newIdleCommand(a *app) *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "idle <mailbox>",
		Short: "选择邮箱并打印 IDLE 期间的通知",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withIMAP(ctx, func(client *imapclient.Client) error {
				data, err := client.Select(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "%v: %v 封消息，等待通知...\n", args[0], data.NumMessages)

				var (
					closed    = make(chan struct{})
					closeOnce sync.Once
				)
				observer := imapclient.IdleObserverFunc(func(ev *imapclient.IdleEvent) {
					switch ev.Kind {
					case imapclient.IdleEventExists:
						fmt.Fprintf(cmd.OutOrStdout(), "EXISTS %v\n", ev.Num)
					case imapclient.IdleEventExpunge:
						fmt.Fprintf(cmd.OutOrStdout(), "EXPUNGE %v\n", ev.Num)
					case imapclient.IdleEventClosed, imapclient.IdleEventTerminated:
						closeOnce.Do(func() { close(closed) })
					default:
						fmt.Fprintln(cmd.OutOrStdout(), ev.Line)
					}
				})
				if _, err := client.StartIdle(ctx, observer); err != nil {
					return err
				}

				var timeout <-chan time.Time
				if duration > 0 {
					timer := time.NewTimer(duration)
					defer timer.Stop()
					timeout = timer.C
				}
				select {
				case <-ctx.Done():
				case <-timeout:
				case <-closed:
					return nil
				}
				return client.StopIdle(context.WithoutCancel(ctx))
			})
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "IDLE 的持续时间，0 表示直到中断")
	return cmd
}
