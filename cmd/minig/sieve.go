package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luhaoyun888/go-minig/sieveclient"
)

func (a *app) withSieve(ctx context.Context, f func(client *sieveclient.Client) error) error {
	client, err := a.dialSieve(ctx)
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

func newScriptsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scripts",
		Short: "管理 Sieve 脚本",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "列出脚本",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSieve(cmd.Context(), func(client *sieveclient.Client) error {
				scripts, err := client.ListScripts(cmd.Context())
				if err != nil {
					return err
				}
				for _, script := range scripts {
					marker := " "
					if script.Active {
						marker = "*"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%v %v\n", marker, script.Name)
				}
				return nil
			})
		},
	})

	var activate bool
	put := &cobra.Command{
		Use:   "put <name> <file>",
		Short: "上传脚本，file 为 - 时从标准输入读取",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if args[1] != "-" {
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return a.withSieve(cmd.Context(), func(client *sieveclient.Client) error {
				if err := client.PutScript(cmd.Context(), args[0], in); err != nil {
					return err
				}
				if activate {
					return client.SetActive(cmd.Context(), args[0])
				}
				return nil
			})
		},
	}
	put.Flags().BoolVar(&activate, "activate", false, "上传后激活脚本")
	cmd.AddCommand(put)

	cmd.AddCommand(&cobra.Command{
		Use:   "get <name>",
		Short: "打印脚本内容",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSieve(cmd.Context(), func(client *sieveclient.Client) error {
				content, err := client.GetScript(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), content)
				return err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "删除脚本",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSieve(cmd.Context(), func(client *sieveclient.Client) error {
				return client.DeleteScript(cmd.Context(), args[0])
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "activate <name>",
		Short: "激活脚本，名称为空字符串时停用所有脚本",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSieve(cmd.Context(), func(client *sieveclient.Client) error {
				return client.SetActive(cmd.Context(), args[0])
			})
		},
	})
	return cmd
}
