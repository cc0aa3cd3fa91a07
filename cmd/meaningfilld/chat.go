package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meaningfill/class-sub000/sdk/go/meaningfill"
)

func newChatCmd() *cobra.Command {
	var (
		serverURL string
		sessionID string
		token     string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "通过 API 与咨询助手交互式对话",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := meaningfill.NewClient(serverURL, nil)
			if err != nil {
				return err
			}
			client.SetAccessToken(token)

			ctx := cmd.Context()
			if sessionID == "" {
				sess, err := client.CreateSession(ctx)
				if err != nil {
					return err
				}
				sessionID = sess.ID
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "会话 %s 已就绪，输入 /quit 退出。\n", sessionID)

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch line {
				case "":
					continue
				case "/quit", "/exit":
					return nil
				}
				reply, err := client.SendMessage(ctx, sessionID, line)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, reply.Reply)
			}
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "API 服务地址")
	cmd.Flags().StringVar(&sessionID, "session", "", "继续已有会话")
	cmd.Flags().StringVar(&token, "token", "", "Bearer Token")
	return cmd
}
