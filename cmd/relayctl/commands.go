package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nao1215/pushrelay/pkg/event"
	"github.com/nao1215/pushrelay/pkg/httpclient"
	"github.com/spf13/cobra"
)

func newPublishCmd(opts *globalOptions) *cobra.Command {
	var n event.Notification
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a notification to the current subscriber",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := n.Validate(); err != nil {
				return err
			}
			if err := opts.client().Publish(cmd.Context(), n); err != nil {
				return fmt.Errorf("通知の投稿に失敗: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "success")
			return nil
		},
	}
	cmd.Flags().StringVar(&n.ID, "id", "", "notification id")
	cmd.Flags().StringVar(&n.Message, "message", "", "notification message")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func newAddUserCmd(opts *globalOptions) *cobra.Command {
	var u httpclient.User
	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "Add a user to the registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.client().AddUser(cmd.Context(), u); err != nil {
				return fmt.Errorf("ユーザーの追加に失敗: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d added\n", u.ID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&u.ID, "id", 0, "user id")
	cmd.Flags().StringVar(&u.Name, "name", "", "user name")
	cmd.Flags().StringVar(&u.Email, "email", "", "user email")
	for _, f := range []string{"id", "name", "email"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func newDeleteUserCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deleteuser <id>",
		Short: "Delete a user from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("ユーザーIDは整数で指定してください: %q", args[0])
			}
			if err := opts.client().DeleteUser(cmd.Context(), id); err != nil {
				return fmt.Errorf("ユーザーの削除に失敗: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d deleted\n", id)
			return nil
		},
	}
}

func newGetUserCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "getuser <id>",
		Short: "Show a registered user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("ユーザーIDは整数で指定してください: %q", args[0])
			}
			u, err := opts.client().GetUser(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("ユーザーの取得に失敗: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "id:    %d\nname:  %s\nemail: %s\n", u.ID, u.Name, u.Email)
			return nil
		},
	}
}

func newLogsCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Dump every notification recorded in the audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logs, err := opts.client().Logs(cmd.Context())
			if err != nil {
				return fmt.Errorf("監査ログの取得に失敗: %w", err)
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(logs)
			}
			for _, payload := range logs {
				fmt.Fprintln(out, payload)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the logs as a JSON array")
	return cmd
}

func newHealthCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show server health and whether a subscriber is attached",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := opts.client().Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("ヘルスチェックに失敗: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status:     %s\nservice:    %s\nsubscriber: %t\n",
				h.Status, h.Service, h.Subscriber)
			return nil
		},
	}
}
