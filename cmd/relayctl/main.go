// プッシュ通知リレーの運用CLI。
// 通知の投稿、ユーザーの追加・削除、監査ログの取得を行う。
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/nao1215/pushrelay/pkg/httpclient"
	"github.com/spf13/cobra"
)

// defaultServer はリレーサーバーの既定のURL。
const defaultServer = "http://localhost:8080"

// globalOptions は全サブコマンド共通のオプション。
type globalOptions struct {
	server    string
	timeout   time.Duration
	requestID string
}

// client はオプションからリレーサーバーのクライアントを生成する。
func (o *globalOptions) client() *httpclient.Client {
	return httpclient.New(o.server, httpclient.WithTimeout(o.timeout))
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "relayctl",
		Short:         "Operate a pushrelay server",
		Long:          "relayctl publishes notifications, manages the user registry and dumps the audit log of a pushrelay server.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if opts.requestID != "" {
				cmd.SetContext(httpclient.WithRequestID(cmd.Context(), opts.requestID))
			}
		},
	}

	server := os.Getenv("RELAY_URL")
	if server == "" {
		server = defaultServer
	}
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", server, "relay server URL (env RELAY_URL)")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")
	rootCmd.PersistentFlags().StringVar(&opts.requestID, "request-id", "", "X-Request-ID header sent with every request")

	rootCmd.AddCommand(
		newPublishCmd(opts),
		newAddUserCmd(opts),
		newDeleteUserCmd(opts),
		newGetUserCmd(opts),
		newLogsCmd(opts),
		newHealthCmd(opts),
	)
	return rootCmd
}
