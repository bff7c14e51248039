// プッシュ通知リレーのエントリポイント。
// 単一の購読者に通知をリアルタイムで転送し、監査ログに記録する。
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/nao1215/pushrelay/internal/auditlog"
	"github.com/nao1215/pushrelay/internal/broadcast"
	"github.com/nao1215/pushrelay/internal/config"
	"github.com/nao1215/pushrelay/internal/registry"
	"github.com/nao1215/pushrelay/internal/relay"
	"github.com/nao1215/pushrelay/pkg/logging"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pushrelay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return fmt.Errorf("ロガーの初期化に失敗: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	users, err := openRegistry(ctx, cfg.Registry, logger)
	if err != nil {
		return fmt.Errorf("ユーザーレジストリの初期化に失敗: %w", err)
	}
	if c, ok := users.(io.Closer); ok {
		defer c.Close()
	}

	store, err := openAuditStore(ctx, cfg.Audit, logger)
	if err != nil {
		return fmt.Errorf("監査ログストアの初期化に失敗: %w", err)
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}

	audit := auditlog.NewLogger(store, logger, auditlog.WithWriteTimeout(cfg.Audit.WriteTimeout))
	b := broadcast.New(audit, logger)
	server := relay.NewServer(cfg, b, users, audit, logger)

	logger.Info("プッシュ通知リレーを起動します",
		zap.String("port", cfg.Port),
		zap.String("registry_backend", cfg.Registry.Backend),
		zap.String("audit_backend", cfg.Audit.Backend),
	)
	return server.Run(ctx)
}

// openRegistry は設定に応じたユーザーレジストリを生成する。
func openRegistry(ctx context.Context, cfg config.RegistryConfig, logger *zap.Logger) (relay.UserStore, error) {
	switch cfg.Backend {
	case config.RegistryBackendDynamoDB:
		return registry.NewDynamoStore(ctx, registry.DynamoConfig{
			Table:    cfg.Table,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
		})
	case config.RegistryBackendSQLite:
		return registry.OpenSQLiteStore(ctx, cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("未対応のレジストリバックエンド: %q", cfg.Backend)
	}
}

// openAuditStore は設定に応じた監査ログストアを生成する。
func openAuditStore(ctx context.Context, cfg config.AuditConfig, logger *zap.Logger) (auditlog.Store, error) {
	switch cfg.Backend {
	case config.AuditBackendS3:
		return auditlog.NewS3Store(ctx, auditlog.S3Config{
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
		})
	case config.AuditBackendSQLite:
		return auditlog.OpenSQLiteStore(ctx, cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("未対応の監査ログバックエンド: %q", cfg.Backend)
	}
}
