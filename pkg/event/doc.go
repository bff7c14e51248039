// Package event は通知リレーで扱うメッセージの型とシリアライズ処理を提供する。
//
// プロデューサーが投稿する通知（Notification）と、監査ログに保存される
// レコード（AuditRecord）を定義する。サーバー、ブロードキャスター、
// 監査ログ、CLIのすべてがこのパッケージの型を共有する。
package event
