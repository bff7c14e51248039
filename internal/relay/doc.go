// Package relay はプッシュ通知リレーのHTTPサーバーを提供する。
//
// 単一の購読者をSSEまたはWebSocketで受け付け、投稿された通知を
// リアルタイムに転送する。配信した通知は監査ログに記録する。
// ユーザーレジストリの追加・削除と監査ログの一括取得も扱う。
package relay
