// Package httpclient はリレーサーバーのHTTP APIを呼び出すクライアントを提供する。
//
// 運用CLIやプロデューサーが通知の投稿、ユーザーの追加・削除、
// 監査ログの取得を行う際に使用する。
package httpclient
