// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// パニックリカバリ、構造化アクセスログ、CORS設定、
// 通知投稿のレート制限など、リレーサーバーが使用するミドルウェアを含む。
package middleware
