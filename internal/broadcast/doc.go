// Package broadcast は単一の購読者への通知配信を提供する。
//
// Broadcasterは現在接続中の購読者（Sink）を1つだけ保持する。
// 新しい購読者が登録されると以前の購読者は切断され、置き換えられる。
// 通知は購読者が存在すれば即座に書き込まれ、存在しなければ配信は行わない。
// いずれの場合も監査ログへの記録は必ず行われる。
//
// 購読者の接続はSinkインターフェースで抽象化されており、
// Server-Sent Events（SSESink）とWebSocket（WebSocketSink）の実装を持つ。
package broadcast
