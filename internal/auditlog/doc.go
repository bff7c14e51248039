// Package auditlog は配信した通知の監査ログを永続化する。
//
// 通知ペイロードは {"msg": "<payload>"} 形式のJSONとして、
// ランダムに生成したUUIDをキーにストアへ書き込まれる。
// 書き込みは通知の配信を待たせないよう別のgoroutineで行い、
// 失敗はログに記録するだけで呼び出し元には伝播しない。
//
// ストアはS3互換のオブジェクトストア（S3Store）と、
// ローカル開発用のSQLite（SQLiteStore）を選択できる。
package auditlog
