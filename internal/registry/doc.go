// Package registry はユーザーレジストリの永続化を提供する。
//
// ユーザーはIDで一意に識別され、追加・削除・参照をサポートする。更新はない。
// 保存先はSQLite（SQLiteStore）またはDynamoDB（DynamoStore）で、
// どちらも追加を条件付き書き込みで行うため既存IDが上書きされることはない。
package registry
