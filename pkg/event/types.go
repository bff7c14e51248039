package event

import "errors"

// ErrInvalidNotification は通知の必須フィールドが欠けていることを表す。
var ErrInvalidNotification = errors.New("通知のidとmessageは必須です")

// Notification はプロデューサーから投稿される通知を表す。
// 配信後はメモリに保持せず、監査ログにのみ永続化される。
type Notification struct {
	// ID はプロデューサーが指定する識別子。一意性は検証しない。
	ID string `json:"id" binding:"required"`
	// Message は通知本文。
	Message string `json:"message" binding:"required"`
}

// Validate は通知の必須フィールドを検証する。
func (n Notification) Validate() error {
	if n.ID == "" || n.Message == "" {
		return ErrInvalidNotification
	}
	return nil
}

// AuditRecord は監査ログストアに保存されるレコードを表す。
// Msg には元のペイロード文字列がそのまま格納される。
type AuditRecord struct {
	// Msg は記録対象のペイロード。
	Msg string `json:"msg"`
}
