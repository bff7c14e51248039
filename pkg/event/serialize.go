package event

import (
	"encoding/json"
	"fmt"
)

// Encode は通知を配信用のJSONにシリアライズする。
// フィールド順は常に id, message となる。
func (n Notification) Encode() ([]byte, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("通知のシリアライズに失敗: %w", err)
	}
	return b, nil
}

// EncodeAuditRecord はペイロード文字列を監査ログレコードのJSONに変換する。
func EncodeAuditRecord(payload string) ([]byte, error) {
	b, err := json.Marshal(AuditRecord{Msg: payload})
	if err != nil {
		return nil, fmt.Errorf("監査ログレコードのシリアライズに失敗: %w", err)
	}
	return b, nil
}

// DecodeAuditRecord は監査ログレコードのJSONから元のペイロード文字列を取り出す。
func DecodeAuditRecord(data []byte) (string, error) {
	var rec AuditRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", fmt.Errorf("監査ログレコードのデシリアライズに失敗: %w", err)
	}
	return rec.Msg, nil
}
