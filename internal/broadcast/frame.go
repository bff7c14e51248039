package broadcast

import "bytes"

var (
	dataPrefix = []byte("data: ")
	// keepAliveFrame はSSEのコメント行。クライアントには通知として扱われない。
	keepAliveFrame = []byte(": keepalive\n\n")
)

// EncodeFrame はペイロードをServer-Sent Eventsのフレームに変換する。
// 出力は "data: <payload>\n\n" となる。ペイロードが改行を含む場合は
// 行ごとに data フィールドを分ける。
func EncodeFrame(payload []byte) []byte {
	lines := bytes.Split(payload, []byte{'\n'})

	var buf bytes.Buffer
	buf.Grow(len(payload) + len(lines)*(len(dataPrefix)+1) + 1)
	for _, line := range lines {
		buf.Write(dataPrefix)
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}
