// Package streaming は生成結果を SSE で配信し、再接続したクライアントに状態とバッファを返します。
package streaming

import (
	"bytes"
	"encoding/json"

	"github.com/gin-contrib/sse"
)

// EventType はストリームイベントの種類です。
type EventType string

const (
	EventContent  EventType = "content"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
	EventDone     EventType = "done"
)

// Event は1件の SSE data フレームの中身です。
type Event struct {
	Type   EventType       `json:"type"`
	Module string          `json:"module"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Terminal は complete / error / done のいずれかであるかを返します。
func (e Event) Terminal() bool {
	return e.Type != EventContent
}

// Frame は `data:{json}\n\n` 形式のフレームにエンコードします。
func (e Event) Frame() ([]byte, error) {
	var buf bytes.Buffer
	if err := sse.Encode(&buf, sse.Event{Data: e}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseEvents は SSE ストリーム全体をイベント列に戻します。
func ParseEvents(raw []byte) ([]Event, error) {
	frames, err := sse.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(frames))
	for _, frame := range frames {
		data, ok := frame.Data.(string)
		if !ok || data == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}
