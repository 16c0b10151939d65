// Package client はストリーミング API の Go クライアントです。SSE の読み取りと再接続後の状態ポーリングを行います。
package client

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/gin-contrib/sse"

	"github.com/yourusername/prepstream/internal/streaming"
)

const maxFrameSize = 4 << 20

// EventReader は SSE ストリームからイベントを1件ずつ読み出します。
type EventReader struct {
	scanner *bufio.Scanner
}

// NewEventReader は r を読む EventReader を作成します。
func NewEventReader(r io.Reader) *EventReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxFrameSize)
	scanner.Split(splitFrames)
	return &EventReader{scanner: scanner}
}

// Next は次のイベントを返します。ストリームの終わりでは io.EOF です。
func (r *EventReader) Next() (streaming.Event, error) {
	for r.scanner.Scan() {
		frame := r.scanner.Bytes()
		if len(bytes.TrimSpace(frame)) == 0 {
			continue
		}
		buf := make([]byte, 0, len(frame)+2)
		buf = append(append(buf, frame...), "\n\n"...)
		decoded, err := sse.Decode(bytes.NewReader(buf))
		if err != nil {
			return streaming.Event{}, fmt.Errorf("decode frame: %w", err)
		}
		for _, d := range decoded {
			data, ok := d.Data.(string)
			if !ok || data == "" {
				continue
			}
			var ev streaming.Event
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				return streaming.Event{}, fmt.Errorf("decode event: %w", err)
			}
			return ev, nil
		}
	}
	if err := r.scanner.Err(); err != nil {
		return streaming.Event{}, err
	}
	return streaming.Event{}, io.EOF
}

// ReadAll は done / error まで、またはストリームの終わりまで読み、イベントを返します。
func ReadAll(r io.Reader) ([]streaming.Event, error) {
	reader := NewEventReader(r)
	var events []streaming.Event
	for {
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
		if ev.Type == streaming.EventDone || ev.Type == streaming.EventError {
			return events, nil
		}
	}
}

// splitFrames は空行で区切られたフレームを1件ずつ返します。
func splitFrames(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.Index(data, []byte("\n\n")); i >= 0 {
		return i + 2, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
