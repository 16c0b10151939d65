package generation

import (
	"encoding/json"
	"strings"
)

type frame struct {
	closer  byte
	wantKey bool
}

type cutPoint struct {
	pos     int
	closers []byte
}

// CompletePartial は途中までの JSON テキストを、直近の完結した値の位置で切り詰め、
// 開いている括弧を閉じた有効な JSON として返します。有効な形にできない場合は nil です。
func CompletePartial(text string) json.RawMessage {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return nil
	}
	text = text[start:]

	var (
		stack    []frame
		inString bool
		escaped  bool
		isKey    bool
		best     *cutPoint
	)
	mark := func(pos int) {
		closers := make([]byte, len(stack))
		for i := range stack {
			closers[len(stack)-1-i] = stack[i].closer
		}
		best = &cutPoint{pos: pos, closers: closers}
	}

	for i := 0; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
				if !isKey {
					mark(i + 1)
				}
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
			isKey = len(stack) > 0 && stack[len(stack)-1].closer == '}' && stack[len(stack)-1].wantKey
		case '{':
			stack = append(stack, frame{closer: '}', wantKey: true})
			mark(i + 1)
		case '[':
			stack = append(stack, frame{closer: ']'})
			mark(i + 1)
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1].closer != ch {
				return nil
			}
			stack = stack[:len(stack)-1]
			mark(i + 1)
			if len(stack) == 0 {
				return validOrNil(text[:i+1])
			}
		case ',':
			mark(i)
			if top := len(stack) - 1; top >= 0 && stack[top].closer == '}' {
				stack[top].wantKey = true
			}
		case ':':
			if top := len(stack) - 1; top >= 0 {
				stack[top].wantKey = false
			}
		}
	}

	if best == nil {
		return nil
	}
	candidate := strings.TrimRight(text[:best.pos], " \t\r\n")
	return validOrNil(candidate + string(best.closers))
}

func validOrNil(s string) json.RawMessage {
	if !json.Valid([]byte(s)) {
		return nil
	}
	return json.RawMessage(s)
}
