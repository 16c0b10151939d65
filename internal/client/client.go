package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/yourusername/prepstream/internal/streaming"
	"github.com/yourusername/prepstream/internal/streams"
)

// Client は API サーバーへの HTTP クライアントです。
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Header は全リクエストに付けるヘッダーです（セッション Cookie など）。
	Header http.Header
	Poller Poller
}

// APIError は JSON エラー応答です。
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// Resumed は再接続時の結果です。
type Resumed struct {
	Status streaming.StatusView `json:"status"`
	// Events は再接続時点でバッファにあったイベントです。
	Events []streaming.Event `json:"events"`
	// Interview は completed で終わったときに取得し直したドキュメントです。
	Interview json.RawMessage `json:"interview,omitempty"`
}

// Status は生成の状態を取得します。
func (c *Client) Status(ctx context.Context, interviewID, module string) (streaming.StatusView, error) {
	var view streaming.StatusView
	resp, err := c.get(ctx, modulePath(interviewID, module, "stream"))
	if err != nil {
		return view, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return view, fmt.Errorf("decode status: %w", err)
	}
	return view, nil
}

// Content はバッファ済みのイベントと、その時点の状態を取得します。
func (c *Client) Content(ctx context.Context, interviewID, module string) ([]streaming.Event, streams.Status, error) {
	resp, err := c.get(ctx, modulePath(interviewID, module, "stream", "content"))
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	events, err := ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return events, streams.Status(resp.Header.Get(streaming.StreamStatusHeader)), nil
}

// Interview はドキュメントを JSON のまま取得します。
func (c *Client) Interview(ctx context.Context, interviewID string) (json.RawMessage, error) {
	resp, err := c.get(ctx, "/api/interviews/"+url.PathEscape(interviewID))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// Resume はページ再読み込み後の手順を行います。状態を確認し、バッファを取得し、
// active なら終了状態になるまでポーリングし、completed ならドキュメントを取得し直します。
func (c *Client) Resume(ctx context.Context, interviewID, module string) (*Resumed, error) {
	view, err := c.Status(ctx, interviewID, module)
	if err != nil {
		return nil, err
	}
	out := &Resumed{Status: view}
	if view.Status == streams.StatusNone {
		return out, nil
	}

	events, _, err := c.Content(ctx, interviewID, module)
	if err != nil {
		return nil, err
	}
	out.Events = events

	if view.Status == streams.StatusActive {
		view, err = c.Poller.Wait(ctx, func(ctx context.Context) (streaming.StatusView, error) {
			return c.Status(ctx, interviewID, module)
		})
		out.Status = view
		if err != nil {
			return out, err
		}
	}
	if view.Status == streams.StatusCompleted {
		doc, err := c.Interview(ctx, interviewID)
		if err != nil {
			return out, err
		}
		out.Interview = doc
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.BaseURL, "/")+path, nil)
	if err != nil {
		return nil, err
	}
	for k, values := range c.Header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return nil, apiErr
	}
	return resp, nil
}

func modulePath(interviewID, module string, rest ...string) string {
	parts := append([]string{"/api/interviews", url.PathEscape(interviewID), "modules", url.PathEscape(module)}, rest...)
	return strings.Join(parts, "/")
}
