package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAISettings はプラットフォーム既定の認証情報です。
type OpenAISettings struct {
	APIKey  string
	Model   string
	BaseURL string
}

// OpenAIDriver は openai-go のストリーミング API で構造化出力を生成します。
type OpenAIDriver struct {
	defaults OpenAISettings
}

// NewOpenAIDriver は OpenAIDriver を作成します。
func NewOpenAIDriver(settings OpenAISettings) (*OpenAIDriver, error) {
	if strings.TrimSpace(settings.Model) == "" {
		return nil, errors.New("openai model is required")
	}
	return &OpenAIDriver{defaults: settings}, nil
}

// Stream は生成を開始します。部分値は JSON の区切りごとに送出されます。
func (d *OpenAIDriver) Stream(ctx context.Context, req Request) *Stream {
	creds := d.resolve(req.Credentials)
	if creds.APIKey == "" {
		return Failed(errors.New("openai api key missing"))
	}

	return Run(ctx, func(ctx context.Context, emit Emit) (*Result, error) {
		opts := []option.RequestOption{option.WithAPIKey(creds.APIKey)}
		if creds.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(creds.BaseURL))
		}
		client := openai.NewClient(opts...)

		stream := client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
			Model: openai.ChatModel(creds.Model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(req.Prompt.System),
				openai.UserMessage(req.Prompt.User),
			},
			ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
			},
			StreamOptions: openai.ChatCompletionStreamOptionsParam{
				IncludeUsage: openai.Bool(true),
			},
		})
		defer stream.Close()

		acc := openai.ChatCompletionAccumulator{}
		var (
			text strings.Builder
			last json.RawMessage
		)
		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			text.WriteString(delta)
			if !strings.ContainsAny(delta, "}]\",") {
				continue
			}
			partial := CompletePartial(text.String())
			if partial == nil || bytes.Equal(partial, last) {
				continue
			}
			last = partial
			if !emit(partial) {
				return nil, ctx.Err()
			}
		}
		if err := stream.Err(); err != nil {
			return nil, fmt.Errorf("openai stream: %w", err)
		}

		final := bytes.TrimSpace([]byte(text.String()))
		if !json.Valid(final) {
			return nil, ErrMalformedOutput
		}
		model := acc.Model
		if model == "" {
			model = creds.Model
		}
		return &Result{
			Object: json.RawMessage(final),
			Model:  model,
			Usage: Usage{
				PromptTokens:     acc.Usage.PromptTokens,
				CompletionTokens: acc.Usage.CompletionTokens,
				TotalTokens:      acc.Usage.TotalTokens,
			},
		}, nil
	})
}

func (d *OpenAIDriver) resolve(creds Credentials) Credentials {
	if creds.APIKey == "" {
		creds.APIKey = d.defaults.APIKey
	}
	if creds.Model == "" {
		creds.Model = d.defaults.Model
	}
	if creds.BaseURL == "" {
		creds.BaseURL = d.defaults.BaseURL
	}
	return creds
}
