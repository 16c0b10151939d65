// Package jobs はクライアント無しの生成を Asynq のタスクとして投入し、ワーカーで実行します。
package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/yourusername/prepstream/internal/streaming"
)

const (
	// TaskTypeGeneration はバックグラウンド生成のタスク種別です。
	TaskTypeGeneration = "generation:run"

	queueGeneration = "generation"
)

// Runner は投入済みの生成を最後まで実行します。
type Runner interface {
	RunBackground(ctx context.Context, task streaming.BackgroundTask) error
}

// newGenerationTask はペイロードをタスクにします。同じ streamId のタスクは二重に投入されません。
func newGenerationTask(task streaming.BackgroundTask) (*asynq.Task, error) {
	if task.StreamID == "" {
		return nil, fmt.Errorf("task.StreamID is required")
	}
	body, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeGeneration, body,
		asynq.Queue(queueGeneration),
		asynq.TaskID(task.StreamID),
		asynq.MaxRetry(0),
	), nil
}

func decodeGenerationTask(t *asynq.Task) (streaming.BackgroundTask, error) {
	var task streaming.BackgroundTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return task, err
	}
	if task.StreamID == "" {
		return task, fmt.Errorf("missing streamId in payload")
	}
	return task, nil
}
