// Package streams は生成ストリームの追跡情報（状態とリプレイ用バッファ）を Redis で管理します。
package streams

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status はストリームの状態を表します。
type Status string

const (
	StatusNone      Status = "none"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Terminal は終了状態かどうかを返します。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// ErrSuperseded は、より新しい試行に置き換えられたストリームからの書き込みを表します。
var ErrSuperseded = errors.New("stream superseded by a newer attempt")

// Key は生成対象（親エンティティとモジュール）の組です。
type Key struct {
	ParentID string
	Module   string
}

// String は Redis キーに使う表現を返します。
func (k Key) String() string {
	return k.ParentID + ":" + k.Module
}

// Validate はキーの各要素が空でないことを確認します。
func (k Key) Validate() error {
	if strings.TrimSpace(k.ParentID) == "" {
		return fmt.Errorf("stream key: parent id is required")
	}
	if strings.TrimSpace(k.Module) == "" {
		return fmt.Errorf("stream key: module is required")
	}
	return nil
}

// Job は進行中または直近に終了した生成の記録です。
type Job struct {
	StreamID  string    `json:"streamId"`
	ParentID  string    `json:"parentId"`
	Module    string    `json:"module"`
	OwnerID   string    `json:"ownerId"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Key は記録のキーを返します。
func (j *Job) Key() Key {
	return Key{ParentID: j.ParentID, Module: j.Module}
}

// StatusOf は記録がない場合を StatusNone として扱います。
func StatusOf(job *Job) Status {
	if job == nil {
		return StatusNone
	}
	return job.Status
}
