package server

import "github.com/tarungka/wirestream/internal/storage"

// ResponseModel wraps every JSON response.
type ResponseModel struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// WindowStateModel is the stored state of one window key.
type WindowStateModel struct {
	Key      string                  `json:"key"`
	Elements []any                   `json:"elements"`
	Metadata *storage.WindowMetadata `json:"metadata,omitempty"`
}

type StageModel struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

type PipelineModel struct {
	Name      string       `json:"name"`
	Stages    []StageModel `json:"stages"`
	Error     string       `json:"error,omitempty"`
	Operators []string     `json:"operators"`
}
