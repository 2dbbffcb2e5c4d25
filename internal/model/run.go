package model

import "time"

// RunStatus is the pipeline state of an export run.
type RunStatus string

const (
	RunStatusQueued           RunStatus = "queued"
	RunStatusConnected        RunStatus = "connected"
	RunStatusOrderQueryDone   RunStatus = "order_query_done"
	RunStatusKeysStaged       RunStatus = "keys_staged"
	RunStatusItemQueryDone    RunStatus = "item_query_done"
	RunStatusTransformed      RunStatus = "transformed"
	RunStatusConnectionClosed RunStatus = "connection_closed"
	RunStatusExported         RunStatus = "exported"
	RunStatusUploaded         RunStatus = "uploaded"
	RunStatusComplete         RunStatus = "complete"
	RunStatusFailed           RunStatus = "failed"
)

// Terminal reports whether no further transitions follow.
func (s RunStatus) Terminal() bool {
	return s == RunStatusComplete || s == RunStatusFailed
}

// Trigger records what started a run.
type Trigger string

const (
	TriggerCLI Trigger = "cli"
	TriggerAPI Trigger = "api"
)

// Run is one export of one reporting period.
type Run struct {
	ID        string     `json:"id" yaml:"id"`
	Period    string     `json:"period" yaml:"period"`
	Trigger   Trigger    `json:"trigger" yaml:"trigger"`
	Status    RunStatus  `json:"status" yaml:"status"`
	Result    *RunResult `json:"result,omitempty" yaml:"result,omitempty"`
	Error     string     `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" yaml:"updated_at"`
}

// RunResult holds the final outcome of a run.
type RunResult struct {
	OrderRows  int               `json:"order_rows" yaml:"order_rows"`
	ItemRows   int               `json:"item_rows" yaml:"item_rows"`
	OrderKeys  int               `json:"order_keys" yaml:"order_keys"`
	MergedRows int               `json:"merged_rows" yaml:"merged_rows"`
	Files      []ExportFile      `json:"files" yaml:"files"`
	Skipped    []SkippedProvider `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Stages     []StageResult     `json:"stages" yaml:"stages"`
	Error      string            `json:"error,omitempty" yaml:"error,omitempty"`
}

// ExportFile is one provider CSV a run produced.
type ExportFile struct {
	Provider string `json:"provider" yaml:"provider"`
	Path     string `json:"path" yaml:"path"`
	Rows     int    `json:"rows" yaml:"rows"`
	URI      string `json:"uri,omitempty" yaml:"uri,omitempty"`
}

// SkippedProvider is a provider that produced no file, with the reason.
type SkippedProvider struct {
	Provider string `json:"provider" yaml:"provider"`
	Reason   string `json:"reason" yaml:"reason"`
}

// StageStatus is the outcome of a single stage.
type StageStatus string

const (
	StageStatusRunning  StageStatus = "running"
	StageStatusComplete StageStatus = "complete"
	StageStatusFailed   StageStatus = "failed"
)

// StageResult captures timing and row counts for one stage.
type StageResult struct {
	Name       string      `json:"name" yaml:"name"`
	Status     StageStatus `json:"status" yaml:"status"`
	Rows       int         `json:"rows" yaml:"rows"`
	DurationMS int64       `json:"duration_ms" yaml:"duration_ms"`
	Error      string      `json:"error,omitempty" yaml:"error,omitempty"`
}

// RunStage is a persisted stage record.
type RunStage struct {
	ID        string       `json:"id" yaml:"id"`
	RunID     string       `json:"run_id" yaml:"run_id"`
	Name      string       `json:"name" yaml:"name"`
	Status    StageStatus  `json:"status" yaml:"status"`
	Result    *StageResult `json:"result,omitempty" yaml:"result,omitempty"`
	StartedAt time.Time    `json:"started_at" yaml:"started_at"`
}
