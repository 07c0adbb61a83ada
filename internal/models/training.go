package models

import "time"

// RunStatus is the lifecycle state of a training run
type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
)

// Terminal reports whether no further transitions are possible
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

type RunKind string

const (
	KindTrain    RunKind = "train"
	KindFineTune RunKind = "fine_tune"
)

// TrainingRun is the progress record of one training or fine-tuning run.
// Live runs are held by the training engine; terminal snapshots go to a RunStore.
type TrainingRun struct {
	ID                        string     `json:"training_id" db:"id"`
	Kind                      RunKind    `json:"kind" db:"kind"`
	Status                    RunStatus  `json:"status" db:"status"`
	ModelName                 string     `json:"model_name" db:"model_name"`
	ModelVersion              string     `json:"model_version,omitempty" db:"model_version"`
	BaseModel                 string     `json:"base_model,omitempty" db:"base_model"`
	CurrentEpoch              int        `json:"current_epoch" db:"current_epoch"`
	TotalEpochs               int        `json:"total_epochs" db:"total_epochs"`
	CurrentLoss               *float64   `json:"current_loss" db:"current_loss"`
	BestLoss                  *float64   `json:"best_loss" db:"best_loss"`
	ElapsedSeconds            int        `json:"elapsed_time_seconds" db:"elapsed_seconds"`
	EstimatedRemainingSeconds *int       `json:"estimated_remaining_seconds" db:"estimated_remaining_seconds"`
	TotalExamples             int        `json:"total_examples" db:"total_examples"`
	Error                     string     `json:"error,omitempty" db:"error_message"`
	StartedAt                 time.Time  `json:"started_at" db:"started_at"`
	CompletedAt               *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Clone returns a deep copy safe to hand out while the original keeps changing
func (r *TrainingRun) Clone() *TrainingRun {
	c := *r
	if r.CurrentLoss != nil {
		v := *r.CurrentLoss
		c.CurrentLoss = &v
	}
	if r.BestLoss != nil {
		v := *r.BestLoss
		c.BestLoss = &v
	}
	if r.EstimatedRemainingSeconds != nil {
		v := *r.EstimatedRemainingSeconds
		c.EstimatedRemainingSeconds = &v
	}
	if r.CompletedAt != nil {
		v := *r.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

// EpochStat is one entry of the per-epoch history embedded in model metadata
type EpochStat struct {
	Epoch     int       `json:"epoch"`
	TrainLoss float64   `json:"train_loss"`
	ValLoss   *float64  `json:"val_loss"`
	Timestamp time.Time `json:"timestamp"`
}

// TrainingStats is the training summary persisted alongside a model version
type TrainingStats struct {
	TrainingID      string      `json:"training_id"`
	Epochs          int         `json:"epochs"`
	BatchSize       int         `json:"batch_size"`
	LearningRate    float64     `json:"learning_rate"`
	TotalExamples   int         `json:"total_examples"`
	BestLoss        float64     `json:"best_loss"`
	History         []EpochStat `json:"training_history,omitempty"`
	FineTuned       bool        `json:"fine_tuned,omitempty"`
	BaseModel       string      `json:"base_model,omitempty"`
	BaseVersion     string      `json:"base_version,omitempty"`
	FrozenEmbedding bool        `json:"frozen_embedding,omitempty"`
	UnknownLabels   int         `json:"unknown_labels,omitempty"`
}

// TrainingResult is returned by a finished run
type TrainingResult struct {
	TrainingID      string         `json:"training_id"`
	Status          RunStatus      `json:"status"`
	ModelName       string         `json:"model_name"`
	ModelVersion    string         `json:"model_version"`
	BaseModel       string         `json:"base_model,omitempty"`
	TotalExamples   int            `json:"total_examples"`
	EpochsCompleted int            `json:"epochs_completed"`
	FinalLoss       float64        `json:"final_loss"`
	DurationSeconds int            `json:"duration_seconds"`
	Metrics         map[string]any `json:"metrics,omitempty"`
}
