package models

import "time"

// TaskAttributes holds everything the rule engine derives from a task text
type TaskAttributes struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Priority      int      `json:"priority"`
	Deadline      *string  `json:"deadline"`
	ExecutionTime string   `json:"execution_time"`
	Categories    []string `json:"category"`
	Complexity    int      `json:"difficulty"`
	Stages        []string `json:"stages"`
}

// PredictionResult is a rule-engine extraction merged with the classifier's status
type PredictionResult struct {
	TaskAttributes
	Status      string    `json:"status"`
	Confidence  float64   `json:"confidence"`
	ProcessedAt time.Time `json:"processed_at"`
}

// TaskLabels are the annotated attributes of one training example
type TaskLabels struct {
	Name          string   `json:"name" yaml:"name"`
	Description   string   `json:"description" yaml:"description"`
	Priority      int      `json:"priority" yaml:"priority" binding:"min=1,max=5"`
	Deadline      *string  `json:"deadline" yaml:"deadline"`
	ExecutionTime string   `json:"execution_time" yaml:"execution_time"`
	Category      []string `json:"category" yaml:"category"`
	Difficulty    int      `json:"difficulty" yaml:"difficulty" binding:"min=1,max=10"`
	Stages        []string `json:"stages" yaml:"stages"`
	Status        string   `json:"status" yaml:"status" binding:"required"`
}

// TrainingExample pairs a raw task text with its labels
type TrainingExample struct {
	Text   string     `json:"text" yaml:"text" binding:"required,min=3,max=1000"`
	Labels TaskLabels `json:"labels" yaml:"labels"`
}

// TrainingDocument is the on-disk and over-the-wire training data format
type TrainingDocument struct {
	TrainingExamples []TrainingExample `json:"training_examples" yaml:"training_examples"`
}

// BatchResult carries the successful predictions of a batch plus its counters
type BatchResult struct {
	Results     []PredictionResult `json:"results"`
	Total       int                `json:"total"`
	Successful  int                `json:"successful"`
	Failed      int                `json:"failed"`
	ProcessedAt time.Time          `json:"processed_at"`
}

// Metrics is a point-in-time snapshot of the prediction service counters
type Metrics struct {
	Predictions   int64  `json:"predictions"`
	CacheHits     int64  `json:"cache_hits"`
	Errors        int64  `json:"errors"`
	CacheSize     int    `json:"cache_size"`
	CacheCapacity int    `json:"cache_capacity"`
	VocabSize     int    `json:"vocab_size"`
	ModelLoaded   bool   `json:"model_loaded"`
	ModelName     string `json:"model_name,omitempty"`
	ModelVersion  string `json:"model_version,omitempty"`
}

// Clone returns a deep copy that shares no slices or pointers with r
func (r PredictionResult) Clone() PredictionResult {
	c := r
	if r.Deadline != nil {
		d := *r.Deadline
		c.Deadline = &d
	}
	if r.Categories != nil {
		c.Categories = append([]string(nil), r.Categories...)
	}
	if r.Stages != nil {
		c.Stages = append([]string(nil), r.Stages...)
	}
	return c
}
