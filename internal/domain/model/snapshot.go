package model

import (
	"encoding/json"
	"time"
)

// AnalyticsSnapshot is the precomputed result of a fan-out batch for one artifact version.
type AnalyticsSnapshot struct {
	SubjectID       string                     `json:"subject_id"`
	ArtifactVersion int                        `json:"artifact_version"`
	Data            map[string]json.RawMessage `json:"data"`
	GeneratedAt     time.Time                  `json:"generated_at"`
	Completeness    float64                    `json:"completeness"`
	Partial         bool                       `json:"partial"`
	FailedTaskIDs   []string                   `json:"failed_task_ids,omitempty"`
}
