package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
)

// This file contains repository and collaborator interfaces (ports in hexagonal architecture).
// Services depend on these interfaces; internal/data and internal/adapters provide implementations.

// JobRepository defines job persistence operations.
type JobRepository interface {
	// Create inserts a pending job. It returns a Conflict error when another job for the
	// same (kind, subject) is already pending or processing.
	Create(ctx context.Context, params model.CreateJobParams) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	// FindActive returns the pending or processing job for (kind, subject), or NotFound.
	FindActive(ctx context.Context, kind model.JobKind, subjectID string) (*model.Job, error)
	ListBySubject(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error)
	// Transition applies a guarded status change and reports whether it happened.
	Transition(ctx context.Context, tr model.JobTransition) (bool, error)
	UpdateProgress(ctx context.Context, id string, progress model.JobProgress) error
	SaveRun(ctx context.Context, id string, run *model.PipelineRun) error
}

// ReaperRepository defines job cleanup operations.
type ReaperRepository interface {
	// FailStaleProcessing marks processing jobs not updated within maxAge as failed.
	// Processes up to batchSize jobs per call and returns the number affected.
	FailStaleProcessing(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
	// DeleteOldJobs deletes terminal jobs of one status older than a cutoff.
	DeleteOldJobs(ctx context.Context, params model.ReapParams) (int64, error)
}

// ArtifactRepository defines versioned artifact persistence.
type ArtifactRepository interface {
	// Insert stores a new version. It returns a Conflict error when the
	// (subject, kind, version) already exists.
	Insert(ctx context.Context, a *model.Artifact) (*model.Artifact, error)
	Get(ctx context.Context, ref model.ArtifactRef) (*model.Artifact, error)
	// Latest returns the highest version of a lineage, or NotFound.
	Latest(ctx context.Context, subjectID string, kind model.ArtifactKind) (*model.Artifact, error)
	// LatestApproved returns the highest approved version of a lineage, or NotFound.
	LatestApproved(ctx context.Context, subjectID string, kind model.ArtifactKind) (*model.Artifact, error)
	ListVersions(ctx context.Context, subjectID string, kind model.ArtifactKind) ([]*model.Artifact, error)
	// UpdateState applies a guarded state/section change. Approved versions are never updated;
	// a stale From returns a Conflict error.
	UpdateState(ctx context.Context, upd model.ArtifactStateUpdate) (*model.Artifact, error)
}

// TaskQueue carries job references from submitters to workers for one topic.
type TaskQueue interface {
	Topic() model.QueueTopic
	Enqueue(ctx context.Context, msg model.QueueMessage) error
	// Dequeue blocks until a message is available or ctx is done.
	Dequeue(ctx context.Context) (*model.QueueMessage, error)
	Ack(ctx context.Context, jobID string) error
	// Nack releases a delivery. When requeue is false the message is dropped.
	Nack(ctx context.Context, jobID string, requeue bool) error
}

// QueueHeartbeater is implemented by queues whose deliveries expire unless extended.
type QueueHeartbeater interface {
	Heartbeat(ctx context.Context, jobID string, lease time.Duration) (bool, error)
}

// AgentInvoker calls the generation agent for one step attempt. Errors are classified with
// the Transient, InvalidOutput and FatalConfig constructors of internal/errors.
type AgentInvoker interface {
	Invoke(ctx context.Context, req model.AgentRequest) (json.RawMessage, error)
}

// SchemaValidator checks a payload against the schema registered for kind.
type SchemaValidator interface {
	Validate(kind string, payload json.RawMessage) []model.Violation
	Known(kind string) bool
}

// QueryRequest scopes a widget query to a subject.
type QueryRequest struct {
	SubjectID string
	Spec      model.QuerySpec
}

// QueryEngine runs one analytics query and returns its rows.
type QueryEngine interface {
	RunQuery(ctx context.Context, req QueryRequest) ([]map[string]any, error)
}
