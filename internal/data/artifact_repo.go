package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/core"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/data/pgxutil"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
	apperrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/errors"
)

// ArtifactRepo stores artifact versions in Postgres. Approved rows are additionally
// protected by a trigger that rejects updates.
type ArtifactRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewArtifactRepo creates a new ArtifactRepo.
func NewArtifactRepo(db *sql.DB, cfg RepoConfig) *ArtifactRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ArtifactRepo{DB: db, timeProvider: tp, logger: logger.With("component", "artifact_repo")}
}

const artifactColumns = `
  id,
  subject_id,
  kind,
  version,
  approval_state,
  payload,
  sections,
  feedback_round,
  source_job_id,
  created_at,
  updated_at,
  approved_at
`

func scanArtifact(scanner jobRowScanner) (*model.Artifact, error) {
	a := &model.Artifact{}
	var payload, sections []byte
	var sourceJobID sql.NullString
	var approvedAt sql.NullTime
	if err := scanner.Scan(
		&a.ID,
		&a.SubjectID,
		&a.Kind,
		&a.Version,
		&a.ApprovalState,
		&payload,
		&sections,
		&a.FeedbackRound,
		&sourceJobID,
		&a.CreatedAt,
		&a.UpdatedAt,
		&approvedAt,
	); err != nil {
		return nil, err
	}
	a.Payload = cloneJSON(payload)
	if err := json.Unmarshal(sections, &a.Sections); err != nil {
		return nil, fmt.Errorf("decode sections: %w", err)
	}
	if sourceJobID.Valid {
		id := sourceJobID.String
		a.SourceJobID = &id
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	a.ApprovedAt = cloneNullableTime(approvedAt)
	return a, nil
}

// Insert stores a new version. A duplicate (subject, kind, version) returns Conflict.
func (r *ArtifactRepo) Insert(ctx context.Context, a *model.Artifact) (*model.Artifact, error) {
	if a == nil {
		return nil, errors.New("artifact is required")
	}
	sections, err := json.Marshal(a.Sections)
	if err != nil {
		return nil, fmt.Errorf("encode sections: %w", err)
	}
	now := r.timeProvider.Now().UTC()

	var out *model.Artifact
	err = pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx pgx.Tx) error {
			rows, qerr := tx.Query(ctx, `
				INSERT INTO artifacts (subject_id, kind, version, approval_state, payload, sections,
				                       feedback_round, source_job_id, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
				RETURNING `+artifactColumns,
				a.SubjectID, string(a.Kind), a.Version, string(a.ApprovalState), []byte(a.Payload), sections,
				a.FeedbackRound, a.SourceJobID, now,
			)
			if qerr != nil {
				return qerr
			}
			defer rows.Close()
			if !rows.Next() {
				if rowsErr := rows.Err(); rowsErr != nil {
					return rowsErr
				}
				return pgx.ErrNoRows
			}
			var scanErr error
			out, scanErr = scanArtifact(rows)
			return scanErr
		},
	})
	if err != nil {
		mapped := apperrors.MapDBError(err)
		if apperrors.IsConflict(mapped) {
			return nil, apperrors.Conflictf("artifact %s/%s@v%d already exists", a.SubjectID, a.Kind, a.Version)
		}
		return nil, fmt.Errorf("insert artifact: %w", mapped)
	}
	r.logger.DebugContext(ctx, "artifact version inserted", "artifact", out.Ref(), "state", out.ApprovalState)
	return out, nil
}

func (r *ArtifactRepo) queryOne(ctx context.Context, notFound string, query string, args ...any) (*model.Artifact, error) {
	a, err := scanArtifact(r.DB.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound(notFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", apperrors.MapDBError(err))
	}
	return a, nil
}

// Get returns one version. A zero version resolves to the latest.
func (r *ArtifactRepo) Get(ctx context.Context, ref model.ArtifactRef) (*model.Artifact, error) {
	if ref.Version <= 0 {
		return r.Latest(ctx, ref.SubjectID, ref.Kind)
	}
	return r.queryOne(ctx,
		fmt.Sprintf("artifact %s/%s@v%d not found", ref.SubjectID, ref.Kind, ref.Version),
		`SELECT `+artifactColumns+` FROM artifacts WHERE subject_id = $1 AND kind = $2 AND version = $3`,
		ref.SubjectID, string(ref.Kind), ref.Version)
}

// Latest returns the highest version of a lineage.
func (r *ArtifactRepo) Latest(ctx context.Context, subjectID string, kind model.ArtifactKind) (*model.Artifact, error) {
	return r.queryOne(ctx,
		fmt.Sprintf("no %s artifact for %s", kind, subjectID),
		`SELECT `+artifactColumns+` FROM artifacts WHERE subject_id = $1 AND kind = $2 ORDER BY version DESC LIMIT 1`,
		subjectID, string(kind))
}

// LatestApproved returns the highest approved version of a lineage.
func (r *ArtifactRepo) LatestApproved(ctx context.Context, subjectID string, kind model.ArtifactKind) (*model.Artifact, error) {
	return r.queryOne(ctx,
		fmt.Sprintf("no approved %s artifact for %s", kind, subjectID),
		`SELECT `+artifactColumns+` FROM artifacts
		 WHERE subject_id = $1 AND kind = $2 AND approval_state = 'approved'
		 ORDER BY version DESC LIMIT 1`,
		subjectID, string(kind))
}

// ListVersions returns every version of a lineage in ascending order.
func (r *ArtifactRepo) ListVersions(ctx context.Context, subjectID string, kind model.ArtifactKind) ([]*model.Artifact, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE subject_id = $1 AND kind = $2 ORDER BY version`,
		subjectID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list artifact versions: %w", err)
	}
	defer rows.Close()

	var out []*model.Artifact
	for rows.Next() {
		a, scanErr := scanArtifact(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan artifact: %w", scanErr)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateState applies a guarded state/section change. Approved rows never match the guard.
func (r *ArtifactRepo) UpdateState(ctx context.Context, upd model.ArtifactStateUpdate) (*model.Artifact, error) {
	if upd.From == model.ApprovalApproved {
		return nil, apperrors.Conflictf("artifact %s/%s@v%d is approved and immutable",
			upd.Ref.SubjectID, upd.Ref.Kind, upd.Ref.Version)
	}
	sections, err := json.Marshal(upd.Sections)
	if err != nil {
		return nil, fmt.Errorf("encode sections: %w", err)
	}
	now := r.timeProvider.Now().UTC()

	a, err := scanArtifact(r.DB.QueryRowContext(ctx, `
		UPDATE artifacts
		SET approval_state = $5,
		    sections = $6,
		    updated_at = $7,
		    approved_at = CASE WHEN $5 = 'approved' THEN $7 ELSE approved_at END
		WHERE subject_id = $1 AND kind = $2 AND version = $3 AND approval_state = $4
		RETURNING `+artifactColumns,
		upd.Ref.SubjectID, string(upd.Ref.Kind), upd.Ref.Version, string(upd.From), string(upd.To), sections, now,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Conflictf("artifact %s/%s@v%d is no longer %s",
			upd.Ref.SubjectID, upd.Ref.Kind, upd.Ref.Version, upd.From)
	}
	if err != nil {
		return nil, fmt.Errorf("update artifact state: %w", apperrors.MapDBError(err))
	}
	return a, nil
}

var _ core.ArtifactRepository = (*ArtifactRepo)(nil)
