package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
	apperrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/errors"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/testutil"
)

func newVP(subject string, version int, sourceJobID *string) *model.Artifact {
	return &model.Artifact{
		SubjectID:     subject,
		Kind:          model.ArtifactKindValueProposition,
		Version:       version,
		ApprovalState: model.ApprovalInReview,
		Payload:       json.RawMessage(`{"headline":"h","summary":"s","pillars":[]}`),
		Sections:      map[string]bool{"headline": false, "summary": false, "pillars": false},
		SourceJobID:   sourceJobID,
	}
}

func TestArtifactRepo_Integration_Versions(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		jobs := NewJobRepo(db, RepoConfig{})
		repo := NewArtifactRepo(db, RepoConfig{})

		job := createJob(t, jobs, model.JobKindDeriveArtifact, "acme")
		v1, err := repo.Insert(ctx, newVP("acme", 1, &job.ID))
		require.NoError(t, err)
		assert.NotEmpty(t, v1.ID)
		require.NotNil(t, v1.SourceJobID)
		assert.Equal(t, job.ID, *v1.SourceJobID)

		_, err = repo.Insert(ctx, newVP("acme", 1, nil))
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err))

		v2 := newVP("acme", 2, nil)
		v2.FeedbackRound = 1
		_, err = repo.Insert(ctx, v2)
		require.NoError(t, err)

		latest, err := repo.Latest(ctx, "acme", model.ArtifactKindValueProposition)
		require.NoError(t, err)
		assert.Equal(t, 2, latest.Version)
		assert.Equal(t, 1, latest.FeedbackRound)

		got, err := repo.Get(ctx, model.ArtifactRef{SubjectID: "acme", Kind: model.ArtifactKindValueProposition, Version: 1})
		require.NoError(t, err)
		assert.JSONEq(t, string(v1.Payload), string(got.Payload))
		assert.Equal(t, v1.Sections, got.Sections)

		list, err := repo.ListVersions(ctx, "acme", model.ArtifactKindValueProposition)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, 1, list[0].Version)

		_, err = repo.Get(ctx, model.ArtifactRef{SubjectID: "acme", Kind: model.ArtifactKindTemplateSet})
		assert.True(t, apperrors.IsNotFound(err))
		_, err = repo.LatestApproved(ctx, "acme", model.ArtifactKindValueProposition)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestArtifactRepo_Integration_GuardedStateUpdates(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewArtifactRepo(db, RepoConfig{})
		a, err := repo.Insert(ctx, newVP("acme", 1, nil))
		require.NoError(t, err)
		ref := model.ArtifactRef{SubjectID: a.SubjectID, Kind: a.Kind, Version: a.Version}

		reviewed := map[string]bool{"headline": true, "summary": true, "pillars": true}
		_, err = repo.UpdateState(ctx, model.ArtifactStateUpdate{
			Ref: ref, From: model.ApprovalDraft, To: model.ApprovalInReview, Sections: reviewed,
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err), "stale From must not match")

		approved, err := repo.UpdateState(ctx, model.ArtifactStateUpdate{
			Ref: ref, From: model.ApprovalInReview, To: model.ApprovalApproved, Sections: reviewed,
		})
		require.NoError(t, err)
		assert.Equal(t, model.ApprovalApproved, approved.ApprovalState)
		require.NotNil(t, approved.ApprovedAt)

		got, err := repo.LatestApproved(ctx, "acme", model.ArtifactKindValueProposition)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Version)

		_, err = repo.UpdateState(ctx, model.ArtifactStateUpdate{
			Ref: ref, From: model.ApprovalApproved, To: model.ApprovalInReview, Sections: reviewed,
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err))

		// The trigger rejects direct writes to approved rows as well.
		_, err = db.ExecContext(ctx, `UPDATE artifacts SET payload = '{}'::jsonb WHERE id = $1`, approved.ID)
		require.Error(t, err)
	})
}
