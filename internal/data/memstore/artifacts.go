package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/core"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/data"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
	apperrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/errors"
)

type lineageKey struct {
	subject string
	kind    model.ArtifactKind
}

// ArtifactRepo is an in-memory ArtifactRepository. Versions of a lineage are kept
// sorted ascending.
type ArtifactRepo struct {
	mu       sync.RWMutex
	clock    data.TimeProvider
	lineages map[lineageKey][]*model.Artifact
}

// NewArtifactRepo creates an empty ArtifactRepo.
func NewArtifactRepo(tp data.TimeProvider) *ArtifactRepo {
	return &ArtifactRepo{clock: resolveClock(tp), lineages: make(map[lineageKey][]*model.Artifact)}
}

// Insert stores a new version. A duplicate (subject, kind, version) returns Conflict.
func (r *ArtifactRepo) Insert(_ context.Context, a *model.Artifact) (*model.Artifact, error) {
	if a == nil {
		return nil, errors.New("artifact is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := lineageKey{subject: a.SubjectID, kind: a.Kind}
	versions := r.lineages[key]
	for _, v := range versions {
		if v.Version == a.Version {
			return nil, apperrors.Conflictf("artifact %s already exists", a.Ref())
		}
	}
	stored := cloneArtifact(a)
	stored.ID = uuid.NewString()
	now := r.clock.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	stored.ApprovedAt = nil

	versions = append(versions, stored)
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	r.lineages[key] = versions
	return cloneArtifact(stored), nil
}

func (r *ArtifactRepo) find(ref model.ArtifactRef) *model.Artifact {
	versions := r.lineages[lineageKey{subject: ref.SubjectID, kind: ref.Kind}]
	if len(versions) == 0 {
		return nil
	}
	if ref.Version <= 0 {
		return versions[len(versions)-1]
	}
	for _, v := range versions {
		if v.Version == ref.Version {
			return v
		}
	}
	return nil
}

// Get returns one version. A zero version resolves to the latest.
func (r *ArtifactRepo) Get(_ context.Context, ref model.ArtifactRef) (*model.Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a := r.find(ref)
	if a == nil {
		if ref.Version <= 0 {
			return nil, apperrors.NotFoundf("no %s artifact for %s", ref.Kind, ref.SubjectID)
		}
		return nil, apperrors.NotFoundf("artifact %s/%s@v%d not found", ref.SubjectID, ref.Kind, ref.Version)
	}
	return cloneArtifact(a), nil
}

// Latest returns the highest version of a lineage.
func (r *ArtifactRepo) Latest(ctx context.Context, subjectID string, kind model.ArtifactKind) (*model.Artifact, error) {
	return r.Get(ctx, model.ArtifactRef{SubjectID: subjectID, Kind: kind})
}

// LatestApproved returns the highest approved version of a lineage.
func (r *ArtifactRepo) LatestApproved(_ context.Context, subjectID string, kind model.ArtifactKind) (*model.Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := r.lineages[lineageKey{subject: subjectID, kind: kind}]
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].ApprovalState == model.ApprovalApproved {
			return cloneArtifact(versions[i]), nil
		}
	}
	return nil, apperrors.NotFoundf("no approved %s artifact for %s", kind, subjectID)
}

// ListVersions returns every version of a lineage in ascending order.
func (r *ArtifactRepo) ListVersions(_ context.Context, subjectID string, kind model.ArtifactKind) ([]*model.Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := r.lineages[lineageKey{subject: subjectID, kind: kind}]
	out := make([]*model.Artifact, 0, len(versions))
	for _, v := range versions {
		out = append(out, cloneArtifact(v))
	}
	return out, nil
}

// UpdateState applies a guarded state/section change. Approved versions never match.
func (r *ArtifactRepo) UpdateState(_ context.Context, upd model.ArtifactStateUpdate) (*model.Artifact, error) {
	if upd.From == model.ApprovalApproved {
		return nil, apperrors.Conflictf("artifact %s/%s@v%d is approved and immutable",
			upd.Ref.SubjectID, upd.Ref.Kind, upd.Ref.Version)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	a := r.find(upd.Ref)
	if a == nil || upd.Ref.Version <= 0 {
		return nil, apperrors.NotFoundf("artifact %s/%s@v%d not found", upd.Ref.SubjectID, upd.Ref.Kind, upd.Ref.Version)
	}
	if a.ApprovalState != upd.From {
		return nil, apperrors.Conflictf("artifact %s is no longer %s", a.Ref(), upd.From)
	}
	now := r.clock.Now().UTC()
	a.ApprovalState = upd.To
	a.Sections = make(map[string]bool, len(upd.Sections))
	for k, v := range upd.Sections {
		a.Sections[k] = v
	}
	a.UpdatedAt = now
	if upd.To == model.ApprovalApproved {
		a.ApprovedAt = &now
	}
	return cloneArtifact(a), nil
}

var _ core.ArtifactRepository = (*ArtifactRepo)(nil)
