package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/core"
	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
	apperrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/errors"
)

// SnapshotServiceOptions groups dependencies for SnapshotService.
type SnapshotServiceOptions struct {
	Cache     core.CacheRepository // Required: snapshot storage
	KeyPrefix string               // Optional: key namespace (default "analytics")
	TTL       time.Duration        // Optional: expiry for written keys, 0 keeps them
	Logger    *slog.Logger         // Optional: structured logger
}

// SnapshotService writes and reads precomputed analytics snapshots. Each snapshot is
// serialized once and stored under its version key and, when it is the newest, the
// subject's latest key in a single atomic write.
type SnapshotService struct {
	cache  core.CacheRepository
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewSnapshotService constructs a SnapshotService.
func NewSnapshotService(opts SnapshotServiceOptions) (*SnapshotService, error) {
	if opts.Cache == nil {
		return nil, errors.New("CacheRepository is required")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "analytics"
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "snapshot_service")
	}
	return &SnapshotService{cache: opts.Cache, prefix: prefix, ttl: max(opts.TTL, 0), logger: logger}, nil
}

// VersionKey is the cache key of one snapshot version.
func (s *SnapshotService) VersionKey(subjectID string, version int) string {
	return s.prefix + ":snapshot:" + subjectID + ":v" + strconv.Itoa(version)
}

// LatestKey is the cache key of the newest snapshot for a subject.
func (s *SnapshotService) LatestKey(subjectID string) string {
	return s.prefix + ":snapshot:" + subjectID + ":latest"
}

// Write stores snap. The latest key only moves forward: writing an older artifact version
// leaves it pointing at the newer snapshot.
func (s *SnapshotService) Write(ctx context.Context, snap *model.AnalyticsSnapshot) error {
	if snap == nil || snap.SubjectID == "" || snap.ArtifactVersion < 1 {
		return apperrors.Validationf("snapshot needs a subject and an artifact version")
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	entries := []core.CacheEntry{{Key: s.VersionKey(snap.SubjectID, snap.ArtifactVersion), Value: raw, TTL: s.ttl}}

	current, err := s.Latest(ctx, snap.SubjectID)
	switch {
	case err == nil && current.ArtifactVersion > snap.ArtifactVersion:
	case err == nil || apperrors.IsNotFound(err):
		entries = append(entries, core.CacheEntry{Key: s.LatestKey(snap.SubjectID), Value: raw, TTL: s.ttl})
	default:
		return err
	}

	if err := s.cache.SetMany(ctx, entries); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "snapshot written",
			"subject_id", snap.SubjectID,
			"artifact_version", snap.ArtifactVersion,
			"completeness", snap.Completeness,
			"partial", snap.Partial,
			"latest", len(entries) == 2,
		)
	}
	return nil
}

// Get reads the snapshot of one artifact version.
func (s *SnapshotService) Get(ctx context.Context, subjectID string, version int) (*model.AnalyticsSnapshot, error) {
	return s.read(ctx, s.VersionKey(subjectID, version))
}

// Latest reads the newest snapshot of a subject.
func (s *SnapshotService) Latest(ctx context.Context, subjectID string) (*model.AnalyticsSnapshot, error) {
	return s.read(ctx, s.LatestKey(subjectID))
}

func (s *SnapshotService) read(ctx context.Context, key string) (*model.AnalyticsSnapshot, error) {
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", key, err)
	}
	if raw == nil {
		return nil, apperrors.NotFoundf("snapshot %s not found", key)
	}
	var snap model.AnalyticsSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return &snap, nil
}
