package httpx

import (
	"net/http"
	"strconv"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
	apperrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/errors"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// parseIntQuery returns the integer value of a query param or a default.
// It is tolerant of missing/invalid values.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// ParseLimitOffset parses common pagination params and clamps to sane bounds.
// - defLimit: default limit when not specified
// - maxLimit: maximum allowed limit (values > maxLimit are clamped to maxLimit).
func ParseLimitOffset(r *http.Request, defLimit, maxLimit int) (int, int) {
	if maxLimit < 1 {
		maxLimit = 1
	}

	lim := parseIntQuery(r, "limit", defLimit)
	off := parseIntQuery(r, "offset", 0)
	if lim < 1 {
		lim = 1
	}
	if lim > maxLimit {
		lim = maxLimit
	}
	if off < 0 {
		off = 0
	}
	return lim, off
}

// pathVersion parses the {version} path segment as a positive integer.
func pathVersion(r *http.Request) (int, error) {
	raw := r.PathValue("version")
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, apperrors.ValidationField("version", "version must be a positive integer, got "+strconv.Quote(raw))
	}
	return v, nil
}

// pathArtifactKind parses the {kind} path segment.
func pathArtifactKind(r *http.Request) (model.ArtifactKind, error) {
	kind := model.ArtifactKind(r.PathValue("kind"))
	if !kind.Valid() {
		return "", apperrors.ValidationField("kind", "unknown artifact kind "+strconv.Quote(string(kind)))
	}
	return kind, nil
}

// artifactRef builds the versioned reference addressed by the request path.
func artifactRef(r *http.Request) (model.ArtifactRef, error) {
	kind, err := pathArtifactKind(r)
	if err != nil {
		return model.ArtifactRef{}, err
	}
	version, err := pathVersion(r)
	if err != nil {
		return model.ArtifactRef{}, err
	}
	return model.ArtifactRef{SubjectID: r.PathValue("subject"), Kind: kind, Version: version}, nil
}
