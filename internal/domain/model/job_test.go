package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobKind_ValidAndUnmarshal(t *testing.T) {
	for _, k := range AllJobKinds() {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, JobKind("unknown").Valid())

	var k JobKind
	require.NoError(t, k.UnmarshalText([]byte(" Generate-Analytics ")))
	assert.Equal(t, JobKindGenerateAnalytics, k)
	assert.Error(t, k.UnmarshalText([]byte("browser")))
}

func TestJobStatus_TerminalAndInFlight(t *testing.T) {
	tests := []struct {
		status   JobStatus
		terminal bool
		inFlight bool
	}{
		{JobStatusPending, false, true},
		{JobStatusProcessing, false, true},
		{JobStatusCompleted, true, false},
		{JobStatusFailed, true, false},
		{JobStatusCancelled, true, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.True(t, tt.status.Valid())
			assert.Equal(t, tt.terminal, tt.status.Terminal())
			assert.Equal(t, tt.inFlight, tt.status.InFlight())
		})
	}
}

func TestSubmitJobRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     SubmitJobRequest
		wantErr bool
	}{
		{
			name: "valid",
			req:  SubmitJobRequest{Kind: JobKindDeriveArtifact, SubjectID: "acme", Payload: json.RawMessage(`{"mode":"full"}`)},
		},
		{
			name: "empty payload allowed",
			req:  SubmitJobRequest{Kind: JobKindGenerateAnalytics, SubjectID: "acme"},
		},
		{
			name:    "missing subject",
			req:     SubmitJobRequest{Kind: JobKindDeriveArtifact},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			req:     SubmitJobRequest{Kind: "browser", SubjectID: "acme"},
			wantErr: true,
		},
		{
			name:    "invalid payload",
			req:     SubmitJobRequest{Kind: JobKindDeriveArtifact, SubjectID: "acme", Payload: json.RawMessage(`{`)},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestTopicFor(t *testing.T) {
	assert.Equal(t, TopicAnalytics, TopicFor(JobKindGenerateAnalytics))
	assert.Equal(t, TopicPipeline, TopicFor(JobKindRefineArtifact))
}

func TestArtifactHelpers(t *testing.T) {
	a := &Artifact{
		SubjectID: "acme",
		Kind:      ArtifactKindValueProposition,
		Version:   2,
		Sections:  map[string]bool{"pillars": true, "headline": false},
	}
	assert.Equal(t, []string{"headline", "pillars"}, a.SectionNames())
	assert.False(t, a.AllSectionsReviewed())
	a.Sections["headline"] = true
	assert.True(t, a.AllSectionsReviewed())
	assert.Equal(t, "acme/value_proposition@v2", a.Ref())
}

func TestNewPipelineRun(t *testing.T) {
	plan := PipelinePlan{
		Kind:  JobKindDeriveArtifact,
		Mode:  "full",
		Steps: []StepSpec{{Name: "extract"}, {Name: "synthesize"}},
	}
	run := NewPipelineRun(plan)
	assert.Equal(t, []string{"extract", "synthesize"}, run.Steps)
	assert.Equal(t, "full", run.Mode)
	assert.NotNil(t, run.Attempts)
}
