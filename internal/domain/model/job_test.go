package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobType_Valid(t *testing.T) {
	assert.True(t, JobTypeScrape.Valid())
	assert.True(t, JobTypeEmbed.Valid())
	assert.True(t, JobTypeNotify.Valid())
	assert.False(t, JobType("unknown").Valid())
}

func TestJobType_UnmarshalText(t *testing.T) {
	var jt JobType
	require.NoError(t, jt.UnmarshalText([]byte(" Embed ")))
	assert.Equal(t, JobTypeEmbed, jt)

	assert.Error(t, jt.UnmarshalText([]byte("browser")))
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
}

func TestCreateJobRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateJobRequest
		wantErr string
	}{
		{
			name: "valid scrape job",
			req: CreateJobRequest{
				Type:       JobTypeScrape,
				Payload:    json.RawMessage(`{"target_id":"t-1"}`),
				MaxRetries: 3,
			},
		},
		{
			name: "valid embed job",
			req: CreateJobRequest{
				Type:       JobTypeEmbed,
				Payload:    json.RawMessage(`{"canonical_id":"abc123"}`),
				MaxRetries: 2,
			},
		},
		{
			name: "valid notify job",
			req: CreateJobRequest{
				Type:       JobTypeNotify,
				Payload:    json.RawMessage(`{"template_id":"profile-ready","variables":{"name":"Ada"}}`),
				MaxRetries: 5,
			},
		},
		{
			name: "invalid type",
			req: CreateJobRequest{
				Type:    JobType("browser"),
				Payload: json.RawMessage(`{}`),
			},
			wantErr: "invalid job type",
		},
		{
			name: "missing payload",
			req: CreateJobRequest{
				Type: JobTypeScrape,
			},
			wantErr: "payload is required",
		},
		{
			name: "scrape payload missing target",
			req: CreateJobRequest{
				Type:    JobTypeScrape,
				Payload: json.RawMessage(`{"target_id":""}`),
			},
			wantErr: "target_id",
		},
		{
			name: "embed payload missing canonical id",
			req: CreateJobRequest{
				Type:    JobTypeEmbed,
				Payload: json.RawMessage(`{}`),
			},
			wantErr: "canonical_id",
		},
		{
			name: "notify payload missing template",
			req: CreateJobRequest{
				Type:    JobTypeNotify,
				Payload: json.RawMessage(`{"recipient":"a@b.c"}`),
			},
			wantErr: "template_id",
		},
		{
			name: "priority out of range",
			req: CreateJobRequest{
				Type:     JobTypeScrape,
				Payload:  json.RawMessage(`{"target_id":"t-1"}`),
				Priority: 101,
			},
			wantErr: "priority",
		},
		{
			name: "negative max retries",
			req: CreateJobRequest{
				Type:       JobTypeScrape,
				Payload:    json.RawMessage(`{"target_id":"t-1"}`),
				MaxRetries: -1,
			},
			wantErr: "max retries",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestJobStats_Backlog(t *testing.T) {
	stats := JobStats{Pending: 4, Retrying: 2, Running: 1, Completed: 9, Failed: 1}
	assert.Equal(t, 6, stats.Backlog())
}
