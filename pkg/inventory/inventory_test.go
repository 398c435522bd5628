package inventory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/opscart/cloudops-cost-optimizer/pkg/errors"
	"github.com/opscart/cloudops-cost-optimizer/pkg/logger"
)

const sampleBody = `{
	"success": true,
	"region": "us-east-1",
	"resources": {
		"ec2": [
			{"id": "i-1", "name": "web", "state": "running", "cpuUtilization": "3.20", "networkIn": "N/A"},
			{"id": "i-2", "name": "batch", "state": "stopped", "cpuUtilization": "N/A"}
		],
		"s3": [{"name": "logs", "sizeInBytes": 2500000000}],
		"rds": [],
		"lambda": [{"name": "cron", "runtime": "go1.x", "invocations": 0}],
		"ebs": [{"volumeId": "vol-1", "size": "100GiB", "state": "available", "volumeType": "gp3"}]
	}
}`

func TestSnapshotParsesWireValues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/data/metrics/user%201", r.URL.EscapedPath())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleBody))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", GatewayPath, time.Second, logger.NewNop())
	snap, err := c.Snapshot(context.Background(), "user 1")
	require.NoError(t, err)

	assert.Equal(t, "us-east-1", snap.Region)
	require.Len(t, snap.Resources.EC2, 2)
	assert.True(t, snap.Resources.EC2[0].CPUUtilization.Valid)
	assert.InDelta(t, 3.2, snap.Resources.EC2[0].CPUUtilization.Value, 1e-9)
	assert.False(t, snap.Resources.EC2[0].NetworkIn.Valid)
	assert.False(t, snap.Resources.EC2[1].CPUUtilization.Valid)
	assert.Equal(t, 2.5e9, snap.Resources.S3[0].SizeBytes)
	assert.True(t, snap.Resources.Lambda[0].Invocations.Valid)
	assert.Equal(t, 100, snap.Resources.EBS[0].SizeGB())
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestSnapshotUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"message":"Gateway Error: connection refused"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, MonitoringPath, time.Second, logger.NewNop())
	_, err := c.Snapshot(context.Background(), "u1")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeUnavailable, apperrors.CodeOf(err))
	assert.Contains(t, err.Error(), "Gateway Error: connection refused")
}

func TestSnapshotFailureEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success": false, "message": "no credentials"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, logger.NewNop())
	_, err := c.Snapshot(context.Background(), "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no credentials")
}

func TestSnapshotTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, GatewayPath, 20*time.Millisecond, logger.NewNop())
	_, err := c.Snapshot(context.Background(), "u1")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeUnavailable, apperrors.CodeOf(err))
}

func TestSnapshotRequiresUser(t *testing.T) {
	c := NewClient("http://localhost:1", GatewayPath, time.Second, logger.NewNop())
	_, err := c.Snapshot(context.Background(), "")
	assert.Equal(t, apperrors.ErrCodeInvalidRequest, apperrors.CodeOf(err))
}
