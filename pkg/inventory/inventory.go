// Package inventory fetches per-user resource snapshots from the monitoring
// service. Wire values such as "N/A" are parsed into typed fields here.
package inventory

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/opscart/cloudops-cost-optimizer/pkg/errors"
	"github.com/opscart/cloudops-cost-optimizer/pkg/logger"
	"github.com/opscart/cloudops-cost-optimizer/pkg/models"
)

// Provider returns the current inventory of a user's account
type Provider interface {
	Snapshot(ctx context.Context, userID string) (*models.Snapshot, error)
}

// GatewayPath is the gateway route that proxies to the monitoring service
const GatewayPath = "/api/data/metrics/"

// MonitoringPath is the monitoring service's own route
const MonitoringPath = "/api/metrics/"

// Client fetches snapshots over HTTP
type Client struct {
	baseURL    string
	path       string
	httpClient *http.Client
	log        *logger.Logger
}

// NewClient creates a client for baseURL. path is GatewayPath when talking
// to the gateway or MonitoringPath when talking to monitoring directly.
func NewClient(baseURL, path string, timeout time.Duration, log *logger.Logger) *Client {
	if path == "" {
		path = GatewayPath
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		path:       path,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With("client", "inventory"),
	}
}

type snapshotResponse struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
	models.Snapshot
}

// Snapshot fetches the user's inventory
func (c *Client) Snapshot(ctx context.Context, userID string) (*models.Snapshot, error) {
	if userID == "" {
		return nil, apperrors.Invalid("userId is required")
	}

	endpoint := c.baseURL + c.path + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "failed to build inventory request", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("inventory fetch failed", "userId", userID, "error", err)
		return nil, apperrors.Wrap(apperrors.ErrCodeUnavailable, "inventory unavailable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeUnavailable, "failed to read inventory response", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := upstreamMessage(body)
		c.log.Warn("inventory returned error", "userId", userID, "status", resp.StatusCode, "message", msg)
		return nil, apperrors.Newf(apperrors.ErrCodeUnavailable, "inventory returned status %d: %s", resp.StatusCode, msg)
	}

	var out snapshotResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeUnavailable, "invalid inventory response", err)
	}
	if out.Success != nil && !*out.Success {
		return nil, apperrors.Newf(apperrors.ErrCodeUnavailable, "inventory failed: %s", out.Message)
	}

	snap := out.Snapshot
	if snap.CollectedAt.IsZero() {
		snap.CollectedAt = time.Now().UTC()
	}

	c.log.Debug("inventory fetched",
		"userId", userID,
		"ec2", len(snap.Resources.EC2),
		"s3", len(snap.Resources.S3),
		"rds", len(snap.Resources.RDS),
		"lambda", len(snap.Resources.Lambda),
		"ebs", len(snap.Resources.EBS),
		"duration", time.Since(start))

	return &snap, nil
}

func upstreamMessage(body []byte) string {
	var env struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		if env.Message != "" {
			return env.Message
		}
		if env.Error != "" {
			return env.Error
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	if s == "" {
		return "empty body"
	}
	return s
}
