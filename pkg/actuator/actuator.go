// Package actuator performs mutating operations on cloud resources through
// the monitoring service.
package actuator

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/opscart/cloudops-cost-optimizer/pkg/errors"
	"github.com/opscart/cloudops-cost-optimizer/pkg/logger"
	"github.com/opscart/cloudops-cost-optimizer/pkg/models"
)

// Actuator stops, terminates and deletes resources in a user's account.
// recommendationID names the recommendation being carried out; it may be
// empty for actions not driven by one.
type Actuator interface {
	StopInstance(ctx context.Context, userID, instanceID, recommendationID string) error
	TerminateInstance(ctx context.Context, userID, instanceID, recommendationID string) error
	DeleteVolume(ctx context.Context, userID, volumeID, recommendationID string) error
}

// Monitoring service routes
const (
	PathStopInstance      = "/api/ec2/stop"
	PathTerminateInstance = "/api/ec2/terminate"
	PathDeleteVolume      = "/api/ebs/delete"
)

// ActionRequest is the body sent to the monitoring service
type ActionRequest struct {
	UserID           string `json:"userId"`
	InstanceID       string `json:"instanceId,omitempty"`
	VolumeID         string `json:"volumeId,omitempty"`
	RecommendationID string `json:"recommendationId,omitempty"`
}

// ActionResponse is the monitoring service's reply
type ActionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Client calls the monitoring service's actuator endpoints
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With("client", "actuator"),
	}
}

func (c *Client) StopInstance(ctx context.Context, userID, instanceID, recommendationID string) error {
	return c.call(ctx, PathStopInstance, ActionRequest{UserID: userID, InstanceID: instanceID, RecommendationID: recommendationID})
}

func (c *Client) TerminateInstance(ctx context.Context, userID, instanceID, recommendationID string) error {
	return c.call(ctx, PathTerminateInstance, ActionRequest{UserID: userID, InstanceID: instanceID, RecommendationID: recommendationID})
}

func (c *Client) DeleteVolume(ctx context.Context, userID, volumeID, recommendationID string) error {
	return c.call(ctx, PathDeleteVolume, ActionRequest{UserID: userID, VolumeID: volumeID, RecommendationID: recommendationID})
}

func (c *Client) call(ctx context.Context, path string, body ActionRequest) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInternal, "failed to encode action", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInternal, "failed to build action request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("action call failed", "path", path, "userId", body.UserID, "error", err)
		return apperrors.Wrap(apperrors.ErrCodeUnavailable, "monitoring service unavailable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeUnavailable, "failed to read action response", err)
	}

	var out ActionResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode != http.StatusOK || !out.Success {
		msg := out.Error
		if msg == "" {
			msg = out.Message
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		c.log.Warn("action rejected", "path", path, "userId", body.UserID, "status", resp.StatusCode, "message", msg)
		return apperrors.Newf(apperrors.ErrCodeUnavailable, "action failed: %s", msg)
	}

	c.log.Info("action succeeded", "path", path, "userId", body.UserID, "instanceId", body.InstanceID, "volumeId", body.VolumeID, "recommendationId", body.RecommendationID)
	return nil
}

// Apply dispatches an action type to the matching actuator call
func Apply(ctx context.Context, a Actuator, action models.ActionType, userID, resourceID, recommendationID string) error {
	switch action {
	case models.ActionStopInstance:
		return a.StopInstance(ctx, userID, resourceID, recommendationID)
	case models.ActionTerminateInstance:
		return a.TerminateInstance(ctx, userID, resourceID, recommendationID)
	case models.ActionDeleteVolume:
		return a.DeleteVolume(ctx, userID, resourceID, recommendationID)
	}
	return apperrors.Newf(apperrors.ErrCodeInvalidRequest, "unknown action %q", action)
}
