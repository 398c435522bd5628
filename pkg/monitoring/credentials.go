package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opscart/cloudops-cost-optimizer/pkg/cache"
	apperrors "github.com/opscart/cloudops-cost-optimizer/pkg/errors"
	"github.com/opscart/cloudops-cost-optimizer/pkg/logger"
	"github.com/opscart/cloudops-cost-optimizer/pkg/models"
)

// CredentialSource returns a user's cloud credentials
type CredentialSource interface {
	Credentials(ctx context.Context, userID string) (*models.Credential, error)
}

// CredentialClient fetches credentials from the user service and caches
// them per user. When the user service fails and a fallback credential is
// configured, the fallback is used instead.
type CredentialClient struct {
	baseURL    string
	httpClient *http.Client
	cache      *cache.TTLCache[*models.Credential]
	fallback   *models.Credential
	log        *logger.Logger
}

const defaultRegion = "us-east-1"

func NewCredentialClient(baseURL string, timeout, ttl time.Duration, fallback *models.Credential, log *logger.Logger) *CredentialClient {
	if log == nil {
		log = logger.NewNop()
	}
	if fallback != nil && (fallback.AccessKeyID == "" || fallback.SecretAccessKey == "") {
		fallback = nil
	}
	if fallback != nil && fallback.Region == "" {
		fallback.Region = defaultRegion
	}
	return &CredentialClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache.NewTTLCache[*models.Credential](ttl),
		fallback:   fallback,
		log:        log.With("client", "credentials"),
	}
}

type credentialResponse struct {
	DecryptedSecret *struct {
		AccessKeyID     string `json:"accessKeyId"`
		SecretAccessKey string `json:"secretAccessKey"`
		Region          string `json:"region"`
	} `json:"decryptedSecret"`
	Message string `json:"message"`
}

func (c *CredentialClient) Credentials(ctx context.Context, userID string) (*models.Credential, error) {
	if cred, ok := c.cache.Get(userID); ok {
		return cred, nil
	}

	cred, err := c.fetch(ctx, userID)
	if err != nil {
		if c.fallback == nil {
			return nil, err
		}
		c.log.Warn("using fallback credentials", "userId", userID, "error", err)
		fb := *c.fallback
		fb.UserID = userID
		return &fb, nil
	}

	c.cache.Set(userID, cred)
	return cred, nil
}

// Invalidate drops a cached credential
func (c *CredentialClient) Invalidate(userID string) {
	c.cache.Delete(userID)
}

func (c *CredentialClient) fetch(ctx context.Context, userID string) (*models.Credential, error) {
	endpoint := fmt.Sprintf("%s/api/user/credentials/%s/aws", c.baseURL, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "failed to build credential request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeUnavailable, "user service unavailable", err)
	}
	defer resp.Body.Close()

	var body credentialResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeUnavailable, "invalid response from user service", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Newf(apperrors.ErrCodeUnavailable, "user service returned status %d: %s", resp.StatusCode, body.Message)
	}
	if body.DecryptedSecret == nil {
		return nil, apperrors.New(apperrors.ErrCodeUnavailable, "Invalid response from User Service.")
	}

	region := body.DecryptedSecret.Region
	if region == "" {
		region = defaultRegion
	}
	c.log.Debug("retrieved credentials", "userId", userID, "region", region)

	return &models.Credential{
		UserID:          userID,
		AccessKeyID:     body.DecryptedSecret.AccessKeyID,
		SecretAccessKey: body.DecryptedSecret.SecretAccessKey,
		Region:          region,
	}, nil
}
