// Package credentials stores per-user cloud credentials with the secret key
// sealed at rest, and hands them back decrypted to internal callers.
package credentials

import (
	"context"

	apperrors "github.com/opscart/cloudops-cost-optimizer/pkg/errors"
	"github.com/opscart/cloudops-cost-optimizer/pkg/logger"
	"github.com/opscart/cloudops-cost-optimizer/pkg/models"
)

// ProviderAWS is the only supported cloud provider
const ProviderAWS = "aws"

// SaveRequest is the body of a credential save
type SaveRequest struct {
	UserID          string `json:"userId"`
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
	Region          string `json:"region"`
}

type Service struct {
	repo   Repo
	cipher *Cipher
	log    *logger.Logger
}

func NewService(repo Repo, cipher *Cipher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{repo: repo, cipher: cipher, log: log.With("service", "credentials")}
}

// Save seals the secret and creates or replaces the user's credential
func (s *Service) Save(ctx context.Context, req SaveRequest) error {
	if req.UserID == "" || req.AccessKeyID == "" || req.SecretAccessKey == "" || req.Region == "" {
		return apperrors.Invalid("Missing required fields.")
	}

	sealed, err := s.cipher.Seal(req.SecretAccessKey)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInternal, "failed to encrypt secret", err)
	}

	if err := s.repo.Upsert(ctx, &StoredCredential{
		UserID:             req.UserID,
		AccessKeyID:        req.AccessKeyID,
		EncryptedSecretKey: sealed,
		Region:             req.Region,
	}); err != nil {
		return err
	}

	s.log.Info("credentials saved", "userId", req.UserID, "region", req.Region)
	return nil
}

// Get returns the user's decrypted credential for provider
func (s *Service) Get(ctx context.Context, userID, provider string) (*models.Credential, error) {
	if provider != ProviderAWS {
		return nil, apperrors.Invalid("Only AWS provider is supported.")
	}
	if userID == "" {
		return nil, apperrors.Invalid("userId is required")
	}

	stored, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	secret, err := s.cipher.Open(stored.EncryptedSecretKey)
	if err != nil {
		s.log.Error("failed to decrypt credentials", "userId", userID, "error", err)
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "Error retrieving or decrypting credentials.", err)
	}

	return &models.Credential{
		UserID:          stored.UserID,
		AccessKeyID:     stored.AccessKeyID,
		SecretAccessKey: secret,
		Region:          stored.Region,
	}, nil
}
