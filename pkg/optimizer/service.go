// Package optimizer runs the recommendation lifecycle: generation from a
// fresh inventory, listing, implementation through the actuator and
// verification against a later inventory.
package optimizer

import (
	"context"
	"time"

	"github.com/opscart/cloudops-cost-optimizer/pkg/actuator"
	apperrors "github.com/opscart/cloudops-cost-optimizer/pkg/errors"
	"github.com/opscart/cloudops-cost-optimizer/pkg/inventory"
	"github.com/opscart/cloudops-cost-optimizer/pkg/locker"
	"github.com/opscart/cloudops-cost-optimizer/pkg/logger"
	"github.com/opscart/cloudops-cost-optimizer/pkg/models"
	"github.com/opscart/cloudops-cost-optimizer/pkg/recommender"
	"github.com/opscart/cloudops-cost-optimizer/pkg/storage"
	"github.com/opscart/cloudops-cost-optimizer/pkg/verifier"
)

// Store is the persistence the service needs
type Store interface {
	storage.RecommendationStore
	storage.SavingsStore
}

// Service coordinates recommendation generation, implementation and verification
type Service struct {
	store       Store
	inventory   inventory.Provider
	recommender *recommender.Recommender
	actuator    actuator.Actuator
	locker      locker.Locker
	log         *logger.Logger
	now         func() time.Time
}

// Deps groups the collaborators of a Service
type Deps struct {
	Store       Store
	Inventory   inventory.Provider
	Recommender *recommender.Recommender
	Actuator    actuator.Actuator
	Locker      locker.Locker
	Log         *logger.Logger
}

func NewService(d Deps) *Service {
	if d.Recommender == nil {
		d.Recommender = recommender.New()
	}
	if d.Locker == nil {
		d.Locker = locker.NewLocal()
	}
	if d.Log == nil {
		d.Log = logger.NewNop()
	}
	return &Service{
		store:       d.Store,
		inventory:   d.Inventory,
		recommender: d.Recommender,
		actuator:    d.Actuator,
		locker:      d.Locker,
		log:         d.Log.With("service", "optimizer"),
		now:         time.Now,
	}
}

// GenerateResult is the outcome of one regeneration
type GenerateResult struct {
	Count           int                      `json:"count"`
	Recommendations []*models.Recommendation `json:"recommendations"`
}

// Generate evaluates a fresh snapshot and replaces the user's open
// recommendations with the result
func (s *Service) Generate(ctx context.Context, userID string) (*GenerateResult, error) {
	if userID == "" {
		return nil, apperrors.Invalid("userId is required")
	}

	unlock, err := s.locker.Lock(ctx, userID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "failed to acquire user lock", err)
	}
	defer unlock()

	snap, err := s.inventory.Snapshot(ctx, userID)
	if err != nil {
		s.log.Error("failed to fetch inventory", "userId", userID, "error", err)
		return nil, err
	}

	recs := s.recommender.Evaluate(userID, snap)
	if err := s.store.ReplaceRecommendations(ctx, userID, recs); err != nil {
		s.log.Error("failed to store recommendations", "userId", userID, "error", err)
		return nil, err
	}

	if len(recs) == 0 {
		s.log.Info("no recommendations, infrastructure is optimized", "userId", userID)
	} else {
		s.log.Info("generated recommendations", "userId", userID, "count", len(recs))
	}

	if recs == nil {
		recs = []*models.Recommendation{}
	}
	return &GenerateResult{Count: len(recs), Recommendations: recs}, nil
}

// List returns the user's recommendations, highest priority and savings first
func (s *Service) List(ctx context.Context, userID string, filter models.RecommendationFilter) ([]*models.Recommendation, error) {
	if userID == "" {
		return nil, apperrors.Invalid("userId is required")
	}
	recs, err := s.store.ListRecommendations(ctx, userID, filter)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []*models.Recommendation{}
	}
	return recs, nil
}

// SavingsPotential sums the savings of the user's unimplemented recommendations
func (s *Service) SavingsPotential(ctx context.Context, userID string) (*models.SavingsPotential, error) {
	open := false
	recs, err := s.List(ctx, userID, models.RecommendationFilter{Implemented: &open})
	if err != nil {
		return nil, err
	}

	var p models.SavingsPotential
	for _, r := range recs {
		p.TotalMonthlySavings += r.EstimatedMonthlySavings
	}
	p.TotalYearlySavings = p.TotalMonthlySavings * 12
	p.RecommendationCount = len(recs)
	return &p, nil
}

// Verify re-fetches the inventory and records whether the recommendation
// has been carried out. Failures are reported in the result, never returned.
func (s *Service) Verify(ctx context.Context, userID, recommendationID string) verifier.Result {
	log := s.log.With("userId", userID, "recommendationId", recommendationID)

	unlock, err := s.locker.Lock(ctx, userID)
	if err != nil {
		log.Error("failed to acquire user lock", "error", err)
		return verifier.ErrorResult(err)
	}
	defer unlock()

	rec, err := s.store.GetRecommendation(ctx, userID, recommendationID)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrCodeNotFound) {
			return verifier.Result{Reason: verifier.ReasonNotFound}
		}
		log.Error("failed to load recommendation", "error", err)
		return verifier.ErrorResult(err)
	}

	var result verifier.Result
	snap, err := s.inventory.Snapshot(ctx, userID)
	if err != nil {
		log.Warn("inventory unavailable for verification", "error", err)
		result = verifier.ErrorResult(err)
	} else {
		result = verifier.Evaluate(rec, snap)
	}

	now := s.now().UTC()
	if err := s.store.UpdateVerification(ctx, rec.ID, result.Status(), result.Reason, now); err != nil {
		log.Error("failed to store verification", "error", err)
		return verifier.ErrorResult(err)
	}

	if result.Verified && rec.Implemented {
		if err := s.store.VerifySavings(ctx, rec.ID, rec.ActualSavings, now); err != nil {
			log.Error("failed to verify savings entry", "error", err)
			return verifier.ErrorResult(err)
		}
	}

	log.Info("verification finished", "verified", result.Verified, "reason", result.Reason)
	return result
}

// ImplementRequest describes how a recommendation was carried out. With an
// Action the actuator performs it on ResourceID; without one the caller
// confirms it was done by hand.
type ImplementRequest struct {
	Action        models.ActionType `json:"action,omitempty"`
	ResourceID    string            `json:"resourceId,omitempty"`
	ActualSavings *float64          `json:"actualSavings,omitempty"`
}

// Implement carries out a recommendation and creates its savings tracker
// entry. Nothing is recorded when the actuator fails.
func (s *Service) Implement(ctx context.Context, userID, recommendationID string, req ImplementRequest) (*models.Recommendation, error) {
	if userID == "" || recommendationID == "" {
		return nil, apperrors.Invalid("userId and recommendationId are required")
	}
	if req.Action != "" {
		if !req.Action.Valid() {
			return nil, apperrors.Newf(apperrors.ErrCodeInvalidRequest, "unknown action %q", req.Action)
		}
		if req.ResourceID == "" {
			return nil, apperrors.Invalid("resourceId is required with an action")
		}
	}

	unlock, err := s.locker.Lock(ctx, userID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "failed to acquire user lock", err)
	}
	defer unlock()

	rec, err := s.store.GetRecommendation(ctx, userID, recommendationID)
	if err != nil {
		return nil, err
	}
	if rec.Implemented {
		return nil, apperrors.Invalid("Recommendation already implemented")
	}

	log := s.log.With("userId", userID, "recommendationId", rec.ID, "type", rec.Type)

	implementedAt := s.now().UTC()

	if req.Action != "" {
		if err := checkAction(rec, req.Action, req.ResourceID); err != nil {
			return nil, err
		}
		if s.actuator == nil {
			return nil, apperrors.New(apperrors.ErrCodeUnavailable, "no actuator configured")
		}
		if err := actuator.Apply(ctx, s.actuator, req.Action, userID, req.ResourceID, rec.ID); err != nil {
			log.Warn("actuator failed, nothing recorded", "action", req.Action, "resourceId", req.ResourceID, "error", err)
			return nil, err
		}
	}

	entry := &models.SavingsEntry{
		UserID:           userID,
		RecommendationID: rec.ID,
		ImplementedAt:    implementedAt,
		EstimatedSavings: rec.EstimatedMonthlySavings,
	}
	if req.ActualSavings != nil {
		entry.ActualSavings = *req.ActualSavings
	}

	if err := s.store.MarkImplemented(ctx, userID, rec.ID, implementedAt, req.ActualSavings, entry); err != nil {
		log.Error("failed to record implementation", "error", err)
		return nil, err
	}

	log.Info("recommendation implemented", "action", req.Action, "resourceId", req.ResourceID)
	return s.store.GetRecommendation(ctx, userID, rec.ID)
}

// StopInstance stops an instance flagged by the recommendation and records it
func (s *Service) StopInstance(ctx context.Context, userID, instanceID, recommendationID string) (*models.Recommendation, error) {
	return s.Implement(ctx, userID, recommendationID, ImplementRequest{Action: models.ActionStopInstance, ResourceID: instanceID})
}

// TerminateInstance terminates an instance flagged by the recommendation and records it
func (s *Service) TerminateInstance(ctx context.Context, userID, instanceID, recommendationID string) (*models.Recommendation, error) {
	return s.Implement(ctx, userID, recommendationID, ImplementRequest{Action: models.ActionTerminateInstance, ResourceID: instanceID})
}

// DeleteVolume deletes a volume flagged by the recommendation and records it
func (s *Service) DeleteVolume(ctx context.Context, userID, volumeID, recommendationID string) (*models.Recommendation, error) {
	return s.Implement(ctx, userID, recommendationID, ImplementRequest{Action: models.ActionDeleteVolume, ResourceID: volumeID})
}

// checkAction ensures the action fits the recommendation and targets one of
// the resources it flagged
func checkAction(rec *models.Recommendation, action models.ActionType, resourceID string) error {
	if !rec.AutoImplementable {
		return apperrors.Invalid("Recommendation is not auto-implementable")
	}

	var ids []string
	switch d := rec.ResourceDetails.(type) {
	case models.IdleInstancesDetails:
		if action == models.ActionDeleteVolume {
			return apperrors.Invalid("delete_volume does not apply to instances")
		}
		for _, i := range d.Instances {
			ids = append(ids, i.ID)
		}
	case models.StoppedInstancesDetails:
		if action == models.ActionDeleteVolume {
			return apperrors.Invalid("delete_volume does not apply to instances")
		}
		for _, i := range d.Instances {
			ids = append(ids, i.ID)
		}
	case models.UnusedVolumesDetails:
		if action != models.ActionDeleteVolume {
			return apperrors.Newf(apperrors.ErrCodeInvalidRequest, "%s does not apply to volumes", action)
		}
		for _, v := range d.Volumes {
			ids = append(ids, v.VolumeID)
		}
	default:
		return apperrors.Newf(apperrors.ErrCodeInvalidRequest, "%s recommendations cannot be actuated", rec.Type)
	}

	for _, id := range ids {
		if id == resourceID {
			return nil
		}
	}
	return apperrors.Newf(apperrors.ErrCodeInvalidRequest, "resource %s is not part of this recommendation", resourceID)
}
