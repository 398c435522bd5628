package optimizer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/opscart/cloudops-cost-optimizer/pkg/errors"
	"github.com/opscart/cloudops-cost-optimizer/pkg/models"
	"github.com/opscart/cloudops-cost-optimizer/pkg/storage"
	"github.com/opscart/cloudops-cost-optimizer/pkg/verifier"
)

type fakeInventory struct {
	mu   sync.Mutex
	snap *models.Snapshot
	err  error
}

func (f *fakeInventory) Snapshot(ctx context.Context, userID string) (*models.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.snap, nil
}

func (f *fakeInventory) set(snap *models.Snapshot, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap, f.err = snap, err
}

type fakeActuator struct {
	calls []string
	recs  []string
	err   error
}

func (f *fakeActuator) record(op, id, recID string) error {
	f.calls = append(f.calls, op+":"+id)
	f.recs = append(f.recs, recID)
	return f.err
}

func (f *fakeActuator) StopInstance(ctx context.Context, userID, instanceID, recID string) error {
	return f.record("stop", instanceID, recID)
}

func (f *fakeActuator) TerminateInstance(ctx context.Context, userID, instanceID, recID string) error {
	return f.record("terminate", instanceID, recID)
}

func (f *fakeActuator) DeleteVolume(ctx context.Context, userID, volumeID, recID string) error {
	return f.record("delete", volumeID, recID)
}

var fixedNow = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func wastefulSnapshot() *models.Snapshot {
	return &models.Snapshot{Resources: models.Resources{
		EC2: []models.Instance{
			{ID: "i-idle", Name: "web", State: models.StateRunning, CPUUtilization: models.Float(1.5)},
			{ID: "i-busy", Name: "api", State: models.StateRunning, CPUUtilization: models.Float(60)},
		},
		EBS: []models.Volume{
			{VolumeID: "vol-1", Size: "100GiB", State: "available", VolumeType: "gp3"},
		},
	}}
}

func newTestService(inv *fakeInventory, act *fakeActuator) (*Service, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	svc := NewService(Deps{Store: store, Inventory: inv, Actuator: act})
	svc.now = func() time.Time { return fixedNow }
	return svc, store
}

func findType(recs []*models.Recommendation, t models.RecommendationType) *models.Recommendation {
	for _, r := range recs {
		if r.Type == t {
			return r
		}
	}
	return nil
}

func TestGenerate(t *testing.T) {
	inv := &fakeInventory{snap: wastefulSnapshot()}
	svc, _ := newTestService(inv, &fakeActuator{})
	ctx := context.Background()

	res, err := svc.Generate(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, len(res.Recommendations), res.Count)

	idle := findType(res.Recommendations, models.RecommendationEC2Idle)
	require.NotNil(t, idle)
	assert.Equal(t, 15.0, idle.EstimatedMonthlySavings)
	assert.NotEmpty(t, idle.ID)

	ebs := findType(res.Recommendations, models.RecommendationEBSUnused)
	require.NotNil(t, ebs)
	assert.Equal(t, 10.0, ebs.EstimatedMonthlySavings)

	listed, err := svc.List(ctx, "u1", models.RecommendationFilter{})
	require.NoError(t, err)
	assert.Len(t, listed, res.Count)
	assert.Equal(t, models.PriorityHigh, listed[0].Priority)
}

func TestGenerateReplacesOpenRecommendations(t *testing.T) {
	inv := &fakeInventory{snap: wastefulSnapshot()}
	svc, _ := newTestService(inv, &fakeActuator{})
	ctx := context.Background()

	_, err := svc.Generate(ctx, "u1")
	require.NoError(t, err)

	inv.set(&models.Snapshot{}, nil)
	res, err := svc.Generate(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)
	assert.NotNil(t, res.Recommendations)

	listed, err := svc.List(ctx, "u1", models.RecommendationFilter{})
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestGenerateUpstreamFailure(t *testing.T) {
	inv := &fakeInventory{err: apperrors.New(apperrors.ErrCodeUnavailable, "monitoring down")}
	svc, _ := newTestService(inv, &fakeActuator{})

	_, err := svc.Generate(context.Background(), "u1")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeUnavailable))
}

func TestSavingsPotential(t *testing.T) {
	inv := &fakeInventory{snap: wastefulSnapshot()}
	svc, _ := newTestService(inv, &fakeActuator{})
	ctx := context.Background()

	res, err := svc.Generate(ctx, "u1")
	require.NoError(t, err)

	var monthly float64
	for _, r := range res.Recommendations {
		monthly += r.EstimatedMonthlySavings
	}

	p, err := svc.SavingsPotential(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, monthly, p.TotalMonthlySavings)
	assert.Equal(t, monthly*12, p.TotalYearlySavings)
	assert.Equal(t, res.Count, p.RecommendationCount)
}

func TestImplementWithAction(t *testing.T) {
	inv := &fakeInventory{snap: wastefulSnapshot()}
	act := &fakeActuator{}
	svc, store := newTestService(inv, act)
	ctx := context.Background()

	res, err := svc.Generate(ctx, "u1")
	require.NoError(t, err)
	idle := findType(res.Recommendations, models.RecommendationEC2Idle)

	actual := 12.0
	rec, err := svc.Implement(ctx, "u1", idle.ID, ImplementRequest{
		Action:        models.ActionStopInstance,
		ResourceID:    "i-idle",
		ActualSavings: &actual,
	})
	require.NoError(t, err)
	assert.True(t, rec.Implemented)
	assert.Equal(t, 12.0, rec.ActualSavings)
	assert.Equal(t, []string{"stop:i-idle"}, act.calls)
	assert.Equal(t, []string{idle.ID}, act.recs)

	entries, err := store.ListSavings(ctx, storage.SavingsQuery{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 15.0, entries[0].EstimatedSavings)
	assert.False(t, entries[0].Verified)

	_, err = svc.Implement(ctx, "u1", idle.ID, ImplementRequest{})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidRequest))
}

func TestImplementActuatorFailureRecordsNothing(t *testing.T) {
	inv := &fakeInventory{snap: wastefulSnapshot()}
	act := &fakeActuator{err: apperrors.New(apperrors.ErrCodeUnavailable, "ec2 refused")}
	svc, store := newTestService(inv, act)
	ctx := context.Background()

	res, err := svc.Generate(ctx, "u1")
	require.NoError(t, err)
	ebs := findType(res.Recommendations, models.RecommendationEBSUnused)

	_, err = svc.DeleteVolume(ctx, "u1", "vol-1", ebs.ID)
	require.Error(t, err)

	rec, err := store.GetRecommendation(ctx, "u1", ebs.ID)
	require.NoError(t, err)
	assert.False(t, rec.Implemented)

	entries, err := store.ListSavings(ctx, storage.SavingsQuery{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ebs.ID, entries[0].RecommendationID)
	assert.Equal(t, ebs.EstimatedMonthlySavings, entries[0].EstimatedSavings)
	assert.False(t, entries[0].Verified)

	// volume gone, the manual implementation counts toward verified savings
	inv.set(&models.Snapshot{}, nil)
	result := svc.Verify(ctx, "u1", ebs.ID)
	require.True(t, result.Verified, result.Reason)

	verified, err := store.ListSavings(ctx, storage.SavingsQuery{UserID: "u1", VerifiedOnly: true})
	require.NoError(t, err)
	require.Len(t, verified, 1)
	assert.Equal(t, 10.0, verified[0].EstimatedSavings)
}

func TestImplementRejectsMismatchedAction(t *testing.T) {
	inv := &fakeInventory{snap: wastefulSnapshot()}
	act := &fakeActuator{}
	svc, _ := newTestService(inv, act)
	ctx := context.Background()

	res, err := svc.Generate(ctx, "u1")
	require.NoError(t, err)
	idle := findType(res.Recommendations, models.RecommendationEC2Idle)
	ebs := findType(res.Recommendations, models.RecommendationEBSUnused)

	tests := []struct {
		name  string
		recID string
		req   ImplementRequest
	}{
		{"unknown action", idle.ID, ImplementRequest{Action: "reboot", ResourceID: "i-idle"}},
		{"missing resource", idle.ID, ImplementRequest{Action: models.ActionStopInstance}},
		{"volume action on instance", idle.ID, ImplementRequest{Action: models.ActionDeleteVolume, ResourceID: "i-idle"}},
		{"instance action on volume", ebs.ID, ImplementRequest{Action: models.ActionStopInstance, ResourceID: "vol-1"}},
		{"resource not flagged", idle.ID, ImplementRequest{Action: models.ActionStopInstance, ResourceID: "i-busy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Implement(ctx, "u1", tt.recID, tt.req)
			assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidRequest), "got %v", err)
		})
	}
	assert.Empty(t, act.calls)
}

func TestImplementManual(t *testing.T) {
	inv := &fakeInventory{snap: wastefulSnapshot()}
	svc, store := newTestService(inv, &fakeActuator{})
	ctx := context.Background()

	res, err := svc.Generate(ctx, "u1")
	require.NoError(t, err)
	ebs := findType(res.Recommendations, models.RecommendationEBSUnused)

	rec, err := svc.Implement(ctx, "u1", ebs.ID, ImplementRequest{})
	require.NoError(t, err)
	assert.True(t, rec.Implemented)
	require.NotNil(t, rec.ImplementedAt)
	assert.True(t, rec.ImplementedAt.Equal(fixedNow))

	entries, err := store.ListSavings(ctx, storage.SavingsQuery{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ebs.ID, entries[0].RecommendationID)
	assert.Equal(t, ebs.EstimatedMonthlySavings, entries[0].EstimatedSavings)
	assert.False(t, entries[0].Verified)

	// volume gone, the manual implementation counts toward verified savings
	inv.set(&models.Snapshot{}, nil)
	result := svc.Verify(ctx, "u1", ebs.ID)
	require.True(t, result.Verified, result.Reason)

	verified, err := store.ListSavings(ctx, storage.SavingsQuery{UserID: "u1", VerifiedOnly: true})
	require.NoError(t, err)
	require.Len(t, verified, 1)
	assert.Equal(t, 10.0, verified[0].EstimatedSavings)
}

func TestImplementNotFound(t *testing.T) {
	svc, _ := newTestService(&fakeInventory{snap: &models.Snapshot{}}, &fakeActuator{})
	_, err := svc.Implement(context.Background(), "u1", "missing", ImplementRequest{})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))
}

func TestVerifyFlow(t *testing.T) {
	inv := &fakeInventory{snap: wastefulSnapshot()}
	svc, store := newTestService(inv, &fakeActuator{})
	ctx := context.Background()

	res, err := svc.Generate(ctx, "u1")
	require.NoError(t, err)
	idle := findType(res.Recommendations, models.RecommendationEC2Idle)

	// still running
	result := svc.Verify(ctx, "u1", idle.ID)
	assert.False(t, result.Verified)
	assert.Contains(t, result.Reason, "still active")

	rec, err := store.GetRecommendation(ctx, "u1", idle.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationFailed, rec.VerificationStatus)

	actual := 14.0
	_, err = svc.StopInstance(ctx, "u1", "i-idle", idle.ID)
	require.NoError(t, err)
	_, err = svc.Implement(ctx, "u1", idle.ID, ImplementRequest{ActualSavings: &actual})
	assert.Error(t, err)

	// a stopped instance still counts as active
	after := wastefulSnapshot()
	after.Resources.EC2[0].State = models.StateStopped
	inv.set(after, nil)

	result = svc.Verify(ctx, "u1", idle.ID)
	assert.False(t, result.Verified)
	assert.Equal(t, "1 instance(s) still active: web (stopped)", result.Reason)

	after = wastefulSnapshot()
	after.Resources.EC2[0].State = models.StateTerminated
	inv.set(after, nil)

	result = svc.Verify(ctx, "u1", idle.ID)
	assert.True(t, result.Verified)
	assert.Equal(t, verifier.ReasonInstancesStopped, result.Reason)

	rec, err = store.GetRecommendation(ctx, "u1", idle.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationVerified, rec.VerificationStatus)
	require.NotNil(t, rec.VerifiedAt)

	entries, err := store.ListSavings(ctx, storage.SavingsQuery{UserID: "u1", VerifiedOnly: true})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, idle.ID, entries[0].RecommendationID)
}

func TestVerifyNotFound(t *testing.T) {
	svc, _ := newTestService(&fakeInventory{snap: &models.Snapshot{}}, &fakeActuator{})
	result := svc.Verify(context.Background(), "u1", "nope")
	assert.False(t, result.Verified)
	assert.Equal(t, verifier.ReasonNotFound, result.Reason)
}

func TestVerifyInventoryError(t *testing.T) {
	inv := &fakeInventory{snap: wastefulSnapshot()}
	svc, store := newTestService(inv, &fakeActuator{})
	ctx := context.Background()

	res, err := svc.Generate(ctx, "u1")
	require.NoError(t, err)
	idle := findType(res.Recommendations, models.RecommendationEC2Idle)

	inv.set(nil, errors.New("connection refused"))
	result := svc.Verify(ctx, "u1", idle.ID)
	assert.False(t, result.Verified)
	assert.Contains(t, result.Reason, "Verification error: ")

	rec, err := store.GetRecommendation(ctx, "u1", idle.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationFailed, rec.VerificationStatus)
}

func TestGenerateSerializesPerUser(t *testing.T) {
	inv := &fakeInventory{snap: wastefulSnapshot()}
	svc, _ := newTestService(inv, &fakeActuator{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Generate(ctx, "u1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	listed, err := svc.List(ctx, "u1", models.RecommendationFilter{})
	require.NoError(t, err)
	res := svc.recommender.Evaluate("u1", wastefulSnapshot())
	assert.Len(t, listed, len(res))
}

func TestVerifyWaitsForUserLock(t *testing.T) {
	inv := &fakeInventory{snap: wastefulSnapshot()}
	svc, _ := newTestService(inv, &fakeActuator{})
	ctx := context.Background()

	res, err := svc.Generate(ctx, "u1")
	require.NoError(t, err)
	idle := findType(res.Recommendations, models.RecommendationEC2Idle)

	unlock, err := svc.locker.Lock(ctx, "u1")
	require.NoError(t, err)

	done := make(chan verifier.Result, 1)
	go func() { done <- svc.Verify(ctx, "u1", idle.ID) }()

	select {
	case <-done:
		t.Fatal("verify ran while the user lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case result := <-done:
		assert.False(t, result.Verified)
		assert.Contains(t, result.Reason, "still active")
	case <-time.After(2 * time.Second):
		t.Fatal("verify did not resume after unlock")
	}

	cancelled, cancel := context.WithCancel(ctx)
	unlock, err = svc.locker.Lock(ctx, "u1")
	require.NoError(t, err)
	defer unlock()
	cancel()
	result := svc.Verify(cancelled, "u1", idle.ID)
	assert.False(t, result.Verified)
	assert.Contains(t, result.Reason, "Verification error: ")
}
