package recommender

import (
	"fmt"
	"math"

	"github.com/opscart/cloudops-cost-optimizer/pkg/models"
	"github.com/opscart/cloudops-cost-optimizer/pkg/pricing"
)

// Rule thresholds
const (
	IdleCPUThreshold       = 5.0  // percent, running instances below this are idle
	DatabaseCPUThreshold   = 20.0 // percent, databases below this are over-provisioned
	LargeBucketBytes       = 1e9
	ReservedMinInstances   = 2
	reservedSavingsPercent = 40
)

// Recommender turns an inventory snapshot into recommendations.
// It does no I/O; every rule sees the same snapshot.
type Recommender struct {
	rates *pricing.RateCard
}

func New() *Recommender {
	return NewWithRates(pricing.DefaultRates())
}

func NewWithRates(rates *pricing.RateCard) *Recommender {
	if rates == nil {
		rates = pricing.DefaultRates()
	}
	return &Recommender{rates: rates}
}

// Evaluate runs every rule against the snapshot and returns the triggered
// recommendations in rule order. A nil snapshot yields nothing.
func (r *Recommender) Evaluate(userID string, snap *models.Snapshot) []*models.Recommendation {
	if snap == nil {
		return nil
	}
	res := snap.Resources

	var recs []*models.Recommendation
	for _, rule := range []func(models.Resources) *models.Recommendation{
		r.idleInstances,
		r.stoppedInstances,
		r.bucketLifecycle,
		r.databaseRightsizing,
		r.unusedVolumes,
		r.reservedInstances,
		r.unusedFunctions,
	} {
		if rec := rule(res); rec != nil {
			rec.UserID = userID
			rec.EstimatedYearlySavings = rec.EstimatedMonthlySavings * 12
			recs = append(recs, rec)
		}
	}
	return recs
}

func (r *Recommender) idleInstances(res models.Resources) *models.Recommendation {
	var idle []models.IdleInstance
	for _, inst := range res.EC2 {
		if inst.State == models.StateRunning && inst.CPUUtilization.Valid && inst.CPUUtilization.Value < IdleCPUThreshold {
			idle = append(idle, models.IdleInstance{ID: inst.ID, Name: inst.Name, CPU: inst.CPUUtilization.Value})
		}
	}
	if len(idle) == 0 {
		return nil
	}

	n := len(idle)
	return &models.Recommendation{
		Type:                    models.RecommendationEC2Idle,
		Priority:                models.PriorityHigh,
		Category:                models.CategoryCompute,
		Title:                   fmt.Sprintf("Stop %d idle EC2 %s", n, plural(n, "instance")),
		Description:             fmt.Sprintf("%d EC2 instance(s) running with less than 5%% CPU utilization. Consider stopping or downsizing.", n),
		EstimatedMonthlySavings: float64(n) * r.rates.IdleInstanceMonthly,
		Difficulty:              "Easy",
		ImplementationTime:      "2 minutes",
		ResourceDetails:         models.IdleInstancesDetails{Instances: idle},
		Impact:                  "Low Impact",
		AutoImplementable:       true,
	}
}

func (r *Recommender) stoppedInstances(res models.Resources) *models.Recommendation {
	var stopped []models.InstanceRef
	for _, inst := range res.EC2 {
		if inst.State == models.StateStopped {
			stopped = append(stopped, models.InstanceRef{ID: inst.ID, Name: inst.Name})
		}
	}
	if len(stopped) == 0 {
		return nil
	}

	n := len(stopped)
	return &models.Recommendation{
		Type:                    models.RecommendationEC2Stopped,
		Priority:                models.PriorityMedium,
		Category:                models.CategoryCompute,
		Title:                   fmt.Sprintf("Terminate %d stopped EC2 %s", n, plural(n, "instance")),
		Description:             fmt.Sprintf("%d EC2 instance(s) are stopped. You're still paying for EBS storage.", n),
		EstimatedMonthlySavings: float64(n) * r.rates.StoppedInstanceMonthly,
		Difficulty:              "Easy",
		ImplementationTime:      "1 minute",
		ResourceDetails:         models.StoppedInstancesDetails{Instances: stopped},
		Impact:                  "No Impact",
		AutoImplementable:       true,
	}
}

func (r *Recommender) bucketLifecycle(res models.Resources) *models.Recommendation {
	var large []models.BucketRef
	for _, b := range res.S3 {
		if b.SizeBytes > LargeBucketBytes {
			large = append(large, models.BucketRef{Name: b.Name, SizeBytes: b.SizeBytes})
		}
	}
	if len(large) == 0 {
		return nil
	}

	n := len(large)
	return &models.Recommendation{
		Type:                    models.RecommendationS3Lifecycle,
		Priority:                models.PriorityMedium,
		Category:                models.CategoryStorage,
		Title:                   fmt.Sprintf("Enable S3 Lifecycle policies on %d %s", n, plural(n, "bucket")),
		Description:             "Move infrequently accessed data to S3 Glacier to reduce storage costs by up to 70%.",
		EstimatedMonthlySavings: float64(n) * r.rates.BucketLifecycleMonthly,
		Difficulty:              "Medium",
		ImplementationTime:      "10 minutes",
		ResourceDetails:         models.BucketLifecycleDetails{Buckets: large},
		Impact:                  "Low Impact",
		AutoImplementable:       false,
	}
}

func (r *Recommender) databaseRightsizing(res models.Resources) *models.Recommendation {
	var under []models.DatabaseRef
	for _, db := range res.RDS {
		if db.CPUUtilization.Valid && db.CPUUtilization.Value < DatabaseCPUThreshold {
			under = append(under, models.DatabaseRef{
				Identifier:    db.Identifier,
				InstanceClass: db.InstanceClass,
				CPU:           db.CPUUtilization.Value,
			})
		}
	}
	if len(under) == 0 {
		return nil
	}

	n := len(under)
	return &models.Recommendation{
		Type:                    models.RecommendationRDSRightsizing,
		Priority:                models.PriorityHigh,
		Category:                models.CategoryDatabase,
		Title:                   fmt.Sprintf("Downsize %d over-provisioned RDS %s", n, plural(n, "database")),
		Description:             "RDS instances running at <20% CPU. Consider downsizing to a smaller instance type.",
		EstimatedMonthlySavings: float64(n) * r.rates.DatabaseRightsize,
		Difficulty:              "Medium",
		ImplementationTime:      "15 minutes",
		ResourceDetails:         models.DatabaseRightsizingDetails{Databases: under},
		Impact:                  "Medium Impact",
		AutoImplementable:       false,
	}
}

func (r *Recommender) unusedVolumes(res models.Resources) *models.Recommendation {
	var unused []models.VolumeRef
	totalGB := 0
	for _, v := range res.EBS {
		if v.State != models.StateInUse {
			unused = append(unused, models.VolumeRef{VolumeID: v.VolumeID, Size: v.Size, VolumeType: v.VolumeType})
			totalGB += v.SizeGB()
		}
	}
	if len(unused) == 0 {
		return nil
	}

	n := len(unused)
	return &models.Recommendation{
		Type:                    models.RecommendationEBSUnused,
		Priority:                models.PriorityHigh,
		Category:                models.CategoryStorage,
		Title:                   fmt.Sprintf("Delete %d unused EBS %s", n, plural(n, "volume")),
		Description:             fmt.Sprintf("%d GB of unattached EBS volumes costing you money.", totalGB),
		EstimatedMonthlySavings: math.Round(float64(totalGB) * r.rates.VolumePerGBMonthly),
		Difficulty:              "Easy",
		ImplementationTime:      "2 minutes",
		ResourceDetails:         models.UnusedVolumesDetails{Volumes: unused, TotalSizeGB: totalGB},
		Impact:                  "No Impact",
		AutoImplementable:       true,
	}
}

func (r *Recommender) reservedInstances(res models.Resources) *models.Recommendation {
	if len(res.EC2) < ReservedMinInstances {
		return nil
	}
	running := 0
	for _, inst := range res.EC2 {
		if inst.State == models.StateRunning {
			running++
		}
	}
	if running < ReservedMinInstances {
		return nil
	}

	return &models.Recommendation{
		Type:                    models.RecommendationReservedInstances,
		Priority:                models.PriorityMedium,
		Category:                models.CategoryCompute,
		Title:                   "Switch to Reserved Instances",
		Description:             fmt.Sprintf("You have %d consistently running instances. Save up to 40%% with Reserved Instances.", running),
		EstimatedMonthlySavings: math.Round(float64(running) * r.rates.ReservedBaseMonthly * r.rates.ReservedDiscount),
		Difficulty:              "Easy",
		ImplementationTime:      "5 minutes",
		ResourceDetails: models.ReservedInstancesDetails{
			CurrentInstances:           running,
			PotentialSavingsPercentage: reservedSavingsPercent,
		},
		Impact:            "No Impact",
		AutoImplementable: false,
	}
}

func (r *Recommender) unusedFunctions(res models.Resources) *models.Recommendation {
	var unused []models.FunctionRef
	for _, fn := range res.Lambda {
		if fn.Invocations.Valid && fn.Invocations.Value == 0 {
			unused = append(unused, models.FunctionRef{Name: fn.Name, Runtime: fn.Runtime})
		}
	}
	if len(unused) == 0 {
		return nil
	}

	n := len(unused)
	return &models.Recommendation{
		Type:                    models.RecommendationLambdaUnused,
		Priority:                models.PriorityLow,
		Category:                models.CategoryCompute,
		Title:                   fmt.Sprintf("Delete %d unused Lambda %s", n, plural(n, "function")),
		Description:             "Functions with zero invocations. Consider removing to reduce clutter.",
		EstimatedMonthlySavings: float64(n) * r.rates.UnusedFunctionMonthly,
		Difficulty:              "Easy",
		ImplementationTime:      "2 minutes",
		ResourceDetails:         models.UnusedFunctionsDetails{Functions: unused},
		Impact:                  "No Impact",
		AutoImplementable:       false,
	}
}

func plural(n int, noun string) string {
	if n == 1 {
		return noun
	}
	return noun + "s"
}
