// Package verifier decides whether a recommendation has been carried out by
// comparing its recorded resources against a fresh inventory snapshot.
package verifier

import (
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/opscart/cloudops-cost-optimizer/pkg/models"
)

// DatabaseCPUSuccessThreshold is the average CPU% above which remaining
// databases count as rightsized
const DatabaseCPUSuccessThreshold = 30.0

// Reasons reported for outcomes that carry no resource detail
const (
	ReasonNotFound          = "Recommendation not found"
	ReasonUnknownType       = "Unknown recommendation type"
	ReasonMissingDetails    = "No resource details recorded for recommendation"
	ReasonInstancesStopped  = "All instances stopped or terminated - no longer incurring costs"
	ReasonStoppedTerminated = "All stopped instances have been terminated"
	ReasonVolumesDeleted    = "All unused volumes deleted successfully"
	ReasonDatabasesRemoved  = "All databases removed or rightsized"
	ReasonBucketsManual     = "Manual verification: Please confirm lifecycle policies configured in S3 console"
	ReasonFunctionsDeleted  = "All unused Lambda functions deleted successfully"
	ReasonReservedManual    = "Manual verification - please confirm changes were made"
)

// Result is the outcome of one verification
type Result struct {
	Verified bool   `json:"verified"`
	Reason   string `json:"reason"`
}

// Status maps the result onto the stored verification status
func (r Result) Status() models.VerificationStatus {
	if r.Verified {
		return models.VerificationVerified
	}
	return models.VerificationFailed
}

// ErrorResult wraps a failure that prevented verification
func ErrorResult(err error) Result {
	return Result{Verified: false, Reason: fmt.Sprintf("Verification error: %s", err)}
}

// Evaluate compares the recommendation's recorded resources with snap.
// It is pure: the same inputs always give the same result.
func Evaluate(rec *models.Recommendation, snap *models.Snapshot) Result {
	if rec == nil {
		return Result{Reason: ReasonNotFound}
	}
	if snap == nil {
		snap = &models.Snapshot{}
	}
	res := snap.Resources

	switch rec.Type {
	case models.RecommendationEC2Idle:
		d, ok := rec.ResourceDetails.(models.IdleInstancesDetails)
		if !ok {
			return Result{Reason: ReasonMissingDetails}
		}
		ids := sets.New[string]()
		for _, inst := range d.Instances {
			ids.Insert(inst.ID)
		}
		active := liveInstances(res.EC2, ids)
		if len(active) == 0 {
			return Result{Verified: true, Reason: ReasonInstancesStopped}
		}
		return Result{Reason: fmt.Sprintf("%d instance(s) still active: %s", len(active), describeInstances(active))}

	case models.RecommendationEC2Stopped:
		d, ok := rec.ResourceDetails.(models.StoppedInstancesDetails)
		if !ok {
			return Result{Reason: ReasonMissingDetails}
		}
		ids := sets.New[string]()
		for _, inst := range d.Instances {
			ids.Insert(inst.ID)
		}
		remaining := liveInstances(res.EC2, ids)
		if len(remaining) == 0 {
			return Result{Verified: true, Reason: ReasonStoppedTerminated}
		}
		return Result{Reason: fmt.Sprintf("%d instance(s) still exist: %s", len(remaining), describeInstances(remaining))}

	case models.RecommendationEBSUnused:
		d, ok := rec.ResourceDetails.(models.UnusedVolumesDetails)
		if !ok {
			return Result{Reason: ReasonMissingDetails}
		}
		ids := sets.New[string]()
		for _, v := range d.Volumes {
			ids.Insert(v.VolumeID)
		}
		var remaining []string
		for _, v := range res.EBS {
			if ids.Has(v.VolumeID) && v.State != models.StateDeleted {
				remaining = append(remaining, fmt.Sprintf("%s (%s)", v.VolumeID, v.State))
			}
		}
		if len(remaining) == 0 {
			return Result{Verified: true, Reason: ReasonVolumesDeleted}
		}
		return Result{Reason: fmt.Sprintf("%d volume(s) still exist: %s", len(remaining), strings.Join(remaining, ", "))}

	case models.RecommendationRDSRightsizing:
		d, ok := rec.ResourceDetails.(models.DatabaseRightsizingDetails)
		if !ok {
			return Result{Reason: ReasonMissingDetails}
		}
		ids := sets.New[string]()
		for _, db := range d.Databases {
			ids.Insert(db.Identifier)
		}
		var matches []models.Database
		for _, db := range res.RDS {
			if ids.Has(db.Identifier) {
				matches = append(matches, db)
			}
		}
		if len(matches) == 0 {
			return Result{Verified: true, Reason: ReasonDatabasesRemoved}
		}
		total := 0.0
		for _, db := range matches {
			total += db.CPUUtilization.Or(0)
		}
		avg := total / float64(len(matches))
		if avg > DatabaseCPUSuccessThreshold {
			return Result{Verified: true, Reason: fmt.Sprintf("CPU utilization increased to %.1f%% - rightsizing successful", avg)}
		}
		parts := make([]string, 0, len(matches))
		for _, db := range matches {
			parts = append(parts, fmt.Sprintf("%s (%s%%)", db.Identifier, db.CPUUtilization))
		}
		return Result{Reason: "Databases still under-utilized: " + strings.Join(parts, ", ")}

	case models.RecommendationS3Lifecycle:
		return Result{Verified: true, Reason: ReasonBucketsManual}

	case models.RecommendationLambdaUnused:
		d, ok := rec.ResourceDetails.(models.UnusedFunctionsDetails)
		if !ok {
			return Result{Reason: ReasonMissingDetails}
		}
		names := sets.New[string]()
		for _, fn := range d.Functions {
			names.Insert(fn.Name)
		}
		var remaining []string
		for _, fn := range res.Lambda {
			if names.Has(fn.Name) {
				remaining = append(remaining, fn.Name)
			}
		}
		if len(remaining) == 0 {
			return Result{Verified: true, Reason: ReasonFunctionsDeleted}
		}
		return Result{Reason: fmt.Sprintf("%d function(s) still exist: %s", len(remaining), strings.Join(remaining, ", "))}

	case models.RecommendationReservedInstances:
		return Result{Verified: true, Reason: ReasonReservedManual}
	}

	return Result{Reason: ReasonUnknownType}
}

// liveInstances returns the flagged instances that have not been terminated
func liveInstances(instances []models.Instance, ids sets.Set[string]) []models.Instance {
	var out []models.Instance
	for _, inst := range instances {
		if ids.Has(inst.ID) && inst.State != models.StateTerminated {
			out = append(out, inst)
		}
	}
	return out
}

func describeInstances(instances []models.Instance) string {
	parts := make([]string, 0, len(instances))
	for _, inst := range instances {
		parts = append(parts, fmt.Sprintf("%s (%s)", inst.Name, inst.State))
	}
	return strings.Join(parts, ", ")
}
