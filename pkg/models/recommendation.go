package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// RecommendationType represents the rule that produced a recommendation
type RecommendationType string

const (
	RecommendationEC2Idle           RecommendationType = "EC2_IDLE"
	RecommendationEC2Stopped        RecommendationType = "EC2_STOPPED"
	RecommendationS3Lifecycle       RecommendationType = "S3_LIFECYCLE"
	RecommendationRDSRightsizing    RecommendationType = "RDS_RIGHTSIZING"
	RecommendationEBSUnused         RecommendationType = "EBS_UNUSED"
	RecommendationReservedInstances RecommendationType = "RESERVED_INSTANCES"
	RecommendationLambdaUnused      RecommendationType = "LAMBDA_UNUSED"
)

// Priority of a recommendation
type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

// Rank orders priorities High < Medium < Low; unknown values sort last
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	}
	return 3
}

// Category groups recommendations by service family
type Category string

const (
	CategoryCompute  Category = "Compute"
	CategoryStorage  Category = "Storage"
	CategoryDatabase Category = "Database"
)

// VerificationStatus is the outcome of the last verification run
type VerificationStatus string

const (
	VerificationUnset    VerificationStatus = ""
	VerificationVerified VerificationStatus = "verified"
	VerificationFailed   VerificationStatus = "failed"
)

// Recommendation represents a cost-saving recommendation for one user
type Recommendation struct {
	ID       string             `json:"id"`
	UserID   string             `json:"userId"`
	Type     RecommendationType `json:"type"`
	Priority Priority           `json:"priority"`
	Category Category           `json:"category"`

	Title       string `json:"title"`
	Description string `json:"description"`

	// Savings
	EstimatedMonthlySavings float64 `json:"estimatedMonthlySavings"`
	EstimatedYearlySavings  float64 `json:"estimatedYearlySavings"`

	Difficulty         string          `json:"difficulty"`
	ImplementationTime string          `json:"implementationTime"`
	ResourceDetails    ResourceDetails `json:"resourceDetails"`
	Impact             string          `json:"impact"`
	AutoImplementable  bool            `json:"autoImplementable"`

	// Implementation state
	Implemented   bool       `json:"implemented"`
	ImplementedAt *time.Time `json:"implementedAt,omitempty"`
	ActualSavings float64    `json:"actualSavings"`

	// Verification state
	VerificationStatus VerificationStatus `json:"verificationStatus,omitempty"`
	VerificationReason string             `json:"verificationReason,omitempty"`
	VerifiedAt         *time.Time         `json:"verifiedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

func (r *Recommendation) UnmarshalJSON(data []byte) error {
	type alias Recommendation
	aux := struct {
		*alias
		ResourceDetails json.RawMessage `json:"resourceDetails"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	details, err := DecodeResourceDetails(r.Type, aux.ResourceDetails)
	if err != nil {
		return err
	}
	r.ResourceDetails = details
	return nil
}

// ResourceDetails is the snapshot of flagged resources captured at
// generation time. Each recommendation type has exactly one variant.
type ResourceDetails interface {
	DetailsType() RecommendationType
}

// IdleInstance is an instance flagged as idle
type IdleInstance struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	CPU  float64 `json:"cpu"`
}

// InstanceRef identifies an instance
type InstanceRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// BucketRef identifies a bucket and its size
type BucketRef struct {
	Name      string  `json:"name"`
	SizeBytes float64 `json:"sizeInBytes"`
}

// DatabaseRef identifies an under-utilized database
type DatabaseRef struct {
	Identifier    string  `json:"identifier"`
	InstanceClass string  `json:"instanceClass"`
	CPU           float64 `json:"cpu"`
}

// VolumeRef identifies an unattached volume
type VolumeRef struct {
	VolumeID   string `json:"volumeId"`
	Size       string `json:"size"`
	VolumeType string `json:"volumeType"`
}

// FunctionRef identifies a serverless function
type FunctionRef struct {
	Name    string `json:"name"`
	Runtime string `json:"runtime"`
}

type IdleInstancesDetails struct {
	Instances []IdleInstance `json:"instances"`
}

type StoppedInstancesDetails struct {
	Instances []InstanceRef `json:"instances"`
}

type BucketLifecycleDetails struct {
	Buckets []BucketRef `json:"buckets"`
}

type DatabaseRightsizingDetails struct {
	Databases []DatabaseRef `json:"databases"`
}

type UnusedVolumesDetails struct {
	Volumes     []VolumeRef `json:"volumes"`
	TotalSizeGB int         `json:"totalSizeGB"`
}

type ReservedInstancesDetails struct {
	CurrentInstances           int `json:"currentInstances"`
	PotentialSavingsPercentage int `json:"potentialSavingsPercentage"`
}

type UnusedFunctionsDetails struct {
	Functions []FunctionRef `json:"functions"`
}

func (IdleInstancesDetails) DetailsType() RecommendationType { return RecommendationEC2Idle }
func (StoppedInstancesDetails) DetailsType() RecommendationType {
	return RecommendationEC2Stopped
}
func (BucketLifecycleDetails) DetailsType() RecommendationType { return RecommendationS3Lifecycle }
func (DatabaseRightsizingDetails) DetailsType() RecommendationType {
	return RecommendationRDSRightsizing
}
func (UnusedVolumesDetails) DetailsType() RecommendationType { return RecommendationEBSUnused }
func (ReservedInstancesDetails) DetailsType() RecommendationType {
	return RecommendationReservedInstances
}
func (UnusedFunctionsDetails) DetailsType() RecommendationType { return RecommendationLambdaUnused }

// DecodeResourceDetails decodes the stored details for a recommendation type.
// Unknown types decode to nil details without error.
func DecodeResourceDetails(t RecommendationType, raw []byte) (ResourceDetails, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var target ResourceDetails
	var err error
	switch t {
	case RecommendationEC2Idle:
		var d IdleInstancesDetails
		err = json.Unmarshal(raw, &d)
		target = d
	case RecommendationEC2Stopped:
		var d StoppedInstancesDetails
		err = json.Unmarshal(raw, &d)
		target = d
	case RecommendationS3Lifecycle:
		var d BucketLifecycleDetails
		err = json.Unmarshal(raw, &d)
		target = d
	case RecommendationRDSRightsizing:
		var d DatabaseRightsizingDetails
		err = json.Unmarshal(raw, &d)
		target = d
	case RecommendationEBSUnused:
		var d UnusedVolumesDetails
		err = json.Unmarshal(raw, &d)
		target = d
	case RecommendationReservedInstances:
		var d ReservedInstancesDetails
		err = json.Unmarshal(raw, &d)
		target = d
	case RecommendationLambdaUnused:
		var d UnusedFunctionsDetails
		err = json.Unmarshal(raw, &d)
		target = d
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s resource details: %w", t, err)
	}
	return target, nil
}

// RecommendationFilter narrows a recommendation listing
type RecommendationFilter struct {
	Implemented *bool
	Priority    Priority
	Category    Category
}
