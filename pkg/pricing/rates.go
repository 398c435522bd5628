// Package pricing holds the flat monthly rates behind recommendation savings
// estimates.
package pricing

// RateCard holds the flat monthly rates the recommendation rules use
type RateCard struct {
	IdleInstanceMonthly    float64 // per idle running instance
	StoppedInstanceMonthly float64 // per stopped instance (attached storage)
	BucketLifecycleMonthly float64 // per large bucket moved to cheaper tiers
	DatabaseRightsize      float64 // per under-utilized database
	VolumePerGBMonthly     float64 // per GB of unattached volume
	ReservedBaseMonthly    float64 // per running instance before discount
	ReservedDiscount       float64 // fraction saved by a reservation
	UnusedFunctionMonthly  float64 // per never-invoked function
	Currency               string
}

// DefaultRates returns the flat rates used when no regional pricing is configured
func DefaultRates() *RateCard {
	return &RateCard{
		IdleInstanceMonthly:    15,
		StoppedInstanceMonthly: 8,
		BucketLifecycleMonthly: 12,
		DatabaseRightsize:      89,
		VolumePerGBMonthly:     0.10,
		ReservedBaseMonthly:    15,
		ReservedDiscount:       0.4,
		UnusedFunctionMonthly:  5,
		Currency:               "USD",
	}
}
