package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NotAvailable is the wire marker for a metric the provider could not read
const NotAvailable = "N/A"

// OptionalFloat is a numeric value that may be absent.
// On the wire it is a number, a numeric string, "N/A" or null.
type OptionalFloat struct {
	Value float64
	Valid bool
}

// Float returns a present OptionalFloat
func Float(v float64) OptionalFloat {
	return OptionalFloat{Value: v, Valid: true}
}

// ParseOptionalFloat parses a provider string such as "3.20" or "N/A"
func ParseOptionalFloat(s string) OptionalFloat {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, NotAvailable) {
		return OptionalFloat{}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return OptionalFloat{}
	}
	return Float(v)
}

// Or returns the value, or def when absent
func (o OptionalFloat) Or(def float64) float64 {
	if !o.Valid {
		return def
	}
	return o.Value
}

// String formats the value with two decimals, or "N/A"
func (o OptionalFloat) String() string {
	if !o.Valid {
		return NotAvailable
	}
	return strconv.FormatFloat(o.Value, 'f', 2, 64)
}

func (o OptionalFloat) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return json.Marshal(NotAvailable)
	}
	return json.Marshal(o.Value)
}

func (o *OptionalFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*o = OptionalFloat{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*o = ParseOptionalFloat(s)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid numeric value %s: %w", string(data), err)
	}
	*o = Float(v)
	return nil
}

// Instance is a compute instance record
type Instance struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Type           string        `json:"type,omitempty"`
	State          string        `json:"state"`
	CPUUtilization OptionalFloat `json:"cpuUtilization"`
	NetworkIn      OptionalFloat `json:"networkIn"`
	NetworkOut     OptionalFloat `json:"networkOut"`
}

// Bucket is an object-storage bucket record
type Bucket struct {
	Name         string     `json:"name"`
	SizeBytes    float64    `json:"sizeInBytes"`
	CreationDate *time.Time `json:"creationDate,omitempty"`
}

// Database is a managed database record
type Database struct {
	Identifier     string        `json:"identifier"`
	InstanceClass  string        `json:"instanceClass"`
	Engine         string        `json:"engine,omitempty"`
	Status         string        `json:"status,omitempty"`
	CPUUtilization OptionalFloat `json:"cpuUtilization"`
}

// Function is a serverless function record
type Function struct {
	Name        string        `json:"name"`
	Runtime     string        `json:"runtime"`
	Invocations OptionalFloat `json:"invocations"`
}

// Volume is a block-storage volume record. Size keeps the provider's
// string form, e.g. "100GiB".
type Volume struct {
	VolumeID   string `json:"volumeId"`
	Size       string `json:"size"`
	State      string `json:"state"`
	VolumeType string `json:"volumeType"`
}

// SizeGB returns the volume size with every non-digit stripped
func (v Volume) SizeGB() int {
	return ParseSizeGB(v.Size)
}

// ParseSizeGB extracts the digits of a size string ("100GiB" -> 100)
func ParseSizeGB(size string) int {
	var b strings.Builder
	for _, r := range size {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0
	}
	n, err := strconv.Atoi(b.String())
	if err != nil {
		return 0
	}
	return n
}

// Resources groups inventory records by service
type Resources struct {
	EC2    []Instance `json:"ec2"`
	S3     []Bucket   `json:"s3"`
	RDS    []Database `json:"rds"`
	Lambda []Function `json:"lambda"`
	EBS    []Volume   `json:"ebs"`
}

// Snapshot is a point-in-time inventory of one user's account
type Snapshot struct {
	Region      string    `json:"region,omitempty"`
	CollectedAt time.Time `json:"collectedAt"`
	Resources   Resources `json:"resources"`
}

// Instance states reported by the provider
const (
	StateRunning    = "running"
	StateStopped    = "stopped"
	StateTerminated = "terminated"
	StateInUse      = "in-use"
	StateDeleted    = "deleted"
)
