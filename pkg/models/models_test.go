package models

import (
	"encoding/json"
	"testing"
)

func TestOptionalFloatUnmarshal(t *testing.T) {
	tests := []struct {
		raw   string
		valid bool
		value float64
	}{
		{`3.25`, true, 3.25},
		{`"3.20"`, true, 3.2},
		{`"N/A"`, false, 0},
		{`null`, false, 0},
		{`""`, false, 0},
		{`"0"`, true, 0},
		{`0`, true, 0},
		{`"garbage"`, false, 0},
	}

	for _, tt := range tests {
		var o OptionalFloat
		if err := json.Unmarshal([]byte(tt.raw), &o); err != nil {
			t.Errorf("Unmarshal(%s) failed: %v", tt.raw, err)
			continue
		}
		if o.Valid != tt.valid || o.Value != tt.value {
			t.Errorf("Unmarshal(%s) = %+v, want valid=%v value=%v", tt.raw, o, tt.valid, tt.value)
		}
	}
}

func TestOptionalFloatMarshal(t *testing.T) {
	data, _ := json.Marshal(struct {
		A OptionalFloat `json:"a"`
		B OptionalFloat `json:"b"`
	}{A: Float(1.5)})

	if string(data) != `{"a":1.5,"b":"N/A"}` {
		t.Errorf("Unexpected encoding: %s", data)
	}
	if Float(12.345).String() != "12.35" || (OptionalFloat{}).String() != "N/A" {
		t.Error("Unexpected String() formatting")
	}
	if (OptionalFloat{}).Or(7) != 7 {
		t.Error("Or should return default when absent")
	}
}

func TestParseSizeGB(t *testing.T) {
	tests := map[string]int{
		"100GiB":  100,
		"8 GiB":   8,
		"1,024GB": 1024,
		"GiB":     0,
		"":        0,
	}
	for in, want := range tests {
		if got := ParseSizeGB(in); got != want {
			t.Errorf("ParseSizeGB(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestSnapshotDecode(t *testing.T) {
	raw := `{
		"region": "us-east-1",
		"resources": {
			"ec2": [{"id": "i-1", "name": "web", "state": "running", "cpuUtilization": "2.50"}],
			"rds": [{"identifier": "db-1", "instanceClass": "db.t3.micro", "cpuUtilization": "N/A"}],
			"lambda": [{"name": "fn", "runtime": "go1.x", "invocations": "0"}],
			"ebs": [{"volumeId": "vol-1", "size": "20GiB", "state": "available", "volumeType": "gp3"}]
		}
	}`

	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !snap.Resources.EC2[0].CPUUtilization.Valid || snap.Resources.EC2[0].CPUUtilization.Value != 2.5 {
		t.Errorf("Unexpected EC2 CPU: %+v", snap.Resources.EC2[0].CPUUtilization)
	}
	if snap.Resources.RDS[0].CPUUtilization.Valid {
		t.Error("N/A database CPU should be absent")
	}
	if !snap.Resources.Lambda[0].Invocations.Valid || snap.Resources.Lambda[0].Invocations.Value != 0 {
		t.Error(`"0" invocations should parse to zero`)
	}
	if snap.Resources.EBS[0].SizeGB() != 20 {
		t.Errorf("Expected 20GB, got %d", snap.Resources.EBS[0].SizeGB())
	}
}

func TestRecommendationDetailsRoundTrip(t *testing.T) {
	rec := Recommendation{
		ID:   "r1",
		Type: RecommendationEBSUnused,
		ResourceDetails: UnusedVolumesDetails{
			Volumes:     []VolumeRef{{VolumeID: "vol-1", Size: "100GiB", VolumeType: "gp3"}},
			TotalSizeGB: 100,
		},
	}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded Recommendation
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	details, ok := decoded.ResourceDetails.(UnusedVolumesDetails)
	if !ok {
		t.Fatalf("Expected UnusedVolumesDetails, got %T", decoded.ResourceDetails)
	}
	if details.Volumes[0].VolumeID != "vol-1" || details.TotalSizeGB != 100 {
		t.Errorf("Unexpected details: %+v", details)
	}
	if decoded.ID != "r1" {
		t.Errorf("Expected id r1, got %s", decoded.ID)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	d, err := DecodeResourceDetails("SOMETHING_ELSE", []byte(`{"x":1}`))
	if err != nil || d != nil {
		t.Errorf("Unknown types should decode to nil, got %v %v", d, err)
	}
	if _, err := DecodeResourceDetails(RecommendationEC2Idle, []byte(`{"instances": 5}`)); err == nil {
		t.Error("Expected error for malformed details")
	}
}

func TestPriorityRank(t *testing.T) {
	if !(PriorityHigh.Rank() < PriorityMedium.Rank() && PriorityMedium.Rank() < PriorityLow.Rank()) {
		t.Error("Expected High < Medium < Low")
	}
	if Priority("Urgent").Rank() <= PriorityLow.Rank() {
		t.Error("Unknown priorities should sort last")
	}
}
