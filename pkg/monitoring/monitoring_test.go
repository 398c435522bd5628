package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/opscart/cloudops-cost-optimizer/pkg/errors"
	"github.com/opscart/cloudops-cost-optimizer/pkg/models"
	"github.com/opscart/cloudops-cost-optimizer/pkg/recommender"
)

type fakeEC2 struct {
	mu          sync.Mutex
	stopped     []string
	terminated  []string
	deleted     []string
	describeErr error
}

func (f *fakeEC2) DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	return &ec2.DescribeInstancesOutput{Reservations: []ec2types.Reservation{{
		Instances: []ec2types.Instance{
			{
				InstanceId:   aws.String("i-1"),
				InstanceType: ec2types.InstanceTypeT3Micro,
				State:        &ec2types.InstanceState{Name: ec2types.InstanceStateNameRunning},
				Tags:         []ec2types.Tag{{Key: aws.String("Name"), Value: aws.String("web")}},
			},
			{
				InstanceId: aws.String("i-2"),
				State:      &ec2types.InstanceState{Name: ec2types.InstanceStateNameStopped},
			},
		},
	}}}, nil
}

func (f *fakeEC2) DescribeVolumes(ctx context.Context, in *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error) {
	return &ec2.DescribeVolumesOutput{Volumes: []ec2types.Volume{{
		VolumeId:   aws.String("vol-1"),
		Size:       aws.Int32(100),
		State:      ec2types.VolumeStateAvailable,
		VolumeType: ec2types.VolumeTypeGp3,
	}}}, nil
}

func (f *fakeEC2) StopInstances(ctx context.Context, in *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, in.InstanceIds...)
	return &ec2.StopInstancesOutput{}, nil
}

func (f *fakeEC2) TerminateInstances(ctx context.Context, in *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, in.InstanceIds...)
	return &ec2.TerminateInstancesOutput{}, nil
}

func (f *fakeEC2) DeleteVolume(ctx context.Context, in *ec2.DeleteVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DeleteVolumeOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if aws.ToString(in.VolumeId) == "vol-busy" {
		return nil, errors.New("VolumeInUse")
	}
	f.deleted = append(f.deleted, aws.ToString(in.VolumeId))
	return &ec2.DeleteVolumeOutput{}, nil
}

type fakeS3 struct{}

func (fakeS3) ListBuckets(ctx context.Context, in *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
	return &s3.ListBucketsOutput{Buckets: []s3types.Bucket{{Name: aws.String("logs")}}}, nil
}

type fakeRDS struct{}

func (fakeRDS) DescribeDBInstances(ctx context.Context, in *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error) {
	return &rds.DescribeDBInstancesOutput{DBInstances: []rdstypes.DBInstance{{
		DBInstanceIdentifier: aws.String("orders"),
		DBInstanceClass:      aws.String("db.m5.large"),
		Engine:               aws.String("postgres"),
		DBInstanceStatus:     aws.String("available"),
	}}}, nil
}

type fakeLambda struct{}

func (fakeLambda) ListFunctions(ctx context.Context, in *lambda.ListFunctionsInput, optFns ...func(*lambda.Options)) (*lambda.ListFunctionsOutput, error) {
	return &lambda.ListFunctionsOutput{Functions: []lambdatypes.FunctionConfiguration{{
		FunctionName: aws.String("resize"),
		Runtime:      lambdatypes.RuntimeNodejs20x,
	}}}, nil
}

// fakeMetrics answers from a map keyed by namespace/metric/first dimension value
type fakeMetrics struct {
	values map[string]float64
}

func (f fakeMetrics) Name() string { return "fake" }

func (f fakeMetrics) Latest(ctx context.Context, req MetricRequest) (models.OptionalFloat, error) {
	key := req.Namespace + "/" + req.Metric + "/" + req.Dimensions[0].Value
	if v, ok := f.values[key]; ok {
		return models.Float(v), nil
	}
	if req.Metric == "NetworkOut" {
		return models.OptionalFloat{}, errors.New("throttled")
	}
	return models.OptionalFloat{}, nil
}

type staticCreds struct {
	cred *models.Credential
	err  error
}

func (s staticCreds) Credentials(ctx context.Context, userID string) (*models.Credential, error) {
	return s.cred, s.err
}

func newTestService(ec2api *fakeEC2, creds CredentialSource) *Service {
	factory := func(ctx context.Context, cred *models.Credential) (*Clients, error) {
		return &Clients{Region: cred.Region, EC2: ec2api, S3: fakeS3{}, RDS: fakeRDS{}, Lambda: fakeLambda{}}, nil
	}
	metrics := fakeMetrics{values: map[string]float64{
		"AWS/EC2/CPUUtilization/i-1":    2.5,
		"AWS/EC2/NetworkIn/i-1":         2 * bytesPerMiB,
		"AWS/S3/BucketSizeBytes/logs":   5e9,
		"AWS/RDS/CPUUtilization/orders": 12,
		"AWS/Lambda/Invocations/resize": 0,
	}}
	return NewService(creds, nil, WithClientFactory(factory), WithMetricsSource(metrics))
}

var testCred = &models.Credential{UserID: "u1", AccessKeyID: "AKIA", SecretAccessKey: "s", Region: "eu-west-1"}

func TestSnapshot(t *testing.T) {
	svc := newTestService(&fakeEC2{}, staticCreds{cred: testCred})

	snap, err := svc.Snapshot(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", snap.Region)

	require.Len(t, snap.Resources.EC2, 2)
	web := snap.Resources.EC2[0]
	assert.Equal(t, "web", web.Name)
	assert.Equal(t, "running", web.State)
	assert.Equal(t, models.Float(2.5), web.CPUUtilization)
	assert.Equal(t, models.Float(2), web.NetworkIn)
	assert.False(t, web.NetworkOut.Valid)

	stopped := snap.Resources.EC2[1]
	assert.Equal(t, "i-2", stopped.Name)
	assert.False(t, stopped.CPUUtilization.Valid)

	require.Len(t, snap.Resources.S3, 1)
	assert.Equal(t, 5e9, snap.Resources.S3[0].SizeBytes)

	require.Len(t, snap.Resources.RDS, 1)
	assert.Equal(t, models.Float(12), snap.Resources.RDS[0].CPUUtilization)

	require.Len(t, snap.Resources.Lambda, 1)
	assert.Equal(t, models.Float(0), snap.Resources.Lambda[0].Invocations)

	require.Len(t, snap.Resources.EBS, 1)
	assert.Equal(t, "100GiB", snap.Resources.EBS[0].Size)
	assert.Equal(t, 100, snap.Resources.EBS[0].SizeGB())
}

func TestSnapshotListingFailure(t *testing.T) {
	svc := newTestService(&fakeEC2{describeErr: errors.New("UnauthorizedOperation")}, staticCreds{cred: testCred})

	_, err := svc.Snapshot(context.Background(), "u1")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeUnavailable))
	assert.Contains(t, err.Error(), "UnauthorizedOperation")
}

func TestSnapshotCredentialFailure(t *testing.T) {
	svc := newTestService(&fakeEC2{}, staticCreds{err: apperrors.New(apperrors.ErrCodeUnavailable, "user service down")})

	_, err := svc.Snapshot(context.Background(), "u1")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeUnavailable))

	_, err = svc.Snapshot(context.Background(), "")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidRequest))
}

func TestSnapshotIdleFunctionWithoutDatapoints(t *testing.T) {
	factory := func(ctx context.Context, cred *models.Credential) (*Clients, error) {
		return &Clients{
			Region:     cred.Region,
			EC2:        &fakeEC2{},
			S3:         fakeS3{},
			RDS:        fakeRDS{},
			Lambda:     fakeLambda{},
			CloudWatch: &fakeCloudWatch{},
		}, nil
	}
	svc := NewService(staticCreds{cred: testCred}, nil, WithClientFactory(factory))

	snap, err := svc.Snapshot(context.Background(), "u1")
	require.NoError(t, err)

	require.Len(t, snap.Resources.Lambda, 1)
	assert.Equal(t, models.Float(0), snap.Resources.Lambda[0].Invocations)
	// gauges without data stay absent
	assert.False(t, snap.Resources.EC2[0].CPUUtilization.Valid)
	assert.False(t, snap.Resources.RDS[0].CPUUtilization.Valid)

	var unused *models.Recommendation
	for _, rec := range recommender.New().Evaluate("u1", snap) {
		if rec.Type == models.RecommendationLambdaUnused {
			unused = rec
		}
	}
	require.NotNil(t, unused)
	assert.Equal(t, 5.0, unused.EstimatedMonthlySavings)
}

func TestActions(t *testing.T) {
	api := &fakeEC2{}
	svc := newTestService(api, staticCreds{cred: testCred})
	ctx := context.Background()

	require.NoError(t, svc.StopInstance(ctx, "u1", "i-1", "rec-1"))
	require.NoError(t, svc.TerminateInstance(ctx, "u1", "i-2", ""))
	require.NoError(t, svc.DeleteVolume(ctx, "u1", "vol-1", "rec-2"))

	assert.Equal(t, []string{"i-1"}, api.stopped)
	assert.Equal(t, []string{"i-2"}, api.terminated)
	assert.Equal(t, []string{"vol-1"}, api.deleted)

	err := svc.DeleteVolume(ctx, "u1", "vol-busy", "")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeUnavailable))

	err = svc.StopInstance(ctx, "u1", "", "")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidRequest))
}

type fakeCloudWatch struct {
	mu     sync.Mutex
	points []cwtypes.Datapoint
	last   *cloudwatch.GetMetricStatisticsInput
}

func (f *fakeCloudWatch) GetMetricStatistics(ctx context.Context, in *cloudwatch.GetMetricStatisticsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = in
	return &cloudwatch.GetMetricStatisticsOutput{Datapoints: f.points}, nil
}

func TestCloudWatchSourceLatest(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	cw := &fakeCloudWatch{points: []cwtypes.Datapoint{
		{Timestamp: aws.Time(now.Add(-10 * time.Minute)), Average: aws.Float64(4)},
		{Timestamp: aws.Time(now.Add(-5 * time.Minute)), Average: aws.Float64(7)},
		{Timestamp: aws.Time(now.Add(-15 * time.Minute)), Average: aws.Float64(1)},
	}}
	src := NewCloudWatchSource(cw)
	src.now = func() time.Time { return now }

	v, err := src.Latest(context.Background(), instanceMetric("i-1", "CPUUtilization", StatAverage))
	require.NoError(t, err)
	assert.Equal(t, models.Float(7), v)

	require.NotNil(t, cw.last)
	assert.Equal(t, int32(300), aws.ToInt32(cw.last.Period))
	assert.Equal(t, now.Add(-time.Hour), aws.ToTime(cw.last.StartTime))
	assert.Equal(t, "InstanceId", aws.ToString(cw.last.Dimensions[0].Name))

	cw.points = nil
	v, err = src.Latest(context.Background(), instanceMetric("i-1", "CPUUtilization", StatAverage))
	require.NoError(t, err)
	assert.False(t, v.Valid)
}

func TestExporterQuery(t *testing.T) {
	assert.Equal(t, `aws_ec2_cpuutilization_average{instance_id="i-1"}`,
		ExporterQuery(instanceMetric("i-1", "CPUUtilization", StatAverage)))
	assert.Equal(t, `aws_s3_bucket_size_bytes_average{bucket_name="logs",storage_type="StandardStorage"}`,
		ExporterQuery(bucketSize("logs")))
	assert.Equal(t, `aws_lambda_invocations_sum{function_name="resize"}`,
		ExporterQuery(functionInvocations("resize")))
}

func TestPrometheusSourceLatest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if r.Form.Get("query") == `aws_rds_cpuutilization_average{dbinstance_identifier="orders"}` {
			_, _ = w.Write([]byte(`{"status":"success","data":{"resultType":"vector","result":[{"metric":{},"value":[1700000000,"17.5"]}]}}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"success","data":{"resultType":"vector","result":[]}}`))
	}))
	defer srv.Close()

	src, err := NewPrometheusSource(srv.URL, nil)
	require.NoError(t, err)

	v, err := src.Latest(context.Background(), databaseCPU("orders"))
	require.NoError(t, err)
	assert.Equal(t, models.Float(17.5), v)

	v, err = src.Latest(context.Background(), databaseCPU("other"))
	require.NoError(t, err)
	assert.False(t, v.Valid)

	v, err = src.Latest(context.Background(), functionInvocations("resize"))
	require.NoError(t, err)
	assert.Equal(t, models.Float(0), v)
}

func TestCredentialClient(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path != "/api/user/credentials/u1/aws" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "No credentials found for user."})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"decryptedSecret": map[string]string{"accessKeyId": "AKIA", "secretAccessKey": "s3cr3t", "region": ""},
		})
	}))
	defer srv.Close()

	c := NewCredentialClient(srv.URL, time.Second, time.Minute, nil, nil)
	ctx := context.Background()

	cred, err := c.Credentials(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "AKIA", cred.AccessKeyID)
	assert.Equal(t, defaultRegion, cred.Region)

	_, err = c.Credentials(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "second call should be cached")

	_, err = c.Credentials(ctx, "u2")
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeUnavailable))
}

func TestCredentialClientFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"boom"}`))
	}))
	defer srv.Close()

	fallback := &models.Credential{AccessKeyID: "ENVKEY", SecretAccessKey: "ENVSECRET"}
	c := NewCredentialClient(srv.URL, time.Second, time.Minute, fallback, nil)

	cred, err := c.Credentials(context.Background(), "u9")
	require.NoError(t, err)
	assert.Equal(t, "ENVKEY", cred.AccessKeyID)
	assert.Equal(t, "u9", cred.UserID)
	assert.Equal(t, defaultRegion, cred.Region)
}
