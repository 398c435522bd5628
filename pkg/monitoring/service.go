// Package monitoring reads a user's AWS inventory and resource metrics and
// carries out stop, terminate and delete actions on it.
package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/opscart/cloudops-cost-optimizer/pkg/errors"
	"github.com/opscart/cloudops-cost-optimizer/pkg/logger"
	"github.com/opscart/cloudops-cost-optimizer/pkg/models"
)

// metricConcurrency bounds parallel metric lookups per service
const metricConcurrency = 8

const bytesPerMiB = 1024 * 1024

// Service collects inventory snapshots and performs resource actions
type Service struct {
	creds   CredentialSource
	clients ClientFactory
	// metrics overrides the per-account CloudWatch source when set
	metrics MetricsSource
	log     *logger.Logger
	now     func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithClientFactory replaces the AWS SDK client factory
func WithClientFactory(f ClientFactory) Option {
	return func(s *Service) { s.clients = f }
}

// WithMetricsSource reads metrics from src instead of CloudWatch
func WithMetricsSource(src MetricsSource) Option {
	return func(s *Service) { s.metrics = src }
}

func NewService(creds CredentialSource, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Service{
		creds:   creds,
		clients: NewAWSClients,
		log:     log.With("service", "monitoring"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) connect(ctx context.Context, userID string) (*Clients, error) {
	if userID == "" {
		return nil, apperrors.Invalid("userId is required")
	}
	cred, err := s.creds.Credentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	clients, err := s.clients(ctx, cred)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeUnavailable, "failed to create AWS clients", err)
	}
	if clients.Region == "" {
		clients.Region = cred.Region
	}
	return clients, nil
}

func (s *Service) metricsFor(clients *Clients) MetricsSource {
	if s.metrics != nil {
		return s.metrics
	}
	return NewCloudWatchSource(clients.CloudWatch)
}

// Snapshot reads every supported service of the user's account
// concurrently. Any listing failure fails the snapshot; a failed metric
// read only leaves that value absent.
func (s *Service) Snapshot(ctx context.Context, userID string) (*models.Snapshot, error) {
	clients, err := s.connect(ctx, userID)
	if err != nil {
		return nil, err
	}
	src := s.metricsFor(clients)
	log := s.log.With("userId", userID, "region", clients.Region)

	var res models.Resources
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		res.EC2, err = s.instances(gctx, clients.EC2, src, log)
		return err
	})
	g.Go(func() (err error) {
		res.S3, err = s.buckets(gctx, clients.S3, src, log)
		return err
	})
	g.Go(func() (err error) {
		res.RDS, err = s.databases(gctx, clients.RDS, src, log)
		return err
	})
	g.Go(func() (err error) {
		res.Lambda, err = s.functions(gctx, clients.Lambda, src, log)
		return err
	})
	g.Go(func() (err error) {
		res.EBS, err = s.volumes(gctx, clients.EC2)
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error("failed to read inventory", "error", err)
		return nil, apperrors.Wrap(apperrors.ErrCodeUnavailable,
			"Metrics Error: Failed to fetch AWS data. Check credentials, IAM permissions, or region.", err)
	}

	log.Info("inventory collected",
		"ec2", len(res.EC2), "s3", len(res.S3), "rds", len(res.RDS),
		"lambda", len(res.Lambda), "ebs", len(res.EBS), "metrics", src.Name())

	return &models.Snapshot{
		Region:      clients.Region,
		CollectedAt: s.now().UTC(),
		Resources:   nonNil(res),
	}, nil
}

func (s *Service) instances(ctx context.Context, api EC2API, src MetricsSource, log *logger.Logger) ([]models.Instance, error) {
	var out []models.Instance
	p := ec2.NewDescribeInstancesPaginator(api, &ec2.DescribeInstancesInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("DescribeInstances: %w", err)
		}
		for _, r := range page.Reservations {
			for _, inst := range r.Instances {
				id := aws.ToString(inst.InstanceId)
				var state string
				if inst.State != nil {
					state = string(inst.State.Name)
				}
				out = append(out, models.Instance{
					ID:    id,
					Name:  nameTag(inst.Tags, id),
					Type:  string(inst.InstanceType),
					State: state,
				})
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(metricConcurrency)
	for i := range out {
		inst := &out[i]
		g.Go(func() error {
			inst.CPUUtilization = latest(gctx, src, instanceMetric(inst.ID, "CPUUtilization", StatAverage), log)
			inst.NetworkIn = toMiB(latest(gctx, src, instanceMetric(inst.ID, "NetworkIn", StatSum), log))
			inst.NetworkOut = toMiB(latest(gctx, src, instanceMetric(inst.ID, "NetworkOut", StatSum), log))
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

func (s *Service) buckets(ctx context.Context, api S3API, src MetricsSource, log *logger.Logger) ([]models.Bucket, error) {
	resp, err := api.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, fmt.Errorf("ListBuckets: %w", err)
	}

	out := make([]models.Bucket, 0, len(resp.Buckets))
	for _, b := range resp.Buckets {
		out = append(out, models.Bucket{Name: aws.ToString(b.Name), CreationDate: b.CreationDate})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(metricConcurrency)
	for i := range out {
		b := &out[i]
		g.Go(func() error {
			b.SizeBytes = latest(gctx, src, bucketSize(b.Name), log).Or(0)
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

func (s *Service) databases(ctx context.Context, api RDSAPI, src MetricsSource, log *logger.Logger) ([]models.Database, error) {
	var out []models.Database
	p := rds.NewDescribeDBInstancesPaginator(api, &rds.DescribeDBInstancesInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("DescribeDBInstances: %w", err)
		}
		for _, db := range page.DBInstances {
			out = append(out, models.Database{
				Identifier:    aws.ToString(db.DBInstanceIdentifier),
				InstanceClass: aws.ToString(db.DBInstanceClass),
				Engine:        aws.ToString(db.Engine),
				Status:        aws.ToString(db.DBInstanceStatus),
			})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(metricConcurrency)
	for i := range out {
		db := &out[i]
		g.Go(func() error {
			db.CPUUtilization = latest(gctx, src, databaseCPU(db.Identifier), log)
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

func (s *Service) functions(ctx context.Context, api LambdaAPI, src MetricsSource, log *logger.Logger) ([]models.Function, error) {
	var out []models.Function
	p := lambda.NewListFunctionsPaginator(api, &lambda.ListFunctionsInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("ListFunctions: %w", err)
		}
		for _, fn := range page.Functions {
			out = append(out, models.Function{
				Name:    aws.ToString(fn.FunctionName),
				Runtime: string(fn.Runtime),
			})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(metricConcurrency)
	for i := range out {
		fn := &out[i]
		g.Go(func() error {
			fn.Invocations = latest(gctx, src, functionInvocations(fn.Name), log)
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

func (s *Service) volumes(ctx context.Context, api EC2API) ([]models.Volume, error) {
	var out []models.Volume
	p := ec2.NewDescribeVolumesPaginator(api, &ec2.DescribeVolumesInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("DescribeVolumes: %w", err)
		}
		for _, v := range page.Volumes {
			out = append(out, models.Volume{
				VolumeID:   aws.ToString(v.VolumeId),
				Size:       fmt.Sprintf("%dGiB", aws.ToInt32(v.Size)),
				State:      string(v.State),
				VolumeType: string(v.VolumeType),
			})
		}
	}
	return out, nil
}

// StopInstance stops an instance in the user's account
func (s *Service) StopInstance(ctx context.Context, userID, instanceID, recommendationID string) error {
	if instanceID == "" {
		return apperrors.Invalid("instanceId is required")
	}
	clients, err := s.connect(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := clients.EC2.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: []string{instanceID}}); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeUnavailable, fmt.Sprintf("failed to stop instance %s", instanceID), err)
	}
	s.log.Info("instance stopped", "userId", userID, "instanceId", instanceID, "recommendationId", recommendationID)
	return nil
}

// TerminateInstance terminates an instance in the user's account
func (s *Service) TerminateInstance(ctx context.Context, userID, instanceID, recommendationID string) error {
	if instanceID == "" {
		return apperrors.Invalid("instanceId is required")
	}
	clients, err := s.connect(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := clients.EC2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{instanceID}}); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeUnavailable, fmt.Sprintf("failed to terminate instance %s", instanceID), err)
	}
	s.log.Info("instance terminated", "userId", userID, "instanceId", instanceID, "recommendationId", recommendationID)
	return nil
}

// DeleteVolume deletes a volume in the user's account
func (s *Service) DeleteVolume(ctx context.Context, userID, volumeID, recommendationID string) error {
	if volumeID == "" {
		return apperrors.Invalid("volumeId is required")
	}
	clients, err := s.connect(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := clients.EC2.DeleteVolume(ctx, &ec2.DeleteVolumeInput{VolumeId: aws.String(volumeID)}); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeUnavailable, fmt.Sprintf("failed to delete volume %s", volumeID), err)
	}
	s.log.Info("volume deleted", "userId", userID, "volumeId", volumeID, "recommendationId", recommendationID)
	return nil
}

func latest(ctx context.Context, src MetricsSource, req MetricRequest, log *logger.Logger) models.OptionalFloat {
	v, err := src.Latest(ctx, req)
	if err != nil {
		log.Warn("metric unavailable", "namespace", req.Namespace, "metric", req.Metric, "error", err)
		return models.OptionalFloat{}
	}
	return v
}

func toMiB(v models.OptionalFloat) models.OptionalFloat {
	if !v.Valid {
		return v
	}
	return models.Float(v.Value / bytesPerMiB)
}

func nameTag(tags []ec2types.Tag, fallback string) string {
	for _, t := range tags {
		if aws.ToString(t.Key) == "Name" && aws.ToString(t.Value) != "" {
			return aws.ToString(t.Value)
		}
	}
	return fallback
}

// nonNil makes empty services encode as [] rather than null
func nonNil(r models.Resources) models.Resources {
	if r.EC2 == nil {
		r.EC2 = []models.Instance{}
	}
	if r.S3 == nil {
		r.S3 = []models.Bucket{}
	}
	if r.RDS == nil {
		r.RDS = []models.Database{}
	}
	if r.Lambda == nil {
		r.Lambda = []models.Function{}
	}
	if r.EBS == nil {
		r.EBS = []models.Volume{}
	}
	return r
}
