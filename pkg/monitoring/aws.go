package monitoring

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/opscart/cloudops-cost-optimizer/pkg/models"
)

// EC2API is the subset of the EC2 client used for inventory and actions
type EC2API interface {
	ec2.DescribeInstancesAPIClient
	ec2.DescribeVolumesAPIClient
	StopInstances(ctx context.Context, in *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error)
	TerminateInstances(ctx context.Context, in *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	DeleteVolume(ctx context.Context, in *ec2.DeleteVolumeInput, optFns ...func(*ec2.Options)) (*ec2.DeleteVolumeOutput, error)
}

// S3API lists buckets
type S3API interface {
	ListBuckets(ctx context.Context, in *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
}

// RDSAPI lists database instances
type RDSAPI interface {
	rds.DescribeDBInstancesAPIClient
}

// LambdaAPI lists functions
type LambdaAPI interface {
	lambda.ListFunctionsAPIClient
}

// CloudWatchAPI reads metric statistics
type CloudWatchAPI interface {
	GetMetricStatistics(ctx context.Context, in *cloudwatch.GetMetricStatisticsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error)
}

// Clients bundles the service clients for one account and region
type Clients struct {
	Region     string
	EC2        EC2API
	S3         S3API
	RDS        RDSAPI
	Lambda     LambdaAPI
	CloudWatch CloudWatchAPI
}

// ClientFactory builds Clients for a credential
type ClientFactory func(ctx context.Context, cred *models.Credential) (*Clients, error)

// NewAWSClients builds SDK clients from static credentials
func NewAWSClients(ctx context.Context, cred *models.Credential) (*Clients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cred.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cred.AccessKeyID, cred.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return clientsFromConfig(cfg), nil
}

func clientsFromConfig(cfg aws.Config) *Clients {
	return &Clients{
		Region:     cfg.Region,
		EC2:        ec2.NewFromConfig(cfg),
		S3:         s3.NewFromConfig(cfg),
		RDS:        rds.NewFromConfig(cfg),
		Lambda:     lambda.NewFromConfig(cfg),
		CloudWatch: cloudwatch.NewFromConfig(cfg),
	}
}
