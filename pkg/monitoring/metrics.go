package monitoring

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/opscart/cloudops-cost-optimizer/pkg/logger"
	"github.com/opscart/cloudops-cost-optimizer/pkg/models"
)

// Dimension narrows a metric to one resource
type Dimension struct {
	Name  string
	Value string
}

// MetricRequest names one metric statistic to read
type MetricRequest struct {
	Namespace  string // e.g. "AWS/EC2"
	Metric     string // e.g. "CPUUtilization"
	Statistic  string // "Average", "Sum" or "Maximum"
	Dimensions []Dimension
	Period     time.Duration
	Lookback   time.Duration
	// ZeroIfEmpty reports 0 instead of an absent value when the window has
	// no data. Count metrics such as Lambda invocations publish nothing
	// while idle.
	ZeroIfEmpty bool
}

// empty is the value for a window without datapoints
func (r MetricRequest) empty() models.OptionalFloat {
	if r.ZeroIfEmpty {
		return models.Float(0)
	}
	return models.OptionalFloat{}
}

// Statistics
const (
	StatAverage = "Average"
	StatSum     = "Sum"
	StatMaximum = "Maximum"
)

// MetricsSource reads the latest value of a metric. A metric with no data
// is reported as an absent value, not an error.
type MetricsSource interface {
	Latest(ctx context.Context, req MetricRequest) (models.OptionalFloat, error)
	Name() string
}

// Requests for the metrics the inventory reads

func instanceMetric(instanceID, metric, stat string) MetricRequest {
	return MetricRequest{
		Namespace:  "AWS/EC2",
		Metric:     metric,
		Statistic:  stat,
		Dimensions: []Dimension{{Name: "InstanceId", Value: instanceID}},
		Period:     5 * time.Minute,
		Lookback:   time.Hour,
	}
}

func databaseCPU(identifier string) MetricRequest {
	return MetricRequest{
		Namespace:  "AWS/RDS",
		Metric:     "CPUUtilization",
		Statistic:  StatAverage,
		Dimensions: []Dimension{{Name: "DBInstanceIdentifier", Value: identifier}},
		Period:     5 * time.Minute,
		Lookback:   time.Hour,
	}
}

func bucketSize(bucket string) MetricRequest {
	return MetricRequest{
		Namespace: "AWS/S3",
		Metric:    "BucketSizeBytes",
		Statistic: StatAverage,
		Dimensions: []Dimension{
			{Name: "BucketName", Value: bucket},
			{Name: "StorageType", Value: "StandardStorage"},
		},
		Period:   24 * time.Hour,
		Lookback: 48 * time.Hour,
	}
}

func functionInvocations(name string) MetricRequest {
	return MetricRequest{
		Namespace:   "AWS/Lambda",
		Metric:      "Invocations",
		Statistic:   StatSum,
		Dimensions:  []Dimension{{Name: "FunctionName", Value: name}},
		Period:      7 * 24 * time.Hour,
		Lookback:    7 * 24 * time.Hour,
		ZeroIfEmpty: true,
	}
}

// CloudWatchSource reads metrics with GetMetricStatistics
type CloudWatchSource struct {
	client CloudWatchAPI
	now    func() time.Time
}

func NewCloudWatchSource(client CloudWatchAPI) *CloudWatchSource {
	return &CloudWatchSource{client: client, now: time.Now}
}

func (c *CloudWatchSource) Name() string { return "CloudWatch" }

func (c *CloudWatchSource) Latest(ctx context.Context, req MetricRequest) (models.OptionalFloat, error) {
	end := c.now()
	dims := make([]cwtypes.Dimension, 0, len(req.Dimensions))
	for _, d := range req.Dimensions {
		dims = append(dims, cwtypes.Dimension{Name: aws.String(d.Name), Value: aws.String(d.Value)})
	}

	out, err := c.client.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  aws.String(req.Namespace),
		MetricName: aws.String(req.Metric),
		Dimensions: dims,
		StartTime:  aws.Time(end.Add(-req.Lookback)),
		EndTime:    aws.Time(end),
		Period:     aws.Int32(int32(req.Period / time.Second)),
		Statistics: []cwtypes.Statistic{cwtypes.Statistic(req.Statistic)},
	})
	if err != nil {
		return models.OptionalFloat{}, fmt.Errorf("GetMetricStatistics %s/%s failed: %w", req.Namespace, req.Metric, err)
	}
	if len(out.Datapoints) == 0 {
		return req.empty(), nil
	}

	points := out.Datapoints
	sort.Slice(points, func(i, j int) bool {
		return aws.ToTime(points[i].Timestamp).After(aws.ToTime(points[j].Timestamp))
	})

	var v *float64
	switch req.Statistic {
	case StatSum:
		v = points[0].Sum
	case StatMaximum:
		v = points[0].Maximum
	default:
		v = points[0].Average
	}
	if v == nil {
		return models.OptionalFloat{}, nil
	}
	return models.Float(*v), nil
}

// PrometheusSource reads metrics scraped by the CloudWatch exporter, whose
// series are named aws_<namespace>_<metric>_<statistic> with snake_case
// dimension labels.
type PrometheusSource struct {
	client v1.API
	url    string
	log    *logger.Logger
}

func NewPrometheusSource(url string, log *logger.Logger) (*PrometheusSource, error) {
	client, err := api.NewClient(api.Config{
		Address: url,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &PrometheusSource{
		client: v1.NewAPI(client),
		url:    url,
		log:    log.With("source", "prometheus"),
	}, nil
}

func (p *PrometheusSource) Name() string { return "Prometheus" }

func (p *PrometheusSource) Latest(ctx context.Context, req MetricRequest) (models.OptionalFloat, error) {
	query := ExporterQuery(req)
	result, warnings, err := p.client.Query(ctx, query, time.Now())
	if err != nil {
		return models.OptionalFloat{}, fmt.Errorf("query failed: %w", err)
	}
	if len(warnings) > 0 {
		p.log.Warn("prometheus returned warnings", "query", query, "warnings", warnings)
	}

	vector, ok := result.(model.Vector)
	if !ok || len(vector) == 0 {
		return req.empty(), nil
	}

	// Sum in case the exporter reports several series for the resource
	sum := 0.0
	for _, sample := range vector {
		sum += float64(sample.Value)
	}
	return models.Float(sum), nil
}

// IsAvailable checks that Prometheus answers queries
func (p *PrometheusSource) IsAvailable(ctx context.Context) bool {
	_, _, err := p.client.Query(ctx, "up", time.Now())
	return err == nil
}

// ExporterQuery renders the instant query for a metric request
func ExporterQuery(req MetricRequest) string {
	ns := strings.ToLower(strings.TrimPrefix(req.Namespace, "AWS/"))
	name := fmt.Sprintf("aws_%s_%s_%s", ns, snakeCase(req.Metric), strings.ToLower(req.Statistic))

	if len(req.Dimensions) == 0 {
		return name
	}
	labels := make([]string, 0, len(req.Dimensions))
	for _, d := range req.Dimensions {
		labels = append(labels, fmt.Sprintf("%s=%q", snakeCase(d.Name), d.Value))
	}
	return name + "{" + strings.Join(labels, ",") + "}"
}

// snakeCase lowercases s, inserting an underscore where a lower-case letter
// or digit is followed by an upper-case one ("BucketSizeBytes" -> "bucket_size_bytes")
func snakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			if unicode.IsLower(prev) || unicode.IsDigit(prev) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
