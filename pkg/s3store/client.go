package s3store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/eunmann/s3crawl/internal/logctx"
	"github.com/eunmann/s3crawl/pkg/keyspace"
	"github.com/eunmann/s3crawl/pkg/outcome"
	"golang.org/x/time/rate"
)

// Client talks to S3 for one account.
type Client struct {
	s3Client *s3.Client
	cwClient *cloudwatch.Client
	limiter  *rate.Limiter
	acct     Account
	region   string

	mu      sync.Mutex
	regions map[string]string
}

// NewClient builds a client from a resolved AWS config. A nil limiter
// does not pace listings.
func NewClient(cfg aws.Config, acct Account, limiter *rate.Limiter) *Client {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	c := &Client{
		s3Client: s3.NewFromConfig(cfg, func(o *s3.Options) {
			if acct.Endpoint != "" {
				o.BaseEndpoint = aws.String(acct.Endpoint)
				o.UsePathStyle = true
			}
		}),
		limiter: limiter,
		acct:    acct,
		region:  cfg.Region,
		regions: make(map[string]string),
	}
	// S3-compatible stores publish no CloudWatch metrics.
	if acct.Endpoint == "" {
		c.cwClient = cloudwatch.NewFromConfig(cfg)
	}
	return c
}

// List implements keyspace.ListingClient.
func (c *Client) List(ctx context.Context, bucket keyspace.BucketID, req keyspace.ListRequest) (*keyspace.ListingPage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for listing slot: %w", err)
	}
	region, err := c.bucketRegion(ctx, bucket.Bucket)
	if err != nil {
		return nil, fmt.Errorf("list s3://%s/%s: %w", bucket.Bucket, req.Prefix, err)
	}

	if req.Versioned {
		out, err := c.s3Client.ListObjectVersions(ctx, versionsInput(bucket.Bucket, req), inRegion(region))
		if err != nil {
			return nil, fmt.Errorf("list versions s3://%s/%s: %w", bucket.Bucket, req.Prefix, err)
		}
		return pageFromVersions(out), nil
	}

	out, err := c.s3Client.ListObjectsV2(ctx, objectsInput(bucket.Bucket, req), inRegion(region))
	if err != nil {
		return nil, fmt.Errorf("list s3://%s/%s: %w", bucket.Bucket, req.Prefix, err)
	}
	return pageFromObjects(out), nil
}

func objectsInput(bucket string, req keyspace.ListRequest) *s3.ListObjectsV2Input {
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(req.Prefix),
	}
	if req.Delimiter != "" {
		in.Delimiter = aws.String(req.Delimiter)
	}
	if req.Continuation.Token != "" {
		in.ContinuationToken = aws.String(req.Continuation.Token)
	}
	if req.MaxKeys > 0 {
		in.MaxKeys = aws.Int32(int32(req.MaxKeys))
	}
	return in
}

func versionsInput(bucket string, req keyspace.ListRequest) *s3.ListObjectVersionsInput {
	in := &s3.ListObjectVersionsInput{
		Bucket: aws.String(bucket),
		Prefix: aws.String(req.Prefix),
	}
	if req.Delimiter != "" {
		in.Delimiter = aws.String(req.Delimiter)
	}
	if req.Continuation.KeyMarker != "" {
		in.KeyMarker = aws.String(req.Continuation.KeyMarker)
	}
	if req.Continuation.VersionIDMarker != "" {
		in.VersionIdMarker = aws.String(req.Continuation.VersionIDMarker)
	}
	if req.MaxKeys > 0 {
		in.MaxKeys = aws.Int32(int32(req.MaxKeys))
	}
	return in
}

func pageFromObjects(out *s3.ListObjectsV2Output) *keyspace.ListingPage {
	page := &keyspace.ListingPage{
		Keys:           make([]keyspace.KeyRecord, 0, len(out.Contents)),
		CommonPrefixes: commonPrefixes(out.CommonPrefixes),
	}
	for _, obj := range out.Contents {
		page.Keys = append(page.Keys, keyspace.KeyRecord{Key: aws.ToString(obj.Key)})
	}
	if aws.ToBool(out.IsTruncated) {
		page.Next.Token = aws.ToString(out.NextContinuationToken)
	}
	return page
}

// pageFromVersions keeps object versions only. Delete markers have no
// object behind them to act on.
func pageFromVersions(out *s3.ListObjectVersionsOutput) *keyspace.ListingPage {
	page := &keyspace.ListingPage{
		Keys:           make([]keyspace.KeyRecord, 0, len(out.Versions)),
		CommonPrefixes: commonPrefixes(out.CommonPrefixes),
	}
	for _, v := range out.Versions {
		page.Keys = append(page.Keys, keyspace.KeyRecord{
			Key:       aws.ToString(v.Key),
			VersionID: v.VersionId,
			IsLatest:  v.IsLatest,
		})
	}
	if aws.ToBool(out.IsTruncated) {
		page.Next = keyspace.Continuation{
			KeyMarker:       aws.ToString(out.NextKeyMarker),
			VersionIDMarker: aws.ToString(out.NextVersionIdMarker),
		}
	}
	return page
}

func commonPrefixes(in []types.CommonPrefix) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, p := range in {
		out = append(out, aws.ToString(p.Prefix))
	}
	return out
}

// Probe implements keyspace.BucketProbe. The key count estimate is best
// effort and zero when CloudWatch has nothing for the bucket.
func (c *Client) Probe(ctx context.Context, bucket keyspace.BucketID) (keyspace.BucketInfo, error) {
	region, err := c.bucketRegion(ctx, bucket.Bucket)
	if err != nil {
		return keyspace.BucketInfo{}, fmt.Errorf("locate bucket %s: %w", bucket.Bucket, err)
	}

	ver, err := c.s3Client.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{
		Bucket: aws.String(bucket.Bucket),
	}, inRegion(region))
	if err != nil {
		return keyspace.BucketInfo{}, fmt.Errorf("get versioning of %s: %w", bucket.Bucket, err)
	}

	info := keyspace.BucketInfo{
		Region: region,
		// Suspended buckets still hold the versions written while enabled.
		Versioned: ver.Status == types.BucketVersioningStatusEnabled || ver.Status == types.BucketVersioningStatusSuspended,
	}

	n, err := c.estimateKeys(ctx, bucket.Bucket, region)
	if err != nil {
		log := logctx.FromContext(ctx)
		log.Warn().Err(err).Msg("key count estimate unavailable")
	}
	info.EstimatedKeyCount = n
	return info, nil
}

// estimateKeys reads the daily NumberOfObjects storage metric.
func (c *Client) estimateKeys(ctx context.Context, bucket, region string) (int64, error) {
	if c.cwClient == nil {
		return 0, nil
	}
	end := time.Now()
	out, err := c.cwClient.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  aws.String("AWS/S3"),
		MetricName: aws.String("NumberOfObjects"),
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String("BucketName"), Value: aws.String(bucket)},
			{Name: aws.String("StorageType"), Value: aws.String("AllStorageTypes")},
		},
		StartTime:  aws.Time(end.Add(-72 * time.Hour)),
		EndTime:    aws.Time(end),
		Period:     aws.Int32(86400),
		Statistics: []cwtypes.Statistic{cwtypes.StatisticAverage},
	}, func(o *cloudwatch.Options) {
		if region != "" {
			o.Region = region
		}
	})
	if err != nil {
		return 0, fmt.Errorf("get NumberOfObjects for %s: %w", bucket, err)
	}
	return latestDatapoint(out.Datapoints), nil
}

func latestDatapoint(points []cwtypes.Datapoint) int64 {
	if len(points) == 0 {
		return 0
	}
	latest := slices.MaxFunc(points, func(a, b cwtypes.Datapoint) int {
		return aws.ToTime(a.Timestamp).Compare(aws.ToTime(b.Timestamp))
	})
	return int64(aws.ToFloat64(latest.Average))
}

// Apply implements batch.Action by issuing HeadObject for the record.
func (c *Client) Apply(ctx context.Context, bucket keyspace.BucketID, rec keyspace.KeyRecord) error {
	region, err := c.bucketRegion(ctx, bucket.Bucket)
	if err != nil {
		return err
	}
	_, err = c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket:    aws.String(bucket.Bucket),
		Key:       aws.String(rec.Key),
		VersionId: rec.VersionID,
	}, inRegion(region))
	if err != nil {
		return fmt.Errorf("head object s3://%s/%s: %w", bucket.Bucket, rec.Key, err)
	}
	return nil
}

// Buckets implements keyspace.BucketDiscoverer.
func (c *Client) Buckets(ctx context.Context, account string) ([]keyspace.BucketID, error) {
	if len(c.acct.Buckets) > 0 {
		ids := make([]keyspace.BucketID, 0, len(c.acct.Buckets))
		for _, name := range c.acct.Buckets {
			ids = append(ids, keyspace.BucketID{Account: account, Bucket: name})
		}
		return ids, nil
	}

	var ids []keyspace.BucketID
	pages := s3.NewListBucketsPaginator(c.s3Client, &s3.ListBucketsInput{})
	for pages.HasMorePages() {
		out, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list buckets: %w", err)
		}
		for _, b := range out.Buckets {
			ids = append(ids, keyspace.BucketID{Account: account, Bucket: aws.ToString(b.Name)})
		}
	}
	return ids, nil
}

// bucketRegion returns the region serving bucket. GetBucketLocation is
// tried first; when it is denied the region header of HeadBucket is used.
func (c *Client) bucketRegion(ctx context.Context, bucket string) (string, error) {
	if c.acct.Endpoint != "" {
		return c.region, nil
	}

	c.mu.Lock()
	region, ok := c.regions[bucket]
	c.mu.Unlock()
	if ok {
		return region, nil
	}

	region, err := c.locate(ctx, bucket)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.regions[bucket] = region
	c.mu.Unlock()
	return region, nil
}

func (c *Client) locate(ctx context.Context, bucket string) (string, error) {
	out, err := c.s3Client.GetBucketLocation(ctx, &s3.GetBucketLocationInput{Bucket: aws.String(bucket)})
	if err == nil {
		return normalizeLocation(out.LocationConstraint), nil
	}
	if outcome.Classify(err) != outcome.Denied {
		return "", fmt.Errorf("get location of %s: %w", bucket, err)
	}

	region, herr := manager.GetBucketRegion(ctx, c.s3Client, bucket)
	if herr != nil {
		var nf manager.BucketNotFound
		if errors.As(herr, &nf) {
			return "", fmt.Errorf("bucket %s: %w", bucket, outcome.ErrNotFound)
		}
		return "", fmt.Errorf("get location of %s: %w", bucket, errors.Join(err, herr))
	}
	return region, nil
}

// normalizeLocation maps the legacy LocationConstraint values to regions.
func normalizeLocation(loc types.BucketLocationConstraint) string {
	switch loc {
	case "":
		return DefaultRegion
	case types.BucketLocationConstraintEu:
		return "eu-west-1"
	}
	return string(loc)
}

func inRegion(region string) func(*s3.Options) {
	return func(o *s3.Options) {
		if region != "" {
			o.Region = region
		}
	}
}
