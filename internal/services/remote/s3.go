package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/fgeck/savekeeper/internal/models"
	"github.com/rs/zerolog"
)

// User metadata keys. S3 lowercases them on the way back.
const (
	metaDescribe  = "describe"
	metaChecksum  = "checksum"
	metaCreatedAt = "created-at"
	metaOrigin    = "origin"
)

// S3 stores objects in an S3-compatible bucket. PutObject is atomic, so no
// staging key is needed.
type S3 struct {
	client *s3.Client
	bucket string
	bps    int64
	logger zerolog.Logger
}

func newS3(b models.S3Backend, o options) (*S3, error) {
	if err := checkKeyMaterial("access_key_id", b.AccessKeyID); err != nil {
		return nil, err
	}
	if err := checkKeyMaterial("secret_access_key", b.SecretAccessKey); err != nil {
		return nil, err
	}

	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(b.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(b.AccessKeyID, b.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(opts *s3.Options) {
		// Retries are owned by the sync engine.
		opts.RetryMaxAttempts = 1
		if b.Endpoint != "" {
			opts.BaseEndpoint = aws.String(b.Endpoint)
			opts.UsePathStyle = true
		}
	})

	return &S3{client: client, bucket: b.Bucket, bps: o.bandwidthLimit, logger: o.logger}, nil
}

// checkKeyMaterial rejects credentials that cannot possibly sign a request.
func checkKeyMaterial(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &models.CredentialError{Backend: models.BackendS3, Field: field, Reason: "empty"}
	}
	for _, r := range value {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return &models.CredentialError{Backend: models.BackendS3, Field: field, Reason: "contains invalid characters"}
		}
	}
	return nil
}

// Put implements Adapter.
func (c *S3) Put(ctx context.Context, key string, body []byte, meta models.ObjectMeta) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}

	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          uploadBody(body, c.bps),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/zip"),
		Metadata:      encodeMeta(meta),
	})
	if err != nil {
		return c.classify("put", key, err)
	}
	return nil
}

// Get implements Adapter.
func (c *S3) Get(ctx context.Context, key string) ([]byte, models.ObjectMeta, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, models.ObjectMeta{}, err
	}

	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, models.ObjectMeta{}, c.classify("get", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, models.ObjectMeta{}, c.classify("get", key, err)
	}
	return body, decodeMeta(out.Metadata), nil
}

// Stat implements Adapter.
func (c *S3) Stat(ctx context.Context, key string) (models.ObjectMeta, error) {
	key, err := cleanKey(key)
	if err != nil {
		return models.ObjectMeta{}, err
	}

	out, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return models.ObjectMeta{}, c.classify("stat", key, err)
	}
	return decodeMeta(out.Metadata), nil
}

// List implements Adapter.
func (c *S3) List(ctx context.Context, prefix string) ([]models.RemoteObject, error) {
	var out []models.RemoteObject

	p := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, c.classify("list", prefix, err)
		}
		for _, obj := range page.Contents {
			out = append(out, models.RemoteObject{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			})
		}
	}
	return out, nil
}

// Delete implements Adapter. S3 reports success for missing keys, so the key
// is looked up first.
func (c *S3) Delete(ctx context.Context, key string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}

	if _, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return c.classify("delete", key, err)
	}

	if _, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return c.classify("delete", key, err)
	}
	return nil
}

// Check implements Adapter.
func (c *S3) Check(ctx context.Context) error {
	if _, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return c.classify("check", "", err)
	}
	return nil
}

func encodeMeta(meta models.ObjectMeta) map[string]string {
	m := make(map[string]string, 4)
	if meta.Describe != "" {
		// Header values must be ASCII.
		m[metaDescribe] = url.QueryEscape(meta.Describe)
	}
	if meta.Checksum != "" {
		m[metaChecksum] = meta.Checksum
	}
	if meta.CreatedAt != "" {
		m[metaCreatedAt] = meta.CreatedAt
	}
	if meta.Origin != "" {
		m[metaOrigin] = meta.Origin
	}
	return m
}

func decodeMeta(m map[string]string) models.ObjectMeta {
	meta := models.ObjectMeta{
		Checksum:  m[metaChecksum],
		CreatedAt: m[metaCreatedAt],
		Origin:    m[metaOrigin],
	}
	if d, ok := m[metaDescribe]; ok {
		if unescaped, err := url.QueryUnescape(d); err == nil {
			meta.Describe = unescaped
		} else {
			meta.Describe = d
		}
	}
	return meta
}

var authCodes = map[string]bool{
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"AccessDenied":          true,
	"InvalidToken":          true,
	"ExpiredToken":          true,
	"Forbidden":             true,
}

var transientCodes = map[string]bool{
	"SlowDown":           true,
	"Throttling":         true,
	"RequestTimeout":     true,
	"InternalError":      true,
	"ServiceUnavailable": true,
}

// classify maps SDK errors onto the error taxonomy.
func (c *S3) classify(op, key string, err error) error {
	if isContextErr(err) {
		return err
	}

	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return &models.NotFoundError{Key: key}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch code := apiErr.ErrorCode(); {
		case authCodes[code]:
			return &models.AuthError{Backend: models.BackendS3, Err: err}
		case code == "NoSuchKey":
			return &models.NotFoundError{Key: key}
		case transientCodes[code]:
			return &models.TransientNetworkError{Backend: models.BackendS3, Op: op, Key: key, Err: err}
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch status := respErr.HTTPStatusCode(); {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return &models.AuthError{Backend: models.BackendS3, Err: err}
		case status == http.StatusNotFound:
			return &models.NotFoundError{Key: key}
		case status >= http.StatusInternalServerError, status == http.StatusTooManyRequests:
			return &models.TransientNetworkError{Backend: models.BackendS3, Op: op, Key: key, Err: err}
		default:
			return fmt.Errorf("s3 %s %s: %w", op, key, err)
		}
	}

	// No response at all: connection refused, DNS, reset.
	return &models.TransientNetworkError{Backend: models.BackendS3, Op: op, Key: key, Err: err}
}
