// Package archive stores raw detector reports in S3 or an S3-compatible service.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/openctemio/scangate/internal/config"
)

const defaultPrefix = "reports"

type putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive writes reports to reports/<kind>/<scan-id>.json.
type S3Archive struct {
	bucket string
	prefix string
	client putter
}

// NewS3Archive builds the S3 client from static keys, an assumed role, or the
// default credential chain, in that order of preference.
func NewS3Archive(ctx context.Context, cfg config.ArchiveConfig) (*S3Archive, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("archive bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	switch {
	case cfg.AccessKey != "":
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	case cfg.RoleARN != "":
		base, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(base), cfg.RoleARN,
			func(o *stscreds.AssumeRoleOptions) {
				if cfg.ExternalID != "" {
					o.ExternalID = aws.String(cfg.ExternalID)
				}
			})
		opts = append(opts, awsconfig.WithCredentialsProvider(aws.NewCredentialsCache(provider)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // MinIO
		})
	}

	return newS3Archive(cfg.Bucket, cfg.Prefix, s3.NewFromConfig(awsCfg, s3Opts...)), nil
}

func newS3Archive(bucket, prefix string, client putter) *S3Archive {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &S3Archive{bucket: bucket, prefix: prefix, client: client}
}

// Key returns the object key for a report.
func (a *S3Archive) Key(kind, scanID string) string {
	return path.Join(a.prefix, kind, scanID+".json")
}

// Store uploads one report and returns its key.
func (a *S3Archive) Store(ctx context.Context, kind, scanID string, report []byte) (string, error) {
	if kind == "" || scanID == "" {
		return "", errors.New("report kind and scan id are required")
	}
	key := a.Key(kind, scanID)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(report),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload report %s: %w", key, err)
	}
	return key, nil
}
