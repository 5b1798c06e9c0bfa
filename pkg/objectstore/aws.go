// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// Config describes connection details for AWS S3 or an S3-compatible
// endpoint such as MinIO.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	ForcePathStyle  bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Adapter is the AWS SDK v2 backed Adapter.
type S3Adapter struct {
	bucket string
	api    s3API
}

// NewS3Adapter builds an Adapter backed by the given bucket.
func NewS3Adapter(ctx context.Context, cfg Config) (*S3Adapter, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("objectstore: bucket required")
	}
	if cfg.Region == "" {
		return nil, errors.New("objectstore: region required")
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{URL: cfg.Endpoint, PartitionID: "aws", SigningRegion: cfg.Region}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		loadOpts = append(loadOpts, config.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return &S3Adapter{bucket: cfg.Bucket, api: client}, nil
}

func newS3AdapterWithAPI(bucket string, api s3API) *S3Adapter {
	return &S3Adapter{bucket: bucket, api: api}
}

func (a *S3Adapter) Download(ctx context.Context, key, destFile string, deadline time.Time) (Outcome, error) {
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	resp, err := a.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()

	if _, err := downloadToTemp(destFile, func(dst *os.File) error {
		_, err := io.Copy(dst, resp.Body)
		return err
	}); err != nil {
		return classifyIOErr(err)
	}
	return Success, nil
}

func (a *S3Adapter) Head(ctx context.Context, key string, deadline time.Time) (ObjectMeta, Outcome, error) {
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	out, err := a.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		outcome, classErr := classify(err)
		return ObjectMeta{}, outcome, classErr
	}
	meta := ObjectMeta{}
	if out.ContentLength != nil {
		meta.Size = *out.ContentLength
	}
	if out.ETag != nil {
		meta.ETag = *out.ETag
	}
	return meta, Success, nil
}

// classify maps an AWS SDK error to the adapter's outcome taxonomy using
// smithy's structured API error, the same approach the cluster's other S3
// call sites use to distinguish missing objects from transient faults.
func classify(err error) (Outcome, error) {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return NotFound, fmt.Errorf("objectstore: %w", err)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return PermanentError, fmt.Errorf("objectstore: %w", err)
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable", "ThrottlingException":
			return TransientError, fmt.Errorf("objectstore: %w", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TransientError, fmt.Errorf("objectstore: %w", err)
	}
	// Unclassified errors are treated as transient: a network blip on a
	// connection the SDK could not attribute a code to is more common
	// than a genuinely permanent failure surfacing with no API error.
	return TransientError, fmt.Errorf("objectstore: %w", err)
}

func classifyIOErr(err error) (Outcome, error) {
	return TransientError, fmt.Errorf("objectstore: write temp file: %w", err)
}
