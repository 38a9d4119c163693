package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/rs/zerolog"

	"github.com/stupid-simple/devbackup/backuperr"
	"github.com/stupid-simple/devbackup/config"
)

const defaultRegion = "us-east-1"

// S3 stores objects in an S3 bucket or any S3 compatible service.
type S3 struct {
	client   *s3.S3
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
	logger   zerolog.Logger
}

func NewS3(target Target, creds config.Credentials, opts config.Remote, logger zerolog.Logger) (*S3, error) {
	region := opts.Region
	if region == "" {
		region = defaultRegion
	}
	awsConfig := &aws.Config{
		Region: aws.String(region),
	}
	// Without explicit keys the SDK falls back to its default chain (env, shared config, instance role).
	if creds.AccessKeyID != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken)
	}
	// Custom endpoint for S3-compatible storage (MinIO, Ceph, etc.)
	if opts.Endpoint != "" {
		awsConfig.Endpoint = aws.String(opts.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: could not create aws session: %w", backuperr.ErrConfig, err)
	}

	client := s3.New(sess)
	return &S3{
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client),
		bucket:   target.Bucket,
		prefix:   target.Path,
		logger:   logger,
	}, nil
}

func (s *S3) Name() string {
	return string(SchemeS3)
}

func (s *S3) key(name string) string {
	return path.Join(s.prefix, name)
}

func (s *S3) Check(ctx context.Context) error {
	_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return s3Error("check bucket", err)
	}
	return nil
}

func (s *S3) Push(ctx context.Context, localPath string, name string) (err error) {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: %w", backuperr.ErrIO, err)
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()

	key := s.key(name)
	s.logger.Info().Str("bucket", s.bucket).Str("key", key).Msg("uploading object")
	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return s3Error("upload", err)
	}
	return nil
}

func (s *S3) Pull(ctx context.Context, name string, w io.Writer) error {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return s3Error("download", err)
	}
	defer out.Body.Close()

	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("%w: could not read s3 object: %w", backuperr.ErrTransport, err)
	}
	return nil
}

func (s *S3) Stat(ctx context.Context, name string) (Object, error) {
	out, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return Object{}, s3Error("stat", err)
	}
	return Object{
		Name:    name,
		Size:    aws.Int64Value(out.ContentLength),
		ModTime: aws.TimeValue(out.LastModified),
	}, nil
}

func (s *S3) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return s3Error("delete", err)
	}
	return nil
}

func (s *S3) Close() error {
	return nil
}

func s3Error(op string, err error) error {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) {
		switch reqErr.StatusCode() {
		case 401, 403:
			return fmt.Errorf("%w: s3 %s: %w", backuperr.ErrAuth, op, err)
		case 404:
			return fmt.Errorf("%w: s3 %s: %w", backuperr.ErrNotFound, op, err)
		}
	}
	var awsErr awserr.Error
	if errors.As(err, &awsErr) {
		switch awsErr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return fmt.Errorf("%w: s3 %s: %w", backuperr.ErrNotFound, op, err)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "NoCredentialProviders":
			return fmt.Errorf("%w: s3 %s: %w", backuperr.ErrAuth, op, err)
		}
	}
	return fmt.Errorf("%w: s3 %s: %w", backuperr.ErrTransport, op, err)
}
