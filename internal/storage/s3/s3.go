package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/parqsoft/mailer-svc/internal/errs"
	"github.com/spf13/viper"
)

const defaultRequestTimeout = 30 * time.Second

// api is the part of the S3 client the gateway relies on.
type api interface {
	GetObject(ctx context.Context, in *awss3.GetObjectInput, opts ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *awss3.HeadObjectInput, opts ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *awss3.PutObjectInput, opts ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *awss3.DeleteObjectInput, opts ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
}

// Gateway proxies an S3-compatible object store holding mail attachments.
type Gateway struct {
	client  api
	bucket  string
	timeout time.Duration
}

// MustNewGateway creates a new object store gateway from configuration.
func MustNewGateway() *Gateway {
	region := viper.GetString("s3.region")
	accountID := viper.GetString("s3.account_id")
	accessKey := viper.GetString("s3.access_key")
	secretKey := viper.GetString("s3.secret_key")
	bucket := viper.GetString("s3.bucket")

	for name, value := range map[string]string{
		"s3.region":     region,
		"s3.account_id": accountID,
		"s3.access_key": accessKey,
		"s3.secret_key": secretKey,
		"s3.bucket":     bucket,
	} {
		if value == "" {
			panic(name + " is not set in config")
		}
	}

	endpoint := viper.GetString("s3.endpoint")
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID)
	}

	client := awss3.New(awss3.Options{
		Region:       region,
		BaseEndpoint: aws.String(endpoint),
		Credentials:  credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		UsePathStyle: true,
	})

	slog.Info("Object store gateway initialized", "endpoint", endpoint, "bucket", bucket)

	return &Gateway{
		client:  client,
		bucket:  bucket,
		timeout: defaultRequestTimeout,
	}
}

// Exists reports whether the key is present in the bucket.
func (g *Gateway) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	_, err := g.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}

		return false, &errs.TransportError{Op: "storage head " + key, Err: err}
	}

	return true, nil
}

// Download fetches the full object body. A missing key surfaces as
// errs.ErrNotFound; any other failure as a TransportError.
func (g *Gateway) Download(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	out, err := g.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", errs.ErrNotFound, key)
		}

		return nil, &errs.TransportError{Op: "storage get " + key, Err: err}
	}
	defer func() {
		_ = out.Body.Close()
	}()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &errs.TransportError{Op: "storage read " + key, Err: err}
	}

	slog.Info("Object downloaded", "key", key, "bytes", len(data))

	return data, nil
}

// Upload stores the object under the given key. An already existing key is
// logged and overwritten rather than rejected.
func (g *Gateway) Upload(ctx context.Context, data []byte, contentType, key string) (string, error) {
	exists, err := g.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if exists {
		slog.Warn("Object already exists, overwriting", "key", key)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	_, err = g.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", &errs.TransportError{Op: "storage put " + key, Err: err}
	}

	slog.Info("Object uploaded", "key", key, "bytes", len(data))

	return key, nil
}

// Delete removes the object. Deleting an absent key is not an error.
func (g *Gateway) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	_, err := g.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}

		return &errs.TransportError{Op: "storage delete " + key, Err: err}
	}

	slog.Info("Object deleted", "key", key)

	return nil
}

// isNotFound classifies the SDK's two spellings of an absent key.
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}

	var notFound *types.NotFound

	return errors.As(err, &notFound)
}
