package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/parqsoft/mailer-svc/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	getErr    error
	headErr   error
	putErr    error
	deleteErr error

	body    string
	puts    []*awss3.PutObjectInput
	deletes []string
}

func (f *fakeAPI) GetObject(_ context.Context, _ *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}

	return &awss3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func (f *fakeAPI) HeadObject(_ context.Context, _ *awss3.HeadObjectInput, _ ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}

	return &awss3.HeadObjectOutput{}, nil
}

func (f *fakeAPI) PutObject(_ context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.puts = append(f.puts, in)

	return &awss3.PutObjectOutput{}, nil
}

func (f *fakeAPI) DeleteObject(_ context.Context, in *awss3.DeleteObjectInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	f.deletes = append(f.deletes, aws.ToString(in.Key))

	return &awss3.DeleteObjectOutput{}, nil
}

func newGateway(client api) *Gateway {
	return &Gateway{client: client, bucket: "mail-attachments", timeout: time.Second}
}

func TestDownload(t *testing.T) {
	g := newGateway(&fakeAPI{body: "payload"})

	data, err := g.Download(context.Background(), "k/a.pdf")

	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestDownloadMissingKeySurfacesNotFound(t *testing.T) {
	g := newGateway(&fakeAPI{getErr: &types.NoSuchKey{}})

	_, err := g.Download(context.Background(), "k/gone.pdf")

	require.ErrorIs(t, err, errs.ErrNotFound)
	assert.Contains(t, err.Error(), "k/gone.pdf")
}

func TestDownloadOtherFailureIsTransportError(t *testing.T) {
	g := newGateway(&fakeAPI{getErr: errors.New("connection reset")})

	_, err := g.Download(context.Background(), "k/a.pdf")

	var transportErr *errs.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.NotErrorIs(t, err, errs.ErrNotFound)
}

func TestExists(t *testing.T) {
	tests := []struct {
		name    string
		headErr error
		want    bool
		wantErr bool
	}{
		{name: "present", want: true},
		{name: "absent", headErr: &types.NotFound{}, want: false},
		{name: "failure", headErr: errors.New("connection reset"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGateway(&fakeAPI{headErr: tt.headErr})

			got, err := g.Exists(context.Background(), "k/a.pdf")
			if tt.wantErr {
				require.Error(t, err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUpload(t *testing.T) {
	client := &fakeAPI{headErr: &types.NotFound{}}
	g := newGateway(client)

	key, err := g.Upload(context.Background(), []byte("payload"), "application/pdf", "k/a.pdf")

	require.NoError(t, err)
	assert.Equal(t, "k/a.pdf", key)
	require.Len(t, client.puts, 1)
	assert.Equal(t, "mail-attachments", aws.ToString(client.puts[0].Bucket))
	assert.Equal(t, "application/pdf", aws.ToString(client.puts[0].ContentType))
}

func TestUploadOverwritesExistingKey(t *testing.T) {
	client := &fakeAPI{}
	g := newGateway(client)

	_, err := g.Upload(context.Background(), []byte("payload"), "application/pdf", "k/a.pdf")

	require.NoError(t, err)
	require.Len(t, client.puts, 1)
}

func TestDelete(t *testing.T) {
	client := &fakeAPI{}
	g := newGateway(client)

	require.NoError(t, g.Delete(context.Background(), "k/a.pdf"))
	assert.Equal(t, []string{"k/a.pdf"}, client.deletes)
}

func TestDeleteAbsentKeyIsIdempotent(t *testing.T) {
	g := newGateway(&fakeAPI{deleteErr: &types.NoSuchKey{}})

	require.NoError(t, g.Delete(context.Background(), "k/gone.pdf"))
}

func TestDeleteFailureIsTransportError(t *testing.T) {
	g := newGateway(&fakeAPI{deleteErr: errors.New("connection reset")})

	var transportErr *errs.TransportError
	require.ErrorAs(t, g.Delete(context.Background(), "k/a.pdf"), &transportErr)
}
