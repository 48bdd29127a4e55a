package objectstore

import (
	"context"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockMinioClient struct {
	mock.Mock
}

func (m *MockMinioClient) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	args := m.Called(bucketName, objectName, objectSize, opts.ContentType)
	return minio.UploadInfo{Bucket: bucketName, Key: objectName, Size: objectSize}, args.Error(0)
}

func (m *MockMinioClient) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error) {
	args := m.Called(bucketName, objectName)
	return nil, args.Error(0)
}

func (m *MockMinioClient) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	args := m.Called(bucketName, objectName)
	return args.Error(0)
}

func (m *MockMinioClient) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	args := m.Called(bucketName)
	return args.Bool(0), args.Error(1)
}

func (m *MockMinioClient) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	args := m.Called(bucketName)
	return args.Error(0)
}

func TestMinioStore(t *testing.T) {
	client := new(MockMinioClient)
	store := newMinioStore(client, "media", "https://cdn.example.com/media")
	ctx := context.Background()

	t.Run("EnsureBucketCreatesMissing", func(t *testing.T) {
		client.On("BucketExists", "media").Return(false, nil).Once()
		client.On("MakeBucket", "media").Return(nil).Once()
		require.NoError(t, store.ensureBucket(ctx, ""))
	})

	t.Run("Put", func(t *testing.T) {
		client.On("PutObject", "media", "assets/x/thumb.webp", int64(4), "image/webp").Return(nil).Once()
		require.NoError(t, store.Put(ctx, "assets/x/thumb.webp", []byte("RIFF"), "image/webp"))
	})

	t.Run("Delete", func(t *testing.T) {
		client.On("RemoveObject", "media", "assets/x/thumb.webp").Return(nil).Once()
		require.NoError(t, store.Delete(ctx, "assets/x/thumb.webp"))
	})

	t.Run("GetMissing", func(t *testing.T) {
		client.On("GetObject", "media", "nope").Return(minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404, Key: "nope"}).Once()
		_, err := store.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrObjectNotFound)
	})

	t.Run("PublicURL", func(t *testing.T) {
		assert.Equal(t, "https://cdn.example.com/media/assets/x/thumb.webp", store.PublicURL("assets/x/thumb.webp"))
	})

	client.AssertExpectations(t)
}
