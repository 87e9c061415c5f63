package infra

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/scribe-rabbit/scribe-orchestrator/config"
)

// MinioClient stores uploaded audio sources until a worker picks them up.
type MinioClient struct {
	Client      *minio.Client
	AudioBucket string
}

func InitMinioClient(cfg *config.EnvConfig) *MinioClient {
	endpoint := cfg.Minio.Endpoint
	if endpoint == "" {
		panic("MinIO endpoint is not configured")
	}

	rootUser := cfg.Minio.RootUser
	if rootUser == "" {
		panic("MinIO root user is not configured")
	}

	rootPassword := cfg.Minio.RootPassword
	if rootPassword == "" {
		panic("MinIO root password is not configured")
	}

	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(rootUser, rootPassword, ""),
		Secure: false,
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize MinIO client: %v", err))
	}

	client := &MinioClient{
		Client:      minioClient,
		AudioBucket: cfg.Minio.AudioBucket,
	}

	if err := client.ensureAudioBucket(context.Background()); err != nil {
		panic(fmt.Sprintf("Failed to ensure audio bucket: %v", err))
	}

	log.Println("Connected to MinIO:", endpoint)

	return client
}

func (m *MinioClient) ensureAudioBucket(ctx context.Context) error {
	exists, err := m.Client.BucketExists(ctx, m.AudioBucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return m.Client.MakeBucket(ctx, m.AudioBucket, minio.MakeBucketOptions{})
}

// PutAudio stores an uploaded audio file under the given object key.
func (m *MinioClient) PutAudio(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error {
	_, err := m.Client.PutObject(ctx, m.AudioBucket, objectKey, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}

// PresignAudioURL returns a time-limited URL a worker can hand to the
// transcription engine for an uploaded source object.
func (m *MinioClient) PresignAudioURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	u, err := m.Client.PresignedGetObject(ctx, m.AudioBucket, objectKey, expiry, url.Values{})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (m *MinioClient) RemoveAudio(ctx context.Context, objectKey string) error {
	return m.Client.RemoveObject(ctx, m.AudioBucket, objectKey, minio.RemoveObjectOptions{})
}
