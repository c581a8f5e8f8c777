package storage

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"invoice-hand/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// NewS3Client erstellt einen S3-Client für das Rechnungs-Archiv. Funktioniert
// mit jedem S3-kompatiblen Endpoint (AWS, Strato, MinIO).
func NewS3Client(cfg *config.Config) (*s3.Client, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.ArchiveS3URL,
				SigningRegion:     cfg.ArchiveS3Region,
				HostnameImmutable: true,
			}, nil
		},
	)
	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(cfg.ArchiveS3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.ArchiveS3Key, cfg.ArchiveS3Secret, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg), nil
}

// Archiver legt Original-Uploads unter invoices/<uuid><ext> im Bucket ab.
type Archiver struct {
	client *s3.Client
	cfg    *config.Config
}

// NewArchiver erstellt einen neuen Archiver.
func NewArchiver(client *s3.Client, cfg *config.Config) *Archiver {
	return &Archiver{client: client, cfg: cfg}
}

// Archive lädt das Bild hoch und gibt den Link zurück.
func (a *Archiver) Archive(ctx context.Context, filename string, image []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".jpg"
	}
	key := "invoices/" + uuid.New().String() + ext
	return UploadFile(ctx, a.client, a.cfg.ArchiveS3Bucket, key, image, a.cfg)
}

// UploadFile lädt eine Datei ins Archiv hoch und gibt den Link zurück.
func UploadFile(ctx context.Context, client *s3.Client, bucket, key string, data []byte, cfg *config.Config) (string, error) {
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", err
	}
	link := fmt.Sprintf("%s/%s/%s", cfg.ArchiveS3URL, bucket, key)
	return link, nil
}
