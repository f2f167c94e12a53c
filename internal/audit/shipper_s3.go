package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/technically-fit/trust-engine/internal/db/models"
)

// S3Config holds S3 shipper configuration. The shipper writes NDJSON batch
// objects under date-partitioned keys (prefix/YYYY/MM/DD/<uuid>.ndjson) so
// downstream query engines can prune by day.
type S3Config struct {
	// Bucket is the destination bucket name
	Bucket string `json:"bucket"`
	// Region is the AWS region
	Region string `json:"region"`
	// Prefix is the key prefix for audit objects (default "audit")
	Prefix string `json:"prefix"`
	// Endpoint overrides the S3 endpoint for S3-compatible services (MinIO etc.)
	Endpoint string `json:"endpoint,omitempty"`
	// AccessKeyID / SecretAccessKey select static credentials; when empty the
	// AWS default credential chain is used (env vars, shared config, IAM role).
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
	// BatchSize is how many events to accumulate per object (default 100)
	BatchSize int `json:"batch_size"`
	// FlushInterval is how often to flush a partial batch (default 30s)
	FlushInterval time.Duration `json:"flush_interval"`
}

// S3Shipper archives audit events to object storage for long-term retention
// beyond the database's retention horizon. Events are buffered in memory and
// written as NDJSON objects; a lost buffer on crash is acceptable because the
// database remains the source of truth inside the horizon.
type S3Shipper struct {
	cfg       *S3Config
	client    *s3.Client
	batch     []*models.AuditEvent
	batchMu   sync.Mutex
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewS3Shipper creates a new S3 shipper
func NewS3Shipper(cfg *S3Config) (*S3Shipper, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// S3-compatible services generally require path-style addressing
			o.UsePathStyle = true
		}
	})

	sh := &S3Shipper{
		cfg:     cfg,
		client:  client,
		batch:   make([]*models.AuditEvent, 0),
		closeCh: make(chan struct{}),
	}
	go sh.flushLoop()

	return sh, nil
}

// Ship buffers an event for the next batch object.
func (sh *S3Shipper) Ship(ctx context.Context, event *models.AuditEvent) error {
	batchSize := sh.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	sh.batchMu.Lock()
	sh.batch = append(sh.batch, event)
	full := len(sh.batch) >= batchSize
	sh.batchMu.Unlock()

	if full {
		return sh.flush(ctx)
	}
	return nil
}

func (sh *S3Shipper) flushLoop() {
	interval := sh.cfg.FlushInterval
	if interval == 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := sh.flush(ctx); err != nil {
				fmt.Printf("Failed to flush audit batch to s3: %v\n", err)
			}
			cancel()
		case <-sh.closeCh:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := sh.flush(ctx); err != nil {
				fmt.Printf("Failed to flush audit batch to s3 on close: %v\n", err)
			}
			cancel()
			return
		}
	}
}

// flush writes the current batch as one NDJSON object and clears it.
func (sh *S3Shipper) flush(ctx context.Context) error {
	sh.batchMu.Lock()
	if len(sh.batch) == 0 {
		sh.batchMu.Unlock()
		return nil
	}
	batch := sh.batch
	sh.batch = make([]*models.AuditEvent, 0)
	sh.batchMu.Unlock()

	var buf bytes.Buffer
	for _, event := range batch {
		line, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal audit event: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	key := sh.objectKey(time.Now().UTC())
	_, err := sh.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(sh.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("failed to put audit object %s: %w", key, err)
	}
	return nil
}

func (sh *S3Shipper) objectKey(now time.Time) string {
	prefix := sh.cfg.Prefix
	if prefix == "" {
		prefix = "audit"
	}
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s.ndjson",
		prefix, now.Year(), now.Month(), now.Day(), uuid.New().String())
}

// Close flushes the remaining batch and stops the flush loop.
func (sh *S3Shipper) Close() error {
	sh.closeOnce.Do(func() {
		close(sh.closeCh)
	})
	return nil
}
