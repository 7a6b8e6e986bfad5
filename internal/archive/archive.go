// Package archive exports the draw history of completed groups to
// S3-compatible object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/kiumaa/kixikila/internal/models"
)

// Archiver stores the cycles of a completed group.
type Archiver interface {
	ArchiveGroup(ctx context.Context, group *models.Group, cycles []*models.Cycle) error
}

// Nop discards archives. Used when no bucket is configured.
type Nop struct{}

// ArchiveGroup does nothing.
func (Nop) ArchiveGroup(context.Context, *models.Group, []*models.Cycle) error { return nil }

// Config locates the bucket. Endpoint is set for non-AWS providers
// (MinIO, R2); empty credentials fall back to the default AWS chain.
type Config struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// S3Archiver writes groups/<slug>/cycles.json objects.
type S3Archiver struct {
	client *s3.Client
	bucket string
}

// NewS3Archiver builds an S3 client from cfg.
func NewS3Archiver(ctx context.Context, cfg Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Archiver{client: client, bucket: cfg.Bucket}, nil
}

// Document is the archived form of a group.
type Document struct {
	GroupID            string          `json:"group_id"`
	Name               string          `json:"name"`
	Slug               string          `json:"slug"`
	Type               string          `json:"type"`
	ContributionAmount string          `json:"contribution_amount"`
	Currency           string          `json:"currency"`
	TotalCycles        int             `json:"total_cycles"`
	Cycles             []CycleDocument `json:"cycles"`
}

// CycleDocument is one archived draw.
type CycleDocument struct {
	Number              int      `json:"cycle_number"`
	WinnerID            string   `json:"winner_id"`
	PrizeAmount         string   `json:"prize_amount"`
	Participants        []string `json:"participants"`
	Method              string   `json:"method"`
	PayoutTransactionID string   `json:"payout_transaction_id"`
	DrawnBy             string   `json:"drawn_by"`
	DrawnAt             int64    `json:"drawn_at"`
}

// NewDocument builds the archive document of a group.
func NewDocument(group *models.Group, cycles []*models.Cycle) Document {
	doc := Document{
		GroupID:            group.ID,
		Name:               group.Name,
		Slug:               group.Slug,
		Type:               string(group.Type),
		ContributionAmount: group.ContributionAmount.String(),
		Currency:           group.Currency,
		TotalCycles:        group.TotalCycles,
		Cycles:             make([]CycleDocument, 0, len(cycles)),
	}
	for _, c := range cycles {
		doc.Cycles = append(doc.Cycles, CycleDocument{
			Number:              c.Number,
			WinnerID:            c.WinnerID,
			PrizeAmount:         c.PrizeAmount.String(),
			Participants:        c.Eligible,
			Method:              string(c.Method),
			PayoutTransactionID: c.PayoutTransactionID,
			DrawnBy:             c.DrawnBy,
			DrawnAt:             c.DrawnAt,
		})
	}
	return doc
}

// Key returns the object key of a group's archive.
func Key(group *models.Group) string {
	return "groups/" + group.Slug + "/cycles.json"
}

// ArchiveGroup uploads the group's cycles.
func (a *S3Archiver) ArchiveGroup(ctx context.Context, group *models.Group, cycles []*models.Cycle) error {
	body, err := json.MarshalIndent(NewDocument(group, cycles), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode archive: %w", err)
	}

	key := Key(group)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	slog.Info("Group archived", "group_id", group.ID, "bucket", a.bucket, "key", key, "cycles", len(cycles))
	return nil
}
