// Package storage provisions the per-session object-storage bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// Buckets is the bucket surface the session lifecycle needs.
type Buckets interface {
	// EnsureBucket creates the session's bucket and returns its name.
	// An already-existing bucket is treated as success.
	EnsureBucket(ctx context.Context, sessionID string) (string, error)
	// DeleteBucket removes a bucket; a missing bucket is not an error.
	DeleteBucket(ctx context.Context, name string) error
	Close() error
}

type Client struct {
	client    *gcs.Client
	projectID string
	prefix    string
	logger    *slog.Logger
}

func NewClient(ctx context.Context, projectID, prefix string, logger *slog.Logger) (*Client, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &Client{
		client:    client,
		projectID: projectID,
		prefix:    prefix,
		logger:    logger,
	}, nil
}

// BucketName returns the deterministic bucket name for a session.
func (c *Client) BucketName(sessionID string) string {
	return c.prefix + "-" + sessionID
}

func (c *Client) EnsureBucket(ctx context.Context, sessionID string) (string, error) {
	name := c.BucketName(sessionID)
	err := c.client.Bucket(name).Create(ctx, c.projectID, nil)
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == 409 {
			// bucket already exists, likely from an earlier partial create
			return name, nil
		}
		return "", fmt.Errorf("creating bucket %s: %w", name, err)
	}
	c.logger.Info("session bucket created", "bucket", name, "session_id", sessionID)
	return name, nil
}

func (c *Client) DeleteBucket(ctx context.Context, name string) error {
	err := c.client.Bucket(name).Delete(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrBucketNotExist) {
			return nil
		}
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == 404 {
			return nil
		}
		return fmt.Errorf("deleting bucket %s: %w", name, err)
	}
	c.logger.Info("session bucket deleted", "bucket", name)
	return nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
