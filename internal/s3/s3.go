// Package s3 archives report documents in an S3-compatible bucket.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/yourorg/secuscan/internal/model"
)

const reportPrefix = "reports/"

type Client struct {
	mc     *minio.Client
	bucket string
}

func New(endpoint, accessKey, secretKey string, useSSL bool, bucket string) (*Client, error) {
	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, err
	}
	return &Client{mc: mc, bucket: bucket}, nil
}

func (c *Client) Name() string   { return "s3" }
func (c *Client) Bucket() string { return c.bucket }

// ReportKey is the object key a run's report is stored under.
func ReportKey(id string) string { return reportPrefix + id + ".json" }

// RunID extracts the run id from a report object key.
func RunID(key string) (string, bool) {
	if !strings.HasPrefix(key, reportPrefix) || path.Ext(key) != ".json" {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(key, reportPrefix), ".json")
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// Publish uploads rep as JSON under ReportKey.
func (c *Client) Publish(ctx context.Context, rep *model.Report) error {
	data, err := json.Marshal(rep)
	if err != nil {
		return err
	}
	_, err = c.mc.PutObject(ctx, c.bucket, ReportKey(rep.ID), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", c.bucket, ReportKey(rep.ID), err)
	}
	return nil
}

// Fetch downloads and decodes an archived report.
func (c *Client) Fetch(ctx context.Context, key string) (*model.Report, error) {
	obj, err := c.mc.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	var rep model.Report
	if err := json.NewDecoder(obj).Decode(&rep); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &rep, nil
}

// ListReports returns the keys of all archived reports.
func (c *Client) ListReports(ctx context.Context) ([]string, error) {
	var keys []string
	for obj := range c.mc.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Prefix: reportPrefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if _, ok := RunID(obj.Key); ok {
			keys = append(keys, obj.Key)
		}
	}
	return keys, nil
}
