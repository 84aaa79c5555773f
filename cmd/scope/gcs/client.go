// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gcs uploads rendered chart snapshots to Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ErrNoBucket is returned by NewClient when no bucket is configured.
var ErrNoBucket = errors.New("no GCS bucket configured")

type Client struct {
	storageClient *storage.Client
	BucketName    string
	Prefix        string
}

func NewClient(ctx context.Context, bucketName, prefix, saKeyPath string) (*Client, error) {
	if bucketName == "" {
		return nil, ErrNoBucket
	}
	if _, err := os.Stat(saKeyPath); err != nil {
		return nil, fmt.Errorf("service account key not found at path: %s: %w", saKeyPath, err)
	}

	storageClient, err := storage.NewClient(ctx, option.WithCredentialsFile(saKeyPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &Client{storageClient: storageClient, BucketName: bucketName, Prefix: prefix}, nil
}

// Upload writes r to the object Prefix/name and returns its gs:// URL.
func (c *Client) Upload(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	objectPath := ObjectPath(c.Prefix, name)
	writer := c.storageClient.Bucket(c.BucketName).Object(objectPath).NewWriter(ctx)
	writer.ContentType = contentType
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(writer, r); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("failed to upload GCS object %s: %w", objectPath, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer for %s: %w", objectPath, err)
	}
	return fmt.Sprintf("gs://%s/%s", c.BucketName, objectPath), nil
}

// Close releases the storage client.
func (c *Client) Close() error {
	return c.storageClient.Close()
}

// ObjectPath joins prefix and name with forward slashes.
func ObjectPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// ContentType maps a render format to its MIME type.
func ContentType(format string) string {
	switch format {
	case "png":
		return "image/png"
	case "html":
		return "text/html; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
