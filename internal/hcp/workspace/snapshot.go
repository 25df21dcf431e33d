// Copyright 2026 The healctl Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package workspace

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/minio/minio-go/v7"
)

// Snapshotter durably stores pre-edit file content so RevertFile can
// recover it even if the process restarts mid-session and loses its
// in-memory snapshot map. It is best-effort: callers must never let a
// Snapshotter failure block a write or a rollback.
type Snapshotter interface {
	Put(ctx context.Context, path string, content []byte) error
	Get(ctx context.Context, path string) ([]byte, bool, error)
}

// MinioSnapshotter backs Snapshotter with an S3-compatible object
// store via minio-go. Objects are keyed by a content-independent,
// path-derived key so repeated snapshots of the same path overwrite
// cleanly within one incident's object prefix.
type MinioSnapshotter struct {
	client     *minio.Client
	bucket     string
	incidentID string
}

// NewMinioSnapshotter constructs a Snapshotter scoped to one incident's
// object prefix within bucket.
func NewMinioSnapshotter(client *minio.Client, bucket, incidentID string) *MinioSnapshotter {
	return &MinioSnapshotter{client: client, bucket: bucket, incidentID: incidentID}
}

func (m *MinioSnapshotter) objectKey(path string) string {
	sum := sha256.Sum256([]byte(path))
	return fmt.Sprintf("incident/%s/%s", m.incidentID, hex.EncodeToString(sum[:]))
}

func (m *MinioSnapshotter) Put(ctx context.Context, path string, content []byte) error {
	key := m.objectKey(path)
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: "application/octet-stream", UserMetadata: map[string]string{"source-path": path}})
	if err != nil {
		return fmt.Errorf("workspace: snapshot put %q: %w", path, err)
	}
	return nil
}

func (m *MinioSnapshotter) Get(ctx context.Context, path string) ([]byte, bool, error) {
	key := m.objectKey(path)
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		var errResp minio.ErrorResponse
		if errors.As(err, &errResp) && errResp.Code == "NoSuchKey" {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("workspace: snapshot get %q: %w", path, err)
	}
	defer obj.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(obj); err != nil {
		var errResp minio.ErrorResponse
		if errors.As(err, &errResp) && errResp.Code == "NoSuchKey" {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("workspace: snapshot read %q: %w", path, err)
	}
	return buf.Bytes(), true, nil
}
