// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package audit

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const gcsWriteTimeout = 30 * time.Second

// GCSMirror replicates audit entries into a Google Cloud Storage
// bucket, one object per entry.
type GCSMirror struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

// NewGCSMirror opens a mirror against the named bucket. Credentials
// come from the environment per the usual Google SDK rules.
func NewGCSMirror(
	ctx context.Context,
	bucketName string,
	opts ...option.ClientOption,
) (*GCSMirror, error) {
	if bucketName == "" {
		return nil, errors.New("gcs mirror: bucket not set")
	}
	opts = append(opts, storage.WithDisabledClientMetrics())
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &GCSMirror{
		client: client,
		bucket: client.Bucket(bucketName),
	}, nil
}

func (m *GCSMirror) Put(key string, data []byte) error {
	ctx, cancel := context.WithTimeout(
		context.Background(),
		gcsWriteTimeout,
	)
	defer cancel()
	writer := m.bucket.Object(key).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

func (m *GCSMirror) Close() error {
	return m.client.Close()
}
