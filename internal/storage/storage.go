// Package storage holds the owned, durable object store that mirrored
// artifacts are written to.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// Storage accepts bytes and returns a stable public URL for them.
type Storage interface {
	Put(ctx context.Context, data []byte, suggestedName, contentType string) (string, error)
}

// GCS writes objects to a single Google Cloud Storage bucket.
type GCS struct {
	bucket        *gcs.BucketHandle
	bucketName    string
	publicBaseURL string
}

var _ Storage = (*GCS)(nil)

// NewGCS wraps a bucket. publicBaseURL is the host objects are served from,
// e.g. https://storage.googleapis.com.
func NewGCS(client *gcs.Client, bucketName, publicBaseURL string) *GCS {
	return &GCS{
		bucket:        client.Bucket(bucketName),
		bucketName:    bucketName,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// Put uploads data under artifacts/<sha256>/<name>. The write is conditioned on
// the object not existing; a precondition failure means the same bytes were
// already stored under that name, so the URL is returned as success.
func (g *GCS) Put(ctx context.Context, data []byte, suggestedName, contentType string) (string, error) {
	objectName := ObjectName(ContentKey(data), suggestedName)

	w := g.bucket.Object(objectName).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=31536000, immutable"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		if isPreconditionFailed(err) {
			slog.Info("artifact already stored", "object", objectName)
			return g.PublicURL(objectName), nil
		}
		return "", fmt.Errorf("write gcs object %s: %w", objectName, err)
	}

	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			slog.Info("artifact already stored", "object", objectName)
			return g.PublicURL(objectName), nil
		}
		return "", fmt.Errorf("finalize gcs object %s: %w", objectName, err)
	}

	return g.PublicURL(objectName), nil
}

// PublicURL returns the address an object is served from.
func (g *GCS) PublicURL(objectName string) string {
	segments := strings.Split(objectName, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/%s/%s", g.publicBaseURL, g.bucketName, strings.Join(segments, "/"))
}

// ContentKey is the hex SHA-256 of data.
func ContentKey(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ObjectName builds the object key for an artifact.
func ObjectName(id, suggestedName string) string {
	name := path.Base(strings.TrimSpace(suggestedName))
	if name == "" || name == "." || name == "/" {
		name = "model.glb"
	}
	return path.Join("artifacts", id, name)
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
