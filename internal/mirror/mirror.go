// Package mirror copies provider-hosted artifacts into owned storage.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/kiranshivaraju/meshgen/internal/storage"
)

const defaultFilename = "model.glb"

var errTooLarge = errors.New("artifact exceeds size limit")

var contentTypes = map[string]string{
	".glb":  "model/gltf-binary",
	".gltf": "model/gltf+json",
	".obj":  "model/obj",
	".usdz": "model/vnd.usdz+zip",
	".fbx":  "application/octet-stream",
	".stl":  "model/stl",
}

// Mirror fetches a remote artifact and re-uploads it. It never returns an
// error: any failure yields the original URL.
type Mirror struct {
	store    storage.Storage
	client   *http.Client
	maxBytes int64
}

// New creates a Mirror. maxBytes <= 0 disables the size limit.
func New(store storage.Storage, timeout time.Duration, maxBytes int64) *Mirror {
	return &Mirror{
		store:    store,
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// Mirror returns the owned URL for remoteURL, or remoteURL itself if the copy
// could not be made. An empty input yields an empty result.
func (m *Mirror) Mirror(ctx context.Context, remoteURL string) string {
	if remoteURL == "" {
		return ""
	}

	owned, err := m.copy(ctx, remoteURL)
	if err != nil {
		slog.Warn("artifact mirror failed, using provider url",
			"url", remoteURL,
			"error", err,
		)
		return remoteURL
	}

	slog.Info("artifact mirrored", "url", remoteURL, "owned_url", owned)
	return owned
}

func (m *Mirror) copy(ctx context.Context, remoteURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch artifact: status %d", resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if m.maxBytes > 0 {
		body = io.LimitReader(resp.Body, m.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}
	if m.maxBytes > 0 && int64(len(data)) > m.maxBytes {
		return "", fmt.Errorf("%w: more than %d bytes", errTooLarge, m.maxBytes)
	}

	name := Filename(remoteURL)
	owned, err := m.store.Put(ctx, data, name, contentType(name, resp.Header.Get("Content-Type")))
	if err != nil {
		return "", fmt.Errorf("store artifact: %w", err)
	}
	return owned, nil
}

// Filename is the trailing path segment of rawURL, or model.glb when there is none.
func Filename(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return defaultFilename
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return defaultFilename
	}
	return name
}

func contentType(name, header string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(name))]; ok {
		return ct
	}
	if header != "" {
		return header
	}
	return "application/octet-stream"
}
