// Package blob uploads ephemeral credential archives to an external blob
// store over HTTP.
package blob

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	nameAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	nameLength   = 10
	suffixMax    = 9999
)

// Uploader stores blobs under a base URL. Transient failures are retried
// with backoff by the underlying client.
type Uploader struct {
	base   string
	client *retryablehttp.Client
}

// NewUploader creates an uploader for the given blob store base URL.
func NewUploader(baseURL string) *Uploader {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = nil
	return &Uploader{
		base:   strings.TrimRight(baseURL, "/"),
		client: client,
	}
}

// Put uploads data under name and returns the resulting object URL.
func (u *Uploader) Put(ctx context.Context, name string, data []byte) (string, error) {
	url := u.base + "/" + name
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, url, data)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("upload %s: unexpected status %d", name, resp.StatusCode)
	}
	return url, nil
}

// OpaqueName generates a fresh object name: a random alphanumeric string
// with a random numeric suffix. Collisions are not checked; the namespace
// is treated as effectively unique for short-lived objects.
func OpaqueName() (string, error) {
	var b strings.Builder
	for i := 0; i < nameLength; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(nameAlphabet))))
		if err != nil {
			return "", fmt.Errorf("generate blob name: %w", err)
		}
		b.WriteByte(nameAlphabet[n.Int64()])
	}

	suffix, err := rand.Int(rand.Reader, big.NewInt(suffixMax+1))
	if err != nil {
		return "", fmt.Errorf("generate blob name suffix: %w", err)
	}
	return fmt.Sprintf("%s%04d", b.String(), suffix.Int64()), nil
}
