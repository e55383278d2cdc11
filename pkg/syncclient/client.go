// Package syncclient mirrors the serialized database to the disk-backed
// companion server over HTTP, so state survives loss of browser storage.
package syncclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

const imagePath = "/lexicon.sqlite"

// Client talks to the disk sync server. Network failure is a normal state
// (unreachable), never a thrown error: CheckAvailability and PushImage
// report booleans, FetchImage returns a nil blob when the server has none.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for the server at baseURL. The timeout bounds every
// request, including the startup availability probe.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// CheckAvailability issues a lightweight health request.
func (c *Client) CheckAvailability(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.WithField("url", c.baseURL).Debug("sync server unreachable")
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// FetchImage retrieves the server's current database image. It returns
// (nil, nil) when the server has no stored file or answers non-2xx.
func (c *Client) FetchImage(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+imagePath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, nil
	}

	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read image body: %w", err)
	}
	return blob, nil
}

// PushImage uploads blob, overwriting the server's stored file. Propagation
// failures are logged and reported as false; they never abort the mutation
// that triggered them.
func (c *Client) PushImage(ctx context.Context, blob []byte) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+imagePath, bytes.NewReader(blob))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		log.WithError(err).Warn("push to sync server failed")
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.WithField("status", resp.StatusCode).Warn("sync server rejected image push")
		return false
	}
	return true
}
