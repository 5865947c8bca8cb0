// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package telemetry forwards fixes to a ThingSpeak-style update endpoint.
package telemetry

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/relabs-tech/gps_tracker/internal/gps"
)

const (
	// DefaultTimeout bounds a single forward.
	DefaultTimeout = 10 * time.Second

	// The endpoint answers with a short entry id; anything longer is not
	// an answer we understand.
	maxBodyLen = 64
)

var (
	// UserAgent is sent with every update.
	UserAgent = fmt.Sprintf("gps-tracker (%s; %s)", runtime.GOOS, runtime.GOARCH)

	ErrStatus   = errors.New("telemetry: unexpected HTTP status")
	ErrRejected = errors.New("telemetry: update rejected by endpoint")
)

// Client sends latitude/longitude as query parameters of a GET request,
// authenticated by a write key.
type Client struct {
	*http.Client
	endpoint string
	latField string
	lonField string
	timeout  time.Duration

	keyMu    sync.RWMutex
	writeKey string
}

// New returns a Client for endpoint. latField and lonField name the
// query parameters carrying the coordinates.
func New(endpoint, writeKey, latField, lonField string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		},
	}
	return &Client{
		Client:   httpClient,
		endpoint: endpoint,
		latField: latField,
		lonField: lonField,
		timeout:  timeout,
		writeKey: writeKey,
	}
}

// SetWriteKey replaces the key used by subsequent forwards.
func (c *Client) SetWriteKey(key string) {
	c.keyMu.Lock()
	c.writeKey = key
	c.keyMu.Unlock()
}

func (c *Client) key() string {
	c.keyMu.RLock()
	defer c.keyMu.RUnlock()
	return c.writeKey
}

// Forward uploads fix and returns the entry id the endpoint assigned.
// Success is a 200 response whose body, with surrounding whitespace
// trimmed, is not "0". A "0\n" reply is therefore a rejection too.
func (c *Client) Forward(ctx context.Context, fix gps.Fix) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}
	query := reqURL.Query()
	query.Set("api_key", c.key())
	query.Set(c.latField, strconv.FormatFloat(fix.Latitude, 'f', -1, 64))
	query.Set(c.lonField, strconv.FormatFloat(fix.Longitude, 'f', -1, 64))
	reqURL.RawQuery = query.Encode()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	request.Header.Set("User-Agent", UserAgent)

	response, err := c.Do(request)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", fmt.Errorf("failed to perform HTTP request: %w", err)
	}
	if response == nil {
		return "", errors.New("nil response received")
	}
	defer func() {
		_ = response.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(response.Body, maxBodyLen))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	body := strings.TrimSpace(string(raw))

	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %d %q", ErrStatus, response.StatusCode, body)
	}
	if body == "0" {
		return "", ErrRejected
	}
	return body, nil
}
