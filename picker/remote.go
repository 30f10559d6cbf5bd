package picker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	remoteAttempts = 3
	remoteBackoff  = 200 * time.Millisecond
	remoteTimeout  = 10 * time.Second
)

// RemoteSource downloads an image over HTTP.
type RemoteSource struct {
	URL    string
	Client *http.Client
}

// NewRemoteSource returns a source with a client timeout of ten seconds.
func NewRemoteSource(rawURL string) *RemoteSource {
	return &RemoteSource{
		URL:    rawURL,
		Client: &http.Client{Timeout: remoteTimeout},
	}
}

func (s *RemoteSource) Name() string { return "remote" }

func (s *RemoteSource) Available() bool { return strings.TrimSpace(s.URL) != "" }

// Pick retries transient failures and 404s a few times before giving up,
// since freshly uploaded images are not always served straight away.
func (s *RemoteSource) Pick(ctx context.Context, done Completion) error {
	data, err := s.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	img, _, err := Decode(bytes.NewReader(data))
	if err != nil {
		return err
	}
	done(img)
	return nil
}

func (s *RemoteSource) fetch(ctx context.Context) ([]byte, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: remoteTimeout}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < remoteAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-fetchCtx.Done():
				return nil, fetchCtx.Err()
			case <-time.After(remoteBackoff):
			}
		}

		req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, s.URL, nil)
		if err != nil {
			return nil, fmt.Errorf("picker: create image request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("picker: read image body: %w", err)
			}
			return data, nil
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("http status %s", resp.Status)
			continue
		default:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
			resp.Body.Close()
			return nil, fmt.Errorf("picker: image http status %s: %s", resp.Status, strings.TrimSpace(string(body)))
		}
	}

	if lastErr == nil {
		lastErr = errors.New("no response")
	}
	return nil, fmt.Errorf("picker: fetch image failed after %d attempts: %w", remoteAttempts, lastErr)
}
