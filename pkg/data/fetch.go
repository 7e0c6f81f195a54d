package data

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

const (
	maxIdleConns     = 10
	timeoutInSeconds = 60
	clientAgent      = "defiscore"
	maxSnapshotBytes = 512 << 20
)

var (
	fetchTransport = &http.Transport{
		MaxIdleConns:          maxIdleConns,
		IdleConnTimeout:       timeoutInSeconds * time.Second,
		ResponseHeaderTimeout: time.Duration(timeoutInSeconds) * time.Second,
	}

	ErrSnapshotNotFound = errors.New("snapshot URL not found")
)

// GetOAuthClient returns an HTTP client that sends the indexer API token
// as a bearer on every request.
func GetOAuthClient(ctx context.Context, token string) *http.Client {
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{
			TokenType:   "Bearer",
			AccessToken: token,
		},
	)
	return oauth2.NewClient(ctx, ts)
}

func getHTTPClient() *http.Client {
	return &http.Client{
		Transport: fetchTransport,
		Timeout:   timeoutInSeconds * time.Second,
	}
}

// FetchSnapshot downloads a raw transaction snapshot from an indexer URL.
// An empty token downloads anonymously.
func FetchSnapshot(ctx context.Context, url, token string) ([]RawTransaction, error) {
	if url == "" {
		return nil, errors.New("url is required")
	}

	client := getHTTPClient()
	if token != "" {
		client = GetOAuthClient(ctx, token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating snapshot request: %w", err)
	}
	req.Header.Set("User-Agent", clientAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error downloading snapshot from %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrSnapshotNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("error downloading snapshot (status: %d - %s): %s",
			resp.StatusCode, resp.Status, url)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, fmt.Errorf("error reading snapshot content: %w", err)
	}

	return LoadSnapshot(b)
}
