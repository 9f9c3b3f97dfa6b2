// Package release finds the node binary archive in the latest GitHub release.
package release

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fgeck/masternode-setup/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for release lookups.
type Service interface {
	LatestAssetURL(ctx context.Context, cfg models.GitConfig) (string, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// AmbiguousReleaseError is returned when the number of release assets whose
// name contains the pattern is not exactly one.
type AmbiguousReleaseError struct {
	Pattern string
	Matches []string
}

func (e *AmbiguousReleaseError) Error() string {
	if len(e.Matches) == 0 {
		return fmt.Sprintf("no release asset matches %q", e.Pattern)
	}
	return fmt.Sprintf("%d release assets match %q: %s", len(e.Matches), e.Pattern, strings.Join(e.Matches, ", "))
}

// Impl implements the release Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string
}

// New creates a new release service against the public GitHub API.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:  logger,
		baseURL: "https://api.github.com",
	}
}

// NewWithClient creates a new release service with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, baseURL string) *Impl {
	return &Impl{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
	}
}

type releaseJSON struct {
	TagName string      `json:"tag_name"`
	Assets  []assetJSON `json:"assets"`
}

type assetJSON struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// LatestAssetURL returns the download URL of the single asset of the latest
// release whose name contains cfg.NamePattern.
func (s *Impl) LatestAssetURL(ctx context.Context, cfg models.GitConfig) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest", s.baseURL, cfg.Owner, cfg.Project)

	s.logger.Debug().Str("url", url).Msg("fetching latest release")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch latest release: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("github API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var rel releaseJSON
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return "", fmt.Errorf("failed to decode release: %w", err)
	}

	var matches []assetJSON
	for _, asset := range rel.Assets {
		if strings.Contains(asset.Name, cfg.NamePattern) {
			matches = append(matches, asset)
		}
	}

	if len(matches) != 1 {
		names := make([]string, 0, len(matches))
		for _, m := range matches {
			names = append(names, m.Name)
		}
		return "", &AmbiguousReleaseError{Pattern: cfg.NamePattern, Matches: names}
	}

	s.logger.Info().
		Str("tag", rel.TagName).
		Str("asset", matches[0].Name).
		Msg("found release asset")

	return matches[0].BrowserDownloadURL, nil
}
