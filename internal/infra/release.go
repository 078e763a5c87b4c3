package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

const (
	releaseOwner = "eliteGoblin"
	releaseRepo  = "zayproxy"
	// githubAPIURL is the latest-release endpoint template: owner, repo.
	githubAPIURL = "https://api.github.com/repos/%s/%s/releases/latest"

	releaseTimeout = 30 * time.Second
)

// GitHubRelease is the subset of the GitHub release response we read.
type GitHubRelease struct {
	TagName string        `json:"tag_name"`
	HTMLURL string        `json:"html_url"`
	Assets  []GitHubAsset `json:"assets"`
}

// GitHubAsset is one downloadable file of a release.
type GitHubAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// UpdateCheck compares the running version with the latest release.
type UpdateCheck struct {
	Current   string `json:"current"`
	Latest    string `json:"latest"`
	Available bool   `json:"available"`
	URL       string `json:"url,omitempty"`
	AssetURL  string `json:"assetUrl,omitempty"`
}

// ReleaseChecker looks up published releases. It only reports; installing
// an update is left to the user.
type ReleaseChecker struct {
	client *http.Client
	url    string
}

// NewReleaseChecker creates a checker for the zayproxy release feed.
func NewReleaseChecker() *ReleaseChecker {
	return NewReleaseCheckerWithURL(fmt.Sprintf(githubAPIURL, releaseOwner, releaseRepo))
}

// NewReleaseCheckerWithURL creates a checker against a custom endpoint (for testing).
func NewReleaseCheckerWithURL(url string) *ReleaseChecker {
	// Timeouts are per request via context.
	return &ReleaseChecker{client: &http.Client{}, url: url}
}

// Latest fetches the latest release.
func (c *ReleaseChecker) Latest(ctx context.Context) (*GitHubRelease, error) {
	ctx, cancel := context.WithTimeout(ctx, releaseTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "zayproxy")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	var release GitHubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("failed to parse release: %w", err)
	}
	return &release, nil
}

// FindAsset returns the archive built for goos/arch.
func FindAsset(release *GitHubRelease, goos, arch string) (*GitHubAsset, error) {
	for i := range release.Assets {
		name := release.Assets[i].Name
		// zayproxy_1.2.3_darwin_arm64.tar.gz or zayproxy_darwin_arm64.zip
		if strings.Contains(name, "_"+goos+"_") && strings.Contains(name, arch) {
			return &release.Assets[i], nil
		}
	}
	return nil, fmt.Errorf("no asset found for %s/%s", goos, arch)
}

// Check reports whether a newer release than current exists. A current
// version that is not semver (a dev build) is always considered outdated.
func (c *ReleaseChecker) Check(ctx context.Context, current, goos, arch string) (*UpdateCheck, error) {
	release, err := c.Latest(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := semver.NewVersion(release.TagName)
	if err != nil {
		return nil, fmt.Errorf("release tag %q is not a version: %w", release.TagName, err)
	}

	check := &UpdateCheck{
		Current: current,
		Latest:  latest.String(),
		URL:     release.HTMLURL,
	}
	running, err := semver.NewVersion(current)
	check.Available = err != nil || latest.GreaterThan(running)

	if asset, err := FindAsset(release, goos, arch); err == nil {
		check.AssetURL = asset.BrowserDownloadURL
	}
	return check, nil
}
