// Package update checks the latest published release against the running
// build. The check is best effort: network failures surface as errors the
// caller is expected to log and ignore.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"metasift/version"
)

const (
	releaseURL   = "https://api.github.com/repos/metasift/metasift/releases/latest"
	checkTimeout = 5 * time.Second
)

type latestRelease struct {
	TagName string `json:"tag_name"`
	Body    string `json:"body"`
}

// CheckForUpdate fetches the latest release and compares it with current.
// It returns the latest version, its release notes, and whether the latest
// differs from the running build.
func CheckForUpdate(current string) (string, string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()
	return checkForUpdateURL(ctx, current, releaseURL)
}

func checkForUpdateURL(ctx context.Context, current, url string) (string, string, bool, error) {
	rel, err := fetchLatest(ctx, url)
	if err != nil {
		return "", "", false, err
	}
	latest := normalize(rel.TagName)
	if latest == normalize(current) {
		return latest, "", false, nil
	}
	return latest, rel.Body, true, nil
}

func fetchLatest(ctx context.Context, url string) (*latestRelease, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "metasift/"+version.Version)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("release lookup: %s", resp.Status)
	}

	rel := &latestRelease{}
	if err := json.NewDecoder(resp.Body).Decode(rel); err != nil {
		return nil, err
	}
	return rel, nil
}

// normalize strips the conventional v prefix so release tags and build
// versions compare cleanly.
func normalize(tag string) string {
	return strings.TrimPrefix(tag, "v")
}
