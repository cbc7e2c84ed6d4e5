package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/telegrab/telegrab/pkg/logger"
)

type (
	playlistInfo struct {
		Title   string          `json:"title"`
		Entries []playlistEntry `json:"entries"`
	}

	playlistEntry struct {
		ID         string `json:"id"`
		URL        string `json:"url"`
		WebpageURL string `json:"webpage_url"`
	}
)

// ListPlaylist enumerates a channel or playlist URL without downloading
// anything (flat extraction) and returns the normalised, de-duplicated watch
// URLs of it's entries. A limit of zero (or below) returns all entries.
func (client *Client) ListPlaylist(ctx context.Context, url string, limit int) ([]string, error) {
	args := []string{
		"--flat-playlist",
		"--quiet",
		"--no-warnings",
		"-J",
		url,
	}
	log.Emit(logger.DEBUG, "Executing %s %s\n", client.config.BinaryPath, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, client.config.BinaryPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("yt-dlp playlist listing failed: %w: %s", err, condenseStderr(stderr.String()))
	}

	var info playlistInfo
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return nil, fmt.Errorf("failed to decode yt-dlp playlist output: %w", err)
	}

	return collectWatchURLs(info.Entries, limit), nil
}

// collectWatchURLs normalises flat-extraction entries to absolute watch
// URLs, dropping duplicates and empty entries, and applying the limit.
func collectWatchURLs(entries []playlistEntry, limit int) []string {
	urls := make([]string, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		watchURL := normalizeWatchURL(entry)
		if watchURL == "" || seen[watchURL] {
			continue
		}

		seen[watchURL] = true
		urls = append(urls, watchURL)
	}

	if limit > 0 && len(urls) > limit {
		urls = urls[:limit]
	}

	return urls
}

// normalizeWatchURL picks the best URL for a playlist entry. Flat extraction
// often returns bare video IDs rather than absolute URLs, which must be
// expanded to a watch URL.
func normalizeWatchURL(entry playlistEntry) string {
	url := entry.WebpageURL
	if url == "" {
		url = entry.URL
	}
	if url == "" {
		url = entry.ID
	}
	if url == "" {
		return ""
	}

	if !strings.HasPrefix(url, "http") {
		return fmt.Sprintf("https://www.youtube.com/watch?v=%s", url)
	}

	return url
}
