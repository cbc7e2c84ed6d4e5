package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/telegrab/telegrab/pkg/logger"
)

const outputTemplate = "%(title).80s.%(ext)s"

type (
	// Result describes the file produced by a completed download.
	Result struct {
		Path  string
		Title string
		Ext   string
	}

	// downloadInfo is the subset of yt-dlp's --print-json output that we
	// care about. Newer yt-dlp releases report the final (post-merge,
	// post-postprocessing) file path under requested_downloads.
	downloadInfo struct {
		ID                 string  `json:"id"`
		Title              string  `json:"title"`
		Ext                string  `json:"ext"`
		Filename           string  `json:"_filename"`
		FilesizeApprox     int64   `json:"filesize_approx"`
		Duration           float64 `json:"duration"`
		WebpageURL         string  `json:"webpage_url"`
		RequestedDownloads []struct {
			Filepath string `json:"filepath"`
		} `json:"requested_downloads"`
	}
)

// buildDownloadArgs composes the yt-dlp argument list for a single-item
// download into workdir. Video mode requests the best streams up to the
// given height merged into mp4; audio mode extracts an mp3.
func (client *Client) buildDownloadArgs(url string, mode Mode, height int, workdir string) []string {
	args := []string{
		"--no-playlist",
		"--quiet",
		"--no-warnings",
		"--print-json",
		"--concurrent-fragments", strconv.Itoa(client.config.ConcurrentFragments),
		"-o", outputTemplate,
		"-P", workdir,
	}

	if mode == AUDIO {
		args = append(args,
			"-f", "bestaudio/best",
			"--extract-audio",
			"--audio-format", "mp3",
			"--audio-quality", "192K",
		)
	} else {
		args = append(args,
			"-f", fmt.Sprintf("bestvideo[height<=%d]+bestaudio/best[height<=%d]", height, height),
			"--merge-output-format", "mp4",
		)
	}

	return append(args, url)
}

// Download fetches the media at the given URL into workdir and returns the
// path and title of the resulting file. The command is killed if the context
// is cancelled.
func (client *Client) Download(ctx context.Context, url string, mode Mode, height int, workdir string) (*Result, error) {
	args := client.buildDownloadArgs(url, mode, height, workdir)
	log.Emit(logger.DEBUG, "Executing %s %s\n", client.config.BinaryPath, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, client.config.BinaryPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("yt-dlp failed: %w: %s", err, condenseStderr(stderr.String()))
	}

	var info downloadInfo
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return nil, fmt.Errorf("failed to decode yt-dlp output: %w", err)
	}

	return resultFromInfo(&info, mode), nil
}

// resultFromInfo derives the final file path from the decoded yt-dlp output.
// When requested_downloads is absent (older yt-dlp), the pre-merge filename
// is used with it's extension swapped for the post-processed one.
func resultFromInfo(info *downloadInfo, mode Mode) *Result {
	var path string
	if len(info.RequestedDownloads) > 0 && info.RequestedDownloads[0].Filepath != "" {
		path = info.RequestedDownloads[0].Filepath
	} else {
		finalExt := ".mp4"
		if mode == AUDIO {
			finalExt = ".mp3"
		}

		ext := filepath.Ext(info.Filename)
		path = strings.TrimSuffix(info.Filename, ext) + finalExt
	}

	title := info.Title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	return &Result{
		Path:  path,
		Title: title,
		Ext:   strings.TrimPrefix(filepath.Ext(path), "."),
	}
}

// condenseStderr reduces yt-dlp's stderr spew to the last non-empty line,
// which is where the actionable error message lives.
func condenseStderr(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if trimmed := strings.TrimSpace(lines[i]); trimmed != "" {
			return trimmed
		}
	}

	return "no error output"
}
