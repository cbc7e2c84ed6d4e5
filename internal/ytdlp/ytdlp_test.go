package ytdlp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_BuildDownloadArgs_Video(t *testing.T) {
	t.Parallel()
	client := &Client{config: Config{BinaryPath: "yt-dlp", ConcurrentFragments: 5}}

	args := client.buildDownloadArgs("https://www.youtube.com/watch?v=abc", VIDEO, 480, "/tmp/work")

	assert.Contains(t, args, "--no-playlist")
	assert.Contains(t, args, "--print-json")
	assert.Contains(t, args, "bestvideo[height<=480]+bestaudio/best[height<=480]")
	assert.Contains(t, args, "--merge-output-format")
	assert.Contains(t, args, "mp4")
	assert.NotContains(t, args, "--extract-audio")
	assert.Equal(t, "https://www.youtube.com/watch?v=abc", args[len(args)-1], "URL must be the final argument")

	// The output template and working directory must be passed as pairs
	assert.Contains(t, args, "-o")
	assert.Contains(t, args, "%(title).80s.%(ext)s")
	assert.Contains(t, args, "-P")
	assert.Contains(t, args, "/tmp/work")
}

func Test_BuildDownloadArgs_Audio(t *testing.T) {
	t.Parallel()
	client := &Client{config: Config{BinaryPath: "yt-dlp", ConcurrentFragments: 2}}

	args := client.buildDownloadArgs("https://youtu.be/abc", AUDIO, 480, "/tmp/work")

	assert.Contains(t, args, "--extract-audio")
	assert.Contains(t, args, "mp3")
	assert.Contains(t, args, "192K")
	assert.Contains(t, args, "bestaudio/best")
	assert.NotContains(t, args, "--merge-output-format")
}

func Test_ParseMode(t *testing.T) {
	t.Parallel()

	mode, ok := ParseMode("video")
	assert.True(t, ok)
	assert.Equal(t, VIDEO, mode)

	mode, ok = ParseMode("audio")
	assert.True(t, ok)
	assert.Equal(t, AUDIO, mode)

	_, ok = ParseMode("webm")
	assert.False(t, ok)
}

func Test_ResultFromInfo_PrefersRequestedDownloads(t *testing.T) {
	t.Parallel()
	info := &downloadInfo{
		Title:    "Some Video",
		Filename: "/tmp/work/Some Video.webm",
		RequestedDownloads: []struct {
			Filepath string `json:"filepath"`
		}{{Filepath: "/tmp/work/Some Video.mp4"}},
	}

	result := resultFromInfo(info, VIDEO)
	assert.Equal(t, "/tmp/work/Some Video.mp4", result.Path)
	assert.Equal(t, "Some Video", result.Title)
	assert.Equal(t, "mp4", result.Ext)
}

func Test_ResultFromInfo_FallsBackToFilename(t *testing.T) {
	t.Parallel()
	info := &downloadInfo{Title: "Old Video", Filename: "/tmp/work/Old Video.webm"}

	result := resultFromInfo(info, VIDEO)
	assert.Equal(t, "/tmp/work/Old Video.mp4", result.Path)

	result = resultFromInfo(info, AUDIO)
	assert.Equal(t, "/tmp/work/Old Video.mp3", result.Path)
}

func Test_ResultFromInfo_DerivesTitleFromPath(t *testing.T) {
	t.Parallel()
	info := &downloadInfo{Filename: "/tmp/work/Untitled Clip.webm"}

	result := resultFromInfo(info, VIDEO)
	assert.Equal(t, "Untitled Clip", result.Title)
}

func Test_CollectWatchURLs_NormalisesAndDedupes(t *testing.T) {
	t.Parallel()
	entries := []playlistEntry{
		{ID: "abc"},
		{URL: "https://www.youtube.com/watch?v=def"},
		{WebpageURL: "https://www.youtube.com/watch?v=ghi"},
		{WebpageURL: "https://www.youtube.com/watch?v=def"},
		{},
	}

	urls := collectWatchURLs(entries, 0)
	assert.Equal(t, []string{
		"https://www.youtube.com/watch?v=abc",
		"https://www.youtube.com/watch?v=def",
		"https://www.youtube.com/watch?v=ghi",
	}, urls)
}

func Test_CollectWatchURLs_AppliesLimit(t *testing.T) {
	t.Parallel()
	entries := []playlistEntry{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	assert.Len(t, collectWatchURLs(entries, 2), 2)
	assert.Len(t, collectWatchURLs(entries, 0), 3, "a limit of zero must return all entries")
	assert.Len(t, collectWatchURLs(entries, 10), 3)
}

func Test_CondenseStderr(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ERROR: Video unavailable", condenseStderr("WARNING: spam\nERROR: Video unavailable\n\n"))
	assert.Equal(t, "no error output", condenseStderr("  \n \n"))
}
