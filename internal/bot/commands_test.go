package bot

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/telegrab/telegrab/internal/ytdlp"
)

func Test_ParseGetArgs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		summary  string
		input    string
		expected getArgs
	}{
		{
			summary:  "url only applies defaults",
			input:    "https://youtu.be/abc",
			expected: getArgs{URL: "https://youtu.be/abc", Mode: ytdlp.VIDEO, Height: 480},
		},
		{
			summary:  "explicit audio mode",
			input:    "https://youtu.be/abc audio",
			expected: getArgs{URL: "https://youtu.be/abc", Mode: ytdlp.AUDIO, Height: 480},
		},
		{
			summary:  "explicit height",
			input:    "https://youtu.be/abc 720",
			expected: getArgs{URL: "https://youtu.be/abc", Mode: ytdlp.VIDEO, Height: 720},
		},
		{
			summary:  "mode and height in either order",
			input:    "https://youtu.be/abc 360 video",
			expected: getArgs{URL: "https://youtu.be/abc", Mode: ytdlp.VIDEO, Height: 360},
		},
		{
			summary:  "mode token is case insensitive",
			input:    "https://youtu.be/abc AUDIO",
			expected: getArgs{URL: "https://youtu.be/abc", Mode: ytdlp.AUDIO, Height: 480},
		},
		{
			summary:  "unrecognised tokens are ignored",
			input:    "https://youtu.be/abc gibberish -5",
			expected: getArgs{URL: "https://youtu.be/abc", Mode: ytdlp.VIDEO, Height: 480},
		},
	}

	for _, test := range tests {
		t.Run(test.summary, func(t *testing.T) {
			args, err := parseGetArgs(strings.Fields(test.input), 480)
			assert.Nil(t, err)
			assert.Equal(t, test.expected, args)
		})
	}
}

func Test_ParseGetArgs_RejectsEmptyInput(t *testing.T) {
	t.Parallel()

	_, err := parseGetArgs([]string{}, 480)
	assert.ErrorIs(t, err, errNoURL)

	_, err = parseGetArgs([]string{""}, 480)
	assert.ErrorIs(t, err, errNoURL)
}

func Test_ParseGetAllArgs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		summary  string
		input    string
		expected getAllArgs
	}{
		{
			summary:  "url only uses default limit",
			input:    "https://www.youtube.com/@chan/videos",
			expected: getAllArgs{getArgs: getArgs{URL: "https://www.youtube.com/@chan/videos", Mode: ytdlp.VIDEO, Height: 480}, Limit: 0},
		},
		{
			summary:  "numeric limit",
			input:    "https://www.youtube.com/@chan/videos limit=25",
			expected: getAllArgs{getArgs: getArgs{URL: "https://www.youtube.com/@chan/videos", Mode: ytdlp.VIDEO, Height: 480}, Limit: 25},
		},
		{
			summary:  "limit=all requests every entry",
			input:    "https://www.youtube.com/@chan/videos limit=ALL",
			expected: getAllArgs{getArgs: getArgs{URL: "https://www.youtube.com/@chan/videos", Mode: ytdlp.VIDEO, Height: 480}, Limit: -1},
		},
		{
			summary:  "full argument set",
			input:    "https://www.youtube.com/@chan/videos audio 360 limit=5",
			expected: getAllArgs{getArgs: getArgs{URL: "https://www.youtube.com/@chan/videos", Mode: ytdlp.AUDIO, Height: 360}, Limit: 5},
		},
		{
			summary:  "invalid limit value falls back to default",
			input:    "https://www.youtube.com/@chan/videos limit=-3",
			expected: getAllArgs{getArgs: getArgs{URL: "https://www.youtube.com/@chan/videos", Mode: ytdlp.VIDEO, Height: 480}, Limit: 0},
		},
	}

	for _, test := range tests {
		t.Run(test.summary, func(t *testing.T) {
			args, err := parseGetAllArgs(strings.Fields(test.input), 480)
			assert.Nil(t, err)
			assert.Equal(t, test.expected, args)
		})
	}
}
