package download

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_IsAllowedURL(t *testing.T) {
	t.Parallel()
	allowlist := (&Config{}).HostAllowlist()

	tests := []struct {
		summary string
		url     string
		allowed bool
	}{
		{"standard watch url", "https://www.youtube.com/watch?v=abc123", true},
		{"short url", "https://youtu.be/abc123", true},
		{"mobile url", "https://m.youtube.com/watch?v=abc123", true},
		{"bare host", "https://youtube.com/watch?v=abc123", true},
		{"music subdomain matches via suffix", "https://music.youtube.com/watch?v=abc123", true},
		{"unrelated host", "https://vimeo.com/12345", false},
		{"lookalike host", "https://notyoutube.com/watch?v=abc123", false},
		{"embedded allowed host in path", "https://evil.com/youtube.com/watch", false},
		{"no host", "watch?v=abc123", false},
		{"empty", "", false},
	}

	for _, test := range tests {
		t.Run(test.summary, func(t *testing.T) {
			assert.Equal(t, test.allowed, IsAllowedURL(test.url, allowlist))
		})
	}
}

func Test_HostAllowlist_ConfigOverride(t *testing.T) {
	t.Parallel()
	config := &Config{AllowedHosts: []string{"example.org"}}

	assert.True(t, IsAllowedURL("https://example.org/video", config.HostAllowlist()))
	assert.False(t, IsAllowedURL("https://www.youtube.com/watch?v=abc", config.HostAllowlist()))
}
