package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskCredentials(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"live path", "http://h:8080/live/user/pass/123.m3u8", "http://h:8080/live/***/***/123.m3u8"},
		{"movie path", "https://h/movie/u/p/9.mkv", "https://h/movie/***/***/9.mkv"},
		{"api query", "http://h/player_api.php?password=p&username=u", "http://h/player_api.php?password=***&username=***"},
		{"unrelated", "http://h/logo.png", "http://h/logo.png"},
		{"empty", "", ""},
		{"no host", "not a url", ":///***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskCredentials(tt.in))
		})
	}
}

func TestLogURLWithFlag(t *testing.T) {
	raw := "http://h/live/u/p/1.ts"
	assert.Equal(t, raw, LogURLWithFlag(false, raw))
	assert.Equal(t, "http://h/live/***/***/1.ts", LogURLWithFlag(true, raw))
}

func TestObfuscateURL(t *testing.T) {
	assert.Equal(t, "http://example.com/***?***", ObfuscateURL("http://example.com/secret/stream.m3u8?token=abc"))
}
