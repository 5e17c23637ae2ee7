package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactSensitiveData(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"plain message", "rotating to next token in pool", "rotating to next token in pool"},
		{"bearer", "header Bearer abcdef123456", "header Bearer [REDACTED]"},
		{
			"baidu token",
			"using 24.486cc9beb6b983cc636628803b3618fa.2592000.1547862801.282335-15215859 now",
			"using [REDACTED] now",
		},
		{
			"query string",
			"POST /car?access_token=24.abc&x=1",
			"POST /car?access_token=[REDACTED]&x=1",
		},
		{"client secret", "client_secret=d1L9eWIPB2Ef", "client_secret=[REDACTED]"},
		{"password", "password: SuperSecret1", "password: [REDACTED]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, RedactSensitiveData(tt.input))
		})
	}
}

func TestIsSensitiveKey(t *testing.T) {
	t.Parallel()

	assert.True(t, isSensitiveKey("access_token"))
	assert.True(t, isSensitiveKey("API_KEY"))
	assert.True(t, isSensitiveKey("mysql_password"))
	assert.False(t, isSensitiveKey("token_index"))
	assert.False(t, isSensitiveKey("token_count"))
	assert.False(t, isSensitiveKey("path"))
}
