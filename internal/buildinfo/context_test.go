package buildinfo

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextGetters(t *testing.T) {
	tests := []struct {
		name    string
		ctx     *Context
		version string
		date    string
		commit  string
	}{
		{"nil context", nil, UnknownValue, UnknownValue, UnknownValue},
		{"empty fields", NewContext("", "", ""), UnknownValue, UnknownValue, UnknownValue},
		{"release", NewContext("1.0.0", "2024-05-01", "abc1234"), "1.0.0", "2024-05-01", "abc1234"},
		{"pre-release", NewContext("1.0.0-beta.1", "", "abc1234"), "1.0.0-beta.1", UnknownValue, "abc1234"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.version, tt.ctx.GetVersion())
			assert.Equal(t, tt.date, tt.ctx.GetBuildDate())
			assert.Equal(t, tt.commit, tt.ctx.GetCommit())
		})
	}
}

func TestContextString(t *testing.T) {
	s := NewContext("0.3.0", "2024-05-01", "abc1234").String()

	assert.True(t, strings.HasPrefix(s, "0.3.0 (commit abc1234, built 2024-05-01"))
	assert.Contains(t, s, runtime.GOOS+"/"+runtime.GOARCH)
}

var _ BuildInfo = (*Context)(nil)
