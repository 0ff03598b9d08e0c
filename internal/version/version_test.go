package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	info := Get()
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.Commit)
	assert.NotEmpty(t, info.Date)
	assert.NotEmpty(t, info.GoVersion)
	assert.Equal(t, Version(), info.Version)
}

func TestString(t *testing.T) {
	s := String()
	assert.Contains(t, s, "version="+version)
	assert.Contains(t, s, "commit="+commit)
	assert.Contains(t, s, "date="+date)
}

func TestUserAgent(t *testing.T) {
	assert.Equal(t, "shopsaga-loadtest/"+version, UserAgent("loadtest"))
}
