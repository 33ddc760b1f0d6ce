package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurrentHasNoEmptyFields(t *testing.T) {
	b := Current()
	assert.Equal(t, GetVersion(), b.Version)
	assert.NotEmpty(t, b.Commit)
	assert.NotEmpty(t, b.Date)
	assert.Contains(t, b.String(), "version="+b.Version)
}

func TestWithVCSFillsOnlyMissingFields(t *testing.T) {
	settings := []debug.BuildSetting{
		{Key: "vcs.revision", Value: "abc123"},
		{Key: "vcs.time", Value: "2026-04-01T10:00:00Z"},
		{Key: "vcs.modified", Value: "false"},
	}

	fromVCS := Build{Version: "dev", Commit: "unknown", Date: "unknown"}.withVCS(settings)
	assert.Equal(t, Build{Version: "dev", Commit: "abc123", Date: "2026-04-01T10:00:00Z"}, fromVCS)

	pinned := Build{Version: "v1.2.0", Commit: "release", Date: "2026-05-01"}.withVCS(settings)
	assert.Equal(t, "release", pinned.Commit)
	assert.Equal(t, "2026-05-01", pinned.Date)
}
