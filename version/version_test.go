package version

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFillFromBuildInfo(t *testing.T) {
	info := Info{Version: "dev", CommitHash: "dev", BuildTime: "unknown"}
	fillFromBuildInfo(&info, &debug.BuildInfo{
		Main: debug.Module{Version: "v0.4.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef"},
			{Key: "vcs.time", Value: "2024-06-15T09:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	})

	assert.Equal(t, "v0.4.1", info.Version)
	assert.Equal(t, "0123456789abcdef", info.CommitHash)
	assert.Equal(t, "2024-06-15T09:00:00Z", info.BuildTime)
	assert.True(t, info.Modified)
	assert.Equal(t, "aurum v0.4.1 (commit 0123456+dirty, built 2024-06-15T09:00:00Z)", info.String())
}

func TestFillFromBuildInfo_LdflagsWin(t *testing.T) {
	info := Info{Version: "v1.0.0", CommitHash: "feedbeef", BuildTime: "2024-01-01"}
	fillFromBuildInfo(&info, &debug.BuildInfo{
		Main:     debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "0123456789abcdef"}},
	})

	assert.Equal(t, "v1.0.0", info.Version)
	assert.Equal(t, "feedbeef", info.CommitHash)
	assert.Equal(t, "feedbee", info.Short())
}

func TestShort_ShortHash(t *testing.T) {
	assert.Equal(t, "dev", Info{CommitHash: "dev"}.Short())
}
