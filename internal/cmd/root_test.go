package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
)

func TestSetVersionInfo(t *testing.T) {
	// Save original values
	origVersion := versionInfo.Version
	origCommit := versionInfo.Commit
	origBuildDate := versionInfo.BuildDate
	defer func() {
		versionInfo.Version = origVersion
		versionInfo.Commit = origCommit
		versionInfo.BuildDate = origBuildDate
	}()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{
			name:      "set all values",
			version:   "1.0.0",
			commit:    "abc123",
			buildDate: "2024-01-15",
		},
		{
			name:      "set dev version",
			version:   "dev",
			commit:    "HEAD",
			buildDate: "unknown",
		},
		{
			name:      "set empty values",
			version:   "",
			commit:    "",
			buildDate: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestExitError(t *testing.T) {
	err := exitError(foundry.ExitInvalidArgument, "Bad flag", errors.New("boom"))
	assert.EqualError(t, err, "Bad flag: boom")
	assert.Equal(t, foundry.ExitInvalidArgument, exitCodeFor(err))

	// Without a cause the message stands alone.
	err = exitError(foundry.ExitFileNotFound, "Missing library", nil)
	assert.EqualError(t, err, "Missing library")
	assert.Equal(t, foundry.ExitFileNotFound, exitCodeFor(err))
}

func TestExitCodeFor_Wrapped(t *testing.T) {
	inner := exitError(foundry.ExitFileWriteError, "Write failed", errors.New("disk full"))
	wrapped := fmt.Errorf("rescan: %w", inner)
	assert.Equal(t, foundry.ExitFileWriteError, exitCodeFor(wrapped))
}

func TestExitCodeFor_PlainError(t *testing.T) {
	assert.Equal(t, 1, exitCodeFor(errors.New("plain")))
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"serve", "rescan", "jobs", "version"} {
		assert.True(t, names[want], "expected %s command to be registered", want)
	}
}
