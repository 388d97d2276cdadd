package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionCmd_Use(t *testing.T) {
	assert.Equal(t, "version", versionCmd.Use)
}

func TestVersionCmd_Short(t *testing.T) {
	assert.Equal(t, "Print the version number", versionCmd.Short)
}

func TestVersionCmd_Executes(t *testing.T) {
	// Save and restore version
	originalVersion := version
	version = "test-version-1.0.0"
	defer func() { version = originalVersion }()

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"version"})
	defer func() {
		rootCmd.SetArgs(nil)
	}()

	err := rootCmd.Execute()

	assert.NoError(t, err)
	assert.Contains(t, buf.String(), "catalogsync version test-version-1.0.0")
}

func TestVersionCmd_SkipsInitializer(t *testing.T) {
	SetInitializer(func(context.Context, string) error {
		return errors.New("must not run")
	})
	defer SetInitializer(nil)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"version"})
	defer func() {
		rootCmd.SetArgs(nil)
	}()

	assert.NoError(t, rootCmd.Execute())
}

func TestSetVersion(t *testing.T) {
	originalVersion := version
	defer func() { version = originalVersion }()

	SetVersion("")
	assert.Equal(t, originalVersion, version)

	SetVersion("1.2.3")
	assert.Equal(t, "1.2.3", version)
}
