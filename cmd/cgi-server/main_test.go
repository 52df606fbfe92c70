package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags_Defaults(t *testing.T) {
	fl, execPath, err := parseFlags([]string{"/usr/bin/my-script"})
	require.NoError(t, err)

	assert.Equal(t, "/usr/bin/my-script", execPath)
	assert.Equal(t, defaultAddress, fl.address)
	assert.Equal(t, "", fl.root)
	assert.Equal(t, "", fl.dir)
	assert.Equal(t, defaultReqBodyTimeout, fl.reqBodyTimeout)
	assert.Equal(t, defaultResBodyTimeout, fl.resBodyTimeout)
	assert.Equal(t, defaultMaxProcesses, fl.maxProcesses)
}

func TestParseFlags_OverridesAndPositionalArg(t *testing.T) {
	fl, execPath, err := parseFlags([]string{
		"--address", "127.0.0.1:9090",
		"--root", "/app",
		"--dir", "/srv/app",
		"--req-body-timeout", "1000",
		"--res-body-timeout", "2000",
		"--max-processes", "8",
		"/usr/bin/my-script",
	})
	require.NoError(t, err)

	assert.Equal(t, "/usr/bin/my-script", execPath)
	assert.Equal(t, "127.0.0.1:9090", fl.address)
	assert.Equal(t, "/app", fl.root)
	assert.Equal(t, "/srv/app", fl.dir)
	assert.Equal(t, 1000, fl.reqBodyTimeout)
	assert.Equal(t, 2000, fl.resBodyTimeout)
	assert.Equal(t, 8, fl.maxProcesses)
}

func TestParseFlags_MissingPositionalArgErrors(t *testing.T) {
	_, _, err := parseFlags([]string{"--address", "127.0.0.1:9090"})
	assert.Error(t, err)
}

func TestParseFlags_TooManyPositionalArgsErrors(t *testing.T) {
	_, _, err := parseFlags([]string{"/usr/bin/a", "/usr/bin/b"})
	assert.Error(t, err)
}
