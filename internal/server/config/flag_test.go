package config

import (
	"flag"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.PanicOnError)
	os.Args = []string{"cmd",
		"-a", "127.0.0.1:9090", "-d", "db", "-s", "secret", "-w", "$2a$10$hash",
		"-t", "30", "-u", "user", "-p", "password", "-b", "bucket", "-g", "us-west-1", "-e", "http://endpoint",
	}

	config := &Config{}
	config.LoadDefaults()
	require.NotPanics(t, func() { parseFlags(config) })

	assert.Equal(t, "127.0.0.1:9090", config.EndpointAddrHTTP)
	assert.Equal(t, "db", config.DatabaseDSN)
	assert.Equal(t, "secret", config.SecretKey)
	assert.Equal(t, "$2a$10$hash", config.AdminPasswordHash)
	assert.Equal(t, 30*time.Minute, config.TokenValidityDuration)
	assert.Equal(t, "user", config.S3RootUser)
	assert.Equal(t, "password", config.S3RootPassword)
	assert.Equal(t, "bucket", config.S3Bucket)
	assert.Equal(t, "us-west-1", config.S3Region)
	assert.Equal(t, "http://endpoint", config.S3BaseEndpoint)
}

func TestParseFlags_IgnoresUnknownFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.PanicOnError)
	os.Args = []string{"cmd", "-a", ":9000", "-x", "ignored"}

	config := &Config{}
	config.LoadDefaults()
	require.NotPanics(t, func() { parseFlags(config) })
	assert.Equal(t, ":9000", config.EndpointAddrHTTP)
}
