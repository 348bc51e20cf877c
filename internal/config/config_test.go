package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load()
	require.Nil(t, err)
	require.Equal(t, 5345, cfg.AgentTCPPort)
	require.Equal(t, 128, cfg.EventNotifierErrorNumberOfBucket)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("SESSIOND_AGENT_TCP_PORT", "6000")
	cfg, err := Load()
	require.Nil(t, err)
	require.Equal(t, 6000, cfg.AgentTCPPort)
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	cfg := &Config{AgentTCPPort: 70000, EventNotifierErrorNumberOfBucket: 10}
	require.NotNil(t, cfg.Validate(false))
}

func TestValidateRejectsOutOfRangeBucketCount(t *testing.T) {
	cfg := &Config{AgentTCPPort: 5345, EventNotifierErrorNumberOfBucket: 0}
	require.NotNil(t, cfg.Validate(false))
}

func TestValidateRefusesPathOptionsUnderSetUID(t *testing.T) {
	cfg := &Config{AgentTCPPort: 5345, EventNotifierErrorNumberOfBucket: 10, PidFile: "/tmp/x.pid"}
	require.NotNil(t, cfg.Validate(true))
}

func TestValidateAllowsNoPathOptionsUnderSetUID(t *testing.T) {
	cfg := &Config{AgentTCPPort: 5345, EventNotifierErrorNumberOfBucket: 10}
	require.Nil(t, cfg.Validate(true))
}

func TestLoadSkipsMissingEnvFile(t *testing.T) {
	_, err := Load(os.TempDir() + "/this-file-does-not-exist.env")
	require.Nil(t, err)
}
