// Package config loads the daemon's recognized command-line/config-file
// options from the environment, with an optional .env-style
// preload file, into a single Config value passed into every worker at
// construction.
package config

import (
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/opentrace/sessiond/pkg/errkind"
)

// Config holds the daemon's recognized option list. envdecode reads
// each field from the matching SESSIOND_* environment variable.
type Config struct {
	ClientSock string `env:"SESSIOND_CLIENT_SOCK,default=/var/run/sessiond/client.sock"`
	AppsSock   string `env:"SESSIOND_APPS_SOCK,default=/var/run/sessiond/apps.sock"`

	KConsumerdCmdSock string `env:"SESSIOND_KCONSUMERD_CMD_SOCK"`
	KConsumerdErrSock string `env:"SESSIOND_KCONSUMERD_ERR_SOCK"`

	UstConsumerd32CmdSock string `env:"SESSIOND_USTCONSUMERD32_CMD_SOCK"`
	UstConsumerd32ErrSock string `env:"SESSIOND_USTCONSUMERD32_ERR_SOCK"`
	UstConsumerd64CmdSock string `env:"SESSIOND_USTCONSUMERD64_CMD_SOCK"`
	UstConsumerd64ErrSock string `env:"SESSIOND_USTCONSUMERD64_ERR_SOCK"`

	Consumerd32Path   string `env:"SESSIOND_CONSUMERD32_PATH"`
	Consumerd32Libdir string `env:"SESSIOND_CONSUMERD32_LIBDIR"`
	Consumerd64Path   string `env:"SESSIOND_CONSUMERD64_PATH"`
	Consumerd64Libdir string `env:"SESSIOND_CONSUMERD64_LIBDIR"`

	Daemonize       bool `env:"SESSIOND_DAEMONIZE"`
	Background      bool `env:"SESSIOND_BACKGROUND"`
	SigParent       bool `env:"SESSIOND_SIG_PARENT"`
	Quiet           bool `env:"SESSIOND_QUIET"`
	Verbose         bool `env:"SESSIOND_VERBOSE"`
	VerboseConsumer bool `env:"SESSIOND_VERBOSE_CONSUMER"`
	NoKernel        bool `env:"SESSIOND_NO_KERNEL"`

	Group   string `env:"SESSIOND_GROUP,default=tracing"`
	PidFile string `env:"SESSIOND_PIDFILE,default=/var/run/sessiond/sessiond.pid"`

	AgentTCPPort int `env:"SESSIOND_AGENT_TCP_PORT,default=5345"`

	ConfigFile string `env:"SESSIOND_CONFIG"`
	LoadPath   string `env:"SESSIOND_LOAD"`

	KmodProbes      string `env:"SESSIOND_KMOD_PROBES"`
	ExtraKmodProbes string `env:"SESSIOND_EXTRA_KMOD_PROBES"`

	EventNotifierErrorNumberOfBucket int `env:"SESSIOND_EVENT_NOTIFIER_ERROR_NUMBER_OF_BUCKET,default=128"`

	AbortOnError bool `env:"LTTNG_ABORT_ON_ERROR"`

	setUID bool // true once Validate observes a non-root caller, for the set-uid path-option gate
}

// minAgentTCPPort/maxAgentTCPPort bound the agent-tcp-port option.
const (
	minAgentTCPPort = 1
	maxAgentTCPPort = 65534
)

// Load reads optional .env-style files (in order, later files
// override earlier ones) then decodes the environment into a Config.
// Passing no paths still succeeds, decoding from the ambient
// environment alone.
func Load(envFiles ...string) (*Config, *errkind.Error) {
	for _, f := range envFiles {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			continue // optional: a missing file is not an error
		}
		if err := godotenv.Overload(f); err != nil {
			return nil, errkind.Wrap("config.Load", errkind.LoadInvalidConfig, err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		// envdecode errors when none of the target fields are set in the
		// environment; treat that as "use defaults" rather than a failure.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, errkind.Wrap("config.Load", errkind.LoadInvalidConfig, err)
		}
	}

	return &cfg, nil
}

// Validate enforces the option-level invariants: the bucket-count
// bound, the agent-tcp-port bound, and (when running set-uid/set-gid)
// the refusal of path-bearing options.
func (c *Config) Validate(setUIDInvocation bool) *errkind.Error {
	if c.AgentTCPPort < minAgentTCPPort || c.AgentTCPPort > maxAgentTCPPort {
		return errkind.New("config.Validate", errkind.Invalid)
	}
	if c.EventNotifierErrorNumberOfBucket < 1 || c.EventNotifierErrorNumberOfBucket > 65534 {
		return errkind.New("config.Validate", errkind.Invalid)
	}

	c.setUID = setUIDInvocation
	if setUIDInvocation {
		pathOptions := []string{
			c.KConsumerdCmdSock, c.KConsumerdErrSock,
			c.UstConsumerd32CmdSock, c.UstConsumerd32ErrSock,
			c.UstConsumerd64CmdSock, c.UstConsumerd64ErrSock,
			c.Consumerd32Path, c.Consumerd32Libdir,
			c.Consumerd64Path, c.Consumerd64Libdir,
			c.PidFile, c.ConfigFile,
		}
		for _, p := range pathOptions {
			if p != "" {
				return errkind.New("config.Validate", errkind.PermissionDenied)
			}
		}
	}
	return nil
}
