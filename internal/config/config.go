// Package config resolves the notification server's configuration
// surface from CLI flags and environment variables, in the urfave/cli
// style used elsewhere in this repo's command-line tools.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli"

	"github.com/frostbite2000/msnp-server/internal/session"
	"github.com/frostbite2000/msnp-server/internal/version"
)

const (
	DefaultListenHost       = "0.0.0.0"
	DefaultListenPort       = 1863
	DefaultMaxConnections   = 1000
	DefaultPingInterval     = 60 * time.Second
	DefaultSessionTimeout   = 3600 * time.Second
	MinSessionTimeout       = 90 * time.Second
	DefaultMaxMessageLength = 1664
	DefaultHandshakeTimeout = 60 * time.Second
	DefaultSnapshotInterval = 30 * time.Second
)

var DefaultVersions = []string{
	"MSNP2", "MSNP3", "MSNP4", "MSNP5", "MSNP6", "MSNP7", "MSNP8",
	"MSNP9", "MSNP10", "MSNP11", "MSNP12", "MSNP13", "MSNP14", "MSNP15",
	"MSNP16", "MSNP17", "MSNP18", "MSNP19", "MSNP20", "MSNP21",
}

// Config is the fully-resolved server configuration.
type Config struct {
	ListenHost        string
	ListenPort        int
	MaxConnections    int
	SupportedVersions []string
	PingInterval      time.Duration
	SessionTimeout    time.Duration
	MaxMessageLength  int
	SnapshotPath      string
	SnapshotInterval  time.Duration
	SQSRegion         string
	LogLevel          string
	LogSyslog         bool
}

// SessionConfig projects the fields session.Config needs.
func (c Config) SessionConfig() session.Config {
	return session.Config{
		SupportedVersions: c.SupportedVersions,
		PingInterval:      c.PingInterval,
		SessionTimeout:    c.SessionTimeout,
		HandshakeTimeout:  DefaultHandshakeTimeout,
		MaxMessageLength:  c.MaxMessageLength,
		Build:             version.DefaultBuild(),
		DrainTimeout:      2 * time.Second,
	}
}

// Flags is the urfave/cli flag set for cmd/msnpd.
func Flags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{Name: "listen-host", Value: DefaultListenHost, EnvVar: "MSNP_LISTEN_HOST"},
		cli.IntFlag{Name: "listen-port", Value: DefaultListenPort, EnvVar: "MSNP_LISTEN_PORT"},
		cli.IntFlag{Name: "max-connections", Value: DefaultMaxConnections, EnvVar: "MSNP_MAX_CONNECTIONS"},
		cli.StringFlag{Name: "versions", Value: strings.Join(DefaultVersions, ","), EnvVar: "MSNP_VERSIONS"},
		cli.IntFlag{Name: "ping-interval", Value: int(DefaultPingInterval.Seconds()), EnvVar: "MSNP_PING_INTERVAL"},
		cli.IntFlag{Name: "session-timeout", Value: int(DefaultSessionTimeout.Seconds()), EnvVar: "MSNP_SESSION_TIMEOUT"},
		cli.IntFlag{Name: "max-message-length", Value: DefaultMaxMessageLength, EnvVar: "MSNP_MAX_MESSAGE_LENGTH"},
		cli.StringFlag{Name: "snapshot-path", EnvVar: "MSNP_SNAPSHOT_PATH"},
		cli.IntFlag{Name: "snapshot-interval", Value: int(DefaultSnapshotInterval.Seconds()), EnvVar: "MSNP_SNAPSHOT_INTERVAL"},
		cli.StringFlag{Name: "sqs-queue-region", EnvVar: "MSNP_SQS_REGION"},
		cli.StringFlag{Name: "log-level", Value: "INFO", EnvVar: "MSNP_LOG_LEVEL"},
		cli.BoolFlag{Name: "log-syslog", EnvVar: "MSNP_LOG_SYSLOG"},
	}
}

// FromContext resolves a Config from a parsed cli.Context, enforcing the
// session-timeout hard floor.
func FromContext(c *cli.Context) (Config, error) {
	sessionTimeout := time.Duration(c.Int("session-timeout")) * time.Second
	if sessionTimeout < MinSessionTimeout {
		return Config{}, fmt.Errorf("session-timeout must be at least %s", MinSessionTimeout)
	}

	var versions []string
	for _, v := range strings.Split(c.String("versions"), ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			versions = append(versions, v)
		}
	}
	if len(versions) == 0 {
		return Config{}, fmt.Errorf("versions must not be empty")
	}

	return Config{
		ListenHost:        c.String("listen-host"),
		ListenPort:        c.Int("listen-port"),
		MaxConnections:    c.Int("max-connections"),
		SupportedVersions: versions,
		PingInterval:      time.Duration(c.Int("ping-interval")) * time.Second,
		SessionTimeout:    sessionTimeout,
		MaxMessageLength:  c.Int("max-message-length"),
		SnapshotPath:      c.String("snapshot-path"),
		SnapshotInterval:  time.Duration(c.Int("snapshot-interval")) * time.Second,
		SQSRegion:         c.String("sqs-queue-region"),
		LogLevel:          c.String("log-level"),
		LogSyslog:         c.Bool("log-syslog"),
	}, nil
}
