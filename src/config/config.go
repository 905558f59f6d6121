package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/wicketnetworks/wicket/src/common"
	"github.com/wicketnetworks/wicket/src/protocols"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the gateway's
	// identity seed.
	DefaultKeyfile = "seed"

	// DefaultPeersFile is the default name of the file containing the
	// authorized peers.
	DefaultPeersFile = "authorized_peers"

	// DefaultBadgerFile is the default name of the folder containing the
	// Badger journal database.
	DefaultBadgerFile = "journal_db"
)

// Default configuration values.
const (
	DefaultLogLevel    = "debug"
	DefaultServiceAddr = "127.0.0.1:8000"
	DefaultKeepAlive   = 5000 * time.Millisecond
	DefaultCacheSize   = 5000
	DefaultStore       = false
	DefaultNoFirewall  = false
	DefaultTestNet     = false
)

// DefaultListenAddrs returns the default multiaddrs the transport listens on.
func DefaultListenAddrs() []string {
	return []string{"/ip4/0.0.0.0/tcp/0"}
}

// DefaultProtocols returns the full set of sub-protocols, which is the default
// enabled-protocol list.
func DefaultProtocols() []string {
	return protocols.Names()
}

// DefaultTunnelHosts returns the default tunnel target restriction, which only
// allows forwarding to the gateway's loopback interface.
func DefaultTunnelHosts() []string {
	return []string{"127.0.0.1", "::1", "localhost"}
}

// Config contains all the configuration properties of a wicket gateway.
type Config struct {
	// DataDir is the top-level directory containing wicket configuration and
	// data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogDir is an optional directory where per-level log files are written in
	// addition to the standard output.
	LogDir string `mapstructure:"log-dir"`

	// Moniker defines the friendly name of this gateway
	Moniker string `mapstructure:"moniker"`

	// ListenAddrs are the multiaddrs the overlay transport binds to. The
	// gateway is reached by public identity rather than by address, so the
	// default binds an ephemeral TCP port on all interfaces.
	ListenAddrs []string `mapstructure:"listen"`

	// BootstrapPeers are the multiaddrs of the overlay bootstrap nodes. When
	// empty, the transport's default public bootstrap list is used.
	BootstrapPeers []string `mapstructure:"bootstrap"`

	// TestNet binds the gateway to an isolated loopback network with no
	// overlay routing. Peers can only connect with an explicit address.
	TestNet bool `mapstructure:"test-net"`

	// Keyfile is the path of the file containing the identity seed. If empty,
	// it defaults to [datadir]/seed.
	Keyfile string `mapstructure:"key"`

	// PeersFile is the path of the authorized-peers file. If empty, it
	// defaults to [datadir]/authorized_peers.
	PeersFile string `mapstructure:"peers"`

	// NoFirewall disables the firewall, allowing every peer to connect. This
	// is a materially different security posture than an allow-list match so
	// it is logged distinctly.
	NoFirewall bool `mapstructure:"no-firewall"`

	// Protocols is the list of sub-protocol names enabled for this run. A
	// name not in this list is never bound, so a peer cannot activate it
	// regardless of the firewall decision.
	Protocols []string `mapstructure:"protocol"`

	// TunnelHosts restricts the target hosts the tunnel sub-protocol may dial.
	// An empty list allows any host.
	TunnelHosts []string `mapstructure:"tunnel-host"`

	// TunnelPorts restricts the target ports the tunnel sub-protocol may dial.
	// An empty list allows any port.
	TunnelPorts []int `mapstructure:"tunnel-port"`

	// KeepAlive is the interval at which live connections are probed. A peer
	// that fails a probe is considered dead and its connection is closed.
	KeepAlive time.Duration `mapstructure:"keepalive"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service. The API
	// handlers are registered with the DefaultServeMux of the http package, so
	// another server in the same process may expose them too.
	ServiceAddr string `mapstructure:"service-listen"`

	// Store activates persistent storage for the event journal.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing the journal database files.
	DatabaseDir string `mapstructure:"db"`

	// CacheSize is the max number of events kept by the in-memory journal
	// window.
	CacheSize int `mapstructure:"cache-size"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:     DefaultDataDir(),
		LogLevel:    DefaultLogLevel,
		ListenAddrs: DefaultListenAddrs(),
		TestNet:     DefaultTestNet,
		NoFirewall:  DefaultNoFirewall,
		Protocols:   DefaultProtocols(),
		TunnelHosts: DefaultTunnelHosts(),
		KeepAlive:   DefaultKeepAlive,
		ServiceAddr: DefaultServiceAddr,
		Store:       DefaultStore,
		DatabaseDir: DefaultDatabaseDir(),
		CacheSize:   DefaultCacheSize,
	}

	return config
}

// NewTestConfig returns a config object tuned for tests: loopback-only
// network, temp-friendly paths left to the caller, and a special logger for
// debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.TestNet = true
	config.NoService = true
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level wicket directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely
// set it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// KeyfilePath returns the full path of the file containing the identity seed.
func (c *Config) KeyfilePath() string {
	if c.Keyfile != "" {
		return c.Keyfile
	}
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// PeersFilePath returns the full path of the authorized-peers file.
func (c *Config) PeersFilePath() string {
	if c.PeersFile != "" {
		return c.PeersFile
	}
	return filepath.Join(c.DataDir, DefaultPeersFile)
}

// ProtocolEnabled says whether a sub-protocol name is in the enabled list.
func (c *Config) ProtocolEnabled(name string) bool {
	for _, p := range c.Protocols {
		if p == name {
			return true
		}
	}
	return false
}

// FullProtocolSet says whether every default sub-protocol is enabled.
func (c *Config) FullProtocolSet() bool {
	for _, p := range DefaultProtocols() {
		if !c.ProtocolEnabled(p) {
			return false
		}
	}
	return true
}

// Logger returns a formatted logrus Entry, with prefix set to "wicket". When
// LogDir is set, per-level log files are written there as well.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogDir != "" {
			pathMap := lfshook.PathMap{
				logrus.InfoLevel:  filepath.Join(c.LogDir, "wicket_info.log"),
				logrus.WarnLevel:  filepath.Join(c.LogDir, "wicket_warn.log"),
				logrus.ErrorLevel: filepath.Join(c.LogDir, "wicket_error.log"),
			}
			c.logger.Hooks.Add(lfshook.NewHook(pathMap, &logrus.TextFormatter{}))
		}
	}
	return c.logger.WithField("prefix", "wicket")
}

// DefaultDatabaseDir returns the default path for the badger journal files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level wicket
// config based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Wicket")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Wicket")
		} else {
			return filepath.Join(home, ".wicket")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
