package commands

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wicketnetworks/wicket/src/wicket"
)

//NewRunCmd returns the command that starts a wicket gateway
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run gateway",
		PreRunE: loadConfig,
		RunE:    runWicket,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runWicket(cmd *cobra.Command, args []string) error {
	engine := wicket.NewWicket(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	engine.Run()

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-dir", _config.LogDir, "Directory for per-level log files")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name")

	// Network
	cmd.Flags().StringSliceP("listen", "l", _config.ListenAddrs, "Listen multiaddrs for the overlay transport")
	cmd.Flags().StringSlice("bootstrap", _config.BootstrapPeers, "Multiaddrs of the overlay bootstrap nodes")
	cmd.Flags().Bool("test-net", _config.TestNet, "Loopback-only transport, no overlay routing")
	cmd.Flags().Duration("keepalive", _config.KeepAlive, "Time between connection probes")

	// Firewall
	cmd.Flags().String("key", _config.Keyfile, "File containing the identity seed")
	cmd.Flags().String("peers", _config.PeersFile, "Authorized-peers file")
	cmd.Flags().Bool("no-firewall", _config.NoFirewall, "Accept connections from any peer")

	// Protocols
	cmd.Flags().StringSliceP("protocol", "p", _config.Protocols, "Enabled sub-protocols")
	cmd.Flags().StringSlice("tunnel-host", _config.TunnelHosts, "Hosts the tunnel sub-protocol may reach")
	cmd.Flags().IntSlice("tunnel-port", _config.TunnelPorts, "Ports the tunnel sub-protocol may reach")

	// Service
	cmd.Flags().Bool("no-service", _config.NoService, "Do not serve the HTTP API")
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")

	// Journal
	cmd.Flags().Bool("store", _config.Store, "Use badgerDB to persist the journal")
	cmd.Flags().String("db", _config.DatabaseDir, "Database directory")
	cmd.Flags().Int("cache-size", _config.CacheSize, "Number of journal events kept in memory")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	logFields := logrus.Fields{
		"DataDir":     _config.DataDir,
		"LogLevel":    _config.LogLevel,
		"Moniker":     _config.Moniker,
		"ListenAddrs": _config.ListenAddrs,
		"TestNet":     _config.TestNet,
		"Keyfile":     _config.KeyfilePath(),
		"PeersFile":   _config.PeersFilePath(),
		"NoFirewall":  _config.NoFirewall,
		"Protocols":   _config.Protocols,
		"KeepAlive":   _config.KeepAlive,
		"NoService":   _config.NoService,
		"ServiceAddr": _config.ServiceAddr,
		"Store":       _config.Store,
		"CacheSize":   _config.CacheSize,
	}

	if len(_config.BootstrapPeers) > 0 {
		logFields["BootstrapPeers"] = _config.BootstrapPeers
	}

	if _config.Store {
		logFields["DatabaseDir"] = _config.DatabaseDir
	}

	_config.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/wicket.toml (.json, .yaml also work)
	viper.SetConfigName("wicket")
	viper.AddConfigPath(_config.DataDir)

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
