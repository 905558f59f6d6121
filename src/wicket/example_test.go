package wicket

import (
	"os"

	"github.com/wicketnetworks/wicket/src/config"
	"github.com/wicketnetworks/wicket/src/protocols"
)

// This example starts a gateway that only serves the shell sub-protocol. The
// set of peers allowed to connect is read from the authorized-peers file in
// the data directory, which is reloaded whenever it changes on disk.
func Example() {
	// Start from default configuration.
	wicketConfig := config.NewDefaultConfig()

	// Only offer the shell sub-protocol. Peers asking for anything else are
	// refused at the stream level.
	wicketConfig.Protocols = []string{protocols.Shell}

	// Instantiate Wicket.
	wicket := NewWicket(wicketConfig)

	// Load the identity and the authorized peers, and assemble the gateway.
	if err := wicket.Init(); err != nil {
		wicketConfig.Logger().Error("Cannot initialize wicket:", err)
		os.Exit(1)
	}

	// Run the gateway asynchronously.
	go wicket.Run()

	// Instruct the gateway to wind down its connections and release the
	// transport upon stopping.
	defer wicket.Node.Shutdown()
}
