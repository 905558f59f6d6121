package commands

import (
	"github.com/spf13/cobra"

	"github.com/wicketnetworks/wicket/src/config"
)

var (
	_config = config.NewDefaultConfig()
)

//RootCmd is the root command for wicket
var RootCmd = &cobra.Command{
	Use:              "wicket",
	Short:            "wicket p2p connection gateway",
	TraverseChildren: true,
}
