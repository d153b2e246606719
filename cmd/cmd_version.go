package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mapfeed/mapfeed-indexer/core"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show mapfeed indexer version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(core.Version)
		},
	}
}
