/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/price-stream-service/internal/bootstrap"
	"github.com/spf13/cobra"
)

// priceFeedCmd represents the priceFeed command
var priceFeedCmd = &cobra.Command{
	Use:   "price-feed",
	Short: "Poll quotes from Finnhub and publish them upstream",
	Long: `Polls the Finnhub quote endpoint for the configured symbols and publishes
each quote onto the price stream consumed by price-broadcaster.`,
	Run: bootstrap.StartPriceFeed,
}

func init() {
	rootCmd.AddCommand(priceFeedCmd)
}
