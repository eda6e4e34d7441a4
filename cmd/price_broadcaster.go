/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/price-stream-service/internal/bootstrap"
	"github.com/spf13/cobra"
)

// priceBroadcasterCmd represents the priceBroadcaster command
var priceBroadcasterCmd = &cobra.Command{
	Use:   "price-broadcaster",
	Short: "Consume price updates and stream them to websocket clients",
	Long: `Consumes stock price updates from NATS JetStream or Kafka, keeps the latest
quote per symbol in memory and broadcasts every update to authenticated
websocket connections on /stock-updates.`,
	Run: bootstrap.StartPriceBroadcaster,
}

func init() {
	rootCmd.AddCommand(priceBroadcasterCmd)
}
