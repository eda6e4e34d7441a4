package constant

import "strings"

const (
	PriceStreamName       = "PRICES"
	PriceStreamSubjectAll = "prices.>"

	PriceQueueGroup = "finstream-broadcaster"

	IngestionSourceJetstream = "jetstream"
	IngestionSourceKafka     = "kafka"

	// MaxSymbolLength is the longest instrument identifier accepted on the wire.
	MaxSymbolLength = 15

	PriceSnapshotKeyPrefix = "price:latest:"
)

func GetPriceStreamSubject(symbol string) string {
	return "prices." + strings.ToUpper(strings.TrimSpace(symbol))
}

func GetPriceSnapshotKey(symbol string) string {
	return PriceSnapshotKeyPrefix + strings.ToUpper(strings.TrimSpace(symbol))
}
