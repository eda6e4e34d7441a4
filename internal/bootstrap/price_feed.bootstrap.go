package bootstrap

import (
	"context"

	"github.com/krobus00/price-stream-service/internal/config"
	"github.com/krobus00/price-stream-service/internal/constant"
	"github.com/krobus00/price-stream-service/internal/entity"
	"github.com/krobus00/price-stream-service/internal/infrastructure"
	"github.com/krobus00/price-stream-service/internal/service/pricefeed"
	"github.com/krobus00/price-stream-service/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func StartPriceFeed(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Env

	var (
		sink        pricefeed.Sink
		nc          *nats.Conn
		kafkaWriter *kafka.Writer
		err         error
	)

	switch cfg.PriceFeed.Sink {
	case constant.IngestionSourceKafka:
		kafkaWriter, err = infrastructure.NewKafkaWriter(cfg.Kafka, cfg.Ingestion.Topic)
		util.ContinueOrFatal(err)
		sink = pricefeed.NewKafkaSink(kafkaWriter)
	case constant.IngestionSourceJetstream:
		var js nats.JetStreamContext
		nc, js, err = infrastructure.NewJetstream(cfg.NatsJetstream)
		util.ContinueOrFatal(err)

		jetStreamSink := pricefeed.NewJetStreamSink(js)
		publishers := []entity.Publisher{jetStreamSink}
		for _, publisher := range publishers {
			util.ContinueOrFatal(publisher.JetstreamEventInit(ctx))
		}
		sink = jetStreamSink
	default:
		logrus.Fatalf("unknown price feed sink %q", cfg.PriceFeed.Sink)
	}

	feed := pricefeed.NewPriceFeedService(
		pricefeed.NewFinnhubClient(cfg.PriceFeed.BaseURL, cfg.PriceFeed.Token),
		sink,
		pricefeed.Config{
			Symbols:  cfg.PriceFeed.Symbols,
			Interval: cfg.PriceFeed.Interval,
			Timeout:  cfg.PriceFeed.Timeout,
		},
	)
	go feed.Run(ctx)

	wait := gracefulShutdown(ctx, cfg.GracefulShutdownTimeout,
		map[string]operation{
			"price feed": func(ctx context.Context) error {
				cancel()
				return nil
			},
		},
		map[string]operation{
			"nats connection": func(ctx context.Context) error {
				return infrastructure.CloseJetstream(nc)
			},
			"kafka writer": func(ctx context.Context) error {
				if kafkaWriter == nil {
					return nil
				}
				return kafkaWriter.Close()
			},
		},
	)

	<-wait
}
