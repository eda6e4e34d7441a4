package pricefeed

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/krobus00/price-stream-service/internal/entity"
	"github.com/krobus00/price-stream-service/internal/util"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultInterval    = 30 * time.Second
	defaultConcurrency = 4
)

type QuoteFetcher interface {
	Quote(ctx context.Context, symbol string) (entity.PriceUpdate, error)
}

type Config struct {
	Symbols  []string
	Interval time.Duration
	Timeout  time.Duration
}

// PriceFeedService polls quotes on an interval and publishes each one to the
// sink. One failing symbol never blocks the rest of the cycle.
type PriceFeedService struct {
	fetcher QuoteFetcher
	sink    Sink
	cfg     Config

	published atomic.Uint64
	failed    atomic.Uint64
}

func NewPriceFeedService(fetcher QuoteFetcher, sink Sink, cfg Config) *PriceFeedService {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}

	symbols := make([]string, 0, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		if symbol = entity.NormalizeSymbol(symbol); symbol != "" {
			symbols = append(symbols, symbol)
		}
	}
	cfg.Symbols = symbols

	return &PriceFeedService{
		fetcher: fetcher,
		sink:    sink,
		cfg:     cfg,
	}
}

// Run polls immediately and then on every tick until ctx is done.
func (s *PriceFeedService) Run(ctx context.Context) {
	logrus.WithFields(logrus.Fields{
		"symbols":  s.cfg.Symbols,
		"interval": s.cfg.Interval.String(),
	}).Info("price feed started")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		s.Poll(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll runs one fetch-and-publish cycle and returns the number of quotes
// published.
func (s *PriceFeedService) Poll(ctx context.Context) int {
	var published atomic.Int64

	eg := errgroup.Group{}
	eg.SetLimit(defaultConcurrency)

	for _, symbol := range s.cfg.Symbols {
		eg.Go(func() error {
			err := util.ProcessWithTimeout(ctx, s.cfg.Timeout, symbol, func(ctx context.Context) error {
				update, err := s.fetcher.Quote(ctx, symbol)
				if err != nil {
					return err
				}
				return s.sink.Publish(ctx, update)
			})
			if err != nil {
				s.failed.Add(1)
				logrus.WithError(err).WithField("symbol", symbol).Error("failed to publish quote")
				return nil
			}

			s.published.Add(1)
			published.Add(1)
			return nil
		})
	}
	_ = eg.Wait()

	return int(published.Load())
}

func (s *PriceFeedService) Published() uint64 {
	return s.published.Load()
}

func (s *PriceFeedService) Failed() uint64 {
	return s.failed.Load()
}
