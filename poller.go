package gobtcmini

import (
	"context"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
)

const feedPollTimeout = 30 * time.Second

var pollerLogger = NewLogger("poller")

// FeedPoller refreshes the price and fee feeds on every tick and publishes
// new data. Ticks are unforced, so a closed rate-limit gate or the minimum
// update interval keeps polling off the network.
type FeedPoller struct {
	price   *PriceFeed
	fees    *FeeFeed
	ticker  ticker.Ticker
	publish func(HubMessage)
	logger  Logger

	startOnce sync.Once
	stopOnce  sync.Once
	quit      chan struct{}
	wg        sync.WaitGroup
}

// NewFeedPoller returns a poller driven by t. publish may be nil.
func NewFeedPoller(price *PriceFeed, fees *FeeFeed, t ticker.Ticker, publish func(HubMessage)) *FeedPoller {
	return &FeedPoller{
		price:   price,
		fees:    fees,
		ticker:  t,
		publish: publish,
		logger:  pollerLogger,
		quit:    make(chan struct{}),
	}
}

// Start polls once and then on every tick until Stop.
func (p *FeedPoller) Start() {
	p.startOnce.Do(func() {
		p.ticker.Resume()
		p.wg.Add(1)
		go p.run()
	})
}

// Stop halts the ticker and waits for an in-progress poll.
func (p *FeedPoller) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
		p.ticker.Stop()
		p.wg.Wait()
	})
}

func (p *FeedPoller) run() {
	defer p.wg.Done()

	p.poll()
	for {
		select {
		case <-p.ticker.Ticks():
			p.poll()
		case <-p.quit:
			return
		}
	}
}

// Poll runs a single unforced refresh of both feeds.
func (p *FeedPoller) Poll(ctx context.Context) {
	if p.price != nil {
		data, err := p.price.RefreshIfNeeded(ctx, false)
		if err != nil {
			p.logger.Printf("price refresh failed error=%v", err)
		} else if data != nil {
			p.emit(HubMessage{Type: "price", Price: data})
		}
	}
	if p.fees != nil {
		data, err := p.fees.RefreshIfNeeded(ctx, false)
		if err != nil {
			p.logger.Printf("fee refresh failed error=%v", err)
		} else if data != nil {
			p.emit(HubMessage{Type: "fees", Fees: data})
		}
	}
}

func (p *FeedPoller) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), feedPollTimeout)
	defer cancel()

	go func() {
		select {
		case <-p.quit:
			cancel()
		case <-ctx.Done():
		}
	}()
	p.Poll(ctx)
}

func (p *FeedPoller) emit(msg HubMessage) {
	if p.publish != nil {
		p.publish(msg)
	}
}
