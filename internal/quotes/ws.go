package quotes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/quantfall/riskgate/errs"
	"github.com/quantfall/riskgate/internal/observability"
	"github.com/quantfall/riskgate/internal/schema"
)

const (
	wsConnectTimeout      = 10 * time.Second
	wsMaxReconnectDelay   = 20 * time.Second
	wsControlWriteTimeout = 5 * time.Second
	wsReadLimit           = 1 * 1024 * 1024
	wsDefaultStaleAfter   = 10 * time.Second
)

type wsInstrument struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
}

type wsRequest struct {
	Op          string         `json:"op"`
	Instruments []wsInstrument `json:"instruments"`
}

type wsTick struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Last     string `json:"ltp"`
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Bid      string `json:"bid"`
	Ask      string `json:"ask"`
	Volume   int64  `json:"volume"`
	Ts       int64  `json:"ts"`
}

// WSConfig configures the websocket quote client.
type WSConfig struct {
	URL string `yaml:"url"`
	// StaleAfter bounds how old a cached tick may be before Quote refuses
	// to serve it.
	StaleAfter time.Duration `yaml:"staleAfter"`
}

// WSClient streams ticks from a quote websocket into a last-tick cache and
// serves Quote reads from that cache. The connection loop reconnects with
// exponential backoff and resubscribes everything after each reconnect.
type WSClient struct {
	cfg    WSConfig
	ctx    context.Context
	cancel context.CancelFunc

	conn   *websocket.Conn
	connMu sync.RWMutex

	subsMu sync.Mutex
	subs   map[string]wsInstrument

	cacheMu sync.RWMutex
	cache   map[string]schema.Quote

	ready     chan struct{}
	readyOnce sync.Once
}

// NewWSClient prepares a client; Start establishes the connection.
func NewWSClient(ctx context.Context, cfg WSConfig) *WSClient {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = wsDefaultStaleAfter
	}
	clientCtx, cancel := context.WithCancel(ctx)
	return &WSClient{
		cfg:    cfg,
		ctx:    clientCtx,
		cancel: cancel,
		subs:   make(map[string]wsInstrument),
		cache:  make(map[string]schema.Quote),
		ready:  make(chan struct{}),
	}
}

// Start launches the connection loop and waits for the first connection.
func (c *WSClient) Start() error {
	go c.connectLoop()

	select {
	case <-c.ready:
		return nil
	case <-time.After(wsConnectTimeout):
		return errs.New("quotes", errs.CodeFeed,
			errs.WithMessage(fmt.Sprintf("timeout connecting to %s", c.cfg.URL)))
	case <-c.ctx.Done():
		return errs.New("quotes", errs.CodeFeed,
			errs.WithMessage("quote client stopped during connect"), errs.WithCause(c.ctx.Err()))
	}
}

// Stop tears the connection down and stops reconnecting.
func (c *WSClient) Stop() {
	c.cancel()
	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "shutdown")
		c.conn = nil
	}
	c.connMu.Unlock()
}

// Subscribe registers an instrument for streaming. Subscriptions survive
// reconnects.
func (c *WSClient) Subscribe(symbol, exchange string) error {
	inst := wsInstrument{Symbol: symbol, Exchange: exchange}
	key := feedKey(symbol, exchange)

	c.subsMu.Lock()
	_, exists := c.subs[key]
	c.subs[key] = inst
	c.subsMu.Unlock()
	if exists {
		return nil
	}
	return c.send(wsRequest{Op: "subscribe", Instruments: []wsInstrument{inst}})
}

// Quote serves the cached last tick, refusing stale or missing entries.
func (c *WSClient) Quote(_ context.Context, symbol, exchange string) (schema.Quote, error) {
	c.cacheMu.RLock()
	q, ok := c.cache[feedKey(symbol, exchange)]
	c.cacheMu.RUnlock()
	if !ok {
		return schema.Quote{}, errs.New("quotes", errs.CodeFeed,
			errs.WithMessage(fmt.Sprintf("no tick received for %s:%s", exchange, symbol)))
	}
	if age := time.Since(q.At); age > c.cfg.StaleAfter {
		return schema.Quote{}, errs.New("quotes", errs.CodeFeed,
			errs.WithMessage(fmt.Sprintf("tick for %s:%s is stale by %s", exchange, symbol, age)))
	}
	return q, nil
}

func (c *WSClient) connectLoop() {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = wsMaxReconnectDelay

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.Dial(c.ctx, c.cfg.URL, nil)
		if err != nil {
			observability.Log().Warn("quote feed dial failed",
				observability.F("url", c.cfg.URL),
				observability.F("error", err.Error()))
			if !c.sleep(backoffCfg) {
				return
			}
			continue
		}
		conn.SetReadLimit(wsReadLimit)

		c.connMu.Lock()
		c.conn = conn
		c.connMu.Unlock()
		c.readyOnce.Do(func() { close(c.ready) })
		backoffCfg.Reset()

		if err := c.subscribeAll(); err != nil {
			observability.Log().Warn("resubscribe after reconnect failed",
				observability.F("error", err.Error()))
		}

		if err := c.readLoop(conn); err != nil && !errors.Is(err, context.Canceled) {
			observability.Log().Warn("quote feed read loop ended",
				observability.F("error", err.Error()))
		}

		c.connMu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.connMu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")

		if !c.sleep(backoffCfg) {
			return
		}
	}
}

func (c *WSClient) sleep(backoffCfg *backoff.ExponentialBackOff) bool {
	delay := backoffCfg.NextBackOff()
	if delay == backoff.Stop {
		delay = wsMaxReconnectDelay
	}
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

func (c *WSClient) readLoop(conn *websocket.Conn) error {
	for {
		_, payload, err := conn.Read(c.ctx)
		if err != nil {
			return err
		}
		var tick wsTick
		if err := json.Unmarshal(payload, &tick); err != nil {
			observability.Log().Warn("malformed tick dropped",
				observability.F("error", err.Error()))
			continue
		}
		if tick.Symbol == "" {
			continue
		}
		c.storeTick(tick)
	}
}

func (c *WSClient) storeTick(tick wsTick) {
	q := schema.Quote{
		Symbol:   tick.Symbol,
		Exchange: tick.Exchange,
		Last:     parsePrice(tick.Last),
		Open:     parsePrice(tick.Open),
		High:     parsePrice(tick.High),
		Low:      parsePrice(tick.Low),
		Bid:      parsePrice(tick.Bid),
		Ask:      parsePrice(tick.Ask),
		Volume:   tick.Volume,
		At:       time.Unix(0, tick.Ts*int64(time.Millisecond)),
	}
	if q.At.IsZero() || tick.Ts == 0 {
		q.At = time.Now()
	}
	c.cacheMu.Lock()
	c.cache[feedKey(tick.Symbol, tick.Exchange)] = q
	c.cacheMu.Unlock()
}

func (c *WSClient) subscribeAll() error {
	c.subsMu.Lock()
	instruments := make([]wsInstrument, 0, len(c.subs))
	for _, inst := range c.subs {
		instruments = append(instruments, inst)
	}
	c.subsMu.Unlock()
	if len(instruments) == 0 {
		return nil
	}
	return c.send(wsRequest{Op: "subscribe", Instruments: instruments})
}

func (c *WSClient) send(req wsRequest) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		// Not connected yet; subscribeAll replays it after connect.
		return nil
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.ctx, wsControlWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}

func parsePrice(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
