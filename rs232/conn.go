package rs232

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/openav/go-emotiva/internal/pool"
	"github.com/openav/go-emotiva/logger"
)

const (
	// pollTimeout is the read timeout used when the driver is idle. It
	// trades off between CPU usage and latency for outgoing requests.
	pollTimeout = 50 * time.Millisecond

	// readBufSize covers several maximum-length frames per read.
	readBufSize = 256
)

// errAttemptTimeout reports that a single transmit attempt got no
// confirmation before the reply deadline. It stays internal: callers only
// ever see ErrTimeout, raised after the whole retry budget is spent.
var errAttemptTimeout = errors.New("rs232: no reply before deadline")

// sendRequest is a queued request waiting for the protocol loop.
//
// resultChan is nil for fire-and-forget sends. It has capacity 1, so the
// loop never blocks delivering the outcome.
type sendRequest struct {
	ctx        context.Context
	spec       *CommandSpec
	wire       []byte
	resultChan chan *sendResult
}

type sendResult struct {
	reply *Frame
	err   error
}

// StateChangeHandler is invoked synchronously on every driver state
// transition. Handlers run on the protocol loop goroutine and must not
// block.
type StateChangeHandler func(prev, cur DriverState)

// Connection is the half-duplex RS232 protocol driver.
//
// It serializes all requests onto a single protocol loop goroutine that
// owns the Transport: at most one request is ever in flight, requests and
// confirmations strictly alternate, and unsolicited device frames are
// routed to the state cache between requests.
type Connection struct {
	pctx      context.Context
	ctx       context.Context
	ctxCancel context.CancelFunc

	cfg    *Config
	logger logger.Logger

	transport Transport
	decoder   *Decoder
	cache     *StateCache
	readBuf   []byte

	state         atomicDriverState
	stateHandlers []StateChangeHandler

	// inflight counts accepted requests (queued plus in flight). Its
	// bound is queueSize+1, enforcing the bounded-queue contract exactly.
	inflight   atomic.Int64
	senderChan chan *sendRequest

	opened   atomic.Bool
	loopDone chan struct{}

	metrics ConnectionMetrics
}

// NewConnection creates an RS232 Connection with the given context and
// configuration. The connection does not touch the endpoint until Open.
func NewConnection(ctx context.Context, cfg *Config) (*Connection, error) {
	if cfg == nil {
		return nil, errors.New("rs232: connection config is nil")
	}

	c := &Connection{
		pctx:       ctx,
		cfg:        cfg,
		logger:     cfg.logger,
		decoder:    NewDecoder(cfg.dialect),
		cache:      NewStateCache(),
		readBuf:    make([]byte, readBufSize),
		senderChan: make(chan *sendRequest, cfg.queueSize+1),
	}

	return c, nil
}

// Cache returns the device state cache. Subscriptions should be
// registered before Open.
func (c *Connection) Cache() *StateCache {
	return c.cache
}

// Metrics returns the metrics associated with the connection.
func (c *Connection) Metrics() *ConnectionMetrics {
	return &c.metrics
}

// State returns the driver's current state.
func (c *Connection) State() DriverState {
	return c.state.Get()
}

// OnStateChange registers a handler for driver state transitions.
// It must be called before Open.
func (c *Connection) OnStateChange(handlers ...StateChangeHandler) {
	c.stateHandlers = append(c.stateHandlers, handlers...)
}

// Open opens the configured endpoint and starts the protocol loop.
func (c *Connection) Open() error {
	if !c.opened.CompareAndSwap(false, true) {
		return errors.New("rs232: connection already open")
	}

	transport, err := c.cfg.openTransport()
	if err != nil {
		c.opened.Store(false)

		return err
	}

	c.transport = transport
	c.ctx, c.ctxCancel = context.WithCancel(c.pctx)
	c.loopDone = make(chan struct{})
	c.decoder.Reset()
	c.state.Swap(IdleState)

	go c.protocolLoop()

	c.logger.Debug("rs232: connection opened")

	return nil
}

// Close stops the protocol loop and releases the transport.
//
// Requests still queued are failed with ErrConnClosed. Close waits up to
// the configured close timeout for the loop to stop.
func (c *Connection) Close() error {
	if !c.opened.CompareAndSwap(true, false) {
		return nil
	}

	c.ctxCancel()

	closeTimer := pool.GetTimer(c.cfg.closeTimeout)
	defer pool.PutTimer(closeTimer)

	var closeErr error
	select {
	case <-c.loopDone:
	case <-closeTimer.C:
		c.logger.Error("rs232: close timeout waiting for protocol loop",
			"timeout", c.cfg.closeTimeout)
		closeErr = errors.New("rs232: close connection timeout")
	}

	if err := c.transport.Close(); err != nil {
		c.logger.Error("rs232: failed to close transport", "error", err)

		if closeErr == nil {
			closeErr = err
		}
	}

	c.logger.Debug("rs232: connection closed")

	return closeErr
}

// Send issues a logical command and waits for the device's confirmation.
//
// The command is rendered through the registry, queued for the protocol
// loop, transmitted when the line is free, and retried on reply timeout
// up to the configured retry limit. The correlated confirmation frame is
// returned; its value has also been applied to the state cache.
//
// A request still waiting in the queue is abandoned without side effects
// when ctx is canceled. Once a frame is on the wire the exchange runs to
// completion; the device cannot be un-asked.
//
// Saturation fails fast: ErrBusy when queueing is disabled and a request
// is outstanding, ErrQueueFull when the bounded queue is full.
func (c *Connection) Send(ctx context.Context, name string, args []byte) (*Frame, error) {
	req, err := c.newRequest(ctx, name, args, true)
	if err != nil {
		return nil, err
	}

	if err := c.enqueue(req); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		// Still queued: the loop drops it on pickup. Already in flight:
		// the outcome is discarded.
		return nil, ctx.Err()

	case <-c.ctx.Done():
		// The loop may have delivered the outcome right before shutdown;
		// prefer it over a generic closed error.
		select {
		case res := <-req.resultChan:
			return res.reply, res.err
		default:
			return nil, ErrConnClosed
		}

	case res := <-req.resultChan:
		return res.reply, res.err
	}
}

// SendAsync issues a logical command without waiting for its
// confirmation. The exchange still runs through the normal retry logic
// and the confirmation still updates the state cache; failures are only
// logged.
func (c *Connection) SendAsync(ctx context.Context, name string, args []byte) error {
	req, err := c.newRequest(ctx, name, args, false)
	if err != nil {
		return err
	}

	return c.enqueue(req)
}

func (c *Connection) newRequest(ctx context.Context, name string, args []byte, wantResult bool) (*sendRequest, error) {
	if !c.opened.Load() {
		return nil, ErrConnClosed
	}

	spec, err := c.cfg.registry.Lookup(name)
	if err != nil {
		return nil, err
	}

	wire, err := Encode(c.cfg.dialect, spec, args)
	if err != nil {
		return nil, err
	}

	req := &sendRequest{ctx: ctx, spec: spec, wire: wire}
	if wantResult {
		req.resultChan = make(chan *sendResult, 1)
	}

	return req, nil
}

// enqueue adds a request to the bounded queue, failing fast on
// saturation. Capacity is queueSize+1: the request in flight plus the
// configured queue depth.
func (c *Connection) enqueue(req *sendRequest) error {
	if c.ctx == nil || c.ctx.Err() != nil {
		return ErrConnClosed
	}

	limit := int64(c.cfg.queueSize) + 1

	if c.inflight.Add(1) > limit {
		c.inflight.Add(-1)

		if c.cfg.queueSize == 0 {
			return ErrBusy
		}

		return ErrQueueFull
	}

	c.senderChan <- req

	return nil
}

// --- Protocol loop ---

// protocolLoop is the single goroutine owning the transport. It
// alternates between servicing queued requests and polling the line for
// unsolicited frames, consistent with the half-duplex discipline.
func (c *Connection) protocolLoop() {
	defer close(c.loopDone)

	for {
		select {
		case <-c.ctx.Done():
			c.drainPending()

			return

		case req := <-c.senderChan:
			if err := c.transact(req); err != nil {
				c.fail(err)

				return
			}

		default:
			if err := c.pollForUnsolicited(); err != nil {
				c.fail(err)

				return
			}
		}
	}
}

// fail records a fatal transport error and tears the connection down.
func (c *Connection) fail(err error) {
	c.logger.Error("rs232: transport failure, stopping protocol loop", "error", err)
	c.setState(FailedState)
	c.ctxCancel()
	c.drainPending()
}

// drainPending fails every queued request with ErrConnClosed.
func (c *Connection) drainPending() {
	for {
		select {
		case req := <-c.senderChan:
			c.deliver(req, nil, ErrConnClosed)
			c.inflight.Add(-1)
		default:
			return
		}
	}
}

// transact runs one request through the transmit/await/retry cycle.
//
// A reply timeout with retries remaining re-transmits the identical
// frame; malformed frames and unsolicited pushes received while waiting
// never consume a retry. The returned error is non-nil only for fatal
// transport failures.
func (c *Connection) transact(req *sendRequest) error {
	defer c.inflight.Add(-1)

	if req.ctx != nil && req.ctx.Err() != nil {
		// Canceled while queued: never transmitted, no side effects.
		c.logger.Debug("rs232: dropping canceled queued request", "command", req.spec.Name)

		return nil
	}

	c.metrics.incRequestInflightCount()
	defer c.metrics.decRequestInflightCount()

	c.setState(AwaitingResponseState)

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			c.setState(RetryingState)
			c.metrics.incRetryCount()
			c.logger.Debug("rs232: request retry",
				"command", req.spec.Name,
				"attempt", attempt,
				"retryLimit", c.cfg.retryLimit)
			c.setState(AwaitingResponseState)
		}

		if err := c.transport.Write(req.wire); err != nil {
			c.deliver(req, nil, err)
			c.setState(FailedState)

			return err
		}

		c.metrics.incFrameSendCount()

		reply, err := c.awaitReply(req)
		if err == nil {
			c.cache.Update(reply.Code, reply.Args, time.Now())
			c.deliver(req, reply, nil)
			c.setState(IdleState)

			return nil
		}

		if !errors.Is(err, errAttemptTimeout) {
			// Connection shutdown or transport failure.
			c.deliver(req, nil, err)

			if errors.Is(err, ErrConnClosed) {
				return nil
			}

			c.setState(FailedState)

			return err
		}

		if attempt >= c.cfg.retryLimit {
			c.metrics.incTimeoutCount()
			c.logger.Warn("rs232: reply timeout, retries exhausted",
				"command", req.spec.Name,
				"attempts", attempt+1,
				"replyTimeout", c.cfg.replyTimeout)
			c.deliver(req, nil, fmt.Errorf("%w: command %q after %d attempts",
				ErrTimeout, req.spec.Name, attempt+1))
			c.setState(FailedState)
			c.setState(IdleState)

			return nil
		}
	}
}

// awaitReply reads the line until a frame confirming req arrives or the
// reply deadline passes.
//
// Malformed frames are discarded and the wait continues: garbage may be
// inter-device noise and must not consume the retry being attempted.
// Valid frames that do not confirm the request are unsolicited status
// pushes and are routed to the state cache.
func (c *Connection) awaitReply(req *sendRequest) (*Frame, error) {
	deadline := time.Now().Add(c.cfg.replyTimeout)

	for {
		if c.ctx.Err() != nil {
			return nil, ErrConnClosed
		}

		if frame := c.drainDecoder(req.spec); frame != nil {
			return frame, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			if c.decoder.Buffered() > 0 {
				// A half-received frame is worthless to the next
				// exchange; discard it.
				c.decoder.Reset()
				c.metrics.incMalformedCount()
			}

			return nil, errAttemptTimeout
		}

		n, err := c.transport.Read(c.readBuf, min(remaining, c.cfg.idleTimeout))
		if err != nil {
			return nil, err
		}

		if n == 0 {
			c.dropStalePartial()

			continue
		}

		c.decoder.Feed(c.readBuf[:n])
	}
}

// drainDecoder processes every complete frame currently buffered. When
// want is non-nil and a frame confirms it, that frame is returned and
// remaining buffered frames stay for the next drain; all other valid
// frames are unsolicited.
func (c *Connection) drainDecoder(want *CommandSpec) *Frame {
	for {
		payload, err := c.decoder.Next()
		if errors.Is(err, ErrIncomplete) {
			return nil
		}

		if err != nil {
			c.metrics.incMalformedCount()
			c.logger.Debug("rs232: discarded malformed frame", "error", err)

			continue
		}

		frame, err := c.cfg.registry.Match(payload)
		if err != nil {
			c.metrics.incMalformedCount()
			c.logger.Debug("rs232: discarded unmatchable frame", "error", err)

			continue
		}

		c.metrics.incFrameRecvCount()

		if want != nil && want.ConfirmedBy(frame.Code) {
			return frame
		}

		c.handleUnsolicited(frame)
	}
}

// pollForUnsolicited reads the idle line for device-initiated frames.
func (c *Connection) pollForUnsolicited() error {
	wait := pollTimeout
	if c.decoder.Buffered() > 0 {
		wait = c.cfg.idleTimeout
	}

	n, err := c.transport.Read(c.readBuf, wait)
	if err != nil {
		return err
	}

	if n == 0 {
		c.dropStalePartial()

		return nil
	}

	c.decoder.Feed(c.readBuf[:n])
	c.drainDecoder(nil)

	return nil
}

// dropStalePartial discards a partial frame after the inter-byte idle
// threshold passed with no new data.
func (c *Connection) dropStalePartial() {
	if c.decoder.Buffered() == 0 {
		return
	}

	c.logger.Debug("rs232: discarding stale partial frame",
		"buffered", c.decoder.Buffered())
	c.decoder.Reset()
	c.metrics.incMalformedCount()
}

// handleUnsolicited routes a device-initiated frame straight to the
// state cache, bypassing request correlation.
func (c *Connection) handleUnsolicited(frame *Frame) {
	c.metrics.incUnsolicitedCount()
	c.cache.Update(frame.Code, frame.Args, time.Now())
	c.logger.Debug("rs232: unsolicited frame",
		"code", frame.Code,
		"args", string(frame.Args))
}

func (c *Connection) deliver(req *sendRequest, reply *Frame, err error) {
	if req.resultChan == nil {
		if err != nil {
			c.logger.Debug("rs232: async request failed",
				"command", req.spec.Name,
				"error", err)
		}

		return
	}

	req.resultChan <- &sendResult{reply: reply, err: err}
}

func (c *Connection) setState(next DriverState) {
	prev := c.state.Swap(next)
	if prev == next {
		return
	}

	for _, h := range c.stateHandlers {
		h(prev, next)
	}
}
