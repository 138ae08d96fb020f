package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Circuit breaker states.
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	maxBackoff     = 30 * time.Second
	publishTimeout = 5 * time.Second
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// Client publishes and consumes JSON messages on a durable direct exchange.
// Each queue is bound with its own name as routing key.
type Client struct {
	url          string
	exchangeName string
	queues       []string

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	failureCount int64
	state        int32
	lastFailure  time.Time
}

func NewClient(url, exchangeName string, queues ...string) (*Client, error) {
	c := &Client{
		url:          url,
		exchangeName: exchangeName,
		queues:       queues,
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := declare(channel, c.exchangeName, c.queues); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queues: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = channel
	c.mu.Unlock()
	return nil
}

func declare(ch *amqp091.Channel, exchange string, queues []string) error {
	err := ch.ExchangeDeclare(
		exchange, // name
		"direct", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	for _, q := range queues {
		if _, err := ch.QueueDeclare(
			q,     // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		); err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
		if err := ch.QueueBind(q, q, exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", q, err)
		}
	}
	return nil
}

// reconnect re-dials with exponential backoff until ctx ends.
func (c *Client) reconnect(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		err := c.connect()
		if err == nil {
			slog.InfoContext(ctx, "AMQP connection re-established", "attempt", attempt+1)
			return nil
		}
		wait := exponentialBackoff(attempt)
		slog.WarnContext(ctx, "AMQP reconnect failed", "error", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// PublishGoalEvent routes a goal event to queue.
func (c *Client) PublishGoalEvent(ctx context.Context, queue string, ev *GoalEvent) error {
	body, err := ev.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := c.publish(ctx, queue, body); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Published goal event",
		"type", ev.Type,
		"goal_id", ev.GoalID,
		"exchange", c.exchangeName,
		"queue", queue)
	return nil
}

// PublishTransactionChanged routes a ledger change notification to queue.
func (c *Client) PublishTransactionChanged(ctx context.Context, queue string, msg *TransactionChangedMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.publish(ctx, queue, body)
}

func (c *Client) publish(ctx context.Context, queue string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isCircuitOpen() {
		return fmt.Errorf("publish to %s: %w", queue, ErrCircuitOpen)
	}

	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		c.recordFailure()
		return fmt.Errorf("publish to %s: channel not open", queue)
	}

	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := ch.PublishWithContext(
		pctx,
		c.exchangeName, // exchange
		queue,          // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			go func() {
				rctx, cancel := context.WithTimeout(context.Background(), openTimeout)
				defer cancel()
				if rerr := c.reconnect(rctx); rerr != nil {
					slog.Error("AMQP reconnect abandoned", "error", rerr)
				}
			}()
		}
		return fmt.Errorf("publish message: %w", err)
	}
	c.recordSuccess()
	return nil
}

// ConsumeOption tunes a consumer loop.
type ConsumeOption func(*consumeOptions)

type consumeOptions struct {
	onStarted func()
}

// OnStarted runs fn once the broker has accepted the consumer, before the
// first delivery is handled.
func OnStarted(fn func()) ConsumeOption {
	return func(o *consumeOptions) { o.onStarted = fn }
}

// ConsumeGoalEvents delivers goal events from queue to handler until ctx ends.
func (c *Client) ConsumeGoalEvents(ctx context.Context, queue string, handler func(context.Context, *GoalEvent) error, opts ...ConsumeOption) error {
	return c.consume(ctx, queue, opts, func(body []byte) (func() error, error) {
		ev, err := GoalEventFromJSON(body)
		if err != nil {
			return nil, err
		}
		return func() error { return handler(ctx, ev) }, nil
	})
}

// ConsumeTransactionChanges delivers ledger change notifications from queue.
func (c *Client) ConsumeTransactionChanges(ctx context.Context, queue string, handler func(context.Context, *TransactionChangedMessage) error, opts ...ConsumeOption) error {
	return c.consume(ctx, queue, opts, func(body []byte) (func() error, error) {
		msg, err := TransactionChangedFromJSON(body)
		if err != nil {
			return nil, err
		}
		return func() error { return handler(ctx, msg) }, nil
	})
}

// consume acks handled deliveries, drops undecodable ones and requeues
// deliveries whose handler failed. Consecutive failures back off before the
// requeue so a broken downstream is not hammered with redeliveries.
func (c *Client) consume(ctx context.Context, queue string, opts []ConsumeOption, decode func([]byte) (func() error, error)) error {
	var o consumeOptions
	for _, opt := range opts {
		opt(&o)
	}

	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("consume %s: channel not open", queue)
	}

	msgs, err := ch.Consume(
		queue, // queue
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming", "queue", queue)
	if o.onStarted != nil {
		o.onStarted()
	}

	failures := 0

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping message consumption", "queue", queue, "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}

			if err := handleDelivery(ctx, queue, delivery, delivery.Body, decode, &failures); err != nil {
				return err
			}
		}
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) isCircuitOpen() bool {
	switch atomic.LoadInt32(&c.state) {
	case StateOpen:
		c.mu.Lock()
		last := c.lastFailure
		c.mu.Unlock()
		if time.Since(last) > openTimeout {
			atomic.StoreInt32(&c.state, StateHalfOpen)
			return false
		}
		return true
	default:
		return false
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	n := atomic.AddInt64(&c.failureCount, 1)
	c.mu.Lock()
	c.lastFailure = time.Now()
	c.mu.Unlock()
	if n >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

func exponentialBackoff(attempt int) time.Duration {
	if attempt >= 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// acknowledger is the part of amqp091.Delivery the consumer loop needs.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// waitBeforeRequeue pauses before a failed delivery is requeued.
var waitBeforeRequeue = sleepCtx

// handleDelivery settles one delivery. failures counts consecutive handler
// errors and drives the requeue backoff; it only returns ctx errors.
func handleDelivery(ctx context.Context, queue string, d acknowledger, body []byte, decode func([]byte) (func() error, error), failures *int) error {
	handle, err := decode(body)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to unmarshal message", "queue", queue, "error", err)
		_ = d.Nack(false, false)
		return nil
	}

	if err := handle(); err != nil {
		*failures++
		delay := requeueDelay(*failures)
		slog.ErrorContext(ctx, "Failed to handle message",
			"queue", queue,
			"consecutive_failures", *failures,
			"requeue_in", delay,
			"error", err)
		waitErr := waitBeforeRequeue(ctx, delay)
		_ = d.Nack(false, true)
		return waitErr
	}

	*failures = 0
	_ = d.Ack(false)
	return nil
}

// requeueDelay is the pause before requeueing after the n-th consecutive
// handler failure.
func requeueDelay(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	return exponentialBackoff(failures - 1)
}

// sleepCtx waits for d or until ctx ends, returning ctx.Err() in the latter case.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection", "eof", "broken pipe", "closed network"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// GoalPublisher binds a client to the goal event queue.
type GoalPublisher struct {
	client *Client
	queue  string
}

func (c *Client) GoalPublisher(queue string) *GoalPublisher {
	return &GoalPublisher{client: c, queue: queue}
}

func (p *GoalPublisher) PublishGoalEvent(ctx context.Context, ev *GoalEvent) error {
	return p.client.PublishGoalEvent(ctx, p.queue, ev)
}
