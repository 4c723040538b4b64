package rmq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MessageHandler processes one delivered message. A non-nil error leaves
// the message unacknowledged so the broker can redeliver or dead-letter it.
type MessageHandler func(routingKey string, payload []byte) error

// Error is the uniform messaging-layer failure crossing the adapter
// boundary: every handler or publish error is wrapped with the routing key
// it belongs to.
type Error struct {
	RoutingKey string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("rmq: %s: %v", e.RoutingKey, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Binding associates a named queue and a routing-key pattern with a handler.
type Binding struct {
	Queue   string
	Pattern string
	Handler MessageHandler
}

// Router owns the dispatch table. Handlers for a given queue run one at a
// time; separate queues are consumed concurrently by the broker client.
type Router struct {
	client *Client
	logger *zap.Logger

	mu       sync.RWMutex
	bindings []Binding
}

func NewRouter(client *Client, logger *zap.Logger) *Router {
	return &Router{
		client: client,
		logger: logger,
	}
}

// Bind registers a handler for messages matching a routing-key pattern.
// All bindings must be registered before Start: Start subscribes the
// patterns it finds at that point, so a pattern bound later is never
// subscribed on the broker.
func (r *Router) Bind(queue, pattern string, handler MessageHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings = append(r.bindings, Binding{
		Queue:   queue,
		Pattern: pattern,
		Handler: handler,
	})
}

// Publish serializes a payload and sends it to a routing key. Failures are
// surfaced as a messaging-layer error, never swallowed.
func (r *Router) Publish(payload interface{}, routingKey, correlationID string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &Error{RoutingKey: routingKey, Err: fmt.Errorf("failed to serialize payload: %w", err)}
	}

	if err := r.client.Publish(routingKey, body); err != nil {
		return &Error{RoutingKey: routingKey, Err: err}
	}

	r.logger.Debug("Published message",
		zap.String("routing_key", routingKey),
		zap.String("correlation_id", correlationID),
		zap.Int("payload_size", len(body)),
	)
	return nil
}

// Start subscribes every bound pattern and blocks until the context is
// cancelled. It runs on its own worker goroutine, decoupled from the
// process boot sequence.
func (r *Router) Start(ctx context.Context) error {
	r.mu.RLock()
	patterns := make(map[string]struct{}, len(r.bindings))
	for _, b := range r.bindings {
		patterns[b.Pattern] = struct{}{}
	}
	r.mu.RUnlock()

	for pattern := range patterns {
		if err := r.client.Subscribe(pattern, r.onMessage); err != nil {
			return fmt.Errorf("failed to bind pattern %s: %w", pattern, err)
		}
		r.logger.Info("Bound routing-key pattern", zap.String("pattern", pattern))
	}

	<-ctx.Done()
	return nil
}

// Stop removes the broker subscriptions.
func (r *Router) Stop() error {
	r.mu.RLock()
	patterns := make([]string, 0, len(r.bindings))
	seen := make(map[string]struct{}, len(r.bindings))
	for _, b := range r.bindings {
		if _, ok := seen[b.Pattern]; ok {
			continue
		}
		seen[b.Pattern] = struct{}{}
		patterns = append(patterns, b.Pattern)
	}
	r.mu.RUnlock()

	if len(patterns) == 0 {
		return nil
	}
	return r.client.Unsubscribe(patterns...)
}

// onMessage is the delivery entrypoint from the broker client. The message
// is acknowledged iff every matching handler completes; otherwise it stays
// unacked and the bus redelivers per its own policy.
func (r *Router) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if err := r.Dispatch(msg.Topic(), msg.Payload()); err != nil {
		r.logger.Error("Message handling failed, leaving unacked",
			zap.String("routing_key", msg.Topic()),
			zap.Error(err),
		)
		return
	}
	msg.Ack()
}

// Dispatch resolves every binding matching the routing key and invokes its
// handler. Handler errors and panics are caught here and wrapped with the
// message context: they must never propagate into the broker's callback
// driver.
func (r *Router) Dispatch(routingKey string, payload []byte) error {
	r.mu.RLock()
	matched := make([]Binding, 0, 1)
	for _, b := range r.bindings {
		if MatchRoutingKey(b.Pattern, routingKey) {
			matched = append(matched, b)
		}
	}
	r.mu.RUnlock()

	if len(matched) == 0 {
		r.logger.Warn("No handler bound for routing key",
			zap.String("routing_key", routingKey),
		)
		return nil
	}

	for _, b := range matched {
		if err := r.invoke(b, routingKey, payload); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) invoke(b Binding, routingKey string, payload []byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &Error{
				RoutingKey: routingKey,
				Err:        fmt.Errorf("handler %s panicked: %v", b.Queue, rec),
			}
		}
	}()

	if handlerErr := b.Handler(routingKey, payload); handlerErr != nil {
		return &Error{
			RoutingKey: routingKey,
			Err:        fmt.Errorf("handler %s: payload %s: %w", b.Queue, truncate(payload, 512), handlerErr),
		}
	}
	return nil
}

func truncate(payload []byte, max int) string {
	if len(payload) <= max {
		return string(payload)
	}
	return string(payload[:max]) + "..."
}

// MatchRoutingKey reports whether a '/'-separated routing key matches a
// pattern with '+' (exactly one segment) and '#' (rest of the key)
// wildcards.
func MatchRoutingKey(pattern, key string) bool {
	patternSegments := strings.Split(pattern, "/")
	keySegments := strings.Split(key, "/")

	for i, ps := range patternSegments {
		if ps == "#" {
			return true
		}
		if i >= len(keySegments) {
			return false
		}
		if ps != "+" && ps != keySegments[i] {
			return false
		}
	}
	return len(patternSegments) == len(keySegments)
}
