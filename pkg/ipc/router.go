package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pipeguard/pipeguard/internal/logger"
	"github.com/pipeguard/pipeguard/pkg/types"
)

// DefaultMessageTimeout bounds a single MessageHandler call
const DefaultMessageTimeout = 30 * time.Second

// Message is the JSON envelope exchanged by a Router and Client.Call
type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// MessageHandler answers one request message. The returned value is encoded
// as the reply payload.
type MessageHandler interface {
	HandleMessage(ctx context.Context, conn *Connection, msg *Message) (any, error)
}

// MessageHandlerFunc is a function adapter for MessageHandler
type MessageHandlerFunc func(ctx context.Context, conn *Connection, msg *Message) (any, error)

// HandleMessage implements MessageHandler
func (f MessageHandlerFunc) HandleMessage(ctx context.Context, conn *Connection, msg *Message) (any, error) {
	return f(ctx, conn, msg)
}

// Router is a Handler that reads request envelopes from a connection and
// dispatches them by type. Every request gets exactly one reply carrying
// the request id.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]MessageHandler
	timeout  time.Duration
	logger   *logger.Logger
	stats    RouterStats
}

// NewRouter creates a router with no handlers. A zero timeout selects
// DefaultMessageTimeout.
func NewRouter(timeout time.Duration, log *logger.Logger) *Router {
	if timeout <= 0 {
		timeout = DefaultMessageTimeout
	}
	return &Router{
		handlers: make(map[string]MessageHandler),
		timeout:  timeout,
		logger:   logger.OrDefault(log).With("component", "ipc_router"),
	}
}

// RegisterHandler registers a handler for a message type
func (r *Router) RegisterHandler(msgType string, handler MessageHandler) error {
	if msgType == "" {
		return types.NewError(types.ErrCodeInvalidArgument, "message type cannot be empty")
	}
	if handler == nil {
		return types.NewError(types.ErrCodeInvalidArgument, "handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[msgType]; !exists {
		r.stats.ActiveHandlers++
	}
	r.handlers[msgType] = handler

	r.logger.Debug("Handler registered", "message_type", msgType)
	return nil
}

// UnregisterHandler removes the handler for a message type
func (r *Router) UnregisterHandler(msgType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[msgType]; !exists {
		return types.NewError(types.ErrCodeNotFound, fmt.Sprintf("handler not found for type: %s", msgType))
	}
	delete(r.handlers, msgType)
	r.stats.ActiveHandlers--

	r.logger.Debug("Handler unregistered", "message_type", msgType)
	return nil
}

// ServeConn implements Handler. It returns nil when the peer disconnects
// and an error when the stream can no longer be trusted.
func (r *Router) ServeConn(ctx context.Context, conn *Connection) error {
	for {
		var msg Message
		if err := conn.ReceiveJSON(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		r.count(func(s *RouterStats) { s.MessagesReceived++ })

		reply := r.dispatch(ctx, conn, &msg)
		if err := conn.SendJSON(reply); err != nil {
			return err
		}
	}
}

func (r *Router) dispatch(ctx context.Context, conn *Connection, msg *Message) *Message {
	reply := &Message{ID: msg.ID, Type: msg.Type}

	if msg.Type == "" {
		r.count(func(s *RouterStats) { s.MessagesFailed++ })
		reply.Error = "message type is required"
		return reply
	}

	r.mu.RLock()
	handler, exists := r.handlers[msg.Type]
	r.mu.RUnlock()
	if !exists {
		r.logger.Warn("No handler for message type",
			"message_id", msg.ID,
			"type", msg.Type,
			"conn_id", conn.ID())
		r.count(func(s *RouterStats) { s.MessagesUnrouted++ })
		reply.Error = fmt.Sprintf("no handler for message type: %s", msg.Type)
		return reply
	}

	handlerCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := handler.HandleMessage(handlerCtx, conn, msg)
	if err == nil && result != nil {
		reply.Payload, err = json.Marshal(result)
	}
	if err != nil {
		r.logger.Error("Handler failed",
			"message_id", msg.ID,
			"type", msg.Type,
			"conn_id", conn.ID(),
			"error", err)
		r.count(func(s *RouterStats) { s.MessagesFailed++ })
		reply.Payload = nil
		reply.Error = err.Error()
		return reply
	}

	r.logger.Debug("Message handled", "message_id", msg.ID, "type", msg.Type, "conn_id", conn.ID())
	return reply
}

func (r *Router) count(update func(*RouterStats)) {
	r.mu.Lock()
	update(&r.stats)
	r.mu.Unlock()
}

// Stats returns router statistics
func (r *Router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

// String returns a string representation of the router
func (r *Router) String() string {
	return r.Stats().String()
}

// RouterStats represents router statistics
type RouterStats struct {
	MessagesReceived int64 `json:"messages_received"`
	MessagesFailed   int64 `json:"messages_failed"`
	MessagesUnrouted int64 `json:"messages_unrouted"`
	ActiveHandlers   int   `json:"active_handlers"`
}

// String returns a string representation of the stats
func (s RouterStats) String() string {
	return fmt.Sprintf("RouterStats{Received: %d, Failed: %d, Unrouted: %d, Handlers: %d}",
		s.MessagesReceived, s.MessagesFailed, s.MessagesUnrouted, s.ActiveHandlers)
}

// Call sends a request envelope of type msgType carrying req and decodes the
// reply payload into resp, which may be nil. A reply carrying an error is
// returned as a HANDLER_FAILED error.
func (c *Client) Call(msgType string, req, resp any) error {
	msg := Message{ID: uuid.NewString(), Type: msgType}
	if req != nil {
		payload, err := json.Marshal(req)
		if err != nil {
			return types.WrapError(types.ErrCodeData, "JSON serialization failed", err)
		}
		msg.Payload = payload
	}
	if err := c.SendJSON(msg); err != nil {
		return err
	}

	var reply Message
	if err := c.ReceiveJSON(&reply); err != nil {
		return err
	}
	if reply.ID != msg.ID {
		return types.NewError(types.ErrCodeData,
			fmt.Sprintf("reply id %q does not match request id %q", reply.ID, msg.ID))
	}
	if reply.Error != "" {
		return types.NewError(types.ErrCodeHandlerFailed, reply.Error)
	}
	if resp != nil && len(reply.Payload) > 0 {
		if err := json.Unmarshal(reply.Payload, resp); err != nil {
			return types.WrapError(types.ErrCodeData, "JSON deserialization failed", err)
		}
	}
	return nil
}
