package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"skiff/internal/logging"
	"skiff/internal/nostr"
	"skiff/internal/services"
)

type okResult struct {
	accepted bool
	reason   string
}

// Client is a connection to a single relay. It runs one reader goroutine
// that dispatches OK acknowledgements to pending publishes and EVENT frames
// to subscriptions.
type Client struct {
	url    string
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu        sync.Mutex
	okWaiters map[string]chan okResult
	subs      map[string]*Subscription

	done      chan struct{}
	closeOnce sync.Once
}

// Filter is a NIP-01 subscription filter. Only the fields the pipeline needs
// are modeled.
type Filter struct {
	Kinds   []int    `json:"kinds,omitempty"`
	Authors []string `json:"authors,omitempty"`
	PTags   []string `json:"#p,omitempty"`
	Since   int64    `json:"since,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// Subscription is a live REQ subscription. Events arrive on Events until the
// subscription is closed; the channel itself is closed only when the client
// tears down, so consumers that outlive a subscription must also select on
// the client's Done channel.
type Subscription struct {
	ID     string
	Events chan *nostr.Event

	client *Client
	once   sync.Once
}

// Dial connects to a relay endpoint and starts the reader.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrPublish, "relay", "dial", url, err)
	}
	client := &Client{
		url:       url,
		conn:      conn,
		logger:    logger.With(logging.String(logging.FieldRelay, url)),
		okWaiters: make(map[string]chan okResult),
		subs:      make(map[string]*Subscription),
		done:      make(chan struct{}),
	}
	go client.readLoop()
	return client, nil
}

// URL returns the relay endpoint this client is connected to.
func (c *Client) URL() string {
	return c.url
}

// Done is closed when the connection is torn down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close tears down the connection and wakes all pending operations.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// Publish sends an EVENT frame and waits for the relay's OK acknowledgement.
func (c *Client) Publish(ctx context.Context, event *nostr.Event) error {
	if event == nil || event.ID == "" {
		return services.Wrap(services.ErrValidation, "relay", "publish", "event must be signed", nil)
	}

	ch := make(chan okResult, 1)
	c.mu.Lock()
	c.okWaiters[event.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.okWaiters, event.ID)
		c.mu.Unlock()
	}()

	if err := c.writeFrame("EVENT", event); err != nil {
		return services.Wrap(services.ErrPublish, "relay", "publish", "write event frame", err)
	}

	select {
	case res := <-ch:
		if !res.accepted {
			return services.Wrap(services.ErrPublish, "relay", "publish", "relay rejected event: "+res.reason, nil)
		}
		return nil
	case <-c.done:
		return services.Wrap(services.ErrChannelClosed, "relay", "publish", "connection closed while awaiting ack", nil)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe opens a REQ subscription for the given filter.
func (c *Client) Subscribe(filter Filter) (*Subscription, error) {
	sub := &Subscription{
		ID:     uuid.NewString(),
		Events: make(chan *nostr.Event, 16),
		client: c,
	}
	c.mu.Lock()
	c.subs[sub.ID] = sub
	c.mu.Unlock()

	if err := c.writeFrame("REQ", sub.ID, filter); err != nil {
		c.removeSub(sub.ID)
		return nil, services.Wrap(services.ErrConnection, "relay", "subscribe", "write req frame", err)
	}
	return sub, nil
}

// Close terminates the subscription and notifies the relay. The Events
// channel stays open: only the reader goroutine may close it, otherwise a
// concurrent dispatch could send on a closed channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.client.removeSub(s.ID)
		_ = s.client.writeFrame("CLOSE", s.ID)
	})
}

func (c *Client) removeSub(id string) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

func (c *Client) writeFrame(parts ...any) error {
	payload, err := json.Marshal(parts)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) readLoop() {
	defer func() {
		_ = c.Close()
		c.mu.Lock()
		for id, ch := range c.okWaiters {
			delete(c.okWaiters, id)
			close(ch)
		}
		for id, sub := range c.subs {
			delete(c.subs, id)
			close(sub.Events)
		}
		c.mu.Unlock()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Debug("relay connection closed", logging.Error(err))
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var frame []json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil || len(frame) < 2 {
		c.logger.Debug("discarding malformed relay frame")
		return
	}
	var label string
	if err := json.Unmarshal(frame[0], &label); err != nil {
		return
	}

	switch label {
	case "OK":
		if len(frame) < 3 {
			return
		}
		var (
			eventID  string
			accepted bool
			reason   string
		)
		if err := json.Unmarshal(frame[1], &eventID); err != nil {
			return
		}
		if err := json.Unmarshal(frame[2], &accepted); err != nil {
			return
		}
		if len(frame) > 3 {
			_ = json.Unmarshal(frame[3], &reason)
		}
		c.mu.Lock()
		ch, ok := c.okWaiters[eventID]
		c.mu.Unlock()
		if ok {
			select {
			case ch <- okResult{accepted: accepted, reason: reason}:
			default:
			}
		}
	case "EVENT":
		if len(frame) < 3 {
			return
		}
		var subID string
		if err := json.Unmarshal(frame[1], &subID); err != nil {
			return
		}
		var event nostr.Event
		if err := json.Unmarshal(frame[2], &event); err != nil {
			c.logger.Debug("discarding undecodable event frame")
			return
		}
		c.mu.Lock()
		sub, ok := c.subs[subID]
		c.mu.Unlock()
		if ok {
			select {
			case sub.Events <- &event:
			default:
				c.logger.Warn("subscription buffer full, dropping event",
					logging.String(logging.FieldEventID, event.ID))
			}
		}
	case "NOTICE":
		var notice string
		_ = json.Unmarshal(frame[1], &notice)
		c.logger.Debug("relay notice", logging.String("notice", notice))
	case "EOSE", "CLOSED", "AUTH":
		// Not needed for publish/ack and live subscriptions.
	}
}
