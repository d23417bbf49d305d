package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/mondzorgtools/dictaat/internal/observe"
	"github.com/mondzorgtools/dictaat/internal/pairing"
)

// Registry errors.
var (
	// ErrChannelFull: the channel already holds a device of the same type.
	ErrChannelFull = errors.New("channel: channel full")

	// ErrInvalidChannel: no live pairing record backs the channel id.
	ErrInvalidChannel = errors.New("channel: invalid channel")

	// ErrUnknownClient: the client id is not registered.
	ErrUnknownClient = errors.New("channel: unknown client")
)

// DeviceType distinguishes the two channel roles.
type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
)

// outboundQueueSize bounds the per-connection send queue. A peer that
// cannot drain this many frames is considered stalled and loses frames
// rather than blocking the sender.
const outboundQueueSize = 256

// Outbound is one frame queued for delivery to a client: either a JSON
// envelope or a binary audio frame.
type Outbound struct {
	Env    *Envelope
	Binary []byte
}

// Client is one WebSocket connection. Created by [NewClient] when the
// connection is accepted; Device and SessionID are filled in by the router
// on identification, before the client enters the registry. The server's
// writer loop drains [Client.Outbound].
type Client struct {
	ID        string
	Device    DeviceType
	SessionID string

	mu     sync.Mutex
	out    chan Outbound
	closed bool
}

// NewClient returns an unidentified client with a fresh id and an empty
// delivery queue.
func NewClient() *Client {
	return &Client{
		ID:  uuid.NewString(),
		out: make(chan Outbound, outboundQueueSize),
	}
}

// Outbound returns the client's delivery queue. Closed on unregister.
func (c *Client) Outbound() <-chan Outbound { return c.out }

// send enqueues a frame without blocking. Frames to a closed or stalled
// client are dropped, not retried.
func (c *Client) send(o Outbound) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.out <- o:
		return true
	default:
		return false
	}
}

// close closes the delivery queue exactly once.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
}

// Pairings validates channel ids against live pairing records. Satisfied by
// [pairing.Store].
type Pairings interface {
	Lookup(channelID string) (pairing.Record, bool)
}

// channelEntry tracks the at-most-two members of one channel.
type channelEntry struct {
	desktop *Client
	mobile  *Client
}

func (e *channelEntry) slot(d DeviceType) **Client {
	if d == DeviceDesktop {
		return &e.desktop
	}
	return &e.mobile
}

func (e *channelEntry) empty() bool { return e.desktop == nil && e.mobile == nil }

// Registry tracks registered connections and channel membership. All methods
// are safe for concurrent use; the lock covers only membership bookkeeping,
// never frame delivery.
type Registry struct {
	pairs   Pairings
	metrics *observe.Metrics

	mu       sync.Mutex
	clients  map[string]*Client
	byClient map[string]string // client id → channel id
	channels map[string]*channelEntry
}

// NewRegistry returns an empty registry validating joins against pairs.
func NewRegistry(pairs Pairings, metrics *observe.Metrics) *Registry {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Registry{
		pairs:    pairs,
		metrics:  metrics,
		clients:  make(map[string]*Client),
		byClient: make(map[string]string),
		channels: make(map[string]*channelEntry),
	}
}

// Add registers an identified client.
func (r *Registry) Add(c *Client) {
	r.mu.Lock()
	r.clients[c.ID] = c
	r.mu.Unlock()
	r.metrics.ActiveConnections.Add(context.Background(), 1)
}

// Join places clientID into channelID.
//
// Fails with [ErrInvalidChannel] when no live pairing record backs the
// channel and with [ErrChannelFull] when the channel already holds a device
// of the same type.
func (r *Registry) Join(clientID, channelID string) error {
	if _, ok := r.pairs.Lookup(channelID); !ok {
		return ErrInvalidChannel
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[clientID]
	if !ok {
		return ErrUnknownClient
	}
	if cur, joined := r.byClient[clientID]; joined && cur != channelID {
		return ErrInvalidChannel
	}

	e := r.channels[channelID]
	if e == nil {
		e = &channelEntry{}
	}
	slot := e.slot(c.Device)
	if *slot != nil && (*slot).ID != clientID {
		return ErrChannelFull
	}
	if r.channels[channelID] == nil {
		r.channels[channelID] = e
		r.metrics.ActiveChannels.Add(context.Background(), 1)
	}
	*slot = c
	r.byClient[clientID] = channelID
	return nil
}

// Peers returns the other members of clientID's channel. Empty when the
// client is unknown, unjoined, or alone.
func (r *Registry) Peers(clientID string) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peersLocked(clientID)
}

// Members returns every member of clientID's channel, including the client
// itself.
func (r *Registry) Members(clientID string) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	channelID, ok := r.byClient[clientID]
	if !ok {
		return nil
	}
	e := r.channels[channelID]
	if e == nil {
		return nil
	}
	var out []*Client
	if e.desktop != nil {
		out = append(out, e.desktop)
	}
	if e.mobile != nil {
		out = append(out, e.mobile)
	}
	return out
}

// Channel returns clientID's channel id, if joined.
func (r *Registry) Channel(clientID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byClient[clientID]
	return id, ok
}

// HasChannel reports whether channelID currently has members.
func (r *Registry) HasChannel(channelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channels[channelID] != nil
}

// Unregister removes clientID, vacates its channel slot, and closes its
// delivery queue. The remaining peers are returned so the caller can emit
// the disconnect notification. Idempotent.
func (r *Registry) Unregister(clientID string) []*Client {
	c, peers := r.detach(clientID)
	if c == nil {
		return nil
	}
	c.close()
	r.metrics.ActiveConnections.Add(context.Background(), -1)
	return peers
}

// Remove detaches clientID without closing its delivery queue. Used when a
// partially completed admission is unwound and the connection stays open.
func (r *Registry) Remove(clientID string) {
	if c, _ := r.detach(clientID); c != nil {
		r.metrics.ActiveConnections.Add(context.Background(), -1)
	}
}

func (r *Registry) detach(clientID string) (*Client, []*Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[clientID]
	if !ok {
		return nil, nil
	}
	peers := r.peersLocked(clientID)
	delete(r.clients, clientID)

	if channelID, joined := r.byClient[clientID]; joined {
		delete(r.byClient, clientID)
		if e := r.channels[channelID]; e != nil {
			if *e.slot(c.Device) == c {
				*e.slot(c.Device) = nil
			}
			if e.empty() {
				delete(r.channels, channelID)
				r.metrics.ActiveChannels.Add(context.Background(), -1)
			}
		}
	}
	return c, peers
}

func (r *Registry) peersLocked(clientID string) []*Client {
	channelID, ok := r.byClient[clientID]
	if !ok {
		return nil
	}
	e := r.channels[channelID]
	if e == nil {
		return nil
	}
	var out []*Client
	for _, m := range []*Client{e.desktop, e.mobile} {
		if m != nil && m.ID != clientID {
			out = append(out, m)
		}
	}
	return out
}
