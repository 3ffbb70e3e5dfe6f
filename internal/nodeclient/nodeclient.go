// Package nodeclient implements the per-node client contract the
// coordinator depends on (spec.md §6.2): dialing a single Redis Cluster
// node, issuing CLUSTER SLOTS and arbitrary commands asynchronously, and
// reporting connection-status events (up/down/queue-full/queue-ok) to an
// observer callback.
//
// The wire protocol itself is delegated to github.com/redis/go-redis/v9;
// this package adds the async dispatch, backpressure tracking and status
// supervision the coordinator's contract requires on top of it.
package nodeclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"clustercoord/internal/addr"
)

// DownReason classifies why a connection_down status fired. Only
// ReasonSocketClosed is treated as benign by the coordinator (spec.md §6.2,
// §9 open question): it must not remove the address from the up set.
type DownReason string

const (
	ReasonSocketClosed  DownReason = "socket_closed"
	ReasonTCPClosed     DownReason = "tcp_closed"
	ReasonClientStopped DownReason = "client_stopped"
)

// EventKind enumerates the connection_status message shapes from spec.md §6.2.
type EventKind int

const (
	EventUp EventKind = iota
	EventDown
	EventQueueFull
	EventQueueOK
)

func (k EventKind) String() string {
	switch k {
	case EventUp:
		return "connection_up"
	case EventDown:
		return "connection_down"
	case EventQueueFull:
		return "queue_full"
	case EventQueueOK:
		return "queue_ok"
	default:
		return "unknown"
	}
}

// StatusEvent is a single connection_status message.
type StatusEvent struct {
	Kind   EventKind
	Reason DownReason // only meaningful when Kind == EventDown
}

// StatusFunc receives status events for one node, in emission order.
type StatusFunc func(StatusEvent)

// Result is what an asynchronous command callback receives.
type Result struct {
	Reply     interface{}
	RedisErr  error // a reply from Redis itself, e.g. MOVED/ASK/WRONGTYPE
	Transport error // dial/IO/queue-full failure; RedisErr is nil in this case
}

// Options configure a Client. Zero values fall back to sane defaults.
type Options struct {
	Password     string
	TLS          bool
	DialTimeout  time.Duration
	PingInterval time.Duration
	// MaxInFlight sizes the dispatch token bucket (burst, and refill per
	// second) before queue_full fires; 0 means a built-in default of 1000.
	MaxInFlight int
	// UseClusterID, when true, asks the coordinator's caller to key nodes by
	// cluster node ID rather than address (unused by this module's own
	// reconciliation, which is address-keyed per spec.md, but carried
	// through per the external contract).
	UseClusterID bool
}

func (o Options) withDefaults() Options {
	if o.DialTimeout == 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.PingInterval == 0 {
		o.PingInterval = 3 * time.Second
	}
	if o.MaxInFlight == 0 {
		o.MaxInFlight = 1000
	}
	return o
}

// Client is a single per-node connection plus its status supervisor.
type Client struct {
	addr addr.Address
	opts Options
	rdb  *redis.Client

	onStatus StatusFunc

	inFlight    atomic.Int64
	queueFull   atomic.Bool
	limiter     *rate.Limiter
	wasUp       atomic.Bool
	closed      atomic.Bool
	stopCh      chan struct{}
	wg          sync.WaitGroup
	supervisorM sync.Mutex
}

// Start dials a node and begins its background status supervisor. onStatus
// is invoked for every connection_status message in emission order; it must
// not block for long. It runs on the supervisor goroutine for ping-driven
// up/down edges, and on the caller's goroutine for the initial
// connection_up from Start, queue_full/queue_ok from CommandAsync and the
// final connection_down from Stop.
func Start(ctx context.Context, a addr.Address, opts Options, onStatus StatusFunc) (*Client, error) {
	opts = opts.withDefaults()

	rdb := redis.NewClient(&redis.Options{
		Addr:        a.String(),
		Password:    opts.Password,
		DialTimeout: opts.DialTimeout,
	})

	dialCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := rdb.Ping(dialCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("nodeclient: dial %s: %w", a, err)
	}

	c := &Client{
		addr:     a,
		opts:     opts,
		rdb:      rdb,
		onStatus: onStatus,
		// One burst token per in-flight slot, refilled at a modest steady
		// rate: this is what turns a backlog of async dispatches into an
		// edge-triggered queue_full/queue_ok pair instead of one-shot
		// rejections.
		limiter: rate.NewLimiter(rate.Limit(opts.MaxInFlight), opts.MaxInFlight),
		stopCh:  make(chan struct{}),
	}
	c.wasUp.Store(true)
	c.emit(StatusEvent{Kind: EventUp})

	c.wg.Add(1)
	go c.superviseLoop()

	return c, nil
}

// Addr returns the node's address.
func (c *Client) Addr() addr.Address { return c.addr }

func (c *Client) emit(ev StatusEvent) {
	if c.onStatus != nil {
		c.onStatus(ev)
	}
}

// superviseLoop periodically pings the node and emits connection_up/down
// edges as reachability changes.
func (c *Client) superviseLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.opts.PingInterval)
			err := c.rdb.Ping(ctx).Err()
			cancel()

			up := err == nil
			if up && c.wasUp.CompareAndSwap(false, true) {
				c.emit(StatusEvent{Kind: EventUp})
			} else if !up && c.wasUp.CompareAndSwap(true, false) {
				c.emit(StatusEvent{Kind: EventDown, Reason: classifyPingError(err)})
			}
		}
	}
}

// classifyPingError maps a failed PING to a DownReason. Only redis.ErrClosed
// (this client's own connection pool already closed) is reported as
// ReasonSocketClosed; every other failure, including a peer that closed its
// socket or refused a reconnect, is reported as ReasonTCPClosed.
func classifyPingError(err error) DownReason {
	if err == nil {
		return ReasonTCPClosed
	}
	if errors.Is(err, redis.ErrClosed) {
		return ReasonSocketClosed
	}
	return ReasonTCPClosed
}

// CommandAsync dispatches cmd on a separate goroutine and invokes callback
// with the outcome. It never blocks the caller. Dispatch is gated by a token
// bucket holding MaxInFlight tokens and refilled at MaxInFlight tokens per
// second; when no token is available it emits queue_full and fails the
// command with a transport error instead of queueing it. The number of
// commands still outstanding is not compared against MaxInFlight.
func (c *Client) CommandAsync(cmd string, args []interface{}, callback func(Result)) {
	if c.closed.Load() {
		callback(Result{Transport: errors.New("nodeclient: client stopped")})
		return
	}

	if !c.limiter.Allow() {
		if !c.queueFull.Swap(true) {
			c.emit(StatusEvent{Kind: EventQueueFull})
		}
		callback(Result{Transport: fmt.Errorf("nodeclient: queue full for %s", c.addr)})
		return
	}
	if c.queueFull.Load() {
		c.queueFull.Store(false)
		c.emit(StatusEvent{Kind: EventQueueOK})
	}

	c.inFlight.Add(1)
	go func() {
		defer c.inFlight.Add(-1)

		full := make([]interface{}, 0, len(args)+1)
		full = append(full, cmd)
		full = append(full, args...)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		reply, err := c.rdb.Do(ctx, full...).Result()
		if err == nil {
			callback(Result{Reply: reply})
			return
		}
		if isRedisReplyError(err) {
			callback(Result{RedisErr: err})
			return
		}
		callback(Result{Transport: err})
	}()
}

// isRedisReplyError reports whether err originated from a reply Redis
// itself sent (including MOVED/ASK/nil), as opposed to a transport failure.
func isRedisReplyError(err error) bool {
	if errors.Is(err, redis.Nil) {
		return true
	}
	var redisErr redis.Error
	return errors.As(err, &redisErr)
}

// ClusterSlots issues CLUSTER SLOTS and parses the raw reply into
// redis.ClusterSlot values, letting the coordinator's reconciliation layer
// own the conversion into its own slotmap.SlotMap type.
func (c *Client) ClusterSlots(ctx context.Context) ([]redis.ClusterSlot, error) {
	return c.rdb.ClusterSlots(ctx).Result()
}

// Stop closes the underlying connection and halts the status supervisor.
func (c *Client) Stop() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.stopCh)
	c.wg.Wait()
	c.emit(StatusEvent{Kind: EventDown, Reason: ReasonClientStopped})
	_ = c.rdb.Close()
}
