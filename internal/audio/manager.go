// Package audio maintains websocket connections to Lavalink audio nodes.
package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/latoulicious/spoticord/internal/config"
	"github.com/latoulicious/spoticord/pkg/logging"
	"github.com/latoulicious/spoticord/pkg/metrics"
)

var (
	ErrNoNodes         = errors.New("no audio nodes configured")
	ErrNoConnectedNode = errors.New("no audio node connected")
	ErrManagerClosed   = errors.New("audio manager closed")
	ErrMissingIdentity = errors.New("audio manager needs the bot user id")
)

const (
	DefaultClientName = "Spoticord"
	DefaultReconnect  = 5 * time.Second

	errorBacklog = 16
)

// Options configures a Manager.
type Options struct {
	Nodes          []config.NodeConfig
	UserID         string // bot user id, sent as User-Id
	Shards         int
	ClientName     string
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer
}

// Node is one Lavalink server.
type Node struct {
	config config.NodeConfig

	mu    sync.RWMutex
	conn  *websocket.Conn
	stats Stats

	writeMu sync.Mutex
}

func (n *Node) Address() string { return n.config.Address() }

// Connected reports whether the node has a live socket.
func (n *Node) Connected() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.conn != nil
}

// Stats returns the last stats frame received from the node.
func (n *Node) Stats() Stats {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.stats
}

func (n *Node) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	n.mu.RLock()
	conn := n.conn
	n.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("%w: %s", ErrNoConnectedNode, n.Address())
	}

	n.writeMu.Lock()
	defer n.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Manager owns the node connections. Ready is closed when the first node
// connects; every connection failure is published on Errors.
type Manager struct {
	opts  Options
	log   logging.Logger
	nodes []*Node

	readyOnce sync.Once
	ready     chan struct{}
	errs      chan error

	mu         sync.RWMutex
	guildNodes map[string]*Node
	onEvent    func(Event)

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}
}

// NewManager validates opts; no connection is made until Connect.
func NewManager(opts Options, log logging.Logger) (*Manager, error) {
	if len(opts.Nodes) == 0 {
		return nil, ErrNoNodes
	}
	if opts.UserID == "" {
		return nil, ErrMissingIdentity
	}
	if opts.Shards < 1 {
		opts.Shards = 1
	}
	if opts.ClientName == "" {
		opts.ClientName = DefaultClientName
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnect
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}

	m := &Manager{
		opts:       opts,
		log:        log.With(logging.Component("audio")),
		ready:      make(chan struct{}),
		errs:       make(chan error, errorBacklog),
		guildNodes: make(map[string]*Node),
		closed:     make(chan struct{}),
	}
	for _, nc := range opts.Nodes {
		m.nodes = append(m.nodes, &Node{config: nc})
	}
	return m, nil
}

// Ready is closed once any node has connected.
func (m *Manager) Ready() <-chan struct{} { return m.ready }

// Errors delivers node dial and read failures.
func (m *Manager) Errors() <-chan error { return m.errs }

// Nodes returns the configured nodes.
func (m *Manager) Nodes() []*Node { return append([]*Node(nil), m.nodes...) }

// OnEvent sets the callback for inbound player frames.
func (m *Manager) OnEvent(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvent = fn
}

// Connect starts one connection loop per node and returns immediately.
func (m *Manager) Connect(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	for _, node := range m.nodes {
		m.wg.Add(1)
		go m.run(ctx, node)
	}
}

func (m *Manager) header() http.Header {
	h := http.Header{}
	h.Set("User-Id", m.opts.UserID)
	h.Set("Num-Shards", strconv.Itoa(m.opts.Shards))
	h.Set("Client-Name", m.opts.ClientName)
	return h
}

// run keeps node connected until ctx ends, waiting ReconnectDelay between attempts.
func (m *Manager) run(ctx context.Context, node *Node) {
	defer m.wg.Done()
	log := m.log.With(logging.String("node", node.Address()))

	for {
		err := m.session(ctx, node, log)
		if ctx.Err() != nil {
			return
		}
		m.publish(fmt.Errorf("audio node %s: %w", node.Address(), err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.opts.ReconnectDelay):
			log.Info("reconnecting to audio node")
		}
	}
}

// session dials node and reads from it until the connection fails.
func (m *Manager) session(ctx context.Context, node *Node, log logging.Logger) error {
	header := m.header()
	header.Set("Authorization", node.config.Password)

	conn, _, err := m.opts.Dialer.DialContext(ctx, "ws://"+node.Address(), header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	node.mu.Lock()
	node.conn = conn
	node.mu.Unlock()
	metrics.AudioNodesConnected.Inc()
	log.Info("audio node connected")

	m.readyOnce.Do(func() { close(m.ready) })

	// Unblock ReadMessage on shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	defer func() {
		node.mu.Lock()
		node.conn = nil
		node.mu.Unlock()
		conn.Close()
		metrics.AudioNodesConnected.Dec()
		m.releaseNode(node)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		m.handle(node, data, log)
	}
}

func (m *Manager) handle(node *Node, data []byte, log logging.Logger) {
	var frame inbound
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Warn("dropping malformed frame", logging.Error(err))
		return
	}

	switch frame.Op {
	case "stats":
		var stats Stats
		if err := json.Unmarshal(data, &stats); err != nil {
			log.Warn("dropping malformed stats frame", logging.Error(err))
			return
		}
		node.mu.Lock()
		node.stats = stats
		node.mu.Unlock()
	case "playerUpdate", "event":
		m.mu.RLock()
		fn := m.onEvent
		m.mu.RUnlock()
		if fn != nil {
			fn(Event{Op: frame.Op, Type: frame.Type, GuildID: frame.GuildID, Raw: data})
		}
	default:
		log.Debug("ignoring frame", logging.String("op", frame.Op))
	}
}

func (m *Manager) publish(err error) {
	metrics.AudioNodeErrors.Inc()
	select {
	case <-m.closed:
		return
	default:
	}
	select {
	case m.errs <- err:
	default:
		m.log.Warn("audio error backlog full, dropping", logging.Error(err))
	}
}

// Send writes payload to the node that serves guildID. A guild stays on its
// node while the node is connected; otherwise the least loaded node is picked.
func (m *Manager) Send(guildID string, payload any) error {
	select {
	case <-m.closed:
		return ErrManagerClosed
	default:
	}

	node, err := m.nodeFor(guildID)
	if err != nil {
		return err
	}
	return node.write(payload)
}

func (m *Manager) nodeFor(guildID string) (*Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if node, ok := m.guildNodes[guildID]; ok && node.Connected() {
		return node, nil
	}

	var best *Node
	for _, node := range m.nodes {
		if !node.Connected() {
			continue
		}
		if best == nil || node.Stats().Players < best.Stats().Players {
			best = node
		}
	}
	if best == nil {
		return nil, ErrNoConnectedNode
	}
	m.guildNodes[guildID] = best
	return best, nil
}

// Release forgets the node assignment of guildID.
func (m *Manager) Release(guildID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.guildNodes, guildID)
}

func (m *Manager) releaseNode(node *Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for guildID, n := range m.guildNodes {
		if n == node {
			delete(m.guildNodes, guildID)
		}
	}
}

// Close stops every connection loop and waits for them to exit.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		close(m.closed)
		if m.cancel != nil {
			m.cancel()
		}
	})
	m.wg.Wait()
	return nil
}
