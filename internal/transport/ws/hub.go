// Package ws links peers over websockets. One connection per remote player
// carries protocol frames both ways; the player identity is bound by the
// hello exchange and every inbound frame is attributed to it.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"warfront.io/internal/netstats"
	"warfront.io/internal/protocol"
)

const (
	handshakeTimeout = 5 * time.Second
	writeTimeout     = 5 * time.Second
	readTimeout      = 60 * time.Second
	sendQueue        = 256
)

var (
	ErrNoLink       = errors.New("ws: no link to peer")
	ErrBackpressure = errors.New("ws: peer send queue full")
	ErrClosed       = errors.New("ws: hub closed")
)

// Receiver consumes decoded frames. *lockstep.Session satisfies it.
type Receiver interface {
	ReceiveRemoteMessage(from string, msg protocol.Message)
}

type Options struct {
	LocalPlayer string
	SessionID   string
	// Peers lists the remote players allowed to connect.
	Peers []string

	PingInterval    time.Duration
	MaxMessageBytes int64
	RateLimit       rate.Limit
	RateBurst       int
	ReconnectDelay  time.Duration

	Logger     zerolog.Logger
	Registerer prometheus.Registerer

	// OnLink runs after a handshake completes. redial is true when a dialing
	// loop re-established a link it had before.
	OnLink func(player string, redial bool)
	// OnUnlink runs after a link to player is gone.
	OnUnlink func(player string)
}

type Hub struct {
	opts      Options
	validator *protocol.Validator
	log       zerolog.Logger
	upgrader  websocket.Upgrader
	dialer    *websocket.Dialer
	dropped   *prometheus.CounterVec

	mu     sync.Mutex
	recv   Receiver
	links  map[string]*link
	rtt    map[string]*netstats.RTT
	closed bool
}

type link struct {
	player string
	conn   *websocket.Conn
	out    chan []byte
	lim    *rate.Limiter
	done   chan struct{}
	once   sync.Once
}

func (l *link) close() {
	l.once.Do(func() {
		close(l.done)
		_ = l.conn.Close()
	})
}

func NewHub(opts Options) (*Hub, error) {
	if opts.LocalPlayer == "" {
		return nil, errors.New("ws: local player is required")
	}
	v, err := protocol.NewValidator()
	if err != nil {
		return nil, err
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = time.Second
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 1 << 20
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Inf
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 1
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	h := &Hub{
		opts:      opts,
		validator: v,
		log:       opts.Logger.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		dropped: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "warfront",
			Subsystem: "ws",
			Name:      "dropped_frames_total",
			Help:      "Inbound or outbound frames dropped by the peer link.",
		}, []string{"reason"}),
		links: map[string]*link{},
		rtt:   map[string]*netstats.RTT{},
	}
	for _, p := range opts.Peers {
		h.rtt[p] = netstats.NewRTT()
	}
	return h, nil
}

// SetReceiver binds the consumer of inbound frames. Frames arriving before
// a receiver is set are dropped.
func (h *Hub) SetReceiver(r Receiver) {
	h.mu.Lock()
	h.recv = r
	h.mu.Unlock()
}

// Send queues msg for playerID. It never blocks.
func (h *Hub) Send(playerID string, msg protocol.Message) error {
	b, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	h.mu.Lock()
	l := h.links[playerID]
	h.mu.Unlock()
	if l == nil {
		return fmt.Errorf("%w %q", ErrNoLink, playerID)
	}
	select {
	case l.out <- b:
		return nil
	case <-l.done:
		return fmt.Errorf("%w %q", ErrNoLink, playerID)
	default:
		h.dropped.WithLabelValues("backpressure").Inc()
		return fmt.Errorf("%w: %q", ErrBackpressure, playerID)
	}
}

// RTTStats reports the slowest live peer, which is what bounds the command
// delay.
func (h *Hub) RTTStats() netstats.Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	var worst netstats.Stats
	for _, r := range h.rtt {
		st := r.Stats()
		if st.Samples == 0 {
			continue
		}
		if worst.Samples == 0 || st.AverageRTT+2*st.Jitter > worst.AverageRTT+2*worst.Jitter {
			worst = st
		}
	}
	return worst
}

// PeerRTT returns the smoothed round trip of one peer.
func (h *Hub) PeerRTT(player string) netstats.Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r := h.rtt[player]; r != nil {
		return r.Stats()
	}
	return netstats.Stats{}
}

// Connected lists the players with a live link, sorted.
func (h *Hub) Connected() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.links))
	for p := range h.links {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Close drops every link. Dial loops and handlers return afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	links := make([]*link, 0, len(h.links))
	for _, l := range h.links {
		links = append(links, l)
	}
	h.mu.Unlock()
	for _, l := range links {
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"), time.Now().Add(time.Second))
		l.close()
	}
}

// Handler accepts inbound peer connections.
func (h *Hub) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		hello, err := h.readHello(conn)
		if err != nil {
			h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake rejected")
			closeWith(conn, websocket.ClosePolicyViolation, err.Error())
			_ = conn.Close()
			return
		}
		if err := h.writeHello(conn); err != nil {
			_ = conn.Close()
			return
		}
		h.serve(hello.PlayerID, conn, false)
	}
}

// Dial opens one link to player at url and blocks until it ends.
func (h *Hub) Dial(ctx context.Context, player, url string) error {
	return h.dial(ctx, player, url, false)
}

func (h *Hub) dial(ctx context.Context, player, url string, redial bool) error {
	conn, _, err := h.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	if err := h.writeHello(conn); err != nil {
		_ = conn.Close()
		return err
	}
	hello, err := h.readHello(conn)
	if err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, err.Error())
		_ = conn.Close()
		return err
	}
	if hello.PlayerID != player {
		closeWith(conn, websocket.ClosePolicyViolation, "unexpected player")
		_ = conn.Close()
		return fmt.Errorf("ws: dialed %q but %q answered", player, hello.PlayerID)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	h.serve(player, conn, redial)
	return nil
}

// DialLoop keeps a link to player up until ctx is done or the hub closes.
func (h *Hub) DialLoop(ctx context.Context, player, url string) error {
	linked := false
	for {
		err := h.dial(ctx, player, url, linked)
		if err == nil {
			linked = true
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if h.isClosed() {
			return ErrClosed
		}
		if err != nil {
			h.log.Debug().Err(err).Str("peer", player).Msg("dial failed")
		} else {
			h.log.Info().Str("peer", player).Msg("link lost, redialing")
		}
		t := time.NewTimer(h.opts.ReconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (h *Hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Hub) readHello(conn *websocket.Conn) (protocol.HelloMsg, error) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, b, err := conn.ReadMessage()
	if err != nil {
		return protocol.HelloMsg{}, err
	}
	msg, err := h.validator.Decode(b)
	if err != nil {
		return protocol.HelloMsg{}, fmt.Errorf("%s: %w", protocol.ErrBadMessage, err)
	}
	hello, ok := msg.(protocol.HelloMsg)
	if !ok {
		return protocol.HelloMsg{}, fmt.Errorf("%s: expected hello, got %s", protocol.ErrBadMessage, msg.MessageType())
	}
	if hello.SessionID != h.opts.SessionID {
		return hello, fmt.Errorf("%s: session %q", protocol.ErrUnknownPeer, hello.SessionID)
	}
	if !slices.Contains(h.opts.Peers, hello.PlayerID) {
		return hello, fmt.Errorf("%s: player %q", protocol.ErrUnknownPeer, hello.PlayerID)
	}
	return hello, nil
}

func (h *Hub) writeHello(conn *websocket.Conn) error {
	b, err := protocol.Encode(protocol.HelloMsg{PlayerID: h.opts.LocalPlayer, SessionID: h.opts.SessionID})
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}

// serve registers the link, replacing any older one for the same player, and
// runs it until the connection fails.
func (h *Hub) serve(player string, conn *websocket.Conn, redial bool) {
	l := &link{
		player: player,
		conn:   conn,
		out:    make(chan []byte, sendQueue),
		lim:    rate.NewLimiter(h.opts.RateLimit, h.opts.RateBurst),
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		l.close()
		return
	}
	old := h.links[player]
	h.links[player] = l
	rtt := h.rtt[player]
	if rtt == nil {
		rtt = netstats.NewRTT()
		h.rtt[player] = rtt
	}
	h.mu.Unlock()
	if old != nil {
		h.log.Info().Str("peer", player).Msg("replacing existing link")
		old.close()
	}

	conn.SetReadLimit(h.opts.MaxMessageBytes)
	conn.SetPongHandler(func(data string) error {
		if n, err := strconv.ParseInt(data, 10, 64); err == nil {
			rtt.Observe(time.Since(time.Unix(0, n)))
		}
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	h.log.Info().Str("peer", player).Bool("redial", redial).Msg("link up")
	if h.opts.OnLink != nil {
		h.opts.OnLink(player, redial)
	}

	go h.writeLoop(l)
	h.readLoop(l)
	l.close()

	h.mu.Lock()
	current := h.links[player] == l
	if current {
		delete(h.links, player)
	}
	h.mu.Unlock()
	if current {
		h.log.Info().Str("peer", player).Msg("link down")
		if h.opts.OnUnlink != nil {
			h.opts.OnUnlink(player)
		}
	}
}

func (h *Hub) writeLoop(l *link) {
	ping := time.NewTicker(h.opts.PingInterval)
	defer ping.Stop()
	for {
		select {
		case <-l.done:
			return
		case b := <-l.out:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := l.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				l.close()
				return
			}
		case now := <-ping.C:
			data := []byte(strconv.FormatInt(now.UnixNano(), 10))
			if err := l.conn.WriteControl(websocket.PingMessage, data, time.Now().Add(writeTimeout)); err != nil {
				l.close()
				return
			}
		}
	}
}

func (h *Hub) readLoop(l *link) {
	for {
		_ = l.conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, b, err := l.conn.ReadMessage()
		if err != nil {
			return
		}
		if !l.lim.Allow() {
			h.dropped.WithLabelValues("rate_limit").Inc()
			h.log.Warn().Str("peer", l.player).Str("code", protocol.ErrRateLimit).Msg("frame dropped")
			continue
		}
		msg, err := h.validator.Decode(b)
		if err != nil {
			h.dropped.WithLabelValues("bad_message").Inc()
			h.log.Warn().Err(err).Str("peer", l.player).Str("code", protocol.ErrBadMessage).Msg("frame dropped")
			continue
		}
		if _, ok := msg.(protocol.HelloMsg); ok {
			continue
		}
		h.mu.Lock()
		recv := h.recv
		h.mu.Unlock()
		if recv != nil {
			recv.ReceiveRemoteMessage(l.player, msg)
		}
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	if len(text) > 120 {
		text = text[:120]
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}
