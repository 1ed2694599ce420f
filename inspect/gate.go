package inspect

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julywind168/looper"
)

const (
	writeWait      = 5 * time.Second
	peerSendBuffer = 64
)

var upgrader = websocket.Upgrader{}

// Frame is one message on the /ws stream.
type Frame struct {
	Seq      uint64        `json:"seq"`
	Kind     string        `json:"kind"`
	At       time.Time     `json:"at"`
	Entry    *looper.Entry `json:"entry,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Dropped  int           `json:"dropped,omitempty"`
}

// KindResync tells a reconnecting client that events it asked for were
// evicted from the replay buffer and it should reload /queue.
const KindResync = "resync"

type wsPeer struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWsPeer(conn *websocket.Conn, buffer int) *wsPeer {
	return &wsPeer{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, buffer+peerSendBuffer),
		done: make(chan struct{}),
	}
}

func (p *wsPeer) Address() string {
	return p.conn.RemoteAddr().String()
}

// offer queues msg without blocking. It reports false when the peer is too
// slow to keep up.
func (p *wsPeer) offer(msg []byte) bool {
	select {
	case p.send <- msg:
		return true
	default:
		return false
	}
}

func (p *wsPeer) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}

// writeLoop is the only writer on conn, and the one that closes it.
func (p *wsPeer) writeLoop() {
	defer p.conn.Close()
	for {
		select {
		case msg := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				p.Close()
				return
			}
		case <-p.done:
			p.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// gate fans scheduler events out to websocket peers.
type gate struct {
	mu     sync.Mutex
	seq    uint64
	replay replayBuffer
	peers  map[string]*wsPeer
	logger looper.Logger
}

func newGate(replaySize int, logger looper.Logger) *gate {
	return &gate{
		replay: replayBuffer{size: replaySize},
		peers:  make(map[string]*wsPeer),
		logger: logger,
	}
}

// broadcast encodes f, stores it for replay and offers it to every peer.
// Called from scheduler observers, so it never blocks on a peer.
func (g *gate) broadcast(f Frame) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.seq++
	f.Seq = g.seq
	data, err := json.Marshal(f)
	if err != nil {
		g.logger.Errorf("inspect: encode %s frame: %v", f.Kind, err)
		return
	}
	g.replay.push(f.Seq, data)

	for id, p := range g.peers {
		if !p.offer(data) {
			g.logger.Warnf("inspect: peer %s (%s) too slow, disconnecting", id, p.Address())
			delete(g.peers, id)
			p.Close()
		}
	}
}

// join registers p after queueing the replay frames newer than after.
func (g *gate) join(p *wsPeer, after uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	frames, missed := g.replay.since(after)
	if missed {
		data, _ := json.Marshal(Frame{Seq: g.seq, Kind: KindResync, At: time.Now()})
		p.offer(data)
	}
	for _, data := range frames {
		p.offer(data)
	}
	g.peers[p.id] = p
	g.logger.Infof("inspect: peer %s connected from %s, replayed %d frames", p.id, p.Address(), len(frames))
}

func (g *gate) leave(p *wsPeer) {
	g.mu.Lock()
	_, ok := g.peers[p.id]
	delete(g.peers, p.id)
	g.mu.Unlock()

	p.Close()
	if ok {
		g.logger.Infof("inspect: peer %s disconnected", p.id)
	}
}

func (g *gate) closeAll() {
	g.mu.Lock()
	peers := g.peers
	g.peers = make(map[string]*wsPeer)
	g.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}
}

func (g *gate) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.peers)
}
