package rtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"

	"github.com/ayusman/bisindo/internal/log"
)

// Signaling message types.
const (
	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypeCandidate = "candidate"
	TypeError     = "error"
)

// Message is the JSON envelope exchanged on the signaling socket.
type Message struct {
	Type      string                   `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Error     string                   `json:"error,omitempty"`
}

// Signaler negotiates one receive-only peer connection per WebSocket and
// attaches the broadcaster's track to it.
type Signaler struct {
	broadcaster *Broadcaster
	config      webrtc.Configuration
	upgrader    websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewSignaler creates a Signaler using the given STUN/TURN URLs.
func NewSignaler(b *Broadcaster, iceURLs []string) *Signaler {
	cfg := webrtc.Configuration{}
	if len(iceURLs) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceURLs}}
	}

	return &Signaler{
		broadcaster: b,
		config:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow local connections
			},
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request and runs the signaling session until the
// socket or the peer connection closes.
func (s *Signaler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("signal upgrade", "err", err)
		return
	}

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	sess := &session{signaler: s, conn: conn}
	defer sess.close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("signal read", "err", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			sess.send(Message{Type: TypeError, Error: "invalid message"})
			continue
		}

		if err := sess.handle(msg); err != nil {
			log.Warn("signal", "type", msg.Type, "err", err)
			sess.send(Message{Type: TypeError, Error: err.Error()})
		}
	}
}

// Close drops every signaling socket.
func (s *Signaler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}

// Connections returns the number of open signaling sockets.
func (s *Signaler) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// session is the state of one signaling socket.
type session struct {
	signaler *Signaler
	conn     *websocket.Conn

	writeMu  sync.Mutex
	answered bool
	outgoing []webrtc.ICECandidateInit

	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	pending []webrtc.ICECandidateInit
	peer    bool
}

func (ss *session) send(msg Message) {
	ss.writeMu.Lock()
	defer ss.writeMu.Unlock()
	if err := ss.conn.WriteJSON(msg); err != nil {
		log.Debug("signal write", "err", err)
	}
}

// sendCandidate holds local candidates back until the answer is out.
func (ss *session) sendCandidate(c webrtc.ICECandidateInit) {
	ss.writeMu.Lock()
	defer ss.writeMu.Unlock()
	if !ss.answered {
		ss.outgoing = append(ss.outgoing, c)
		return
	}
	if err := ss.conn.WriteJSON(Message{Type: TypeCandidate, Candidate: &c}); err != nil {
		log.Debug("signal write", "err", err)
	}
}

func (ss *session) sendAnswer(sdp string) {
	ss.writeMu.Lock()
	defer ss.writeMu.Unlock()

	if err := ss.conn.WriteJSON(Message{Type: TypeAnswer, SDP: sdp}); err != nil {
		log.Debug("signal write", "err", err)
		return
	}
	ss.answered = true
	for i := range ss.outgoing {
		if err := ss.conn.WriteJSON(Message{Type: TypeCandidate, Candidate: &ss.outgoing[i]}); err != nil {
			log.Debug("signal write", "err", err)
			break
		}
	}
	ss.outgoing = nil
}

func (ss *session) handle(msg Message) error {
	switch msg.Type {
	case TypeOffer:
		return ss.answer(msg.SDP)
	case TypeCandidate:
		if msg.Candidate == nil {
			return errors.New("candidate message without candidate")
		}
		return ss.addCandidate(*msg.Candidate)
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

func (ss *session) answer(sdp string) error {
	if sdp == "" {
		return errors.New("offer without sdp")
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.pc != nil {
		return errors.New("peer connection already negotiated")
	}

	pc, err := webrtc.NewPeerConnection(ss.signaler.config)
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	sender, err := pc.AddTrack(ss.signaler.broadcaster.Track())
	if err != nil {
		pc.Close()
		return fmt.Errorf("add track: %w", err)
	}

	// Drain RTCP so interceptors keep working.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		ss.sendCandidate(c.ToJSON())
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug("peer state", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			ss.conn.Close()
		}
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		pc.Close()
		return fmt.Errorf("set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return fmt.Errorf("set local description: %w", err)
	}

	for _, c := range ss.pending {
		if err := pc.AddICECandidate(c); err != nil {
			log.Debug("queued candidate", "err", err)
		}
	}
	ss.pending = nil

	ss.pc = pc
	ss.peer = true
	ss.signaler.broadcaster.AddPeer()

	ss.sendAnswer(pc.LocalDescription().SDP)
	log.Info("viewer connected")
	return nil
}

func (ss *session) addCandidate(c webrtc.ICECandidateInit) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.pc == nil {
		ss.pending = append(ss.pending, c)
		return nil
	}
	if err := ss.pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

func (ss *session) close() {
	ss.mu.Lock()
	pc, peer := ss.pc, ss.peer
	ss.pc, ss.peer = nil, false
	ss.mu.Unlock()

	if peer {
		ss.signaler.broadcaster.RemovePeer()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			log.Debug("close peer connection", "err", err)
		}
		log.Info("viewer disconnected")
	}
}
