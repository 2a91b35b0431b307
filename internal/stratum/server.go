package stratum

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/b-vibesonly/joule-pool/internal/bitcoin"
	"github.com/b-vibesonly/joule-pool/internal/job"
	"github.com/b-vibesonly/joule-pool/internal/logx"
	"github.com/b-vibesonly/joule-pool/internal/stats"
)

// Server is the Stratum V1 TCP server (C5's connection-owning half): it
// accepts miner connections, assigns each a Session, and broadcasts jobs
// to every authorized session. Grounded on the teacher's server.go,
// dropping its proxy-mode fields and upstream-forwarding callbacks (this
// pool is solo-only) and wiring straight into the new validator/adjuster/
// stats instead of the teacher's ShareValidator/VardiffManager/
// StatsAggregator trio.
type Server struct {
	listener net.Listener

	sessionMu sync.RWMutex
	sessions  map[string]*Session

	registry  *job.Registry
	validator *Validator
	adjuster  *DifficultyAdjuster
	stats     *stats.Collector
	node      *bitcoin.Client

	extranonce2Size int
	nextEN1         atomic.Uint32

	running atomic.Bool
	wg      sync.WaitGroup

	log *logx.Logger

	host string
	port int
}

// NewServer builds a Server bound to the given host/port and the pool's
// shared services. An empty host falls back to 0.0.0.0 (all interfaces).
func NewServer(host string, port int, registry *job.Registry, validator *Validator, adjuster *DifficultyAdjuster, collector *stats.Collector, node *bitcoin.Client, extranonce2Size int) *Server {
	if host == "" {
		host = "0.0.0.0"
	}

	s := &Server{
		sessions:        make(map[string]*Session),
		registry:        registry,
		validator:       validator,
		adjuster:        adjuster,
		stats:           collector,
		node:            node,
		extranonce2Size: extranonce2Size,
		log:             logx.Component("stratum"),
		host:            host,
		port:            port,
	}

	// Seed the extranonce1 counter from crypto/rand rather than zero so
	// restarts across a short-lived process don't reissue the same
	// extranonce1 to a miner that reconnects against a stale job cache.
	var seed [4]byte
	_, _ = rand.Read(seed[:])
	s.nextEN1.Store(binary.LittleEndian.Uint32(seed[:]))

	return s
}

// Start begins listening for miner connections in a background goroutine.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.listener = listener
	s.running.Store(true)
	s.log.Infof("stratum server listening on %s", addr)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop gracefully shuts down the server: authorized sessions are told to
// reconnect (so ASIC firmware doesn't enter a long backoff), given a brief
// window to receive that notification, then closed outright.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	if s.listener != nil {
		s.listener.Close()
	}

	s.sessionMu.RLock()
	for _, session := range s.sessions {
		if session.IsAuthorized() {
			session.sendReconnect(3)
		}
	}
	s.sessionMu.RUnlock()

	time.Sleep(200 * time.Millisecond)

	s.sessionMu.Lock()
	for _, session := range s.sessions {
		session.conn.Close()
	}
	s.sessionMu.Unlock()

	s.wg.Wait()
	s.log.Infof("stratum server stopped")
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.running.Load() {
				s.log.Errorf("accept error: %v", err)
			}
			return
		}

		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetKeepAlive(true)
			tc.SetKeepAlivePeriod(45 * time.Second)
			tc.SetNoDelay(true)
		}

		en1 := s.nextExtranonce1()
		session := newSession(s, conn, en1)

		s.sessionMu.Lock()
		s.sessions[session.extranonce1Hex] = session
		s.sessionMu.Unlock()

		s.log.Infof("new connection from %s (extranonce1=%s)", conn.RemoteAddr(), session.extranonce1Hex)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			session.Run()
		}()
	}
}

func (s *Server) nextExtranonce1() [4]byte {
	v := s.nextEN1.Add(1)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b
}

func (s *Server) removeSession(session *Session) {
	s.sessionMu.Lock()
	delete(s.sessions, session.extranonce1Hex)
	s.sessionMu.Unlock()

	s.adjuster.Remove(session.extranonce1Hex)
	if session.workerName != "" {
		s.stats.RecordDisconnect(session.workerName)
	}
	s.log.Infof("session %s disconnected (%s)", session.remoteAddr, session.workerName)
}

// BroadcastJob pushes a fresh mining.notify to every authorized session.
func (s *Server) BroadcastJob(j *job.Job, cleanJobs bool) {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()

	n := 0
	for _, session := range s.sessions {
		if session.IsAuthorized() {
			session.sendNotify(j, cleanJobs)
			n++
		}
	}
	s.log.Infof("broadcast job %s to %d miners (clean=%v)", j.ID, n, cleanJobs)
}

// SessionCount returns the number of connections currently open,
// authorized or not.
func (s *Server) SessionCount() int {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()
	return len(s.sessions)
}

// submitBlock hands a found block to the node and records it in stats
// regardless of the node's verdict: a rejected submission still came from
// a share that met the network target, which is what §4.6 tracks.
func (s *Server) submitBlock(result ShareResult, worker string) {
	s.stats.RecordBlock(worker)
	s.log.Infof("block candidate found by %s, hash=%s", worker, result.BlockHashHex)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.node.SubmitBlock(ctx, result.BlockHex); err != nil {
		s.log.Errorf("submitblock rejected: %v", err)
		return
	}
	s.log.Infof("block %s accepted by node", result.BlockHashHex)
}
