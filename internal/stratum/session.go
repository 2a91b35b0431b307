package stratum

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/b-vibesonly/joule-pool/internal/job"
)

// maxLineBytes bounds a single framed JSON-RPC line; an oversized or
// malformed line is logged and dropped, per spec §4.5, and the connection
// survives.
const maxLineBytes = 16 * 1024

// idleReadTimeout disconnects a session that has sent nothing at all
// (not even a newline) for this long; legitimate miners always at least
// reply to pings or submit shares well inside this window.
const idleReadTimeout = 10 * time.Minute

// State names the points of the session lifecycle of spec §3:
// Connected -> Subscribed -> Authorized -> Closed.
type State int

const (
	StateConnected State = iota
	StateSubscribed
	StateAuthorized
	StateClosed
)

// Session is one TCP client's Stratum state machine (C5). All of its
// fields except those explicitly guarded (writeMu, difficulty under diffMu)
// are owned exclusively by the goroutine running Run, per spec §5.
type Session struct {
	server *Server

	conn       net.Conn
	reader     *bufio.Reader
	remoteAddr string

	writeMu sync.Mutex

	state          State
	subscriptionID string
	extranonce1    [4]byte
	extranonce1Hex string
	workerName     string

	diffMu     sync.Mutex
	difficulty float64

	versionMask uint32
}

func newSession(server *Server, conn net.Conn, extranonce1 [4]byte) *Session {
	return &Session{
		server:         server,
		conn:           conn,
		reader:         bufio.NewReaderSize(conn, 4096),
		remoteAddr:     conn.RemoteAddr().String(),
		state:          StateConnected,
		extranonce1:    extranonce1,
		extranonce1Hex: hex.EncodeToString(extranonce1[:]),
		difficulty:     server.adjuster.InitialDifficulty(),
	}
}

// IsAuthorized reports whether the session has completed mining.authorize.
// Safe to call from the broadcast path on another goroutine: the boolean
// only ever transitions false->true from the session's own goroutine, and
// a broadcast racing that transition either sees the job go out on this
// round or the next — both are acceptable per spec §5's ordering rules.
func (s *Session) IsAuthorized() bool {
	return s.state == StateAuthorized
}

func (s *Session) currentDifficulty() float64 {
	s.diffMu.Lock()
	defer s.diffMu.Unlock()
	return s.difficulty
}

func (s *Session) setDifficulty(d float64) {
	s.diffMu.Lock()
	s.difficulty = d
	s.diffMu.Unlock()
}

// Run is the session's read loop: frames inbound lines, dispatches each
// to its handler, and returns (closing the connection) on transport error
// or idle timeout. A panic while handling one line is recovered so a
// single malformed request can't take the whole session down silently;
// it still ends the session, since the connection's framing state can no
// longer be trusted.
func (s *Session) Run() {
	defer func() {
		if r := recover(); r != nil {
			s.server.log.Errorf("session %s panic: %v", s.remoteAddr, r)
		}
		s.close()
	}()

	for {
		s.conn.SetReadDeadline(time.Now().Add(idleReadTimeout))

		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			return
		}

		line = trimNewline(line)
		if len(line) == 0 {
			continue
		}
		if len(line) > maxLineBytes {
			s.server.log.Warnf("session %s: oversized line (%d bytes), dropped", s.remoteAddr, len(line))
			continue
		}

		req, err := parseRequest(line)
		if err != nil {
			s.server.log.Debugf("session %s: malformed request: %v", s.remoteAddr, err)
			continue
		}

		s.server.stats.RecordMethodInbound(req.Method)
		s.dispatch(req)
	}
}

func trimNewline(line []byte) []byte {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}

func (s *Session) close() {
	s.state = StateClosed
	s.conn.Close()
	s.server.removeSession(s)
}

func (s *Session) dispatch(req *Request) {
	switch req.Method {
	case "mining.subscribe":
		s.handleSubscribe(req)
	case "mining.authorize":
		s.handleAuthorize(req)
	case "mining.submit":
		s.handleSubmit(req)
	case "mining.configure":
		s.handleConfigure(req)
	case "mining.suggest_difficulty":
		s.handleSuggestDifficulty(req)
	case "mining.suggest_target":
		s.reply(req, true, nil)
	case "mining.extranonce.subscribe":
		s.reply(req, true, nil)
	case "mining.multi_version":
		s.reply(req, true, nil)
	case "mining.get_transactions":
		s.reply(req, []interface{}{}, nil)
	default:
		if req.isNotification() {
			s.server.log.Debugf("session %s: unknown notification %q ignored", s.remoteAddr, req.Method)
			return
		}
		s.reply(req, nil, newError(errMethodNotFound, "unknown method"))
	}
}

// reply sends a response unless req was a notification (no id), per
// spec §4.5's "JSON-RPC notifications (no id): no reply".
func (s *Session) reply(req *Request, result interface{}, stratumErr *StratumError) {
	if req.isNotification() {
		return
	}
	s.send(encodeResponse(req.ID, result, stratumErr))
	s.server.stats.RecordMethodOutbound(req.Method)
}

func (s *Session) handleSubscribe(req *Request) {
	s.subscriptionID = uuid.New().String()
	s.state = StateSubscribed

	subscriptions := [][]string{
		{"mining.set_difficulty", s.subscriptionID},
		{"mining.notify", s.subscriptionID},
	}
	result := []interface{}{subscriptions, s.extranonce1Hex, s.server.extranonce2Size}
	s.reply(req, result, nil)

	s.sendSetDifficulty(s.currentDifficulty())

	if latest := s.server.registry.Latest(); latest != nil {
		s.sendNotify(latest, true)
	}

	s.server.log.Infof("session %s subscribed (extranonce1=%s)", s.remoteAddr, s.extranonce1Hex)
}

func (s *Session) handleAuthorize(req *Request) {
	if s.state < StateSubscribed {
		s.reply(req, false, newError(errNotSubscribed, "not subscribed"))
		return
	}

	worker, err := paramString(req.Params, 0)
	if err != nil || worker == "" {
		s.reply(req, false, newError(errUnauthorized, "missing worker name"))
		return
	}

	// Solo pool: authorization is never refused once a worker name is
	// given, per spec §4.5.
	s.workerName = worker
	s.state = StateAuthorized

	s.reply(req, true, nil)
	s.server.stats.RecordConnect(worker, s.currentDifficulty())
	s.server.log.Infof("session %s authorized as %s", s.remoteAddr, worker)

	if latest := s.server.registry.Latest(); latest != nil {
		s.sendNotify(latest, true)
	}
}

func (s *Session) handleSubmit(req *Request) {
	if s.state != StateAuthorized {
		s.reply(req, false, newError(errUnauthorized, "not authorized"))
		return
	}

	worker, _ := paramString(req.Params, 0)
	jobID, _ := paramString(req.Params, 1)
	extranonce2Hex, _ := paramString(req.Params, 2)
	ntimeHex, _ := paramString(req.Params, 3)
	nonceHex, _ := paramString(req.Params, 4)
	versionBitsHex, _ := paramString(req.Params, 5) // optional (version-rolling)

	sub := Submission{
		WorkerName:     worker,
		JobID:          jobID,
		Extranonce2Hex: extranonce2Hex,
		NTimeHex:       ntimeHex,
		NonceHex:       nonceHex,
		VersionBitsHex: versionBitsHex,
	}

	result := s.server.validator.Validate(s.extranonce1[:], s.currentDifficulty(), s.versionMask, sub)

	switch result.Outcome {
	case OutcomeDuplicate:
		// ASIC result-buffer re-reads are normal; not counted as invalid.
		s.reply(req, false, newError(errDuplicate, "duplicate share"))
		return
	case OutcomeStale:
		s.server.stats.RecordStale(s.workerName)
		s.reply(req, false, newError(errStaleJob, "stale job"))
		return
	case OutcomeMalformed:
		s.server.stats.RecordInvalid(s.workerName)
		s.reply(req, false, newError(errMalformed, "malformed share"))
		return
	case OutcomeLowDifficulty:
		s.server.stats.RecordInvalid(s.workerName)
		s.reply(req, false, newError(errLowDifficulty, "difficulty too low"))
		return
	}

	s.server.stats.RecordValid(s.workerName, result.Difficulty)

	if changed, newDiff := s.server.adjuster.RecordShare(s.extranonce1Hex, time.Now()); changed {
		s.setDifficulty(newDiff)
		s.sendSetDifficulty(newDiff)
		s.server.stats.SetDifficulty(s.workerName, newDiff)
	}

	s.reply(req, true, nil)

	if result.Outcome == OutcomeValidBlock {
		s.server.submitBlock(result, s.workerName)
	}
}

const defaultVersionRollingPoolMask = defaultVersionRollingMask

func (s *Session) handleConfigure(req *Request) {
	var extensions []string
	if len(req.Params) > 0 {
		_ = json.Unmarshal(req.Params[0], &extensions)
	}
	var extParams map[string]json.RawMessage
	if len(req.Params) > 1 {
		_ = json.Unmarshal(req.Params[1], &extParams)
	}

	result := make(map[string]interface{}, len(extensions))
	for _, ext := range extensions {
		result[ext] = true
		if ext == "version-rolling" {
			mask := s.negotiateVersionMask(extParams)
			s.versionMask = mask
			result["version-rolling.mask"] = leHex32(mask)
		}
	}
	s.reply(req, result, nil)
}

func (s *Session) negotiateVersionMask(extParams map[string]json.RawMessage) uint32 {
	mask := uint32(defaultVersionRollingPoolMask)
	raw, ok := extParams["version-rolling.mask"]
	if !ok {
		return mask
	}
	var maskHex string
	if json.Unmarshal(raw, &maskHex) != nil {
		return mask
	}
	minerMaskBytes, err := hex.DecodeString(maskHex)
	if err != nil || len(minerMaskBytes) != 4 {
		return mask
	}
	return mask & binary.LittleEndian.Uint32(minerMaskBytes)
}

func (s *Session) handleSuggestDifficulty(req *Request) {
	d, err := paramFloat(req.Params, 0)
	if err != nil {
		s.reply(req, false, newError(errOther, "invalid difficulty"))
		return
	}

	_, newDiff := s.server.adjuster.SuggestDifficulty(s.extranonce1Hex, d)
	s.setDifficulty(newDiff)
	s.sendSetDifficulty(newDiff)
	s.reply(req, true, nil)
	s.server.stats.SetDifficulty(s.workerName, newDiff)
}

func (s *Session) sendNotify(j *job.Job, cleanJobs bool) {
	branches := make([]string, len(j.MerkleBranches))
	for i, b := range j.MerkleBranches {
		branches[i] = hex.EncodeToString(b)
	}
	params := []interface{}{
		j.ID,
		j.PrevHashHex(),
		hex.EncodeToString(j.Coinbase1()),
		hex.EncodeToString(j.Coinbase2()),
		branches,
		j.VersionHex(),
		j.BitsHex(),
		j.NTimeHex(),
		cleanJobs,
	}
	s.send(encodeNotification("mining.notify", params))
	s.server.stats.RecordMethodOutbound("mining.notify")
}

func (s *Session) sendSetDifficulty(diff float64) {
	s.send(encodeNotification("mining.set_difficulty", []interface{}{diff}))
	s.server.stats.RecordMethodOutbound("mining.set_difficulty")
}

// sendReconnect asks the miner to reconnect after waitSec seconds, used
// during graceful shutdown so ASIC firmware reconnects promptly instead
// of backing off.
func (s *Session) sendReconnect(waitSec int) {
	s.send(encodeNotification("client.reconnect", []interface{}{"", 0, waitSec}))
}

func (s *Session) send(data []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_, _ = s.conn.Write(data)
}

func leHex32(v uint32) string {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return hex.EncodeToString(b)
}
