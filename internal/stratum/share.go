package stratum

import (
	"encoding/binary"
	"encoding/hex"
	"math/big"
	"sync"

	"github.com/b-vibesonly/joule-pool/internal/codec"
	"github.com/b-vibesonly/joule-pool/internal/job"
)

// Outcome classifies the result of validating a submitted share, per
// spec §4.6.
type Outcome int

const (
	OutcomeValidShare Outcome = iota
	OutcomeValidBlock
	OutcomeStale
	OutcomeLowDifficulty
	OutcomeMalformed
	OutcomeDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeValidShare:
		return "valid-share"
	case OutcomeValidBlock:
		return "valid-block"
	case OutcomeStale:
		return "stale"
	case OutcomeLowDifficulty:
		return "low-diff"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Submission holds the fields of one mining.submit call.
type Submission struct {
	WorkerName     string
	JobID          string
	Extranonce2Hex string
	NTimeHex       string
	NonceHex       string
	VersionBitsHex string // optional: BIP320 version-rolling bits
}

// ShareResult is the outcome of validating one submission.
type ShareResult struct {
	Outcome      Outcome
	Difficulty   float64 // the difficulty implied by the share's hash
	BlockHex     string  // set only on OutcomeValidBlock
	BlockHashHex string  // set only on OutcomeValidBlock, display byte order
}

// Validator is C6: it reconstructs the 80-byte header from a job and a
// miner's submission, double-SHA256s it, and classifies the result
// against the share and network targets. Grounded on the teacher's
// share.go (ValidateShare/buildBlockHeader/buildFullBlock/CompactToBig),
// with the literal little-endian wire convention the job package already
// uses (no byte-group-swap reversal) and the canonical diff1Target from
// internal/codec rather than the teacher's pdiff/bdiff variant.
type Validator struct {
	registry    *job.Registry
	versionMask uint32

	mu         sync.Mutex
	duplicates map[string]map[string]struct{} // jobID -> set of dedupe keys
}

// defaultVersionRollingMask is the standard BIP320 pool mask
// (0x1fffe000), used when mining.configure negotiates version-rolling.
const defaultVersionRollingMask = 0x1fffe000

// NewValidator builds a share validator bound to a job registry.
func NewValidator(registry *job.Registry) *Validator {
	return &Validator{
		registry:    registry,
		versionMask: defaultVersionRollingMask,
		duplicates:  make(map[string]map[string]struct{}),
	}
}

// Validate reconstructs and checks one submitted share. extranonce1 must
// be the session's assigned 4-byte value.
func (v *Validator) Validate(extranonce1 []byte, sessionDifficulty float64, versionMask uint32, sub Submission) ShareResult {
	j, ok := v.registry.Get(sub.JobID)
	if !ok {
		return ShareResult{Outcome: OutcomeStale}
	}

	if v.isDuplicate(sub) {
		return ShareResult{Outcome: OutcomeDuplicate}
	}

	if len(extranonce1) != 4 {
		return ShareResult{Outcome: OutcomeMalformed}
	}
	extranonce2, err := hex.DecodeString(sub.Extranonce2Hex)
	if err != nil || len(extranonce2) != 4 {
		return ShareResult{Outcome: OutcomeMalformed}
	}
	ntime, err := hex.DecodeString(sub.NTimeHex)
	if err != nil || len(ntime) != 4 {
		return ShareResult{Outcome: OutcomeMalformed}
	}
	nonce, err := hex.DecodeString(sub.NonceHex)
	if err != nil || len(nonce) != 4 {
		return ShareResult{Outcome: OutcomeMalformed}
	}

	coinbase := make([]byte, 0, len(j.CoinbaseBytes))
	coinbase = append(coinbase, j.Coinbase1()...)
	coinbase = append(coinbase, extranonce1...)
	coinbase = append(coinbase, extranonce2...)
	coinbase = append(coinbase, j.Coinbase2()...)

	coinbaseHash := codec.DoubleSHA256(coinbase)
	merkleRoot := codec.FoldMerkleBranches(coinbaseHash, j.MerkleBranches)

	header, err := buildHeader(j, merkleRoot, ntime, nonce, sub.VersionBitsHex, versionMask)
	if err != nil {
		return ShareResult{Outcome: OutcomeMalformed}
	}

	hash := codec.DoubleSHA256(header)
	// The header format's hash is stored/interpreted little-endian; reverse
	// to read it as the big-endian magnitude big.Int expects.
	hashInt := new(big.Int).SetBytes(codec.Reversed(hash))

	shareTarget := codec.DifficultyToTarget(sessionDifficulty)
	if hashInt.Cmp(shareTarget) > 0 {
		return ShareResult{Outcome: OutcomeLowDifficulty, Difficulty: codec.DifficultyFromTarget(hashInt)}
	}

	result := ShareResult{
		Outcome:    OutcomeValidShare,
		Difficulty: codec.DifficultyFromTarget(hashInt),
	}

	networkTarget := codec.BitsToTarget(j.BitsLE)
	if hashInt.Cmp(networkTarget) <= 0 {
		result.Outcome = OutcomeValidBlock
		result.BlockHashHex = hex.EncodeToString(codec.Reversed(hash))
		result.BlockHex = buildFullBlock(j, coinbase, header)
	}

	return result
}

func (v *Validator) isDuplicate(sub Submission) bool {
	key := sub.Extranonce2Hex + "|" + sub.NTimeHex + "|" + sub.NonceHex + "|" + sub.VersionBitsHex

	v.mu.Lock()
	defer v.mu.Unlock()

	seen, ok := v.duplicates[sub.JobID]
	if !ok {
		seen = make(map[string]struct{})
		v.duplicates[sub.JobID] = seen
	}
	if _, dup := seen[key]; dup {
		return true
	}
	seen[key] = struct{}{}
	return false
}

// ForgetStaleJobs drops duplicate-tracking state for any job ID not in
// keep, called after a registry eviction so the map doesn't grow without
// bound across the pool's lifetime.
func (v *Validator) ForgetStaleJobs(keep map[string]bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for id := range v.duplicates {
		if !keep[id] {
			delete(v.duplicates, id)
		}
	}
}

// buildHeader assembles the 80-byte block header. version/ntime/bits/nonce
// are exchanged with miners as literal little-endian wire bytes (spec §6),
// so no byte-group reversal is applied anywhere in this function — only
// the teacher's big-endian-then-reverse convention is dropped, per the
// job package's design note.
func buildHeader(j *job.Job, merkleRoot, ntime, nonce []byte, versionBitsHex string, versionMask uint32) ([]byte, error) {
	version := j.VersionLE
	if versionBitsHex != "" && versionMask != 0 {
		vb, err := hex.DecodeString(versionBitsHex)
		if err == nil && len(vb) == 4 {
			rolled := binary.LittleEndian.Uint32(vb)
			version ^= rolled & versionMask
		}
	}

	header := make([]byte, 80)
	binary.LittleEndian.PutUint32(header[0:4], version)
	copy(header[4:36], j.PrevHashBytes)
	copy(header[36:68], merkleRoot)
	copy(header[68:72], ntime)
	binary.LittleEndian.PutUint32(header[72:76], j.BitsLE)
	copy(header[76:80], nonce)
	return header, nil
}

// buildFullBlock serializes a found block for submitblock: header,
// transaction count, coinbase, then every other template transaction in
// template order.
func buildFullBlock(j *job.Job, coinbase, header []byte) string {
	var block []byte
	block = append(block, header...)
	block = append(block, codec.EncodeVarint(uint64(1+len(j.Transactions)))...)
	block = append(block, coinbase...)
	for _, tx := range j.Transactions {
		block = append(block, tx...)
	}
	return hex.EncodeToString(block)
}
