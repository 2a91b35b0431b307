package stratum

import (
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/b-vibesonly/joule-pool/internal/job"
)

// testJob builds a minimal, valid Job directly (bypassing job.Builder,
// which needs a live block template) so share validation can be exercised
// in isolation. bits controls the network target.
func testJob(id string, bits uint32) *job.Job {
	coinbase1 := []byte{0x01, 0x02, 0x03}
	coinbase2 := []byte{0x04, 0x05, 0x06}
	cb := append(append([]byte{}, coinbase1...), make([]byte, 8)...)
	cb = append(cb, coinbase2...)

	return &job.Job{
		ID:             id,
		Height:         100,
		VersionLE:      1,
		PrevHashBytes:  make([]byte, 32),
		BitsLE:         bits,
		NTimeLE:        1700000000,
		CoinbaseBytes:  cb,
		SpliceOffset:   len(coinbase1),
		MerkleBranches: nil,
		Transactions:   nil,
	}
}

func newRegistryWithJob(j *job.Job) *job.Registry {
	r := job.NewRegistry()
	r.Add(j)
	return r
}

func baseSubmission(jobID string) Submission {
	return Submission{
		WorkerName:     "worker1",
		JobID:          jobID,
		Extranonce2Hex: "00000001",
		NTimeHex:       "00000001",
		NonceHex:       "00000000",
	}
}

var extranonce1 = []byte{0xaa, 0xbb, 0xcc, 0xdd}

func TestValidateRejectsUnknownJobAsStale(t *testing.T) {
	j := testJob("known", 0x1d00ffff)
	v := NewValidator(newRegistryWithJob(j))

	result := v.Validate(extranonce1, 1, 0, baseSubmission("unknown"))
	if result.Outcome != OutcomeStale {
		t.Fatalf("Validate() outcome = %v, want stale", result.Outcome)
	}
}

func TestValidateRejectsMalformedHex(t *testing.T) {
	j := testJob("job1", 0x1d00ffff)
	v := NewValidator(newRegistryWithJob(j))

	sub := baseSubmission("job1")
	sub.NonceHex = "not-hex"

	result := v.Validate(extranonce1, 1, 0, sub)
	if result.Outcome != OutcomeMalformed {
		t.Fatalf("Validate() outcome = %v, want malformed", result.Outcome)
	}
}

func TestValidateRejectsWrongLengthFields(t *testing.T) {
	j := testJob("job1", 0x1d00ffff)
	v := NewValidator(newRegistryWithJob(j))

	sub := baseSubmission("job1")
	sub.Extranonce2Hex = "01" // too short: must be 4 bytes

	result := v.Validate(extranonce1, 1, 0, sub)
	if result.Outcome != OutcomeMalformed {
		t.Fatalf("Validate() outcome = %v, want malformed", result.Outcome)
	}
}

func TestValidateAcceptsEasyShare(t *testing.T) {
	// A vanishingly small session difficulty means the share target is far
	// larger than any possible 256-bit hash, so this always accepts
	// regardless of the actual hash; the network target stays hard, so the
	// share is not also a block.
	j := testJob("job1", 0x1d00ffff) // hard network target: blocking is effectively impossible
	v := NewValidator(newRegistryWithJob(j))

	result := v.Validate(extranonce1, 1e-20, 0, baseSubmission("job1"))
	if result.Outcome != OutcomeValidShare {
		t.Fatalf("Validate() outcome = %v, want valid-share", result.Outcome)
	}
	if result.Difficulty <= 0 {
		t.Fatalf("Validate() difficulty = %v, want > 0", result.Difficulty)
	}
}

func TestValidateRejectsLowDifficultyShare(t *testing.T) {
	// An enormous session difficulty shrinks the share target far below
	// any realistic hash, guaranteeing rejection.
	j := testJob("job1", 0x1d00ffff)
	v := NewValidator(newRegistryWithJob(j))

	result := v.Validate(extranonce1, 1e30, 0, baseSubmission("job1"))
	if result.Outcome != OutcomeLowDifficulty {
		t.Fatalf("Validate() outcome = %v, want low-diff", result.Outcome)
	}
}

func TestValidateDetectsValidBlock(t *testing.T) {
	// bits encodes a target far larger than the entire 256-bit hash space
	// (exponent 0x22, max mantissa), so any hash meets the network target;
	// combined with a vanishingly small session difficulty, every share is
	// simultaneously a valid share and a valid block.
	j := testJob("job1", 0x227fffff)
	v := NewValidator(newRegistryWithJob(j))

	result := v.Validate(extranonce1, 1e-20, 0, baseSubmission("job1"))
	if result.Outcome != OutcomeValidBlock {
		t.Fatalf("Validate() outcome = %v, want valid-block", result.Outcome)
	}
	if result.BlockHex == "" || result.BlockHashHex == "" {
		t.Fatalf("Validate() valid-block result must set BlockHex and BlockHashHex")
	}
}

func TestValidateDetectsDuplicateSubmission(t *testing.T) {
	j := testJob("job1", 0x1d00ffff)
	v := NewValidator(newRegistryWithJob(j))

	sub := baseSubmission("job1")
	first := v.Validate(extranonce1, 1e-20, 0, sub)
	if first.Outcome != OutcomeValidShare {
		t.Fatalf("first submission outcome = %v, want valid-share", first.Outcome)
	}

	second := v.Validate(extranonce1, 1e-20, 0, sub)
	if second.Outcome != OutcomeDuplicate {
		t.Fatalf("second identical submission outcome = %v, want duplicate", second.Outcome)
	}
}

func TestValidateAllowsResubmissionAfterForgetStaleJobs(t *testing.T) {
	j := testJob("job1", 0x1d00ffff)
	v := NewValidator(newRegistryWithJob(j))

	sub := baseSubmission("job1")
	v.Validate(extranonce1, 1e-20, 0, sub)

	v.ForgetStaleJobs(map[string]bool{}) // job1 no longer kept

	// The job itself is still in the registry (not evicted there), but its
	// duplicate-tracking state has been dropped, so the same tuple is
	// treated as fresh.
	second := v.Validate(extranonce1, 1e-20, 0, sub)
	if second.Outcome != OutcomeValidShare {
		t.Fatalf("resubmission after ForgetStaleJobs outcome = %v, want valid-share", second.Outcome)
	}
}

func TestBuildHeaderAppliesVersionRollingMask(t *testing.T) {
	j := testJob("job1", 0x1d00ffff)

	base, err := buildHeader(j, make([]byte, 32), []byte{0, 0, 0, 1}, []byte{0, 0, 0, 0}, "", 0)
	if err != nil {
		t.Fatalf("buildHeader() error = %v", err)
	}
	baseVersion := binary.LittleEndian.Uint32(base[0:4])
	if baseVersion != j.VersionLE {
		t.Fatalf("buildHeader() version = %x, want unrolled %x", baseVersion, j.VersionLE)
	}

	rolledBits := uint32(0x00002000)
	mask := uint32(defaultVersionRollingMask)
	rolledHex := hex.EncodeToString(leBytes(rolledBits))

	rolled, err := buildHeader(j, make([]byte, 32), []byte{0, 0, 0, 1}, []byte{0, 0, 0, 0}, rolledHex, mask)
	if err != nil {
		t.Fatalf("buildHeader() error = %v", err)
	}
	rolledVersion := binary.LittleEndian.Uint32(rolled[0:4])
	want := j.VersionLE ^ (rolledBits & mask)
	if rolledVersion != want {
		t.Fatalf("buildHeader() rolled version = %x, want %x", rolledVersion, want)
	}
}

func leBytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}
