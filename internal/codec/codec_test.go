package codec

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"testing"
)

func TestEncodeVarint(t *testing.T) {
	cases := []struct {
		n    uint64
		want string
	}{
		{0, "00"},
		{0xfc, "fc"},
		{0xfd, "fdfd00"},
		{0xffff, "fdffff"},
		{0x10000, "fe00000100"},
		{0x100000000, "ff0000000001000000"},
	}
	for _, c := range cases {
		got := hex.EncodeToString(EncodeVarint(c.n))
		if got != c.want {
			t.Errorf("EncodeVarint(%d) = %s, want %s", c.n, got, c.want)
		}
	}
}

func TestBitsToTargetMatchesGetDifficultyInverse(t *testing.T) {
	// bits=0x1d00ffff should produce exactly the canonical diff-1 target.
	target := BitsToTarget(0x1d00ffff)
	if target.Cmp(diff1TargetInt) != 0 {
		t.Fatalf("BitsToTarget(0x1d00ffff) = %x, want diff1 target %x", target, diff1TargetInt)
	}
}

func TestDifficultyToTargetMonotonicallyDecreasing(t *testing.T) {
	t1 := DifficultyToTarget(1)
	t2 := DifficultyToTarget(2)
	t4 := DifficultyToTarget(4)
	if t1.Cmp(t2) <= 0 || t2.Cmp(t4) <= 0 {
		t.Fatalf("difficulty_to_target must be strictly decreasing: t1=%s t2=%s t4=%s", t1, t2, t4)
	}
}

func TestDifficultyFromBitsRoundTrip(t *testing.T) {
	diff := DifficultyFromBits(0x1d00ffff)
	if diff < 0.999 || diff > 1.001 {
		t.Fatalf("DifficultyFromBits(0x1d00ffff) = %v, want ~1.0", diff)
	}
}

func TestMerkleRootSingleLeaf(t *testing.T) {
	leaf := bytes.Repeat([]byte{0xAB}, 32)
	root := MerkleRoot([][]byte{leaf})
	if !bytes.Equal(root, leaf) {
		t.Fatalf("single-leaf tree root must equal the leaf")
	}
}

func TestMerkleBranchesConsistentWithFullTree(t *testing.T) {
	coinbaseHash := bytes.Repeat([]byte{0x01}, 32)
	tx2 := bytes.Repeat([]byte{0x02}, 32)
	tx3 := bytes.Repeat([]byte{0x03}, 32)
	tx4 := bytes.Repeat([]byte{0x04}, 32)

	branches := MerkleBranchesForCoinbase([][]byte{tx2, tx3, tx4})
	folded := FoldMerkleBranches(coinbaseHash, branches)

	full := MerkleRoot([][]byte{coinbaseHash, tx2, tx3, tx4})

	if !bytes.Equal(folded, full) {
		t.Fatalf("folding branches produced %x, full recompute produced %x", folded, full)
	}
}

func TestMerkleBranchesEmptyTemplate(t *testing.T) {
	coinbaseHash := bytes.Repeat([]byte{0x09}, 32)
	branches := MerkleBranchesForCoinbase(nil)
	if len(branches) != 0 {
		t.Fatalf("expected no branches for a template with only a coinbase")
	}
	folded := FoldMerkleBranches(coinbaseHash, branches)
	if !bytes.Equal(folded, coinbaseHash) {
		t.Fatalf("with no branches, the folded root must equal the coinbase hash")
	}
}

func TestDoubleSHA256KnownVector(t *testing.T) {
	// SHA256(SHA256("")) is a well-known constant.
	want := "5df6e0e2761359d30a8275058e299fcc0381534545f55cf43e41983f5d4c9456a"[:64]
	got := hex.EncodeToString(DoubleSHA256(nil))
	if got != want {
		t.Fatalf("DoubleSHA256(nil) = %s, want %s", got, want)
	}
}

func TestReversedDoesNotMutateInput(t *testing.T) {
	orig := []byte{1, 2, 3, 4}
	cp := append([]byte(nil), orig...)
	_ = Reversed(orig)
	if !bytes.Equal(orig, cp) {
		t.Fatalf("Reversed must not mutate its input")
	}
}

func TestBigIntSanity(t *testing.T) {
	if new(big.Int).SetInt64(0).Sign() != 0 {
		t.Fatal("sanity check failed")
	}
}
