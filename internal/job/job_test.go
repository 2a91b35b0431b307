package job

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/b-vibesonly/joule-pool/internal/bitcoin"
)

func testTemplate() *bitcoin.BlockTemplate {
	return &bitcoin.BlockTemplate{
		Version:           0x20000000,
		PreviousBlockHash: "0000000000000000000000000000000000000000000000000000000000000001",
		Bits:              "1d00ffff",
		Height:            100,
		CurTime:           1700000000,
		CoinbaseValue:     5000000000,
		Transactions: []bitcoin.TemplateTransaction{
			{TxID: hex.EncodeToString(bytes.Repeat([]byte{0x02}, 32)), Data: "00"},
			{TxID: hex.EncodeToString(bytes.Repeat([]byte{0x03}, 32)), Data: "00"},
		},
	}
}

func TestBuildSpliceInvariant(t *testing.T) {
	b, err := NewBuilder("1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", "joule-pool", 4, 4)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	j, err := b.Build("1700000000_1", testTemplate())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	placeholder := j.CoinbaseBytes[j.SpliceOffset : j.SpliceOffset+extranoncePlaceholderLen]
	for _, c := range placeholder {
		if c != 0 {
			t.Fatalf("splice region must be all zero, got %x", placeholder)
		}
	}

	reassembled := append(append([]byte{}, j.Coinbase1()...), placeholder...)
	reassembled = append(reassembled, j.Coinbase2()...)
	if !bytes.Equal(reassembled, j.CoinbaseBytes) {
		t.Fatalf("Coinbase1+placeholder+Coinbase2 must reconstruct CoinbaseBytes")
	}
}

func TestBuildWireHexIsLiteralLittleEndian(t *testing.T) {
	b, err := NewBuilder("1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", "", 4, 4)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	j, err := b.Build("1_1", testTemplate())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// version 0x20000000 little-endian is 00 00 00 20
	if j.VersionHex() != "00000020" {
		t.Fatalf("VersionHex = %s, want 00000020", j.VersionHex())
	}
}

func TestBuildCoinbaseMessageTruncated(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'a'
	}
	b, err := NewBuilder("1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", string(long), 4, 4)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	if len(b.coinbaseMessage) != maxCoinbaseMessageLen {
		t.Fatalf("coinbase message must be capped at %d bytes, got %d", maxCoinbaseMessageLen, len(b.coinbaseMessage))
	}
}

func TestRegistryEvictsOldestOverCapacity(t *testing.T) {
	r := NewRegistry()
	var first, last string
	for i := 0; i < maxJobs+5; i++ {
		id := r.NextID(int64(i))
		r.Add(&Job{ID: id})
		if i == 0 {
			first = id
		}
		last = id
	}
	if len(r.IDs()) != maxJobs {
		t.Fatalf("registry should hold exactly %d jobs, got %d", maxJobs, len(r.IDs()))
	}
	if _, ok := r.Get(first); ok {
		t.Fatal("oldest job must have been evicted")
	}
	if _, ok := r.Get(last); !ok {
		t.Fatal("most recently added job must still be present")
	}
}

func TestRegistryGetUnknownIsStale(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get("nonexistent"); ok {
		t.Fatal("unknown job ID must not be found")
	}
}

func TestRegistryClear(t *testing.T) {
	r := NewRegistry()
	r.Add(&Job{ID: r.NextID(1)})
	r.Clear()
	if len(r.IDs()) != 0 {
		t.Fatal("Clear must remove all jobs")
	}
}
