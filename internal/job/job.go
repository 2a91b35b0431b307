// Package job builds mining jobs from Bitcoin Core block templates and
// keeps the bounded set of recently issued jobs that shares are validated
// against. Grounded on the teacher's internal/stratum/jobs.go, with three
// deliberate departures: a single coinbase_bytes buffer (with the
// extranonce region left as an explicit 8-zero placeholder) in place of
// the teacher's separate coinbase1/coinbase2 hex strings, a real P2PKH/
// P2WPKH scriptPubKey via internal/coin instead of the placeholder
// `76a91488ac` script, and literal little-endian wire hex for
// version/bits/ntime instead of the teacher's big-endian-then-miner-
// reverses convention.
package job

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/b-vibesonly/joule-pool/internal/bitcoin"
	"github.com/b-vibesonly/joule-pool/internal/coin"
	"github.com/b-vibesonly/joule-pool/internal/codec"
)

// extranoncePlaceholderLen is the width, in bytes, of the zeroed region
// left in coinbase_bytes at SpliceOffset: 4 bytes of extranonce1 followed
// by 4 bytes of extranonce2.
const extranoncePlaceholderLen = 8

// maxCoinbaseMessageLen caps the free-text tag embedded in the coinbase
// scriptSig. The teacher caps this at 80; the design raises it to 100 to
// match the configuration field's documented limit.
const maxCoinbaseMessageLen = 100

// Job is one unit of work offered to miners via mining.notify. The
// coinbase transaction is kept as a single buffer with an 8-byte zeroed
// placeholder at SpliceOffset; Coinbase1/Coinbase2 slice that buffer on
// demand rather than being stored as independently-built strings.
type Job struct {
	ID            string
	Height        int64
	VersionLE     uint32 // header's version field, ready to emit as wire hex
	PrevHashBytes []byte // 32 bytes, internal (header) byte order
	BitsLE        uint32
	NTimeLE       uint32

	CoinbaseBytes  []byte
	SpliceOffset   int
	MerkleBranches [][]byte // internal byte order, coinbase-fold order

	// Transactions holds the template's non-coinbase transactions in the
	// order they must be appended to a found block, raw serialized form.
	Transactions [][]byte
}

// Coinbase1 returns the coinbase bytes before the extranonce splice point.
func (j *Job) Coinbase1() []byte {
	return j.CoinbaseBytes[:j.SpliceOffset]
}

// Coinbase2 returns the coinbase bytes after the extranonce splice point.
func (j *Job) Coinbase2() []byte {
	return j.CoinbaseBytes[j.SpliceOffset+extranoncePlaceholderLen:]
}

// VersionHex is the wire value for mining.notify's version field: the
// literal little-endian header bytes, hex-encoded, with no byte reversal.
func (j *Job) VersionHex() string {
	return leHex(j.VersionLE)
}

func (j *Job) BitsHex() string {
	return leHex(j.BitsLE)
}

func (j *Job) NTimeHex() string {
	return leHex(j.NTimeLE)
}

// PrevHashHex is the header's hashPrevBlock field exactly as it appears in
// the 80-byte header, hex-encoded with no group-swap or reversal.
func (j *Job) PrevHashHex() string {
	return hex.EncodeToString(j.PrevHashBytes)
}

func leHex(v uint32) string {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return hex.EncodeToString(b)
}

// Builder constructs jobs from block templates for a fixed payout address.
type Builder struct {
	scriptPubKey    []byte
	coinbaseMessage string
	extranonce1Size int
	extranonce2Size int
}

// NewBuilder resolves payoutAddress to a scriptPubKey once at startup; a
// bad address fails the pool before it ever accepts a connection.
func NewBuilder(payoutAddress, coinbaseMessage string, extranonce1Size, extranonce2Size int) (*Builder, error) {
	script, err := coin.DecodeAddress(payoutAddress)
	if err != nil {
		return nil, fmt.Errorf("resolve payout address: %w", err)
	}
	if len(coinbaseMessage) > maxCoinbaseMessageLen {
		coinbaseMessage = coinbaseMessage[:maxCoinbaseMessageLen]
	}
	return &Builder{
		scriptPubKey:    script,
		coinbaseMessage: coinbaseMessage,
		extranonce1Size: extranonce1Size,
		extranonce2Size: extranonce2Size,
	}, nil
}

// Build turns a block template into a Job. Job ID assignment belongs to
// the Registry (its NextID counter); Build takes the already-formatted ID
// so the registry's clock/counter stays in one place.
func (b *Builder) Build(id string, tmpl *bitcoin.BlockTemplate) (*Job, error) {
	prevHash, err := hex.DecodeString(tmpl.PreviousBlockHash)
	if err != nil {
		return nil, fmt.Errorf("decode previousblockhash: %w", err)
	}
	// getblocktemplate reports previousblockhash in display (reversed)
	// order; the header field needs internal byte order.
	prevHashInternal := codec.Reversed(prevHash)

	bits, err := parseHexUint32(tmpl.Bits)
	if err != nil {
		return nil, fmt.Errorf("parse bits: %w", err)
	}

	coinbaseBytes, spliceOffset := b.buildCoinbase(tmpl)

	branches := b.merkleBranches(tmpl)

	txs := make([][]byte, 0, len(tmpl.Transactions))
	for _, t := range tmpl.Transactions {
		raw, err := hex.DecodeString(t.Data)
		if err != nil {
			return nil, fmt.Errorf("decode transaction %s: %w", t.TxID, err)
		}
		txs = append(txs, raw)
	}

	return &Job{
		ID:             id,
		Height:         tmpl.Height,
		VersionLE:      uint32(tmpl.Version),
		PrevHashBytes:  prevHashInternal,
		BitsLE:         bits,
		NTimeLE:        uint32(tmpl.CurTime),
		CoinbaseBytes:  coinbaseBytes,
		SpliceOffset:   spliceOffset,
		MerkleBranches: branches,
		Transactions:   txs,
	}, nil
}

func (b *Builder) merkleBranches(tmpl *bitcoin.BlockTemplate) [][]byte {
	if len(tmpl.Transactions) == 0 {
		return nil
	}
	hashes := make([][]byte, len(tmpl.Transactions))
	for i, t := range tmpl.Transactions {
		h, err := hex.DecodeString(t.TxID)
		if err != nil {
			continue
		}
		hashes[i] = codec.Reversed(h) // display order -> internal order
	}
	return codec.MerkleBranchesForCoinbase(hashes)
}

// buildCoinbase assembles the coinbase transaction with an 8-byte zeroed
// extranonce placeholder, returning the full buffer and the offset at
// which the placeholder begins.
func (b *Builder) buildCoinbase(tmpl *bitcoin.BlockTemplate) ([]byte, int) {
	var tx []byte

	tx = append(tx, 0x01, 0x00, 0x00, 0x00) // version 1

	tx = append(tx, 0x01) // one input: the coinbase

	tx = append(tx, make([]byte, 32)...) // null previous outpoint hash
	tx = append(tx, 0xff, 0xff, 0xff, 0xff)

	scriptSig := b.buildScriptSig(tmpl.Height)
	scriptSigLen := len(scriptSig) + b.extranonce1Size + b.extranonce2Size
	tx = append(tx, codec.EncodeVarint(uint64(scriptSigLen))...)
	tx = append(tx, scriptSig...)

	spliceOffset := len(tx)
	tx = append(tx, make([]byte, extranoncePlaceholderLen)...)

	tx = append(tx, 0xff, 0xff, 0xff, 0xff) // sequence

	tx = append(tx, 0x01) // one output: the payout

	valueBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(valueBytes, uint64(tmpl.CoinbaseValue))
	tx = append(tx, valueBytes...)
	tx = codec.AppendVarBytes(tx, b.scriptPubKey)

	tx = append(tx, 0x00, 0x00, 0x00, 0x00) // locktime

	return tx, spliceOffset
}

func (b *Builder) buildScriptSig(height int64) []byte {
	script := encodeHeight(height)
	if b.coinbaseMessage != "" {
		script = append(script, []byte(b.coinbaseMessage)...)
	}
	return script
}

// encodeHeight encodes the block height as a fixed 4-byte little-endian
// push: 0x04 followed by height_as_u32_LE.
func encodeHeight(height int64) []byte {
	heightBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(heightBytes, uint32(height))
	return append([]byte{0x04}, heightBytes...)
}

func parseHexUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
