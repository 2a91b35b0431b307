// Package coin decodes Bitcoin payout addresses into their scriptPubKey
// form. Adapted from the teacher's internal/coin/address.go, trimmed to
// mainnet Bitcoin only (the teacher supports five coins via a CashAddr/
// multi-coin registry; this pool is BTC-only per scope) and kept as the
// fix for the placeholder-script bug flagged in
// original_source/mining_utils.py (create_coinbase hardcodes
// `76a91488ac`, a P2PKH script missing its 20-byte hash). Base58Check and
// Bech32 are hand-rolled exactly as the teacher does it: no example repo
// in the pack imports a dedicated address-decoding library, they all
// implement these two codecs directly against stdlib.
package coin

import (
	"fmt"
	"strings"

	"github.com/b-vibesonly/joule-pool/internal/codec"
)

// Mainnet Bitcoin address parameters.
const (
	p2pkhVersion    = 0x00
	p2shVersion     = 0x05
	p2pkhPrefixChar = '1'
	p2shPrefixChar  = '3'
	bech32HRP       = "bc"
)

// DecodeAddress converts a Bitcoin address to its scriptPubKey, supporting
// P2PKH and P2SH (Base58Check) and P2WPKH/P2WSH/P2TR (Bech32/Bech32m).
func DecodeAddress(addr string) ([]byte, error) {
	if len(addr) < 14 {
		return nil, fmt.Errorf("address too short: %q", addr)
	}

	lower := strings.ToLower(addr)
	hrpPrefix := bech32HRP + "1"
	if strings.HasPrefix(lower, hrpPrefix) {
		return decodeBech32Script(addr, lower, hrpPrefix)
	}

	switch addr[0] {
	case p2pkhPrefixChar:
		result, err := base58CheckDecode(addr)
		if err != nil {
			return nil, fmt.Errorf("decode P2PKH address: %w", err)
		}
		if result.version != p2pkhVersion || len(result.payload) != 20 {
			return nil, fmt.Errorf("address %q is not a valid P2PKH address", addr)
		}
		return p2pkhScript(result.payload), nil
	case p2shPrefixChar:
		result, err := base58CheckDecode(addr)
		if err != nil {
			return nil, fmt.Errorf("decode P2SH address: %w", err)
		}
		if result.version != p2shVersion || len(result.payload) != 20 {
			return nil, fmt.Errorf("address %q is not a valid P2SH address", addr)
		}
		return p2shScript(result.payload), nil
	default:
		return nil, fmt.Errorf("unsupported address format: %q", addr)
	}
}

func decodeBech32Script(addr, lower, hrpPrefix string) ([]byte, error) {
	program, err := bech32Decode(bech32HRP, addr)
	if err != nil {
		return nil, fmt.Errorf("bech32 decode: %w", err)
	}
	witnessVersionChar := lower[len(hrpPrefix)]
	switch {
	case witnessVersionChar == 'q' && len(program) == 20:
		return append([]byte{0x00, 0x14}, program...), nil // P2WPKH
	case witnessVersionChar == 'q' && len(program) == 32:
		return append([]byte{0x00, 0x20}, program...), nil // P2WSH
	case witnessVersionChar == 'p' && len(program) == 32:
		return append([]byte{0x51, 0x20}, program...), nil // P2TR
	default:
		return nil, fmt.Errorf("unsupported witness program: version=%c len=%d", witnessVersionChar, len(program))
	}
}

func p2pkhScript(hash160 []byte) []byte {
	script := []byte{0x76, 0xa9, 0x14} // OP_DUP OP_HASH160 <push 20>
	script = append(script, hash160...)
	return append(script, 0x88, 0xac) // OP_EQUALVERIFY OP_CHECKSIG
}

func p2shScript(hash160 []byte) []byte {
	script := []byte{0xa9, 0x14} // OP_HASH160 <push 20>
	script = append(script, hash160...)
	return append(script, 0x87) // OP_EQUAL
}

// --- Base58Check ---

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

type base58Result struct {
	version byte
	payload []byte
}

func base58CheckDecode(addr string) (*base58Result, error) {
	result := make([]byte, 0, 25)
	for _, c := range addr {
		idx := strings.IndexRune(base58Alphabet, c)
		if idx < 0 {
			return nil, fmt.Errorf("invalid base58 character: %c", c)
		}
		carry := idx
		for j := len(result) - 1; j >= 0; j-- {
			carry += 58 * int(result[j])
			result[j] = byte(carry & 0xff)
			carry >>= 8
		}
		for carry > 0 {
			result = append([]byte{byte(carry & 0xff)}, result...)
			carry >>= 8
		}
	}
	for _, c := range addr {
		if c != '1' {
			break
		}
		result = append([]byte{0x00}, result...)
	}
	if len(result) < 5 {
		return nil, fmt.Errorf("base58check payload too short")
	}

	payload := result[1 : len(result)-4]
	checksum := result[len(result)-4:]
	want := codec.DoubleSHA256(result[:len(result)-4])[:4]
	for i := range checksum {
		if checksum[i] != want[i] {
			return nil, fmt.Errorf("base58check checksum mismatch")
		}
	}

	return &base58Result{version: result[0], payload: payload}, nil
}

// --- Bech32 / Bech32m ---

const bech32Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

func bech32Decode(hrp, addr string) ([]byte, error) {
	addr = strings.ToLower(addr)

	sep := strings.LastIndexByte(addr, '1')
	if sep < 0 {
		return nil, fmt.Errorf("no separator found")
	}
	if addr[:sep] != hrp {
		return nil, fmt.Errorf("HRP mismatch: expected %s, got %s", hrp, addr[:sep])
	}

	data := addr[sep+1:]
	if len(data) < 8 {
		return nil, fmt.Errorf("bech32 data too short")
	}

	values := make([]int, len(data))
	for i, c := range data {
		idx := strings.IndexRune(bech32Charset, c)
		if idx < 0 {
			return nil, fmt.Errorf("invalid bech32 character: %c", c)
		}
		values[i] = idx
	}

	// Strip the 6-value checksum and the leading witness-version value.
	conv := values[1 : len(values)-6]

	var result []byte
	acc, bits := 0, 0
	for _, v := range conv {
		acc = (acc << 5) | v
		bits += 5
		for bits >= 8 {
			bits -= 8
			result = append(result, byte((acc>>bits)&0xff))
		}
	}
	return result, nil
}
