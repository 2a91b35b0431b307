// Package bitcoin implements the pool's only outbound dependency: JSON-RPC
// calls to a Bitcoin Core node. Adapted from the teacher's
// internal/node/client.go and internal/node/blocktemplate.go, trimmed to
// BTC-only (the teacher's CoinbaseTxn/MandatoryOutput/PayoutScript fields
// exist to support coins with enforced miner-fund or staking-reward
// outputs; Bitcoin has none, so they are dropped) and with a fixed-backoff
// retry policy in place of the teacher's exponential one.
package bitcoin

// BlockTemplate is the subset of getblocktemplate's result the job builder
// needs. Field names mirror the RPC response's JSON keys via tags rather
// than the teacher's PascalCase-matches-nothing style, matching what a
// template actually returns.
type BlockTemplate struct {
	Version           int32                  `json:"version"`
	PreviousBlockHash string                 `json:"previousblockhash"`
	Transactions      []TemplateTransaction  `json:"transactions"`
	CoinbaseValue     int64                  `json:"coinbasevalue"`
	Target            string                 `json:"target"`
	Bits              string                 `json:"bits"`
	Height            int64                  `json:"height"`
	CurTime           int64                  `json:"curtime"`
	MinTime           int64                  `json:"mintime,omitempty"`
	Mutable           []string               `json:"mutable,omitempty"`
	NonceRange        string                 `json:"noncerange,omitempty"`
	SigOpLimit        int64                  `json:"sigoplimit,omitempty"`
	SizeLimit         int64                  `json:"sizelimit,omitempty"`
	WeightLimit       int64                  `json:"weightlimit,omitempty"`
	DefaultWitnessCmt string                 `json:"default_witness_commitment,omitempty"`
	Rules             []string               `json:"rules,omitempty"`
}

// TemplateTransaction is one non-coinbase transaction offered by the node.
type TemplateTransaction struct {
	Data    string  `json:"data"`
	TxID    string  `json:"txid"`
	Hash    string  `json:"hash"`
	Fee     int64   `json:"fee"`
	SigOps  int64   `json:"sigops"`
	Weight  int64   `json:"weight"`
	Depends []int64 `json:"depends"`
}

// BlockchainInfo is the subset of getblockchaininfo used for the startup
// liveness probe and stats surface.
type BlockchainInfo struct {
	Chain                string  `json:"chain"`
	Blocks               int64   `json:"blocks"`
	Headers              int64   `json:"headers"`
	BestBlockHash        string  `json:"bestblockhash"`
	Difficulty           float64 `json:"difficulty"`
	InitialBlockDownload bool    `json:"initialblockdownload"`
}

// ValidateAddressResult is validateaddress's result.
type ValidateAddressResult struct {
	IsValid      bool   `json:"isvalid"`
	Address      string `json:"address"`
	ScriptPubKey string `json:"scriptPubKey"`
}
