package bitcoin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/b-vibesonly/joule-pool/internal/logx"
	"github.com/b-vibesonly/joule-pool/internal/poolerr"
)

var log = logx.Component("bitcoin")

// Client is a minimal Bitcoin Core JSON-RPC client: one HTTP connection,
// basic auth, and a retry policy that distinguishes transport failures
// (retried with fixed backoff) from protocol errors (the node answered,
// it just rejected the call — returned to the caller immediately).
type Client struct {
	endpoint   string
	user       string
	password   string
	httpClient *http.Client

	retryAttempts int
	retryBackoff  time.Duration
}

// Config carries the node connection parameters from internal/config.
type Config struct {
	Host          string
	Port          int
	User          string
	Password      string
	Timeout       time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
}

// New builds a Client, applying the design's defaults (3 attempts, 2s fixed
// backoff, 10s HTTP timeout) when the config leaves them zero.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}

	return &Client{
		endpoint:      fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		user:          cfg.User,
		password:      cfg.Password,
		httpClient:    &http.Client{Timeout: timeout},
		retryAttempts: attempts,
		retryBackoff:  backoff,
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     string          `json:"id"`
}

// call performs a single RPC method call, retrying transport failures
// (connection refused, timeout, non-2xx with no parseable body) up to
// retryAttempts times with a fixed delay between attempts. A well-formed
// RPC error response from the node is never retried: the node is reachable
// and has already ruled on the call.
func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	reqBody, err := json.Marshal(rpcRequest{JSONRPC: "1.0", ID: "joule-pool", Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		resp, err := c.doOnce(ctx, reqBody)
		if err != nil {
			lastErr = err
			log.Warnf("rpc %s attempt %d/%d failed: %v", method, attempt, c.retryAttempts, err)
			if attempt < c.retryAttempts {
				select {
				case <-time.After(c.retryBackoff):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			continue
		}

		if resp.Error != nil {
			return fmt.Errorf("rpc %s: node rejected call (code %d): %s", method, resp.Error.Code, resp.Error.Message)
		}
		if out != nil {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return fmt.Errorf("unmarshal rpc %s result: %w", method, err)
			}
		}
		return nil
	}

	return poolerr.Wrap(poolerr.KindNodeUnreachable, fmt.Sprintf("rpc %s exhausted %d attempts", method, c.retryAttempts), lastErr)
}

func (c *Client) doOnce(ctx context.Context, body []byte) (*rpcResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.user, c.password)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	defer httpResp.Body.Close()

	var resp rpcResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", httpResp.StatusCode, err)
	}
	return &resp, nil
}

// Ping probes node liveness via getblockchaininfo, the startup check that
// fails the process if the node cannot be reached within the retry budget.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.GetBlockchainInfo(ctx)
	return err
}

func (c *Client) GetBlockchainInfo(ctx context.Context) (*BlockchainInfo, error) {
	var info BlockchainInfo
	if err := c.call(ctx, "getblockchaininfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetBlockTemplate requests a template with segwit support, the only rule
// this pool needs (it never proposes softfork-gated blocks of its own).
func (c *Client) GetBlockTemplate(ctx context.Context) (*BlockTemplate, error) {
	params := []interface{}{map[string]interface{}{
		"rules": []string{"segwit"},
	}}
	var tmpl BlockTemplate
	if err := c.call(ctx, "getblocktemplate", params, &tmpl); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// SubmitBlock submits a fully serialized block (hex-encoded) found by a
// miner. An empty string result means acceptance; anything else is the
// node's rejection reason.
func (c *Client) SubmitBlock(ctx context.Context, blockHex string) error {
	var result *string
	if err := c.call(ctx, "submitblock", []interface{}{blockHex}, &result); err != nil {
		return err
	}
	if result != nil && *result != "" {
		return poolerr.New(poolerr.KindBlockRejected, "node rejected block: "+*result)
	}
	return nil
}

func (c *Client) ValidateAddress(ctx context.Context, address string) (*ValidateAddressResult, error) {
	var result ValidateAddressResult
	if err := c.call(ctx, "validateaddress", []interface{}{address}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetBestBlockHash(ctx context.Context) (string, error) {
	var hash string
	if err := c.call(ctx, "getbestblockhash", nil, &hash); err != nil {
		return "", err
	}
	return hash, nil
}
