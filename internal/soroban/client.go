// Package soroban is a JSON-RPC client for a Soroban RPC server.
package soroban

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stellar/go/xdr"

	"github.com/rivora/rivora/internal/stellar"
)

// Default endpoints.
const (
	TestnetURL = "https://soroban-testnet.stellar.org"
	PublicURL  = "https://mainnet.sorobanrpc.com"
)

var ErrSimulationFailed = errors.New("soroban: simulation failed")

// Error is a failed RPC call.
type Error struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("soroban: %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("soroban: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// SimulateResult is the response of simulateTransaction.
type SimulateResult struct {
	TransactionData string `json:"transactionData"`
	MinResourceFee  string `json:"minResourceFee"`
	Results         []struct {
		Auth []string `json:"auth"`
		XDR  string   `json:"xdr"`
	} `json:"results"`
	Error        string `json:"error,omitempty"`
	LatestLedger uint32 `json:"latestLedger"`
}

// ResourceFee parses MinResourceFee.
func (r *SimulateResult) ResourceFee() (int64, error) {
	if r.MinResourceFee == "" {
		return 0, nil
	}
	return strconv.ParseInt(r.MinResourceFee, 10, 64)
}

// SorobanData decodes TransactionData.
func (r *SimulateResult) SorobanData() (xdr.SorobanTransactionData, error) {
	var data xdr.SorobanTransactionData
	if r.TransactionData == "" {
		return data, fmt.Errorf("%w: no transaction data", ErrSimulationFailed)
	}
	if err := xdr.SafeUnmarshalBase64(r.TransactionData, &data); err != nil {
		return data, fmt.Errorf("decode transaction data: %w", err)
	}
	return data, nil
}

// Auth decodes the authorization entries of the first result.
func (r *SimulateResult) Auth() ([]xdr.SorobanAuthorizationEntry, error) {
	if len(r.Results) == 0 {
		return nil, nil
	}
	out := make([]xdr.SorobanAuthorizationEntry, 0, len(r.Results[0].Auth))
	for _, a := range r.Results[0].Auth {
		var entry xdr.SorobanAuthorizationEntry
		if err := xdr.SafeUnmarshalBase64(a, &entry); err != nil {
			return nil, fmt.Errorf("decode auth entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, nil
}

// ReturnValue decodes the value the invoked function returned.
func (r *SimulateResult) ReturnValue() (xdr.ScVal, error) {
	if len(r.Results) == 0 || r.Results[0].XDR == "" {
		return xdr.ScVal{}, fmt.Errorf("%w: no return value", ErrSimulationFailed)
	}
	return stellar.DecodeScVal(r.Results[0].XDR)
}

// Client calls one Soroban RPC endpoint.
type Client struct {
	rpc *rpc.Client
}

// Dial connects to the RPC endpoint at url.
func Dial(ctx context.Context, url string, opts ...rpc.ClientOption) (*Client, error) {
	c, err := rpc.DialOptions(ctx, url, opts...)
	if err != nil {
		return nil, &Error{Op: "dial", Err: err}
	}
	return &Client{rpc: c}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() { c.rpc.Close() }

// Simulate runs simulateTransaction on an unsigned envelope. A simulation
// that reports an error returns ErrSimulationFailed.
func (c *Client) Simulate(ctx context.Context, envelopeXDR string) (*SimulateResult, error) {
	var res SimulateResult
	if err := c.call(ctx, &res, "simulateTransaction", envelopeXDR); err != nil {
		return nil, err
	}
	if res.Error != "" {
		return &res, fmt.Errorf("%w: %s", ErrSimulationFailed, firstLine(res.Error))
	}
	return &res, nil
}

// Health returns the server's reported status.
func (c *Client) Health(ctx context.Context) (string, error) {
	var res struct {
		Status string `json:"status"`
	}
	if err := c.call(ctx, &res, "getHealth"); err != nil {
		return "", err
	}
	if res.Status != "healthy" {
		return res.Status, &Error{Op: "getHealth", Err: fmt.Errorf("status %q", res.Status)}
	}
	return res.Status, nil
}

// LatestLedger returns the newest ledger sequence the server knows.
func (c *Client) LatestLedger(ctx context.Context) (uint32, error) {
	var res struct {
		Sequence uint32 `json:"sequence"`
	}
	if err := c.call(ctx, &res, "getLatestLedger"); err != nil {
		return 0, err
	}
	return res.Sequence, nil
}

func (c *Client) call(ctx context.Context, out any, method string, args ...any) error {
	err := c.rpc.CallContext(ctx, out, method, args...)
	if err == nil {
		return nil
	}
	e := &Error{Op: method, Err: err}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		e.StatusCode = httpErr.StatusCode
	}
	return e
}

// Host diagnostics can run to many lines; the first names the failure.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
