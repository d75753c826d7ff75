// Package horizon wraps the Stellar SDK's Horizon client with the account
// lookups, transaction and operation listings used for scoring, and envelope
// submission. Calls honor the caller's context and are counted per operation.
package horizon

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stellar/go/clients/horizonclient"
	hProtocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/protocols/horizon/operations"

	"github.com/rivora/rivora/internal/retry"
)

// DefaultPageLimit is the largest page Horizon serves.
const DefaultPageLimit = 200

// Default endpoints.
const (
	TestnetURL = "https://horizon-testnet.stellar.org"
	PublicURL  = "https://horizon.stellar.org"
)

const appName = "rivora"

var ErrAccountNotFound = errors.New("horizon: account not found")

// Error is a failed Horizon call that is not a missing account.
type Error struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprint(e.Err)
	var herr *horizonclient.Error
	if errors.As(e.Err, &herr) {
		msg = problemText(herr)
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("horizon: %s: status %d: %s", e.Op, e.StatusCode, msg)
	}
	return fmt.Sprintf("horizon: %s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// SubmitError is a transaction the network rejected. Codes are Horizon's
// result_codes verbatim.
type SubmitError struct {
	StatusCode     int
	Transaction    string
	Operations     []string
	ResultXDR      string
	EnvelopeDetail string
}

func (e *SubmitError) Error() string {
	return "Transaction failed: " + e.Transaction
}

// Account is the subset of an account record used here.
type Account struct {
	ID       string
	Sequence int64
	Balances []Balance
	Data     map[string]string
}

// Balance is one balance line. Amount is Horizon's decimal string.
type Balance struct {
	AssetType   string
	AssetCode   string
	AssetIssuer string
	Amount      string
}

// DataValue returns the decoded value of a data entry.
func (a *Account) DataValue(key string) ([]byte, bool) {
	v, ok := a.Data[key]
	if !ok {
		return nil, false
	}
	b, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, false
	}
	return b, true
}

// Transaction is one record of an account's transaction listing.
type Transaction struct {
	Hash           string
	Ledger         int64
	CreatedAt      time.Time
	FeeCharged     int64
	OperationCount int
	Successful     bool
}

// Operation is one record of an account's operation listing.
type Operation struct {
	ID         string
	Type       string
	CreatedAt  time.Time
	Successful bool
}

// SubmitResult is a transaction accepted into a ledger.
type SubmitResult struct {
	Hash       string
	Ledger     int64
	Successful bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry enables backoff on reads. The default makes a single attempt so
// upstream failures surface to the caller once; batch tools such as dataset
// collection opt in. Submissions are never retried.
func WithRetry(p retry.Policy) Option {
	return func(c *Client) { c.retry = p }
}

// Client talks to one Horizon instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      retry.Policy
}

// NewClient creates a client for the Horizon instance at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		retry: retry.None,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the Horizon root.
func (c *Client) BaseURL() string { return c.baseURL }

// Account fetches an account. It returns ErrAccountNotFound for a 404.
func (c *Client) Account(ctx context.Context, address string) (*Account, error) {
	var rec hProtocol.Account
	err := c.read(ctx, "account", func(api *horizonclient.Client) (err error) {
		rec, err = api.AccountDetail(horizonclient.AccountRequest{AccountID: address})
		return err
	})
	if err != nil {
		return nil, err
	}

	acct := &Account{
		ID:       rec.AccountID,
		Sequence: rec.Sequence,
		Balances: make([]Balance, 0, len(rec.Balances)),
		Data:     rec.Data,
	}
	if acct.Data == nil {
		acct.Data = map[string]string{}
	}
	for _, b := range rec.Balances {
		acct.Balances = append(acct.Balances, Balance{
			AssetType:   b.Type,
			AssetCode:   b.Code,
			AssetIssuer: b.Issuer,
			Amount:      b.Balance,
		})
	}
	return acct, nil
}

// Transactions lists up to limit of the account's most recent transactions.
func (c *Client) Transactions(ctx context.Context, address string, limit int) ([]Transaction, error) {
	return c.transactions(ctx, "transactions", address, limit, horizonclient.OrderDesc)
}

// OldestTransaction returns the account's first transaction, or nil when it
// has none.
func (c *Client) OldestTransaction(ctx context.Context, address string) (*Transaction, error) {
	txs, err := c.transactions(ctx, "oldest_transaction", address, 1, horizonclient.OrderAsc)
	if err != nil || len(txs) == 0 {
		return nil, err
	}
	return &txs[0], nil
}

func (c *Client) transactions(ctx context.Context, op, address string, limit int, order horizonclient.Order) ([]Transaction, error) {
	var page hProtocol.TransactionsPage
	err := c.read(ctx, op, func(api *horizonclient.Client) (err error) {
		page, err = api.Transactions(horizonclient.TransactionRequest{
			ForAccount: address,
			Limit:      pageLimit(limit),
			Order:      order,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]Transaction, 0, len(page.Embedded.Records))
	for _, tx := range page.Embedded.Records {
		out = append(out, Transaction{
			Hash:           tx.Hash,
			Ledger:         int64(tx.Ledger),
			CreatedAt:      tx.LedgerCloseTime,
			FeeCharged:     tx.FeeCharged,
			OperationCount: int(tx.OperationCount),
			Successful:     tx.Successful,
		})
	}
	return out, nil
}

// Operations lists up to limit of the account's most recent operations.
func (c *Client) Operations(ctx context.Context, address string, limit int) ([]Operation, error) {
	var page operations.OperationsPage
	err := c.read(ctx, "operations", func(api *horizonclient.Client) (err error) {
		page, err = api.Operations(horizonclient.OperationRequest{
			ForAccount: address,
			Limit:      pageLimit(limit),
			Order:      horizonclient.OrderDesc,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]Operation, 0, len(page.Embedded.Records))
	for _, op := range page.Embedded.Records {
		out = append(out, Operation{
			ID:         op.GetID(),
			Type:       op.GetType(),
			CreatedAt:  op.GetBase().LedgerCloseTime,
			Successful: op.IsTransactionSuccessful(),
		})
	}
	return out, nil
}

// Submit posts a signed envelope. A rejected transaction returns a
// *SubmitError.
func (c *Client) Submit(ctx context.Context, envelopeXDR string) (*SubmitResult, error) {
	api, d := c.api(ctx)
	tx, err := api.SubmitTransactionXDR(envelopeXDR)
	observeRequest("submit", d.status, err)
	if err == nil {
		return &SubmitResult{Hash: tx.Hash, Ledger: int64(tx.Ledger), Successful: tx.Successful}, nil
	}

	var herr *horizonclient.Error
	if errors.As(err, &herr) {
		if codes, cerr := herr.ResultCodes(); cerr == nil && codes.TransactionCode != "" {
			resultXDR, _ := herr.ResultString()
			return nil, &SubmitError{
				StatusCode:     d.status,
				Transaction:    codes.TransactionCode,
				Operations:     codes.OperationCodes,
				ResultXDR:      resultXDR,
				EnvelopeDetail: herr.Problem.Detail,
			}
		}
		if d.status == http.StatusBadRequest {
			msg := herr.Problem.Detail
			if msg == "" {
				msg = herr.Problem.Title
			}
			return nil, &SubmitError{StatusCode: d.status, Transaction: "tx_malformed", EnvelopeDetail: msg}
		}
	}
	return nil, &Error{Op: "submit", StatusCode: d.status, Err: err}
}

// Ping checks that Horizon answers its root endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.read(ctx, "root", func(api *horizonclient.Client) error {
		_, err := api.Root()
		return err
	})
}

// api returns an SDK client whose requests run under ctx. The SDK client
// holds a sync.Once and is not copied, so each call gets its own.
func (c *Client) api(ctx context.Context) (*horizonclient.Client, *doer) {
	d := &doer{ctx: ctx, hc: c.httpClient}
	api := &horizonclient.Client{
		HorizonURL: c.baseURL,
		HTTP:       d,
		AppName:    appName,
	}
	api.SetHorizonTimeout(c.httpClient.Timeout)
	return api, d
}

func (c *Client) read(ctx context.Context, op string, call func(api *horizonclient.Client) error) error {
	return c.retry.Do(ctx, func(int) error {
		api, d := c.api(ctx)
		err := call(api)
		observeRequest(op, d.status, err)
		if err == nil {
			return nil
		}
		if d.status == http.StatusNotFound || horizonclient.IsNotFoundError(err) {
			return retry.Permanent(ErrAccountNotFound)
		}

		herr := &Error{Op: op, StatusCode: d.status, Err: err}
		switch {
		case d.status == 0:
			if ctx.Err() != nil {
				return retry.Permanent(herr)
			}
			return herr
		case retryable(d.status):
			return herr
		default:
			return retry.Permanent(herr)
		}
	})
}

// retryable reports whether a status is worth another attempt.
func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func pageLimit(limit int) uint {
	if limit <= 0 || limit > DefaultPageLimit {
		limit = DefaultPageLimit
	}
	return uint(limit)
}

func problemText(herr *horizonclient.Error) string {
	p := herr.Problem
	switch {
	case p.Detail != "" && p.Title != "":
		return p.Title + ": " + p.Detail
	case p.Detail != "":
		return p.Detail
	case p.Title != "":
		return p.Title
	default:
		return herr.Error()
	}
}

// doer implements horizonclient.HTTP. The SDK scopes requests to its own
// background context; doer swaps in the caller's and keeps the status of
// the last response, which the SDK drops when an error body is not JSON.
type doer struct {
	ctx    context.Context
	hc     *http.Client
	status int
}

func (d *doer) Do(req *http.Request) (*http.Response, error) {
	resp, err := d.hc.Do(req.WithContext(d.ctx))
	if resp != nil {
		d.status = resp.StatusCode
	}
	return resp, err
}

func (d *doer) Get(u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(d.ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return d.Do(req)
}

func (d *doer) PostForm(u string, data url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(d.ctx, http.MethodPost, u, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return d.Do(req)
}
