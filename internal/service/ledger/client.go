// Package ledger talks to a Sui full node over JSON-RPC.
package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"TeeRelay/internal/domain/models"
	"TeeRelay/internal/domain/relayerr"
	"TeeRelay/internal/domain/repository"
	xhttp "TeeRelay/pkg/http"
	"TeeRelay/pkg/logger"
	"TeeRelay/pkg/sui"

	"github.com/tidwall/gjson"
)

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int64
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

const gasCoinType = "0x2::sui::SUI"

var responseOptions = map[string]bool{
	"showEffects":       true,
	"showEvents":        true,
	"showObjectChanges": true,
}

type Client struct {
	url          string
	http         *xhttp.Client
	pollInterval time.Duration
	finality     time.Duration
	seq          atomic.Uint64
	log          *logger.Logger
	metrics      repository.Metrics
}

type Option func(*Client)

// WithFinality sets how long WaitForTransaction polls and how often.
func WithFinality(timeout, poll time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.finality = timeout
		}
		if poll > 0 {
			c.pollInterval = poll
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

func WithMetrics(m repository.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func NewClient(url string, httpClient *xhttp.Client, opts ...Option) *Client {
	c := &Client{
		url:          url,
		http:         httpClient,
		pollInterval: 500 * time.Millisecond,
		finality:     30 * time.Second,
		log:          logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// call returns the "result" member. Transport failures become NETWORK_ERROR; node errors
// come back as *RPCError for the caller to classify.
func (c *Client) call(ctx context.Context, method string, params ...interface{}) (gjson.Result, error) {
	start := time.Now()
	status, body, err := c.http.Send(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    c.url,
		Body:   rpcRequest{JSONRPC: "2.0", ID: c.seq.Add(1), Method: method, Params: params},
	})
	if c.metrics != nil {
		c.metrics.RecordLatency("ledger."+method, time.Since(start).Seconds())
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return gjson.Result{}, relayerr.Wrap(relayerr.CodeTimeout, method+" timed out", err)
		}
		return gjson.Result{}, relayerr.Wrap(relayerr.CodeNetworkError, method+" failed", err)
	}
	if status < 200 || status >= 300 {
		return gjson.Result{}, relayerr.Newf(relayerr.CodeNetworkError, "%s: node returned %d", method, status).
			WithParam("status", status)
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, relayerr.Newf(relayerr.CodeNetworkError, "%s: node returned invalid json", method)
	}
	doc := gjson.ParseBytes(body)
	if e := doc.Get("error"); e.Exists() {
		return gjson.Result{}, &RPCError{Code: e.Get("code").Int(), Message: e.Get("message").String()}
	}
	return doc.Get("result"), nil
}

// Execute submits a signed transaction. A node-side rejection is SUBMISSION_REJECTED with
// the node's message unchanged.
func (c *Client) Execute(ctx context.Context, txBytes []byte, signatures []string) (*models.ExecutionResult, error) {
	res, err := c.call(ctx, "sui_executeTransactionBlock",
		b64(txBytes), signatures, responseOptions, "WaitForLocalExecution")
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return nil, relayerr.New(relayerr.CodeSubmissionRejected, rpcErr.Message).WithParam("rpc_code", rpcErr.Code)
		}
		return nil, err
	}
	return parseResult(res), nil
}

// WaitForTransaction polls until the node knows digest or the finality bound passes.
func (c *Client) WaitForTransaction(ctx context.Context, digest string) (*models.ExecutionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.finality)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		res, err := c.call(ctx, "sui_getTransactionBlock", digest, responseOptions)
		if err == nil && res.Get("digest").Exists() {
			return parseResult(res), nil
		}
		var rpcErr *RPCError
		if err != nil && !errors.As(err, &rpcErr) && !errors.Is(err, relayerr.Timeout) {
			c.log.Debug("finality poll failed", logger.String("digest", digest), logger.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, relayerr.Wrap(relayerr.CodeTimeout, "finality not observed in time", ctx.Err()).
				WithParam("digest", digest)
		case <-ticker.C:
		}
	}
}

func (c *Client) GetCoins(ctx context.Context, owner sui.Address, coinType string, limit int) ([]models.Coin, error) {
	res, err := c.call(ctx, "suix_getCoins", owner.String(), coinType, nil, limit)
	if err != nil {
		return nil, asNetwork(err)
	}
	var out []models.Coin
	for _, item := range res.Get("data").Array() {
		ref, err := parseRef(item.Get("coinObjectId").String(), item.Get("version").String(), item.Get("digest").String())
		if err != nil {
			return nil, relayerr.Wrap(relayerr.CodeNetworkError, "node returned a malformed coin", err)
		}
		bal, _ := strconv.ParseUint(item.Get("balance").String(), 10, 64)
		out = append(out, models.Coin{Ref: ref, Balance: bal})
	}
	return out, nil
}

// GetObjectRefs resolves current versions. An id the node does not know is a caller error.
func (c *Client) GetObjectRefs(ctx context.Context, ids []sui.Address) ([]sui.ObjectRef, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	res, err := c.call(ctx, "sui_multiGetObjects", strs, map[string]bool{})
	if err != nil {
		return nil, asNetwork(err)
	}
	items := res.Array()
	if len(items) != len(ids) {
		return nil, relayerr.Newf(relayerr.CodeNetworkError, "asked for %d objects, node returned %d", len(ids), len(items))
	}
	out := make([]sui.ObjectRef, 0, len(ids))
	for i, item := range items {
		data := item.Get("data")
		if !data.Exists() {
			return nil, relayerr.Newf(relayerr.CodeParameterMismatch, "object %s does not exist", ids[i]).
				WithParam("field", "coin_object_ids")
		}
		ref, err := parseRef(data.Get("objectId").String(), data.Get("version").String(), data.Get("digest").String())
		if err != nil {
			return nil, relayerr.Wrap(relayerr.CodeNetworkError, "node returned a malformed object", err)
		}
		out = append(out, ref)
	}
	return out, nil
}

// WithdrawableBalance reads the account's dynamic field under ledgerID, the vault's balance
// table. No entry is zero.
func (c *Client) WithdrawableBalance(ctx context.Context, ledgerID sui.Address, account sui.Address) (uint64, error) {
	res, err := c.call(ctx, "suix_getDynamicFieldObject", ledgerID.String(),
		map[string]string{"type": "address", "value": account.String()})
	if err != nil {
		return 0, asNetwork(err)
	}
	if !res.Get("data").Exists() {
		return 0, nil
	}
	v := res.Get("data.content.fields.value")
	n, err := strconv.ParseUint(v.String(), 10, 64)
	if err != nil {
		return 0, relayerr.Wrap(relayerr.CodeNetworkError, "balance field is not a u64", err)
	}
	return n, nil
}

func parseResult(res gjson.Result) *models.ExecutionResult {
	out := &models.ExecutionResult{
		Digest:     res.Get("digest").String(),
		Status:     res.Get("effects.status.status").String(),
		Checkpoint: res.Get("checkpoint").String(),
	}
	if e := res.Get("effects"); e.Exists() {
		out.Effects = json.RawMessage(e.Raw)
	}
	if e := res.Get("events"); e.Exists() {
		out.Events = json.RawMessage(e.Raw)
	}
	if e := res.Get("objectChanges"); e.Exists() {
		out.ObjectChanges = json.RawMessage(e.Raw)
	}
	return out
}

// FailureReason is the effects error of a transaction that executed but aborted.
func FailureReason(r *models.ExecutionResult) string {
	if r == nil || len(r.Effects) == 0 {
		return ""
	}
	return gjson.GetBytes(r.Effects, "status.error").String()
}

func parseRef(id, version, digest string) (sui.ObjectRef, error) {
	var (
		ref sui.ObjectRef
		err error
	)
	if ref.ObjectID, err = sui.ParseAddress(id); err != nil {
		return ref, err
	}
	if ref.Version, err = strconv.ParseUint(version, 10, 64); err != nil {
		return ref, fmt.Errorf("version %q: %w", version, err)
	}
	if ref.Digest, err = sui.ParseDigest(digest); err != nil {
		return ref, err
	}
	return ref, nil
}

func b64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func asNetwork(err error) error {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return relayerr.Wrap(relayerr.CodeNetworkError, rpcErr.Message, err)
	}
	return err
}
