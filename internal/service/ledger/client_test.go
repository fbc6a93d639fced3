package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"TeeRelay/internal/domain/relayerr"
	xhttp "TeeRelay/pkg/http"
	"TeeRelay/pkg/sui"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// node answers JSON-RPC calls with the reply registered for the method.
func node(t *testing.T, replies map[string]func(params gjson.Result) string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		req := gjson.ParseBytes(body)
		fn, ok := replies[req.Get("method").String()]
		if !ok {
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"method not found"}}`, req.Get("id").Int())
			return
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,%s}`, req.Get("id").Int(), fn(req.Get("params")))
	}))
	t.Cleanup(srv.Close)
	return srv
}

var txDigest = sui.Digest{1, 2, 3, 4}.String()

func TestExecuteParsesEffects(t *testing.T) {
	srv := node(t, map[string]func(gjson.Result) string{
		"sui_executeTransactionBlock": func(p gjson.Result) string {
			require.Equal(t, 2, len(p.Get("1").Array()))
			require.True(t, p.Get("2.showObjectChanges").Bool())
			return fmt.Sprintf(`"result":{"digest":%q,"effects":{"status":{"status":"success"}},"events":[],"objectChanges":[{"type":"mutated"}]}`, txDigest)
		},
	})
	c := NewClient(srv.URL, xhttp.NewClient())

	res, err := c.Execute(context.Background(), []byte{1, 2}, []string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, txDigest, res.Digest)
	require.Equal(t, "success", res.Status)
	require.JSONEq(t, `[{"type":"mutated"}]`, string(res.ObjectChanges))
}

func TestExecuteRejectionKeepsNodeMessage(t *testing.T) {
	const msg = "Transaction has non recoverable errors from at least 1/3 of validators"
	srv := node(t, map[string]func(gjson.Result) string{
		"sui_executeTransactionBlock": func(gjson.Result) string {
			return fmt.Sprintf(`"error":{"code":-32002,"message":%q}`, msg)
		},
	})
	_, err := NewClient(srv.URL, xhttp.NewClient()).Execute(context.Background(), []byte{1}, []string{"a"})
	require.True(t, errors.Is(err, relayerr.SubmissionRejected))
	e, _ := relayerr.As(err)
	require.Equal(t, msg, e.Detail)
	require.False(t, e.Retryable())
}

func TestExecuteUnreachableIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, xhttp.NewClient(xhttp.WithTimeout(time.Second))).Execute(context.Background(), []byte{1}, nil)
	require.True(t, errors.Is(err, relayerr.NetworkError))
}

func TestWaitPollsUntilKnown(t *testing.T) {
	var calls atomic.Int32
	srv := node(t, map[string]func(gjson.Result) string{
		"sui_getTransactionBlock": func(gjson.Result) string {
			if calls.Add(1) < 3 {
				return `"error":{"code":-32602,"message":"Could not find the referenced transaction"}`
			}
			return fmt.Sprintf(`"result":{"digest":%q,"effects":{"status":{"status":"success"}}}`, txDigest)
		},
	})
	c := NewClient(srv.URL, xhttp.NewClient(), WithFinality(2*time.Second, 10*time.Millisecond))

	res, err := c.WaitForTransaction(context.Background(), txDigest)
	require.NoError(t, err)
	require.Equal(t, txDigest, res.Digest)
	require.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestWaitTimesOut(t *testing.T) {
	srv := node(t, map[string]func(gjson.Result) string{
		"sui_getTransactionBlock": func(gjson.Result) string {
			return `"error":{"code":-32602,"message":"Could not find the referenced transaction"}`
		},
	})
	c := NewClient(srv.URL, xhttp.NewClient(), WithFinality(50*time.Millisecond, 10*time.Millisecond))

	_, err := c.WaitForTransaction(context.Background(), txDigest)
	require.True(t, errors.Is(err, relayerr.Timeout))
}

func TestGetCoinsAndBalance(t *testing.T) {
	coinID := sui.MustParseAddress("0xc0")
	srv := node(t, map[string]func(gjson.Result) string{
		"suix_getCoins": func(p gjson.Result) string {
			require.Equal(t, "0x2::sui::SUI", p.Get("1").String())
			return fmt.Sprintf(`"result":{"data":[{"coinObjectId":%q,"version":"17","digest":%q,"balance":"900000000"}],"hasNextPage":false}`,
				coinID.String(), txDigest)
		},
		"suix_getDynamicFieldObject": func(p gjson.Result) string {
			if p.Get("1.value").String() == sui.MustParseAddress("0x1").String() {
				return `"result":{"error":{"code":"dynamicFieldNotFound"}}`
			}
			return `"result":{"data":{"content":{"fields":{"value":"250000000"}}}}`
		},
	})
	c := NewClient(srv.URL, xhttp.NewClient())

	coins, err := c.GetCoins(context.Background(), sui.MustParseAddress("0x5e"), "0x2::sui::SUI", 10)
	require.NoError(t, err)
	require.Len(t, coins, 1)
	require.Equal(t, coinID, coins[0].Ref.ObjectID)
	require.Equal(t, uint64(17), coins[0].Ref.Version)
	require.Equal(t, uint64(900_000_000), coins[0].Balance)

	bal, err := c.WithdrawableBalance(context.Background(), sui.MustParseAddress("0xe3"), sui.MustParseAddress("0x2"))
	require.NoError(t, err)
	require.Equal(t, uint64(250_000_000), bal)

	bal, err = c.WithdrawableBalance(context.Background(), sui.MustParseAddress("0xe3"), sui.MustParseAddress("0x1"))
	require.NoError(t, err)
	require.Zero(t, bal)
}
