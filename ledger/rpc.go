package ledger

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/xid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
)

// RPCClient talks JSON-RPC to a real ledger node. The node's own
// consensus, transaction format and retry behavior are opaque here;
// only the small contract in Client is consumed.
type RPCClient struct {
	endpoint string
	http     *http.Client

	log *zap.Logger
}

func NewRPCClient(endpoint string, log *zap.Logger) *RPCClient {
	return &RPCClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
}

func (c *RPCClient) call(ctx context.Context, method string, params interface{}) (gjson.Result, error) {
	body := []byte(`{"jsonrpc":"2.0"}`)
	body, _ = sjson.SetBytes(body, "id", xid.New().String())
	body, _ = sjson.SetBytes(body, "method", method)
	body, _ = sjson.SetBytes(body, "params", params)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %v", ErrRPCFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("%w: http status %d", ErrRPCFailed, resp.StatusCode)
	}

	parsed := gjson.ParseBytes(raw)
	if rpcErr := parsed.Get("error"); rpcErr.Exists() {
		return gjson.Result{}, fmt.Errorf("%w: %s", ErrRPCFailed, rpcErr.Get("message").String())
	}

	return parsed.Get("result"), nil
}

func (c *RPCClient) Transfer(ctx context.Context, signer, to string, amount, fee uint64) (string, error) {
	result, err := c.call(ctx, "ledger_sendTransfer", map[string]interface{}{
		"signer": signer,
		"to":     to,
		"amount": amount,
		"fee":    fee,
	})
	if err != nil {
		return "", err
	}

	return result.Get("txid").String(), nil
}

func (c *RPCClient) AwaitReceipt(ctx context.Context, txid string, timeout time.Duration) (*Receipt, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	// The node indexes receipts once the transaction lands in a
	// block, so polling about once a second is plenty.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		result, err := c.call(ctx, "ledger_getTransactionReceipt", []string{txid})
		if err != nil {
			c.log.Warn("Receipt poll failed", zap.String("txid", txid), zap.Error(err))
		} else if result.Exists() && result.Get("txid").String() != "" {
			return &Receipt{
				TxID:        result.Get("txid").String(),
				BlockNumber: result.Get("blockNumber").Uint(),
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrReceiptTimeout
		case <-ticker.C:
		}
	}
}

func (c *RPCClient) Balance(ctx context.Context, address string) (uint64, error) {
	result, err := c.call(ctx, "ledger_getBalance", []string{address})
	if err != nil {
		return 0, err
	}

	return result.Get("balance").Uint(), nil
}

func (c *RPCClient) Nonce(ctx context.Context, address string) (uint64, error) {
	result, err := c.call(ctx, "ledger_getNonce", []string{address})
	if err != nil {
		return 0, err
	}

	return result.Get("nonce").Uint(), nil
}

var _ Client = (*RPCClient)(nil)
