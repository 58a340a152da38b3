package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result"`
}

// fakeNode answers the handful of methods the client uses.
type fakeNode struct {
	chainID  int64
	head     uint64
	requests atomic.Int64
}

func (n *fakeNode) answer(req rpcRequest) interface{} {
	switch req.Method {
	case "eth_chainId":
		return fmt.Sprintf("0x%x", n.chainID)
	case "eth_blockNumber":
		return fmt.Sprintf("0x%x", n.head)
	case "eth_getBlockByNumber":
		var tag string
		_ = json.Unmarshal(req.Params[0], &tag)
		num, _ := strconv.ParseUint(strings.TrimPrefix(tag, "0x"), 16, 64)
		if num > n.head {
			return nil
		}
		return map[string]string{
			"number":    tag,
			"hash":      common.BigToHash(new(big.Int).SetUint64(num + 1)).Hex(),
			"timestamp": fmt.Sprintf("0x%x", 1_700_000_000+num),
		}
	case "eth_getLogs":
		return []map[string]interface{}{{
			"address":          "0x00000000000000000000000000000000000000aa",
			"topics":           []string{common.HexToHash("0x01").Hex()},
			"data":             "0x",
			"blockNumber":      "0x10",
			"blockHash":        common.HexToHash("0xb10c").Hex(),
			"transactionHash":  common.HexToHash("0x7a").Hex(),
			"transactionIndex": "0x0",
			"logIndex":         "0x2",
			"removed":          false,
		}}
	default:
		return nil
	}
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	n.requests.Add(1)
	w.Header().Set("Content-Type", "application/json")

	if strings.HasPrefix(strings.TrimSpace(string(body)), "[") {
		var reqs []rpcRequest
		_ = json.Unmarshal(body, &reqs)
		out := make([]rpcResponse, len(reqs))
		for i, req := range reqs {
			out[i] = rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: n.answer(req)}
		}
		_ = json.NewEncoder(w).Encode(out)
		return
	}

	var req rpcRequest
	_ = json.Unmarshal(body, &req)
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: n.answer(req)})
}

func newTestClient(t *testing.T, node *fakeNode, chainID int64) *Client {
	t.Helper()
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)

	c, err := NewClient(context.Background(), srv.URL, chainID, 0, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestClient_LatestBlockAndLogs(t *testing.T) {
	node := &fakeNode{chainID: 10143, head: 120}
	c := newTestClient(t, node, 10143)

	head, err := c.GetLatestBlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(120), head)

	logs, err := c.GetLogs(context.Background(), 1, 120,
		[]common.Address{common.HexToAddress("0xaa")}, []common.Hash{common.HexToHash("0x01")})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, uint64(16), logs[0].BlockNumber)
	assert.Equal(t, uint(2), logs[0].Index)
	assert.Equal(t, int64(10143), c.ChainID())
}

func TestClient_ChainIDMismatch(t *testing.T) {
	srv := httptest.NewServer(&fakeNode{chainID: 1, head: 1})
	defer srv.Close()

	_, err := NewClient(context.Background(), srv.URL, 10143, 0, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain ID mismatch")
}

func TestClient_GetBlockHeaders(t *testing.T) {
	node := &fakeNode{chainID: 5, head: 500}
	c := newTestClient(t, node, 5)

	numbers := make([]uint64, 0, 120)
	for n := uint64(300); n < 420; n++ {
		numbers = append(numbers, n)
	}

	before := node.requests.Load()
	headers, err := c.GetBlockHeaders(context.Background(), numbers)
	require.NoError(t, err)
	require.Len(t, headers, len(numbers))
	assert.Equal(t, uint64(1_700_000_310), uint64(headers[310].Timestamp))
	// 120 headers in batches of 50.
	assert.Equal(t, int64(3), node.requests.Load()-before)

	_, err = c.GetBlockHeaders(context.Background(), []uint64{499, 501})
	assert.Error(t, err)
}

func TestClient_Retry(t *testing.T) {
	c := newTestClient(t, &fakeNode{chainID: 5, head: 1}, 5)

	calls := 0
	err := c.Retry(context.Background(), func() error {
		calls++
		if calls < 2 {
			return fmt.Errorf("transient")
		}
		return nil
	}, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
