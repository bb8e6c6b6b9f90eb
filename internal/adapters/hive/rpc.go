package hive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultNode   = "https://api.hive.blog"
	rpcRatePerSec = 20
	baseRetryWait = 250 * time.Millisecond
)

// RPCError es un error devuelto por el nodo en el sobre JSON-RPC.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

// rpcClient habla JSON-RPC 2.0 con una lista de nodos. Ante fallos de
// transporte pasa al siguiente nodo de la lista.
type rpcClient struct {
	http    *http.Client
	nodes   []string
	limiter *rate.Limiter
	ids     atomic.Int64

	mu      sync.Mutex
	current int
}

func newRPCClient(nodes []string, timeout time.Duration) *rpcClient {
	if len(nodes) == 0 {
		nodes = []string{defaultNode}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &rpcClient{
		http:    &http.Client{Timeout: timeout},
		nodes:   nodes,
		limiter: rate.NewLimiter(rpcRatePerSec, 10),
	}
}

func (c *rpcClient) node() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodes[c.current]
}

// failover pasa al siguiente nodo si failed sigue siendo el actual.
func (c *rpcClient) failover(failed string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nodes[c.current] != failed {
		return
	}
	c.current = (c.current + 1) % len(c.nodes)
	slog.Warn("hive: switching node", "from", failed, "to", c.nodes[c.current])
}

// call hace una llamada JSON-RPC. Cada nodo se intenta una vez; los errores
// del propio RPC no se reintentan.
func (c *rpcClient) call(ctx context.Context, method string, params, out any) error {
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      c.ids.Add(1),
	})
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", method, err)
	}

	var lastErr error
	for attempt := 0; attempt < len(c.nodes)+1; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: rate limiter: %w", method, err)
		}
		node := c.node()
		result, err := c.post(ctx, node, body)
		if err == nil {
			if out == nil || len(result) == 0 {
				return nil
			}
			if err := json.Unmarshal(result, out); err != nil {
				return fmt.Errorf("%s: decode result: %w", method, err)
			}
			return nil
		}
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return fmt.Errorf("%s: %w", method, err)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", method, ctx.Err())
		}
		lastErr = err
		c.failover(node)
		c.sleep(ctx, attempt)
	}
	return fmt.Errorf("%s: all nodes failed: %w", method, lastErr)
}

func (c *rpcClient) post(ctx context.Context, node string, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, node, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("node %s: status %d: %s", node, resp.StatusCode, msg)
	}
	var env struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("node %s: decode: %w", node, err)
	}
	if env.Error != nil {
		return nil, env.Error
	}
	return env.Result, nil
}

func (c *rpcClient) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
