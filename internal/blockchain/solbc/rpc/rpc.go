// internal/blockchain/solbc/rpc/rpc.go
package rpc

import (
	"context"
	"sync"
	"time"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// Основные константы
const (
	retryDelay = 300 * time.Millisecond
	reqTimeout = 15 * time.Second
)

// RPCClient распределяет запросы по узлам по кругу и переключается на
// следующий узел при сетевой ошибке.
type RPCClient struct {
	nodes   []*solanarpc.Client
	urls    []string
	current int
	mu      sync.Mutex
	logger  *zap.Logger
}

// NewClient создает новый RPC клиент
func NewClient(urls []string, logger *zap.Logger) (*RPCClient, error) {
	if len(urls) == 0 {
		return nil, ErrNoRPCNodes
	}

	nodes := make([]*solanarpc.Client, len(urls))
	for i, url := range urls {
		nodes[i] = solanarpc.New(url)
	}

	return &RPCClient{
		nodes:  nodes,
		urls:   urls,
		logger: logger.Named("rpc-client"),
	}, nil
}

// next возвращает текущий узел и сдвигает указатель
func (c *RPCClient) next() (*solanarpc.Client, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node := c.nodes[c.current]
	url := c.urls[c.current]
	c.current = (c.current + 1) % len(c.nodes)
	return node, url
}

// ExecuteWithRetry выполняет операцию, перебирая узлы, пока ошибка
// остается повторяемой. Каждый узел пробуется не больше одного раза.
func (c *RPCClient) ExecuteWithRetry(ctx context.Context, method string, operation func(context.Context, *solanarpc.Client) error) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, reqTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < len(c.nodes); attempt++ {
		node, url := c.next()

		err := operation(timeoutCtx, node)
		if err == nil {
			return nil
		}
		lastErr = NewError(err, url, method)

		if !IsRetryableError(err) {
			return lastErr
		}

		c.logger.Debug("RPC request failed, trying next node",
			zap.String("method", method),
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < len(c.nodes)-1 {
			select {
			case <-timeoutCtx.Done():
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return NewError(ErrTimeout, url, method)
			case <-time.After(retryDelay):
			}
		}
	}

	c.logger.Warn("All RPC nodes failed",
		zap.String("method", method),
		zap.Error(lastErr))
	return lastErr
}

// Close закрывает клиент
func (c *RPCClient) Close() {
	for _, node := range c.nodes {
		_ = node.Close()
	}
}
