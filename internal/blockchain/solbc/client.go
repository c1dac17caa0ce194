// internal/blockchain/solbc/client.go
package solbc

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-trader/internal/blockchain"
	nodepool "github.com/rovshanmuradov/solana-trader/internal/blockchain/solbc/rpc"
)

// Client – тонкий адаптер для взаимодействия с блокчейном Solana через solana-go.
type Client struct {
	pool   *nodepool.RPCClient
	logger *zap.Logger
}

// Гарантируем, что Client реализует интерфейс blockchain.Client.
var _ blockchain.Client = (*Client)(nil)

// IsAccountNotFoundError проверяет, является ли ошибка "аккаунт не найден"
func IsAccountNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, rpc.ErrNotFound) || errors.Is(err, blockchain.ErrAccountNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "could not find account") || strings.Contains(msg, "not found")
}

// NewClient создаёт клиент поверх списка RPC узлов.
func NewClient(rpcURLs []string, logger *zap.Logger) (*Client, error) {
	pool, err := nodepool.NewClient(rpcURLs, logger)
	if err != nil {
		return nil, err
	}
	return &Client{
		pool:   pool,
		logger: logger.Named("solbc-client"),
	}, nil
}

// Close освобождает соединения с узлами.
func (c *Client) Close() error {
	c.pool.Close()
	return nil
}

// GetBalance получает нативный баланс аккаунта.
func (c *Client) GetBalance(ctx context.Context, pubkey solana.PublicKey) (uint64, error) {
	var lamports uint64
	err := c.pool.ExecuteWithRetry(ctx, "getBalance", func(ctx context.Context, node *rpc.Client) error {
		result, err := node.GetBalance(ctx, pubkey, rpc.CommitmentConfirmed)
		if err != nil {
			return err
		}
		lamports = result.Value
		return nil
	})
	if err != nil {
		c.logger.Debug("GetBalance error", zap.String("pubkey", pubkey.String()), zap.Error(err))
		return 0, err
	}
	return lamports, nil
}

// GetTokenAccountBalance получает баланс токенного аккаунта
func (c *Client) GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (*blockchain.TokenAmount, error) {
	var amount *blockchain.TokenAmount
	err := c.pool.ExecuteWithRetry(ctx, "getTokenAccountBalance", func(ctx context.Context, node *rpc.Client) error {
		result, err := node.GetTokenAccountBalance(ctx, account, rpc.CommitmentConfirmed)
		if err != nil {
			return err
		}
		if result == nil || result.Value == nil {
			return blockchain.ErrAccountNotFound
		}
		raw, err := strconv.ParseUint(result.Value.Amount, 10, 64)
		if err != nil {
			return err
		}
		amount = &blockchain.TokenAmount{
			Amount:   raw,
			Decimals: result.Value.Decimals,
		}
		if result.Value.UiAmount != nil {
			amount.UIAmount = *result.Value.UiAmount
		}
		return nil
	})
	if IsAccountNotFoundError(err) {
		return nil, blockchain.ErrAccountNotFound
	}
	if err != nil {
		c.logger.Debug("GetTokenAccountBalance error", zap.String("account", account.String()), zap.Error(err))
		return nil, err
	}
	return amount, nil
}

// SendRawTransaction отправляет подписанную транзакцию.
func (c *Client) SendRawTransaction(ctx context.Context, raw []byte, opts blockchain.TransactionOptions) (solana.Signature, error) {
	commitment := rpc.CommitmentProcessed
	if opts.PreflightCommitment != "" {
		commitment = rpc.CommitmentType(opts.PreflightCommitment)
	}

	var sig solana.Signature
	err := c.pool.ExecuteWithRetry(ctx, "sendTransaction", func(ctx context.Context, node *rpc.Client) error {
		var err error
		sig, err = node.SendRawTransactionWithOpts(ctx, raw, rpc.TransactionOpts{
			SkipPreflight:       opts.SkipPreflight,
			PreflightCommitment: commitment,
		})
		return err
	})
	if err != nil {
		c.logger.Error("SendRawTransaction error", zap.String("detail", DescribeRPCError(err)))
		return solana.Signature{}, err
	}
	return sig, nil
}

// GetLatestBlockhash получает последний blockhash и его потолок высоты.
func (c *Client) GetLatestBlockhash(ctx context.Context) (*blockchain.Blockhash, error) {
	var out *blockchain.Blockhash
	err := c.pool.ExecuteWithRetry(ctx, "getLatestBlockhash", func(ctx context.Context, node *rpc.Client) error {
		result, err := node.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		if err != nil {
			return err
		}
		out = &blockchain.Blockhash{
			Hash:                 result.Value.Blockhash,
			LastValidBlockHeight: result.Value.LastValidBlockHeight,
		}
		return nil
	})
	if err != nil {
		c.logger.Error("GetLatestBlockhash error", zap.Error(err))
		return nil, err
	}
	return out, nil
}

// GetBlockHeight получает текущую высоту блока.
func (c *Client) GetBlockHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := c.pool.ExecuteWithRetry(ctx, "getBlockHeight", func(ctx context.Context, node *rpc.Client) error {
		var err error
		height, err = node.GetBlockHeight(ctx, rpc.CommitmentConfirmed)
		return err
	})
	return height, err
}

// GetSignatureStatus получает статус одной подписи.
func (c *Client) GetSignatureStatus(ctx context.Context, sig solana.Signature) (*blockchain.SignatureStatus, error) {
	var status *blockchain.SignatureStatus
	err := c.pool.ExecuteWithRetry(ctx, "getSignatureStatuses", func(ctx context.Context, node *rpc.Client) error {
		result, err := node.GetSignatureStatuses(ctx, false, sig)
		if err != nil {
			return err
		}
		if result == nil || len(result.Value) == 0 || result.Value[0] == nil {
			status = nil
			return nil
		}
		v := result.Value[0]
		status = &blockchain.SignatureStatus{
			Slot:  v.Slot,
			Level: blockchain.ConfirmationLevel(v.ConfirmationStatus),
			Err:   v.Err,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}
