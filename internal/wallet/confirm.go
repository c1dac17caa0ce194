// internal/wallet/confirm.go
package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-trader/internal/blockchain/solbc"
	"github.com/rovshanmuradov/solana-trader/internal/domain"
)

var errNotConfirmed = errors.New("transaction not confirmed yet")

// Confirm ждет подтверждения подписи. Потолком ожидания служит
// lastValidBlockHeight последнего blockhash: когда высота блока его
// превышает, транзакция уже не может попасть в сеть.
//
// nil означает успех. Ошибка исполнения в сети возвращается как
// *domain.OnChainError, истечение blockhash как domain.ErrConfirmationTimeout.
func (s *Signer) Confirm(ctx context.Context, sig solana.Signature) error {
	start := s.logger.With(zap.String("signature", sig.String()))

	bh, err := backoff.Retry(ctx, func() (uint64, error) {
		latest, err := s.client.GetLatestBlockhash(ctx)
		if err != nil {
			return 0, err
		}
		return latest.LastValidBlockHeight, nil
	}, backoff.WithBackOff(s.newBackOff()), backoff.WithMaxTries(5))
	if err != nil {
		return fmt.Errorf("%w: cannot read block height ceiling: %v", domain.ErrConfirmationTimeout, err)
	}
	ceiling := bh

	op := func() (struct{}, error) {
		status, err := s.client.GetSignatureStatus(ctx, sig)
		if err != nil {
			start.Debug("Signature status unavailable", zap.Error(err))
			return struct{}{}, err
		}
		if status != nil && status.Err != nil {
			return struct{}{}, backoff.Permanent(domain.NewOnChainError(solbc.DescribeTransactionError(status.Err)))
		}
		if status != nil && status.Settled() {
			return struct{}{}, nil
		}

		height, err := s.client.GetBlockHeight(ctx)
		if err != nil {
			return struct{}{}, err
		}
		if height > ceiling {
			return struct{}{}, backoff.Permanent(fmt.Errorf("%w: blockhash expired at height %d (current %d)",
				domain.ErrConfirmationTimeout, ceiling, height))
		}
		return struct{}{}, errNotConfirmed
	}

	_, err = backoff.Retry(ctx, op, backoff.WithBackOff(s.newBackOff()))
	switch {
	case err == nil:
		start.Info("Transaction confirmed")
		return nil
	case errors.Is(err, domain.ErrOnChain), errors.Is(err, domain.ErrConfirmationTimeout):
		start.Warn("Transaction not confirmed", zap.Error(err))
		return err
	default:
		start.Warn("Confirmation aborted", zap.Error(err))
		return fmt.Errorf("%w: %v", domain.ErrConfirmationTimeout, err)
	}
}

func (s *Signer) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.PollInitial
	b.MaxInterval = s.opts.PollMax
	return b
}
