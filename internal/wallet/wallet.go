// ==================================
// File: internal/wallet/wallet.go
// ==================================
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-trader/internal/blockchain"
	"github.com/rovshanmuradov/solana-trader/internal/blockchain/solbc"
	"github.com/rovshanmuradov/solana-trader/internal/domain"
)

// NativeSymbol - ключ нативного баланса в истории балансов.
const NativeSymbol = "SOL"

// Options настраивает опрос подтверждений.
type Options struct {
	// PollInitial - первая пауза между запросами статуса.
	PollInitial time.Duration
	// PollMax - потолок паузы между запросами статуса.
	PollMax time.Duration
}

// DefaultOptions возвращает настройки по умолчанию.
func DefaultOptions() Options {
	return Options{
		PollInitial: 500 * time.Millisecond,
		PollMax:     3 * time.Second,
	}
}

// Signer владеет ключевой парой одного владельца. Приватный ключ не
// покидает структуру и никогда не пишется в лог.
type Signer struct {
	privateKey solana.PrivateKey
	publicKey  solana.PublicKey
	client     blockchain.Client
	logger     *zap.Logger
	opts       Options

	ataMu    sync.Mutex
	ataCache map[solana.PublicKey]solana.PublicKey // Кеш для ассоциированных адресов токен-аккаунтов (ATA)
}

// NewSigner создаёт подписанта из base58-encoded приватного ключа.
func NewSigner(privateKeyBase58 string, client blockchain.Client, logger *zap.Logger, opts Options) (*Signer, error) {
	privateKeyBytes, err := base58.Decode(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("%w: decode private key", domain.ErrInvalidAddress)
	}
	if len(privateKeyBytes) != 64 {
		return nil, fmt.Errorf("%w: expected 64-byte private key, got %d", domain.ErrInvalidAddress, len(privateKeyBytes))
	}
	if opts.PollInitial <= 0 || opts.PollMax <= 0 {
		opts = DefaultOptions()
	}

	privateKey := solana.PrivateKey(privateKeyBytes)
	publicKey := privateKey.PublicKey()
	return &Signer{
		privateKey: privateKey,
		publicKey:  publicKey,
		client:     client,
		logger:     logger.Named("signer").With(zap.String("wallet", publicKey.String())),
		opts:       opts,
		ataCache:   make(map[solana.PublicKey]solana.PublicKey),
	}, nil
}

// PublicKey returns the wallet address.
func (s *Signer) PublicKey() solana.PublicKey {
	return s.publicKey
}

// String возвращает публичный ключ. Приватный ключ не печатается.
func (s *Signer) String() string {
	return s.publicKey.String()
}

// ATA возвращает адрес ассоциированного токен-аккаунта для mint с кешем.
func (s *Signer) ATA(mint solana.PublicKey) (solana.PublicKey, error) {
	s.ataMu.Lock()
	defer s.ataMu.Unlock()

	if ata, ok := s.ataCache[mint]; ok {
		return ata, nil
	}
	ata, _, err := solana.FindAssociatedTokenAddress(s.publicKey, mint)
	if err != nil {
		return solana.PublicKey{}, err
	}
	s.ataCache[mint] = ata
	return ata, nil
}

// IsNative сообщает, относится ли mint к нативному балансу кошелька.
func (s *Signer) IsNative(mint string) bool {
	return mint == "" || mint == NativeSymbol || mint == domain.NativeMint || mint == s.publicKey.String()
}

// BalanceOf возвращает баланс кошелька по mint. Для собственного адреса и
// нативного mint - баланс SOL. Отсутствующий токен-аккаунт дает нулевой
// баланс, а не ошибку.
func (s *Signer) BalanceOf(ctx context.Context, mint string) (domain.Balance, error) {
	if s.IsNative(mint) {
		lamports, err := s.client.GetBalance(ctx, s.publicKey)
		if err != nil {
			return domain.Balance{}, fmt.Errorf("get native balance: %w", err)
		}
		return domain.Balance{
			Decimals: domain.NativeDecimals,
			Raw:      lamports,
			Amount:   float64(lamports) / float64(solana.LAMPORTS_PER_SOL),
		}, nil
	}

	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("%w: %q", domain.ErrInvalidAddress, mint)
	}
	ata, err := s.ATA(mintKey)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("%w: derive token account: %v", domain.ErrInvalidAddress, err)
	}

	amount, err := s.client.GetTokenAccountBalance(ctx, ata)
	if errors.Is(err, blockchain.ErrAccountNotFound) {
		return domain.Balance{}, nil
	}
	if err != nil {
		return domain.Balance{}, fmt.Errorf("get token balance: %w", err)
	}

	ui := amount.UIAmount
	if ui == 0 && amount.Amount > 0 {
		ui = float64(amount.Amount) / math.Pow10(int(amount.Decimals))
	}
	return domain.Balance{Decimals: amount.Decimals, Raw: amount.Amount, Amount: ui}, nil
}

// SignAndBroadcast десериализует неподписанную транзакцию, подписывает ее
// ключом кошелька, добавляет подписи соподписантов и отправляет без
// preflight. Ошибки исполнения проявятся только при подтверждении.
func (s *Signer) SignAndBroadcast(ctx context.Context, unsigned []byte, extra ...solana.Signature) (solana.Signature, error) {
	raw, err := s.sign(unsigned, extra)
	if err != nil {
		return solana.Signature{}, err
	}

	sig, err := s.client.SendRawTransaction(ctx, raw, blockchain.TransactionOptions{
		SkipPreflight:       true,
		PreflightCommitment: "processed",
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %s", domain.ErrBroadcastFailure, solbc.DescribeRPCError(err))
	}

	s.logger.Info("Transaction broadcast", zap.String("signature", sig.String()))
	return sig, nil
}

func (s *Signer) sign(unsigned []byte, extra []solana.Signature) ([]byte, error) {
	if len(unsigned) == 0 {
		return nil, fmt.Errorf("%w: empty transaction payload", domain.ErrSignatureFailure)
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(unsigned))
	if err != nil {
		return nil, fmt.Errorf("%w: decode transaction: %v", domain.ErrSignatureFailure, err)
	}
	if len(tx.Message.AccountKeys) == 0 || !tx.Message.AccountKeys[0].Equals(s.publicKey) {
		return nil, fmt.Errorf("%w: wallet is not the fee payer", domain.ErrSignatureFailure)
	}

	required := int(tx.Message.Header.NumRequiredSignatures)
	if required < 1 || len(extra) > required-1 {
		return nil, fmt.Errorf("%w: transaction expects %d signatures, got %d co-signatures",
			domain.ErrSignatureFailure, required, len(extra))
	}

	message, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: encode message: %v", domain.ErrSignatureFailure, err)
	}
	own, err := s.privateKey.Sign(message)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSignatureFailure, err)
	}

	signatures := make([]solana.Signature, required)
	copy(signatures, tx.Signatures)
	signatures[0] = own
	copy(signatures[1:], extra)
	tx.Signatures = signatures

	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: encode transaction: %v", domain.ErrSignatureFailure, err)
	}
	return raw, nil
}
