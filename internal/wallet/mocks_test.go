// internal/wallet/mocks_test.go
package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-trader/internal/blockchain"
)

// MockClient реализует интерфейс blockchain.Client
type MockClient struct {
	mock.Mock
}

func (m *MockClient) GetBalance(ctx context.Context, pubkey solana.PublicKey) (uint64, error) {
	args := m.Called(ctx, pubkey)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockClient) GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (*blockchain.TokenAmount, error) {
	args := m.Called(ctx, account)
	amount, _ := args.Get(0).(*blockchain.TokenAmount)
	return amount, args.Error(1)
}

func (m *MockClient) SendRawTransaction(ctx context.Context, raw []byte, opts blockchain.TransactionOptions) (solana.Signature, error) {
	args := m.Called(ctx, raw, opts)
	return args.Get(0).(solana.Signature), args.Error(1)
}

func (m *MockClient) GetLatestBlockhash(ctx context.Context) (*blockchain.Blockhash, error) {
	args := m.Called(ctx)
	bh, _ := args.Get(0).(*blockchain.Blockhash)
	return bh, args.Error(1)
}

func (m *MockClient) GetBlockHeight(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockClient) GetSignatureStatus(ctx context.Context, sig solana.Signature) (*blockchain.SignatureStatus, error) {
	args := m.Called(ctx, sig)
	status, _ := args.Get(0).(*blockchain.SignatureStatus)
	return status, args.Error(1)
}

var testOptions = Options{PollInitial: time.Millisecond, PollMax: 5 * time.Millisecond}

// newTestSigner создает подписанта со свежим ключом и моком клиента.
func newTestSigner(t *testing.T) (*Signer, *MockClient) {
	t.Helper()
	client := new(MockClient)
	signer, err := NewSigner(solana.NewWallet().PrivateKey.String(), client, zaptest.NewLogger(t), testOptions)
	require.NoError(t, err)
	return signer, client
}

// unsignedTransfer собирает неподписанную транзакцию с указанным плательщиком,
// в том виде, в котором ее отдает агрегатор: с пустыми слотами подписей.
func unsignedTransfer(t *testing.T, payer solana.PublicKey) []byte {
	t.Helper()
	recipient := solana.NewWallet().PublicKey()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1000, payer, recipient).Build()},
		solana.Hash{1, 2, 3},
		solana.TransactionPayer(payer),
	)
	require.NoError(t, err)
	tx.Signatures = make([]solana.Signature, tx.Message.Header.NumRequiredSignatures)

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return raw
}
