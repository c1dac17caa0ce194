// internal/wallet/keystore.go
package wallet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/rovshanmuradov/solana-trader/internal/blockchain"
)

// ErrUnknownOwner возвращается, если для владельца нет ключа.
var ErrUnknownOwner = errors.New("no wallet for owner")

// KeystoreFile represents the structure of wallets YAML file
type KeystoreFile struct {
	Wallets []struct {
		Owner      string `yaml:"owner"`
		PrivateKey string `yaml:"private_key"`
	} `yaml:"wallets"`
}

// Keystore хранит по одному подписанту на владельца.
type Keystore struct {
	mu      sync.RWMutex
	signers map[string]*Signer
}

// NewKeystore создаёт пустое хранилище.
func NewKeystore() *Keystore {
	return &Keystore{signers: make(map[string]*Signer)}
}

// LoadKeystore загружает кошельки из YAML-файла. Записи с невалидным ключом
// отбрасываются с предупреждением; сам ключ в лог не попадает.
func LoadKeystore(path string, client blockchain.Client, logger *zap.Logger, opts Options) (*Keystore, error) {
	cleanPath := filepath.Clean(path)

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read wallets file: %w", err)
	}

	var file KeystoreFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse wallets YAML: %w", err)
	}
	if len(file.Wallets) == 0 {
		return nil, fmt.Errorf("no wallets found in %s", cleanPath)
	}

	ks := NewKeystore()
	for i, entry := range file.Wallets {
		if entry.Owner == "" || entry.PrivateKey == "" {
			logger.Warn("Skipping incomplete wallet entry", zap.Int("index", i))
			continue
		}
		signer, err := NewSigner(entry.PrivateKey, client, logger, opts)
		if err != nil {
			logger.Warn("Skipping wallet with invalid key",
				zap.String("owner", entry.Owner), zap.Error(err))
			continue
		}
		ks.Put(entry.Owner, signer)
	}

	if len(ks.signers) == 0 {
		return nil, fmt.Errorf("no valid wallets loaded from %s", cleanPath)
	}
	logger.Info("Wallets loaded", zap.Int("count", len(ks.signers)))
	return ks, nil
}

// Put registers a signer for the owner, replacing any previous one.
func (k *Keystore) Put(owner string, signer *Signer) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.signers[owner] = signer
}

// Signer возвращает подписанта владельца.
func (k *Keystore) Signer(owner string) (*Signer, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, ok := k.signers[owner]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOwner, owner)
	}
	return s, nil
}

// Owners returns the registered owners in sorted order.
func (k *Keystore) Owners() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	owners := make([]string, 0, len(k.signers))
	for owner := range k.signers {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners
}
