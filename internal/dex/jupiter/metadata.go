// internal/dex/jupiter/metadata.go
package jupiter

import (
	"sync"
	"time"

	"github.com/rovshanmuradov/solana-trader/internal/domain"
)

const defaultMetadataTTL = 5 * time.Minute

// tokenMetadata хранит неизменяемую часть информации о токене
type tokenMetadata struct {
	Symbol    string
	Name      string
	Decimals  uint8
	Volume24h float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// metadataCache управляет кэшированием метаданных токенов. Цены не кэшируются.
type metadataCache struct {
	cache sync.Map
	ttl   time.Duration
	now   func() time.Time
}

func newMetadataCache(ttl time.Duration) *metadataCache {
	if ttl <= 0 {
		ttl = defaultMetadataTTL
	}
	return &metadataCache{ttl: ttl, now: time.Now}
}

// get получает метаданные из кэша с проверкой TTL
func (c *metadataCache) get(mint string) (*tokenMetadata, bool) {
	if value, ok := c.cache.Load(mint); ok {
		metadata := value.(*tokenMetadata)
		if c.now().Sub(metadata.UpdatedAt) < c.ttl {
			return metadata, true
		}
		// Если данные устарели, удаляем их из кэша
		c.cache.Delete(mint)
	}
	return nil, false
}

func (c *metadataCache) put(mint string, metadata *tokenMetadata) {
	metadata.UpdatedAt = c.now()
	c.cache.Store(mint, metadata)
}

// knownToken заполняет символ и имя для известных токенов, если API их не отдал.
func knownToken(mint string, metadata *tokenMetadata) {
	switch mint {
	case domain.NativeMint: // wSOL
		metadata.Symbol = "SOL"
		metadata.Name = "Wrapped SOL"
		metadata.Decimals = domain.NativeDecimals
	case "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": // USDC
		metadata.Symbol = "USDC"
		metadata.Name = "USD Coin"
		metadata.Decimals = 6
	case "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263": // Bonk
		metadata.Symbol = "BONK"
		metadata.Name = "Bonk"
		metadata.Decimals = 5
	}
}
