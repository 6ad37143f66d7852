package vectorstore

import (
	"fmt"

	"github.com/haruki/chronosearch/internal/config"
)

// NewStore creates a Store instance based on the configuration.
// Parameters:
//   - cfg: vector store configuration including backend selection.
// Returns:
//   - Store: initialized vector store implementation.
//   - error: non-nil if the backend is unknown or cannot be created.
func NewStore(cfg *config.VectorsConfig, qdrantCfg *config.QdrantConfig) (Store, error) {
	switch cfg.Backend {
	case "", "local":
		return OpenLocal(cfg.Path)
	case "qdrant":
		return NewQdrantStore(&QdrantConfig{
			Host:   qdrantCfg.Host,
			Port:   qdrantCfg.Port,
			APIKey: qdrantCfg.APIKey,
			UseTLS: qdrantCfg.UseTLS,
		})
	default:
		return nil, fmt.Errorf("unknown vector store backend %q", cfg.Backend)
	}
}
