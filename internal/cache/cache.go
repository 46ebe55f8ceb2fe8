package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"signalwatch/internal/config"
	"signalwatch/internal/model"
)

const keyPrefix = "signalwatch:analysis:"

// Cache stores analyses by content fingerprint. Implementations are best
// effort: backend failures are reported as misses and never returned.
type Cache interface {
	Get(ctx context.Context, key string) (model.Analysis, bool)
	Put(ctx context.Context, key string, analysis model.Analysis, ttl time.Duration)
	Ping(ctx context.Context) error
	Backend() string
	Close() error
}

// Key fingerprints the canonical event content together with the ordered
// term list. Reordering terms yields a different key.
func Key(content model.EventContent, terms []string) string {
	h := sha256.New()
	h.Write(content.Canonical())
	h.Write([]byte{':'})
	h.Write([]byte(strings.Join(terms, ",")))
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

func New(cfg config.CacheConfig, logger *slog.Logger) (Cache, error) {
	switch strings.ToLower(cfg.Backend) {
	case "redis":
		return NewRedis(cfg, logger)
	case "memory":
		return NewMemory(), nil
	case "none", "":
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Backend)
	}
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) (model.Analysis, bool) {
	return model.Analysis{}, false
}

func (Nop) Put(context.Context, string, model.Analysis, time.Duration) {}

func (Nop) Ping(context.Context) error {
	return nil
}

func (Nop) Backend() string {
	return "none"
}

func (Nop) Close() error {
	return nil
}
