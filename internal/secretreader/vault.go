package secretreader

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	vaultapi "github.com/hashicorp/vault/api"
)

// VaultReader is a Reader backed by a Vault KV path, fronted by an LRU
// cache so the dry-run fan-out does not hammer Vault for the same path
// from every worker.
type VaultReader struct {
	client *vaultapi.Client

	mu    sync.Mutex
	cache *lru.Cache[string, map[string]string]
}

// NewVaultReader constructs a VaultReader against addr, authenticated with
// token, caching up to cacheSize distinct secret paths.
func NewVaultReader(addr, token string, cacheSize int) (*VaultReader, error) {
	cfg := vaultapi.DefaultConfig()
	cfg.Address = addr
	client, err := vaultapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("secretreader: constructing vault client: %w", err)
	}
	client.SetToken(token)

	cache, err := lru.New[string, map[string]string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("secretreader: constructing cache: %w", err)
	}

	return &VaultReader{client: client, cache: cache}, nil
}

var _ Reader = (*VaultReader)(nil)

func (v *VaultReader) ReadAll(ctx context.Context, ref Ref) (map[string]string, error) {
	v.mu.Lock()
	if cached, ok := v.cache.Get(ref.Path); ok {
		v.mu.Unlock()
		return cached, nil
	}
	v.mu.Unlock()

	secret, err := v.client.Logical().ReadWithContext(ctx, ref.Path)
	if err != nil {
		return nil, fmt.Errorf("secretreader: reading %s: %w", ref.Path, err)
	}
	if secret == nil {
		return nil, fmt.Errorf("secretreader: no secret found at %s", ref.Path)
	}

	fields := make(map[string]string, len(secret.Data))
	for k, val := range secret.Data {
		s, ok := val.(string)
		if !ok {
			continue
		}
		fields[k] = s
	}

	v.mu.Lock()
	v.cache.Add(ref.Path, fields)
	v.mu.Unlock()

	return fields, nil
}

func (v *VaultReader) ReadField(ctx context.Context, ref Ref) (string, error) {
	fields, err := v.ReadAll(ctx, ref)
	if err != nil {
		return "", err
	}
	val, ok := fields[ref.Field]
	if !ok {
		return "", fmt.Errorf("secretreader: field %q not found at %s", ref.Field, ref.Path)
	}
	return val, nil
}
