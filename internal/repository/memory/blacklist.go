package memory

import (
	"context"
	"sync"
	"time"
)

// Blacklist реализует auth.Blacklister в памяти процесса. Истёкшие записи
// удаляются лениво.
type Blacklist struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

// NewBlacklist создаёт пустой Blacklist.
func NewBlacklist(now func() time.Time) *Blacklist {
	if now == nil {
		now = time.Now
	}
	return &Blacklist{revoked: make(map[string]time.Time), now: now}
}

func (b *Blacklist) Revoke(_ context.Context, jti string, until time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.revoked[jti] = until
	return nil
}

func (b *Blacklist) IsRevoked(_ context.Context, jti string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	until, ok := b.revoked[jti]
	if !ok {
		return false, nil
	}
	if !b.now().Before(until) {
		delete(b.revoked, jti)
		return false, nil
	}
	return true, nil
}
