package reminder

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

// DefaultKey is the store key holding the serialized reminder set.
const DefaultKey = "scheduled_reminders"

// Persister reads and writes the full reminder set under one store key.
// It does not lock across Load and Save; two writers sharing a store race.
type Persister struct {
	store storage.Store
	key   string
	log   logx.Logger
}

func NewPersister(store storage.Store, key string, log logx.Logger) *Persister {
	key = strings.TrimSpace(key)
	if key == "" {
		key = DefaultKey
	}
	return &Persister{store: store, key: key, log: log}
}

func (p *Persister) Key() string { return p.key }

// Load returns the persisted set. Missing, unreadable or malformed data yields
// an empty set.
func (p *Persister) Load(ctx context.Context) []Stored {
	raw, ok, err := p.store.Get(ctx, p.key)
	if err != nil {
		p.log.Warn("reminder state unreadable", logx.String("key", p.key), logx.Err(err))
		return []Stored{}
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return []Stored{}
	}
	var out []Stored
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		p.log.Warn("reminder state malformed; starting empty", logx.String("key", p.key), logx.Err(err))
		return []Stored{}
	}
	if out == nil {
		return []Stored{}
	}
	// Mark-sent goes by id, so every entry needs a distinct one.
	seen := make(map[string]struct{}, len(out))
	for i := range out {
		if _, dup := seen[out[i].ID]; out[i].ID == "" || dup {
			out[i].ID = uuid.NewString()
		}
		seen[out[i].ID] = struct{}{}
	}
	return out
}

// Save replaces the persisted set with set.
func (p *Persister) Save(ctx context.Context, set []Stored) error {
	if set == nil {
		set = []Stored{}
	}
	b, err := json.Marshal(set)
	if err != nil {
		return err
	}
	return p.store.Set(ctx, p.key, string(b))
}
