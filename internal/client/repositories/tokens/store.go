package tokens

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/donorsync/internal/client/models"
	"github.com/dmitrijs2005/donorsync/internal/logging"
)

// SlotKey names the persisted token slot in key/value backends.
const SlotKey = "session.tokens"

// Store is the token store contract used by the session manager and executor.
type Store interface {
	Get(ctx context.Context) (*models.TokenPair, error)
	Set(ctx context.Context, pair models.TokenPair) error
	Clear(ctx context.Context) error
}

// Slot persists a single opaque blob. Load returns (nil, nil) when empty.
type Slot interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	Clear(ctx context.Context) error
}

type Option func(*TokenStore)

// WithSecret enables at-rest sealing of the pair.
func WithSecret(secret string) Option {
	return func(s *TokenStore) {
		if secret != "" {
			s.codec = sealedCodec{secret: []byte(secret)}
		}
	}
}

func WithLogger(l logging.Logger) Option {
	return func(s *TokenStore) {
		if l != nil {
			s.log = l
		}
	}
}

type TokenStore struct {
	mu     sync.RWMutex
	slot   Slot
	codec  codec
	log    logging.Logger
	loaded bool
	pair   *models.TokenPair
}

var _ Store = (*TokenStore)(nil)

func NewTokenStore(slot Slot, opts ...Option) *TokenStore {
	s := &TokenStore{slot: slot, codec: plainCodec{}, log: logging.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get returns a copy of the stored pair, or nil when none is stored.
// An unreadable slot (for example sealed under another secret) is cleared
// and reported as empty.
func (s *TokenStore) Get(ctx context.Context) (*models.TokenPair, error) {
	s.mu.RLock()
	if s.loaded {
		p := clone(s.pair)
		s.mu.RUnlock()
		return p, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		if err := s.load(ctx); err != nil {
			return nil, err
		}
	}
	return clone(s.pair), nil
}

func (s *TokenStore) load(ctx context.Context) error {
	data, err := s.slot.Load(ctx)
	if err != nil {
		return fmt.Errorf("load token slot: %w", err)
	}

	s.loaded = true
	if data == nil {
		s.pair = nil
		return nil
	}

	pair, err := s.codec.decode(data)
	if err == nil {
		err = pair.Validate()
	}
	if err != nil {
		s.log.Warn(ctx, "discarding unreadable token slot", "error", err)
		s.pair = nil
		if cerr := s.slot.Clear(ctx); cerr != nil {
			return fmt.Errorf("clear token slot: %w", cerr)
		}
		return nil
	}

	s.pair = &pair
	return nil
}

// Set validates and persists pair, replacing any previous one.
func (s *TokenStore) Set(ctx context.Context, pair models.TokenPair) error {
	if err := pair.Validate(); err != nil {
		return err
	}

	data, err := s.codec.encode(pair)
	if err != nil {
		return fmt.Errorf("encode token pair: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.slot.Save(ctx, data); err != nil {
		return fmt.Errorf("save token slot: %w", err)
	}
	s.pair = &pair
	s.loaded = true
	return nil
}

// Clear removes the stored pair. Clearing an empty store is not an error.
func (s *TokenStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.slot.Clear(ctx); err != nil {
		return fmt.Errorf("clear token slot: %w", err)
	}
	s.pair = nil
	s.loaded = true
	return nil
}

func clone(p *models.TokenPair) *models.TokenPair {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
