package tokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"github.com/dmitrijs2005/donorsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/donorsync/internal/dbx"
	"github.com/dmitrijs2005/donorsync/internal/logging"
)

// MetadataSlot keeps the blob in the SQLite metadata table.
type MetadataSlot struct {
	db  *sql.DB
	key string
}

func NewMetadataSlot(db *sql.DB) *MetadataSlot {
	return &MetadataSlot{db: db, key: SlotKey}
}

func (s *MetadataSlot) Load(ctx context.Context) ([]byte, error) {
	return metadata.NewSQLiteRepository(s.db).Get(ctx, s.key)
}

func (s *MetadataSlot) Save(ctx context.Context, data []byte) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return metadata.NewSQLiteRepository(tx).Set(ctx, s.key, data)
	})
}

func (s *MetadataSlot) Clear(ctx context.Context) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return metadata.NewSQLiteRepository(tx).Delete(ctx, s.key)
	})
}

// BadgerSlot keeps the blob under one key of a Badger database.
type BadgerSlot struct {
	db  *badger.DB
	key []byte
}

func NewBadgerSlot(db *badger.DB) *BadgerSlot {
	return &BadgerSlot{db: db, key: []byte(SlotKey)}
}

// OpenBadger opens a Badger database in dir, or an in-memory one when dir is empty.
func OpenBadger(dir string, log logging.Logger) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = &badgerLogger{log: log}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}
	return db, nil
}

func (s *BadgerSlot) Load(ctx context.Context) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	return value, err
}

func (s *BadgerSlot) Save(ctx context.Context, data []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key, data)
	})
}

func (s *BadgerSlot) Clear(ctx context.Context) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.key)
	})
}

// badgerLogger adapts logging.Logger to Badger's Logger interface.
type badgerLogger struct {
	log logging.Logger
}

func (l *badgerLogger) logger() logging.Logger {
	if l.log == nil {
		return logging.Nop()
	}
	return l.log
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger().Error(context.Background(), fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger().Warn(context.Background(), fmt.Sprintf(format, args...), "component", "badger")
}

// Badger is chatty at info level; its info lines go to debug.
func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger().Debug(context.Background(), fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger().Debug(context.Background(), fmt.Sprintf(format, args...), "component", "badger")
}

// MemorySlot keeps the blob in process memory.
type MemorySlot struct {
	mu   sync.Mutex
	data []byte
}

func NewMemorySlot() *MemorySlot { return &MemorySlot{} }

func (s *MemorySlot) Load(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, nil
	}
	return append([]byte(nil), s.data...), nil
}

func (s *MemorySlot) Save(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
	return nil
}

func (s *MemorySlot) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	return nil
}
