package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/ahrav/go-contracts/internal/domain"
)

const inventoryPrefix = "inv:"

// Inventory holds locally known field values per contract.
type Inventory interface {
	// Load returns the record for contractID, or nil when none exists.
	Load(ctx context.Context, contractID string) (*domain.InventoryRecord, error)
	// Save replaces the record for rec.ContractID.
	Save(ctx context.Context, rec *domain.InventoryRecord) error
}

// MemoryInventory is an in-process Inventory.
type MemoryInventory struct {
	mu      sync.RWMutex
	records map[string]*domain.InventoryRecord
}

// NewMemoryInventory returns an empty inventory.
func NewMemoryInventory() *MemoryInventory {
	return &MemoryInventory{records: make(map[string]*domain.InventoryRecord)}
}

// Load implements Inventory.
func (m *MemoryInventory) Load(_ context.Context, contractID string) (*domain.InventoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[contractID]
	if !ok {
		return nil, nil
	}
	return cloneRecord(rec), nil
}

// Save implements Inventory.
func (m *MemoryInventory) Save(_ context.Context, rec *domain.InventoryRecord) error {
	if rec == nil || rec.ContractID == "" {
		return errors.New("inventory record requires a contract id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ContractID] = cloneRecord(rec)
	return nil
}

func cloneRecord(r *domain.InventoryRecord) *domain.InventoryRecord {
	cp := *r
	cp.Fields = maps.Clone(r.Fields)
	return &cp
}

// BadgerInventory persists records as JSON under "inv:<contract id>".
type BadgerInventory struct {
	db *badger.DB
}

// NewBadgerInventory returns an inventory stored in db.
func NewBadgerInventory(db *badger.DB) *BadgerInventory {
	return &BadgerInventory{db: db}
}

// Load implements Inventory.
func (b *BadgerInventory) Load(_ context.Context, contractID string) (*domain.InventoryRecord, error) {
	var rec *domain.InventoryRecord
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(inventoryPrefix + contractID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec = &domain.InventoryRecord{}
			return json.Unmarshal(val, rec)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load inventory %s: %w", contractID, err)
	}
	return rec, nil
}

// Save implements Inventory.
func (b *BadgerInventory) Save(_ context.Context, rec *domain.InventoryRecord) error {
	if rec == nil || rec.ContractID == "" {
		return errors.New("inventory record requires a contract id")
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode inventory %s: %w", rec.ContractID, err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(inventoryPrefix+rec.ContractID), raw)
	})
	if err != nil {
		return fmt.Errorf("save inventory %s: %w", rec.ContractID, err)
	}
	return nil
}
