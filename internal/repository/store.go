// Package repository defines the storage adapter contract implemented by
// every backend (in-process, bolt, redis, dynamo, sqlite).
//
// The contract has two halves: a generic key-value surface and the
// tenant-scoped sigil record surface. Tenant isolation is the adapter's
// responsibility: records written under one tenant must be invisible to
// every other tenant, with cross-tenant reads answered as "not found" rather
// than an error that leaks existence. The shared conformance suite in the
// storetest package verifies these invariants against each implementation.
package repository

import (
	"context"
	"time"
)

// OpKind selects the action of a single batch operation.
type OpKind int

const (
	OpSet OpKind = iota
	OpDelete
)

// BatchOp is one tenant-scoped write inside a Batch call. Each operation
// carries its own tenant, so a batch may mix tenants without any operation
// reading or affecting another tenant's data.
type BatchOp struct {
	Kind     OpKind
	TenantID string
	ID       string
	AuthHash string
	Data     []byte
}

// Record is a stored sigil record together with its addressing fields.
type Record struct {
	TenantID  string    `json:"tenant_id"`
	ID        string    `json:"id"`
	AuthHash  string    `json:"auth_hash"`
	Data      []byte    `json:"data"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the uniform storage adapter contract.
//
// Lifecycle: Init must be called before any other operation and performs
// backend-fatal validation (connectivity, transport security); Close releases
// the backend connection. Both are idempotent.
type Store interface {
	Init(ctx context.Context) error
	Close() error

	// Generic key-value operations.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Tenant-scoped sigil record operations. Reads with a mismatched tenant
	// or auth hash return not-found.
	SetSigilRecord(ctx context.Context, tenantID, id, authHash string, data []byte) error
	GetSigilRecord(ctx context.Context, tenantID, id, authHash string) ([]byte, error)
	AllSigilRecords(ctx context.Context, tenantID string) ([]Record, error)
	CountSigilRecords(ctx context.Context, tenantID string) (int, error)
	Batch(ctx context.Context, ops []BatchOp) error
}
