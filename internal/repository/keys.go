package repository

import (
	"fmt"
	"strings"

	appErrors "sigilmem-backend/pkg/errors"
)

// Key layout shared by the flat key-value backends (memory, redis, bolt's kv
// bucket). Sigil records live under a reserved prefix so the generic keyspace
// and the tenant-scoped keyspace cannot collide.
const sigilKeyspace = "sigil"

// SigilKey builds the flat storage key for a record addressed by
// (tenantID, recordID, authHash).
func SigilKey(tenantID, id, authHash string) string {
	return fmt.Sprintf("%s/%s/%s/%s", sigilKeyspace, tenantID, id, authHash)
}

// SigilPrefix returns the key prefix covering every record of one tenant.
func SigilPrefix(tenantID string) string {
	return fmt.Sprintf("%s/%s/", sigilKeyspace, tenantID)
}

// ParseSigilKey splits a flat storage key back into its addressing fields.
func ParseSigilKey(key string) (tenantID, id, authHash string, ok bool) {
	parts := strings.SplitN(key, "/", 4)
	if len(parts) != 4 || parts[0] != sigilKeyspace {
		return "", "", "", false
	}
	return parts[1], parts[2], parts[3], true
}

// ValidateKey rejects keys the adapters cannot address.
func ValidateKey(key string) error {
	if key == "" {
		return appErrors.NewValidation("storage key cannot be empty")
	}
	return nil
}

// ValidateSigilAddress rejects malformed record addresses. The path segments
// build composite keys, so the separator is forbidden inside them.
func ValidateSigilAddress(tenantID, id, authHash string) error {
	if tenantID == "" {
		return appErrors.NewValidation("tenant ID cannot be empty")
	}
	if id == "" {
		return appErrors.NewValidation("record ID cannot be empty")
	}
	if authHash == "" {
		return appErrors.NewValidation("auth hash cannot be empty")
	}
	for _, part := range []string{tenantID, id, authHash} {
		if strings.Contains(part, "/") {
			return appErrors.NewValidation("record address segments cannot contain '/'")
		}
	}
	return nil
}

// ErrKeyNotFound is the canonical not-found error for adapter reads.
func ErrKeyNotFound(key string) error {
	return appErrors.NewNotFound(fmt.Sprintf("key %q not found", key))
}

// ErrRecordNotFound is the canonical not-found error for sigil record reads.
// Cross-tenant and wrong-auth-hash reads use the same error, so a caller
// cannot distinguish "absent" from "not yours".
func ErrRecordNotFound(tenantID, id string) error {
	return appErrors.NewNotFound(fmt.Sprintf("record %q not found for tenant %q", id, tenantID))
}
