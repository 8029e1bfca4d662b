package query

import (
	"encoding/json"

	"github.com/payvex/payvex/internal/backend"
)

// Operation refs understood by the backend side of remote mode.
const (
	RefCollect     = "payvex:collect"
	RefCount       = "payvex:count"
	RefGet         = "payvex:get"
	RefInsert      = "payvex:insert"
	RefPatch       = "payvex:patch"
	RefReplace     = "payvex:replace"
	RefDelete      = "payvex:delete"
	RefUpsert      = "payvex:upsert"
	RefIncrement   = "payvex:increment"
	RefUpdateMany  = "payvex:updateMany"
	RefDeleteMany  = "payvex:deleteMany"
	RefTransaction = "payvex:transaction"
)

var queryRefs = map[string]bool{
	RefCollect: true,
	RefCount:   true,
	RefGet:     true,
}

var mutationRefs = map[string]bool{
	RefInsert:      true,
	RefPatch:       true,
	RefReplace:     true,
	RefDelete:      true,
	RefUpsert:      true,
	RefIncrement:   true,
	RefUpdateMany:  true,
	RefDeleteMany:  true,
	RefTransaction: true,
}

// IsQueryRef reports whether ref is a read-only operation.
func IsQueryRef(ref string) bool { return queryRefs[ref] }

// IsMutationRef reports whether ref is a write operation.
func IsMutationRef(ref string) bool { return mutationRefs[ref] }

// DocArgs addresses one document, optionally carrying field data.
type DocArgs struct {
	Table string           `json:"table"`
	ID    string           `json:"id,omitempty"`
	Doc   backend.Document `json:"doc,omitempty"`
}

// IncrementArgs adds Amount to a numeric field.
type IncrementArgs struct {
	Table  string  `json:"table"`
	ID     string  `json:"id"`
	Field  string  `json:"field"`
	Amount float64 `json:"amount"`
}

// BulkArgs applies Fields (patch) or a delete to every row of Spec.
type BulkArgs struct {
	Spec   *Spec            `json:"spec"`
	Fields backend.Document `json:"fields,omitempty"`
}

// TransactionArgs names a registered transaction.
type TransactionArgs struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// UpsertResult reports which branch an upsert took.
type UpsertResult struct {
	Doc      backend.Document `json:"doc"`
	Inserted bool             `json:"inserted"`
}

// CountResult carries a row count.
type CountResult struct {
	Count int `json:"count"`
}

// TableOf extracts the physical table an encoded call targets, or "" when
// the call names none.
func TableOf(args json.RawMessage) string {
	var head struct {
		Table string `json:"table"`
		Spec  *struct {
			Table string `json:"table"`
		} `json:"spec"`
	}
	if err := json.Unmarshal(args, &head); err != nil {
		return ""
	}
	if head.Table != "" {
		return head.Table
	}
	if head.Spec != nil {
		return head.Spec.Table
	}
	return ""
}
