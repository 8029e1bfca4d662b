package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/payvex/payvex/internal/fields"
)

// ErrNotInline is returned when Serve is called on a remote processor.
var ErrNotInline = errors.New("serving remote calls requires an inline processor")

// Serve executes one call sent by a remote processor. Arguments are
// already physical; results are physical documents. Missing documents are
// reported as backend.ErrNotFound so the caller can apply its skip policy.
func (p *Processor) Serve(ctx context.Context, ref string, args json.RawMessage) (any, error) {
	e, ok := p.exec.(*inlineExecutor)
	if !ok {
		return nil, ErrNotInline
	}

	switch ref {
	case RefCollect:
		spec, err := decodeSpec(args)
		if err != nil {
			return nil, err
		}
		return e.query(ctx, spec)

	case RefCount:
		spec, err := decodeSpec(args)
		if err != nil {
			return nil, err
		}
		n, err := e.count(ctx, spec)
		if err != nil {
			return nil, err
		}
		return CountResult{Count: n}, nil

	case RefGet, RefInsert, RefPatch, RefReplace, RefDelete, RefUpsert:
		var a DocArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		if a.Table == "" {
			return nil, validationf("table", "is required")
		}
		if a.ID == "" && ref != RefInsert && ref != RefUpsert {
			return nil, validationf("id", "is required")
		}
		return e.serveDoc(ctx, ref, a)

	case RefIncrement:
		var a IncrementArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		if a.Table == "" || a.ID == "" {
			return nil, validationf("args", "table and id are required")
		}
		if a.Field == "" || fields.IsSystem(a.Field) {
			return nil, validationf("field", "%q cannot be incremented", a.Field)
		}
		return e.increment(ctx, a.Table, a.ID, a.Field, a.Amount)

	case RefUpdateMany, RefDeleteMany:
		var a BulkArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		if a.Spec == nil {
			return nil, validationf("spec", "is required")
		}
		if err := a.Spec.Validate(); err != nil {
			return nil, err
		}
		var (
			n   int
			err error
		)
		if ref == RefUpdateMany {
			n, err = e.updateMany(ctx, a.Spec, a.Fields)
		} else {
			n, err = e.deleteMany(ctx, a.Spec)
		}
		if err != nil {
			return nil, err
		}
		return CountResult{Count: n}, nil

	case RefTransaction:
		var a TransactionArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return e.transaction(ctx, a.Name, a.Args)
	}
	return nil, validationf("path", "unknown operation %q", ref)
}

func (e *inlineExecutor) serveDoc(ctx context.Context, ref string, a DocArgs) (any, error) {
	switch ref {
	case RefGet:
		return e.get(ctx, a.Table, a.ID)
	case RefInsert:
		return e.insert(ctx, a.Table, a.Doc)
	case RefPatch:
		return e.patch(ctx, a.Table, a.ID, a.Doc)
	case RefReplace:
		return e.replace(ctx, a.Table, a.ID, a.Doc)
	case RefDelete:
		if err := e.delete(ctx, a.Table, a.ID); err != nil {
			return nil, err
		}
		return map[string]bool{"deleted": true}, nil
	case RefUpsert:
		return e.upsert(ctx, a.Table, a.ID, a.Doc)
	}
	return nil, fmt.Errorf("unhandled document operation %q", ref)
}

func decodeSpec(args json.RawMessage) (*Spec, error) {
	var spec Spec
	if err := decodeArgs(args, &spec); err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		return validationf("args", "missing")
	}
	if err := json.Unmarshal(args, v); err != nil {
		return validationf("args", "%v", err)
	}
	return nil
}
