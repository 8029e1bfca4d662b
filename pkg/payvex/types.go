package payvex

import (
	"github.com/payvex/payvex/internal/backend"
	"github.com/payvex/payvex/internal/logging"
	"github.com/payvex/payvex/internal/plan"
	"github.com/payvex/payvex/internal/query"
	"github.com/payvex/payvex/internal/versions"
)

// Types host code needs to name when using the Adapter.
type (
	Processor       = query.Processor
	TxFunc          = query.TxFunc
	Transactions    = query.Transactions
	ValidationError = query.ValidationError
	VersionToken    = versions.Token
	Catalog         = plan.Catalog
	Logger          = logging.Logger
	Document        = backend.Document
	Tx              = backend.Tx
	Conn            = backend.Conn
)

var (
	NewCatalog      = plan.NewCatalog
	NewTransactions = query.NewTransactions
	IsValidation    = query.IsValidation
	ErrNotFound     = backend.ErrNotFound
)
