package services

import (
	"context"

	"github.com/ekaya-inc/obra-engine/pkg/database"
)

// TxRunner runs fn inside one database transaction. Repository calls made
// with the context handed to fn join that transaction.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// DefaultTxRunner uses the owner-scoped connection in the context.
var DefaultTxRunner TxRunner = database.InTx
