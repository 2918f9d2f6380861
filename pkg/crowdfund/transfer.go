package crowdfund

import "context"

// TransferService moves the monetary asset between principals and the
// ledger's custody. Both calls either succeed fully or fail with no partial
// transfer; failures propagate to the caller verbatim and abort the whole
// ledger operation.
type TransferService interface {
	// MoveIn transfers amount from the principal into ledger custody.
	MoveIn(ctx context.Context, from Principal, amount AmountCents) error
	// MoveOut transfers amount from ledger custody back to the principal.
	MoveOut(ctx context.Context, to Principal, amount AmountCents) error
}
