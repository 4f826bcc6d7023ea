package dashboard

import "fmt"

// Reconciliation selects how feed events and write completions are merged
// into optimistic local state.
type Reconciliation string

const (
	// ReconcileReference prepends every insert event and every confirmed
	// create, even if the id is already listed, and never restores a
	// bookmark whose remote delete failed.
	ReconcileReference Reconciliation = "reference"

	// ReconcileStrict keeps at most one entry per id, does not reinstate
	// ids the user just removed, and restores a bookmark when its remote
	// delete fails.
	ReconcileStrict Reconciliation = "strict"
)

// ParseReconciliation accepts "reference" or "strict" (empty means reference).
func ParseReconciliation(s string) (Reconciliation, error) {
	switch Reconciliation(s) {
	case "", ReconcileReference:
		return ReconcileReference, nil
	case ReconcileStrict:
		return ReconcileStrict, nil
	default:
		return "", fmt.Errorf("unknown reconciliation %q (want reference or strict)", s)
	}
}
