package calllog

import "context"

// ContentObserverCallbacks receives change notifications from the providers
// a data source reads.
type ContentObserverCallbacks interface {
	MarkDirtyAndNotify()
}

// DataSource owns a slice of the annotated call log's rows or columns. Within
// a cycle its methods run in order: IsDirty (optional), Fill, then
// OnSuccessfulFill only when the cycle's mutations were applied.
type DataSource interface {
	// LoggingName identifies the source in logs.
	LoggingName() string
	// IsDirty reports whether the source has changes since its last
	// successful fill. It must not write persisted state.
	IsDirty(ctx context.Context) (bool, error)
	// Fill contributes the source's changes to m. It must not rely on IsDirty
	// having run in the same cycle.
	Fill(ctx context.Context, m *Mutations) error
	// OnSuccessfulFill persists watermarks once the mutations from the last
	// Fill have been applied.
	OnSuccessfulFill(ctx context.Context) error
	// ClearData removes everything the source has written.
	ClearData(ctx context.Context) error
	RegisterContentObservers(cb ContentObserverCallbacks)
	UnregisterContentObservers()
}
