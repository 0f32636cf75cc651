package decode

import "errors"

// Decoder errors. Failures are scoped to the fragment or hour bucket being
// decoded; callers skip the unit and continue (see history.Fetcher).
var (
	// ErrSchema is returned when a CSV fragment is missing the required
	// time column, or carries neither OHLC nor price columns.
	ErrSchema = errors.New("upstream fragment has unusable schema")

	// ErrDecompress is returned when a compressed blob cannot be
	// decompressed after all attempts. Treated as transient by callers.
	ErrDecompress = errors.New("decompression failed")
)
