package history

import (
	"fmt"
	"strings"
	"time"
)

// BinaryHourURL builds the binary feed URL for one UTC hour bucket:
//
//	https://<host>/<SYMBOL>/<yyyy>/<mm0>/<dd>/<hh>h_ticks.bi5
//
// The month segment is zero-indexed (January = "00"), a quirk of the feed.
func BinaryHourURL(host, symbol string, hour time.Time) string {
	hour = hour.UTC()
	return fmt.Sprintf("%s/%s/%04d/%02d/%02d/%02dh_ticks.bi5",
		strings.TrimRight(host, "/"),
		strings.ToUpper(symbol),
		hour.Year(), int(hour.Month())-1, hour.Day(), hour.Hour())
}

// CSVHourURL expands a caller-supplied template for one UTC hour bucket.
// Recognized placeholders: {symbol}, {kind}, {yyyy}, {mm}, {dd}, {hh}.
// The month here is the usual one-based calendar month.
func CSVHourURL(template, symbol, kind string, hour time.Time) string {
	hour = hour.UTC()
	r := strings.NewReplacer(
		"{symbol}", symbol,
		"{kind}", kind,
		"{yyyy}", fmt.Sprintf("%04d", hour.Year()),
		"{mm}", fmt.Sprintf("%02d", int(hour.Month())),
		"{dd}", fmt.Sprintf("%02d", hour.Day()),
		"{hh}", fmt.Sprintf("%02d", hour.Hour()),
	)
	return r.Replace(template)
}
