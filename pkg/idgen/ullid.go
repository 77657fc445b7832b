// Package idgen generates lexicographically sortable identifiers for
// gateway-issued artifacts: reservations, payment receipts, shipments.
package idgen

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// MustGenerateSortableID returns a new ULID string. ULIDs sort by creation
// time, which keeps gateway ledgers browsable without a separate timestamp.
func MustGenerateSortableID() string {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		panic(err)
	}
	return id.String()
}
