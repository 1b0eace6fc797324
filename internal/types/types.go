// README: Shared value types used across modules.
package types

import "strings"

// ID is an opaque store-assigned identifier (booking, message, queue entry).
type ID string

func (id ID) Empty() bool {
	return strings.TrimSpace(string(id)) == ""
}

// Point is a lat/lng pair as written by the mobile clients.
type Point struct {
	Lat float64 `json:"latitude"`
	Lng float64 `json:"longitude"`
}

func (p Point) IsZero() bool {
	return p.Lat == 0 && p.Lng == 0
}
