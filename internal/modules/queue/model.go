// README: Queue entries written by the hardware controller and their arrival-time resolution.
package queue

import (
	"math"
	"strconv"
	"strings"
	"time"

	"toda/internal/store"
)

const (
	Collection    = "queue"
	StatusWaiting = "waiting"

	// queueDateLayout is the formatted-date encoding of an entry timestamp.
	queueDateLayout = "2006-01-02 15:04:05"
)

// Entry is a driver waiting at the terminal. ArrivedAt is the normalized
// arrival time in epoch milliseconds; math.MaxInt64 when nothing parses.
type Entry struct {
	Key        string `json:"key"`
	DriverRFID string `json:"driverRFID"`
	DriverName string `json:"driverName"`
	TodaNumber string `json:"todaNumber"`
	TricycleID string `json:"tricycleId,omitempty"`
	Status     string `json:"status"`
	Claimed    bool   `json:"claimed"`
	ArrivedAt  int64  `json:"arrivedAt"`
}

// Eligible entries are waiting, unclaimed and carry an RFID.
func (e Entry) Eligible() bool {
	return strings.EqualFold(strings.TrimSpace(e.Status), StatusWaiting) &&
		!e.Claimed &&
		strings.TrimSpace(e.DriverRFID) != ""
}

func decodeEntry(key string, raw any, loc *time.Location) (Entry, bool) {
	if store.Classify(raw) != store.KindObject {
		return Entry{}, false
	}
	f := store.Fields(raw.(map[string]any))
	return Entry{
		Key:        key,
		DriverRFID: strings.TrimSpace(f.String("driverRFID")),
		DriverName: f.String("driverName"),
		TodaNumber: f.String("todaNumber"),
		TricycleID: f.String("tricycleId"),
		Status:     f.String("status"),
		Claimed:    f.Flag("claimed"),
		ArrivedAt:  arrivalTime(key, f, loc),
	}, true
}

// arrivalTime resolves when a driver joined, trying in order: queueTime as
// epoch seconds, timestamp as a "yyyy-MM-dd HH:mm:ss" date in loc, timestamp
// as epoch milliseconds, and the entry key as a number.
func arrivalTime(key string, f store.Fields, loc *time.Location) int64 {
	if secs, ok := f.Int64("queueTime"); ok && secs > 0 {
		return secs * 1000
	}
	if store.Classify(f["timestamp"]) == store.KindString {
		if t, err := time.ParseInLocation(queueDateLayout, strings.TrimSpace(f.String("timestamp")), loc); err == nil {
			return t.UnixMilli()
		}
	}
	if ms, ok := f.Int64("timestamp"); ok && ms > 0 {
		return ms
	}
	if n, err := strconv.ParseInt(key, 10, 64); err == nil {
		return n
	}
	return math.MaxInt64
}

func entryPath(key string) string { return store.Join(Collection, key) }
