package session

import (
	"strconv"
	"time"

	"github.com/coocood/freecache"
)

// Dedupe remembers the encoded result of the last frames per session, so a
// retransmitted frame gets the same answer without touching the session state.
type Dedupe struct {
	cache      *freecache.Cache
	ttlSeconds int
}

func NewDedupe(sizeMB int, ttl time.Duration) *Dedupe {
	return &Dedupe{
		cache:      freecache.NewCache(sizeMB * 1024 * 1024),
		ttlSeconds: int(ttl.Seconds()),
	}
}

func dedupeKey(sessionID string, timestamp float64) []byte {
	return []byte(sessionID + "|" + strconv.FormatFloat(timestamp, 'g', -1, 64))
}

func (d *Dedupe) Put(sessionID string, timestamp float64, body []byte) error {
	return d.cache.Set(dedupeKey(sessionID, timestamp), body, d.ttlSeconds)
}

func (d *Dedupe) Get(sessionID string, timestamp float64) ([]byte, bool) {
	body, err := d.cache.Get(dedupeKey(sessionID, timestamp))
	if err != nil {
		return nil, false
	}
	return body, true
}
