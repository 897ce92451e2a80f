package store

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/trusttag/trusttag/internal/verdict"
)

// record is the msgpack wire form of a Package. OriginRes is decoded
// leniently: a record written by older tooling may carry the baseline as a
// string, and such a record must still load (and round-trip unchanged).
type record struct {
	ID         string      `msgpack:"id"`
	OriginRes  interface{} `msgpack:"origin_res"`
	CurrentRes int         `msgpack:"current_res"`
	Status     string      `msgpack:"status"`
	LastSeen   time.Time   `msgpack:"last_seen"`
	Logs       []Event     `msgpack:"logs"`
}

func encodePackage(p *Package) ([]byte, error) {
	rec := record{
		ID:         p.ID,
		OriginRes:  p.OriginRes,
		CurrentRes: p.CurrentRes,
		Status:     string(p.Status),
		LastSeen:   p.LastSeen,
		Logs:       p.Logs,
	}
	if !p.originValid {
		// Preserve the malformed baseline verbatim instead of overwriting it
		// with a value we guessed.
		rec.OriginRes = p.originRaw
	}
	buf, err := msgpack.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal package %q: %w", p.ID, err)
	}
	return buf, nil
}

func decodePackage(data []byte) (*Package, error) {
	var rec record
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal package: %w", err)
	}

	p := &Package{
		ID:         rec.ID,
		CurrentRes: rec.CurrentRes,
		Status:     verdict.Status(rec.Status),
		LastSeen:   rec.LastSeen,
		Logs:       rec.Logs,
	}
	if origin, ok := CoerceInt(rec.OriginRes); ok {
		p.OriginRes = origin
		p.originValid = true
	} else {
		p.originValid = false
		p.originRaw = rec.OriginRes
	}
	return p, nil
}
