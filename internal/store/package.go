package store

import (
	"math"
	"strconv"
	"time"

	"github.com/trusttag/trusttag/internal/verdict"
)

// Event is one entry in a package's append-only history.
type Event struct {
	Time  time.Time `msgpack:"time" json:"time"`
	Res   int       `msgpack:"res" json:"res"`
	Label string    `msgpack:"event" json:"event"`
}

// Package is the authoritative record for one tracked shipment.
//
// OriginRes is set once at registration and never changes afterwards. Status
// is always the output of verdict.Classify for the most recent accepted
// reading. Logs is append-only and bounded by the store's history limit.
type Package struct {
	ID         string         `json:"id"`
	OriginRes  int            `json:"origin_res"`
	CurrentRes int            `json:"current_res"`
	Status     verdict.Status `json:"status"`
	LastSeen   time.Time      `json:"last_seen"`
	Logs       []Event        `json:"logs"`

	// originValid is false when the stored baseline could not be coerced to
	// an integer (a legacy or hand-edited record). The raw value is kept so
	// that writes never rewrite the stored baseline.
	originValid bool
	originRaw   interface{}
}

// NewPackage creates a freshly registered package: baseline and current
// reading are both res, with a single REGISTERED history entry.
func NewPackage(id string, res int, at time.Time) *Package {
	return &Package{
		ID:          id,
		OriginRes:   res,
		CurrentRes:  res,
		Status:      verdict.StatusRegistered,
		LastSeen:    at,
		Logs:        []Event{{Time: at, Res: res, Label: string(verdict.StatusRegistered)}},
		originValid: true,
	}
}

// OriginValid reports whether the stored baseline decoded to an integer.
// When false, callers must treat the incoming reading as the baseline for
// classification without touching the stored value.
func (p *Package) OriginValid() bool { return p.originValid }

// AppendEvent appends e to the history, dropping the oldest entries once the
// history exceeds limit. A limit of zero or less means unbounded.
func (p *Package) AppendEvent(e Event, limit int) {
	p.Logs = append(p.Logs, e)
	if limit > 0 && len(p.Logs) > limit {
		p.Logs = append([]Event(nil), p.Logs[len(p.Logs)-limit:]...)
	}
}

// Clone returns a deep copy. The store hands out and accepts only copies so
// that cache or viewer mutations can never reach a committed record.
func (p *Package) Clone() *Package {
	cp := *p
	cp.Logs = append([]Event(nil), p.Logs...)
	return &cp
}

// CoerceInt converts a number-like value to an integer the way the sensor
// contract specifies: floats are truncated and numeric strings are parsed as
// floats first, so "10500.7" coerces to 10500.
func CoerceInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return floatToInt(f)
	default:
		return 0, false
	}
}

// floatToInt truncates f toward zero. ParseFloat accepts "NaN", "Inf" and
// arbitrary magnitudes, and converting those to int is not defined, so
// anything int cannot represent is rejected.
func floatToInt(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int(f), true
}
