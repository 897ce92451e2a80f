package verdict

// Status is the integrity classification of a package, carried as the string
// value persisted on the package record and returned to sensor clients.
type Status string

// Statuses persisted on package records.
const (
	StatusRegistered Status = "REGISTERED"
	StatusSecure     Status = "SECURE"
	StatusTampered   Status = "TAMPERED"
)

// Degraded-mode statuses returned by the ingestion boundary. They are never
// persisted on a package record — a reading answered with one of these wrote
// nothing to the store.
const (
	StatusNoPayload Status = "NO_PAYLOAD"
	StatusDBOffline Status = "DB_OFFLINE"
	StatusServerErr Status = "SERVER_ERR"
	StatusBusy      Status = "BUSY"
)

// Default threshold values, overridable per deployment via config.
const (
	DefaultHardLimit  = 60000
	DefaultDriftLimit = 3000
)

// Limits holds the two classification thresholds.
type Limits struct {
	// HardLimit is the open-circuit threshold in ohms. A reading strictly
	// above it is TAMPERED regardless of the baseline (a cut seal reads as
	// an open circuit).
	HardLimit int

	// DriftLimit is the maximum tolerated absolute drift from the baseline
	// in ohms. Drift strictly above it is TAMPERED.
	DriftLimit int
}

// DefaultLimits returns the stock thresholds.
func DefaultLimits() Limits {
	return Limits{HardLimit: DefaultHardLimit, DriftLimit: DefaultDriftLimit}
}

// Classify maps (baseline, current reading) to an integrity status.
//
// Both comparisons are strict: a reading exactly at HardLimit, or whose drift
// is exactly DriftLimit, is SECURE. Deployed sensor firmware depends on this
// boundary, so it must not change.
//
// Classify is total and deterministic for all integer inputs, including
// negative and zero resistances.
func Classify(origin, current int, lim Limits) Status {
	if current > lim.HardLimit {
		return StatusTampered
	}
	drift := current - origin
	if drift < 0 {
		drift = -drift
	}
	if drift > lim.DriftLimit {
		return StatusTampered
	}
	return StatusSecure
}

// Drift returns the absolute difference between the current reading and the
// baseline. Shared by Classify and the alert rule engine.
func Drift(origin, current int) int {
	d := current - origin
	if d < 0 {
		d = -d
	}
	return d
}
