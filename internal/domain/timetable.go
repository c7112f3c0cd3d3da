package domain

// TimetableEntry is one scheduled stop visit within a vehicle's run.
// Slice order is visiting order. HHMM may be empty or malformed for
// stops without an authored time; such entries are skipped by the
// prediction pass.
type TimetableEntry struct {
	StopID   string `json:"stopId"`
	StopName string `json:"stopName"`
	HHMM     string `json:"hhmm"`
}

// DisplayName falls back to the stop id when no name is authored.
func (e TimetableEntry) DisplayName() string {
	if e.StopName != "" {
		return e.StopName
	}
	return e.StopID
}
