package flashsale

import "time"

type Phase string

const (
	PhaseUpcoming Phase = "upcoming"
	PhaseActive   Phase = "active"
	PhaseSoldOut  Phase = "sold-out"
	PhaseEnded    Phase = "ended"
)

// Status adalah snapshot kondisi sale untuk pembaca.
type Status struct {
	Phase     Phase     `json:"status"`
	Remaining int       `json:"remaining"`
	Total     int       `json:"total"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Degraded  bool      `json:"degraded,omitempty"`
}

// PhaseOf menurunkan fase dari (now, window, remaining).
// Window = [start, end): tepat di start dianggap aktif, tepat di end sudah ended.
// Dipakai identik oleh fast path dan fallback ledger supaya tidak divergen.
func PhaseOf(now, start, end time.Time, remaining int) Phase {
	switch {
	case now.Before(start):
		return PhaseUpcoming
	case !now.Before(end):
		return PhaseEnded
	case remaining > 0:
		return PhaseActive
	default:
		return PhaseSoldOut
	}
}
