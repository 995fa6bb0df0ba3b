package flashsale

// Reason kenapa sebuah claim ditolak. Ini business rejection, bukan error.
type Reason string

const (
	ReasonSoldOut        Reason = "SOLD_OUT"
	ReasonAlreadyClaimed Reason = "ALREADY_CLAIMED"
	ReasonNotActive      Reason = "NOT_ACTIVE"
	ReasonNotEligible    Reason = "NOT_ELIGIBLE"
)

// ClaimResult hasil satu operasi claim atomik.
// Kalau Accepted=false karena ALREADY_CLAIMED, ClaimID berisi claim lama.
type ClaimResult struct {
	Accepted bool
	ClaimID  string
	Reason   Reason
}
