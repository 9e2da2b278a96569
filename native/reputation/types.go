package reputation

// Record tracks the star economy for a single account. Stars counts the
// freely spendable balance; StakedStars counts stars locked behind active
// vouches. Records are never deleted: a fully slashed account persists with
// zero stars and Banned set until an administrative unban.
type Record struct {
	Stars       uint64 `json:"stars"`
	StakedStars uint64 `json:"stakedStars"`
	Banned      bool   `json:"banned"`
	FirstSeen   int64  `json:"firstSeen"`
}

// Clone returns a copy the caller can mutate safely.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// TotalHeld is the number of stars the account holds across free and staked
// balances.
func (r *Record) TotalHeld() uint64 {
	if r == nil {
		return 0
	}
	return r.Stars + r.StakedStars
}
