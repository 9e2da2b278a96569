package reputation

import "errors"

var (
	ErrInsufficientStars       = errors.New("reputation: insufficient stars")
	ErrInsufficientStakedStars = errors.New("reputation: insufficient staked stars")
	ErrAccountBanned           = errors.New("reputation: account banned")
	ErrUnauthorized            = errors.New("reputation: unauthorized")
	ErrNotAdmin                = errors.New("reputation: caller is not admin")
	ErrOverflow                = errors.New("reputation: star arithmetic overflow")
)
