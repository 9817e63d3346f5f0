package station

import "errors"

var (
	ErrStationNotFound = errors.New("station: not found")
	ErrEmptyStationID  = errors.New("station: empty station id")
	ErrNilSnapshot     = errors.New("station: nil snapshot")
)
