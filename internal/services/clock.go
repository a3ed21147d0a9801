package services

import "time"

// Clock supplies the current time; tests substitute a fixed one
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock reads the wall clock
var SystemClock Clock = systemClock{}
