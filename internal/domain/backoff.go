package domain

import "time"

// BackoffPolicy schedules retries as Base * 2^(attempts-1), capped at Max.
type BackoffPolicy struct {
	Base time.Duration
	Max  time.Duration
}

func (p BackoffPolicy) Delay(attempts int32) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	if attempts < 1 {
		attempts = 1
	}
	delay := p.Base
	for i := int32(1); i < attempts; i++ {
		delay *= 2
		if p.Max > 0 && delay >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && delay > p.Max {
		return p.Max
	}
	return delay
}
