package cache_test

import "time"

const (
	testEventuallyWait = 2 * time.Second
	testEventuallyTick = 10 * time.Millisecond
)
