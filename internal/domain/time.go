package domain

import (
	"time"

	"github.com/google/uuid"
)

// timeNow and newID are package-level so tests can pin clocks and ids.
var (
	timeNow = func() time.Time { return time.Now().UTC() }
	newID   = uuid.NewString
)
