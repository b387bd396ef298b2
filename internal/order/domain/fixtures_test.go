package domain

import "time"

var fixedTime = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
