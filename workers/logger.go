package workers

import "review_scrooper/models"

// LogFunc records a run-scoped message, usually into harvest_logs.
type LogFunc func(level models.LogLevel, listingID, message string)

// NoOpLogger does nothing (default)
var NoOpLogger LogFunc = func(level models.LogLevel, listingID, message string) {}
