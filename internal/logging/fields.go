package logging

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// NewRunID returns a fresh identifier that ties together the log lines of one
// invocation.
func NewRunID() string {
	return uuid.NewString()
}

// BaseFields builds the action and run_id fields shared by every entry point.
func BaseFields(action, runID string) logrus.Fields {
	return logrus.Fields{
		"action": action,
		"run_id": runID,
	}
}

// PlanFields describes the cache partition a run resolved to.
func PlanFields(key, mode string, lockfiles int) logrus.Fields {
	return logrus.Fields{
		"key":       key,
		"mode":      mode,
		"lockfiles": lockfiles,
	}
}

// OutcomeFields records how a run ended.
func OutcomeFields(outcome string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"outcome":   outcome,
		"cache_hit": cacheHit,
	}
}
