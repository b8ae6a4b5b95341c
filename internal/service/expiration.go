package service

import (
	"math"
	"time"

	"github.com/noah-isme/credential-lifecycle-api/internal/models"
)

const (
	criticalHorizonDays = 30
	advanceHorizonDays  = 90
	watchHorizonDays    = 180
	highPriorityDays    = 60
)

// DaysToExpiry returns the whole days remaining until expiry, rounded up. Negative values mean the date has passed.
func DaysToExpiry(expiry, now time.Time) int {
	return int(math.Ceil(expiry.Sub(now).Hours() / 24))
}

// BucketFor maps days-to-expiry to its horizon bucket. The first matching horizon wins.
func BucketFor(days int) models.Bucket {
	switch {
	case days <= criticalHorizonDays:
		return models.BucketCritical
	case days <= advanceHorizonDays:
		return models.BucketAdvance
	case days <= watchHorizonDays:
		return models.BucketWatch
	default:
		return models.BucketNone
	}
}

// PriorityFor maps days-to-expiry to the workflow priority.
func PriorityFor(days int) models.Priority {
	switch {
	case days <= criticalHorizonDays:
		return models.PriorityUrgent
	case days <= highPriorityDays:
		return models.PriorityHigh
	default:
		return models.PriorityNormal
	}
}

// Classify analyses cred as of now. It has no side effects.
func Classify(cred models.Credential, now time.Time) models.Classification {
	days := DaysToExpiry(cred.ExpiryDate, now)
	return models.Classification{
		DaysToExpiry: days,
		Bucket:       BucketFor(days),
		Priority:     PriorityFor(days),
	}
}
