package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/credential-lifecycle-api/internal/models"
)

func TestBucketForHorizonBoundaries(t *testing.T) {
	cases := []struct {
		days     int
		bucket   models.Bucket
		priority models.Priority
	}{
		{days: -3, bucket: models.BucketCritical, priority: models.PriorityUrgent},
		{days: 0, bucket: models.BucketCritical, priority: models.PriorityUrgent},
		{days: 25, bucket: models.BucketCritical, priority: models.PriorityUrgent},
		{days: 30, bucket: models.BucketCritical, priority: models.PriorityUrgent},
		{days: 31, bucket: models.BucketAdvance, priority: models.PriorityHigh},
		{days: 60, bucket: models.BucketAdvance, priority: models.PriorityHigh},
		{days: 61, bucket: models.BucketAdvance, priority: models.PriorityNormal},
		{days: 90, bucket: models.BucketAdvance, priority: models.PriorityNormal},
		{days: 91, bucket: models.BucketWatch, priority: models.PriorityNormal},
		{days: 180, bucket: models.BucketWatch, priority: models.PriorityNormal},
		{days: 181, bucket: models.BucketNone, priority: models.PriorityNormal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.bucket, BucketFor(tc.days), "bucket for %d days", tc.days)
		assert.Equal(t, tc.priority, PriorityFor(tc.days), "priority for %d days", tc.days)
	}
}

func TestDaysToExpiryRoundsUp(t *testing.T) {
	now := fixtureNow
	assert.Equal(t, 25, DaysToExpiry(now.AddDate(0, 0, 25), now))
	assert.Equal(t, 26, DaysToExpiry(now.AddDate(0, 0, 25).Add(time.Hour), now))
	assert.Equal(t, 1, DaysToExpiry(now.Add(time.Minute), now))
	assert.Equal(t, -1, DaysToExpiry(now.AddDate(0, 0, -1), now))
}

func TestClassifyIsMonotonicAsExpiryApproaches(t *testing.T) {
	cred := models.Credential{ExpiryDate: fixtureNow.AddDate(0, 0, 400)}
	prev := Classify(cred, fixtureNow)
	for hours := 6; hours <= 410*24; hours += 6 {
		current := Classify(cred, fixtureNow.Add(time.Duration(hours)*time.Hour))
		assert.GreaterOrEqual(t, current.Bucket.Rank(), prev.Bucket.Rank(), "bucket regressed after %dh", hours)
		assert.GreaterOrEqual(t, current.Priority.Rank(), prev.Priority.Rank(), "priority regressed after %dh", hours)
		assert.LessOrEqual(t, current.DaysToExpiry, prev.DaysToExpiry)
		prev = current
	}
	assert.Equal(t, models.BucketCritical, prev.Bucket)
}

func TestClassifyScenarioCriticalExpiry(t *testing.T) {
	cred := models.Credential{ExpiryDate: fixtureNow.AddDate(0, 0, 25)}
	class := Classify(cred, fixtureNow)
	assert.Equal(t, models.Classification{DaysToExpiry: 25, Bucket: models.BucketCritical, Priority: models.PriorityUrgent}, class)
	assert.True(t, class.Bucket.RequiresRenewal())
	assert.False(t, models.BucketWatch.RequiresRenewal())
}
