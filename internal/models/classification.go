package models

// Bucket is the expiry-proximity horizon used to decide alerting.
type Bucket string

const (
	BucketNone     Bucket = "none"
	BucketWatch    Bucket = "watch"
	BucketAdvance  Bucket = "advance"
	BucketCritical Bucket = "critical"
)

var bucketRank = map[Bucket]int{
	BucketNone:     0,
	BucketWatch:    1,
	BucketAdvance:  2,
	BucketCritical: 3,
}

// Rank orders buckets by severity.
func (b Bucket) Rank() int {
	return bucketRank[b]
}

// RequiresRenewal reports whether the bucket is close enough to open a renewal workflow.
func (b Bucket) RequiresRenewal() bool {
	return b == BucketCritical || b == BucketAdvance
}

// Priority is the ordering hint written onto a renewal workflow.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var priorityRank = map[Priority]int{
	PriorityNormal: 0,
	PriorityHigh:   1,
	PriorityUrgent: 2,
}

// Rank orders priorities by urgency.
func (p Priority) Rank() int {
	return priorityRank[p]
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// MaxPriority returns the more urgent of the two priorities.
func MaxPriority(a, b Priority) Priority {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Classification is the result of analysing a credential against a reference time.
type Classification struct {
	DaysToExpiry int      `json:"daysToExpiry"`
	Bucket       Bucket   `json:"bucket"`
	Priority     Priority `json:"priority"`
}
