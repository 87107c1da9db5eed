package domain

const (
	// Settlement job types
	JobTypeLedgerUpdate    = "ledger_update"
	JobTypeFeeDistribution = "fee_distribution"
	JobTypeNotify          = "notify"

	// Settlement job statuses
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusDeadLetter = "dead_letter"

	// Fee pool transaction types
	PoolTxCollection   = "collection"
	PoolTxDistribution = "distribution"
	PoolTxAdjustment   = "adjustment"

	SourceTypeTrade = "trade"

	DefaultMaxAttempts = 3

	// PeriodLayout buckets ledger rows by calendar month (UTC).
	PeriodLayout = "2006-01"
)

// JobStatuses lists every status in lifecycle order.
var JobStatuses = []string{
	JobStatusPending,
	JobStatusProcessing,
	JobStatusCompleted,
	JobStatusFailed,
	JobStatusDeadLetter,
}

// IsTerminalJobStatus reports whether a job in this status can no longer change.
func IsTerminalJobStatus(status string) bool {
	return status == JobStatusCompleted || status == JobStatusDeadLetter
}
