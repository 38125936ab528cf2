package testevents

// Funnel step probabilities, in percent.
const (
	ProcessingChance = 80
	DownloadChance   = 75
	PageViewChance   = 90
)

// Worker configuration constants.
const (
	WorkerChannelMultiplier = 2
)

// Runner configuration constants.
const (
	TriggerLoadTest      = "load-test"
	PercentageMultiplier = 100
)
