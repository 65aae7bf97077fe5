package constants

import "time"

const (
	DefaultMaxAgeMinutes = 10
	DefaultMaxMessages   = 1000
	TrackerSweepInterval = 30 * time.Second
)

const (
	DefaultChannel = 0
)

const (
	DefaultSendTimeout = 10 * time.Second
	ShutdownTimeout    = 5 * time.Second
	EventDrainTimeout  = 3 * time.Second
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

const (
	DefaultRetentionDays = 30
	StatsFlushInterval   = 5 * time.Minute
	CleanupInterval      = time.Hour
)

const (
	DefaultEventBufferSize = 256
)

const (
	DefaultMessagesTopic = "bridge_messages"
	DefaultCommandsTopic = "bridge_commands"
	DefaultStatsTopic    = "bridge_statistics"
)
