package constants

// Retry sweep configuration values
const (
	DefaultSweepIntervalSec    = 60
	DefaultSweepBatchSize      = 50
	DefaultMonitorIntervalSec  = 300
	DefaultOverdueThresholdSec = 600
	MaxRetryAttempts           = 3
)

// Notification content values
const (
	MaxNotificationBodyLength = 100
	MaxRecipientsPerDispatch  = 10
	RecipientWarningThreshold = 9
	ClickActionOpenChat       = "OPEN_CHAT"
	NotificationChannelID     = "chat_messages"
)

// Default timeout values
const (
	DefaultPushTimeoutSec        = 30
	DefaultDatabaseRetryAttempts = 3
	DefaultGracefulShutdownSec   = 30
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultBackoffInitialMs      = 500
	DefaultBackoffMaxSec         = 5
	DefaultServerPort            = 8082
	ServerErrorChannelSize       = 1
)

// At-rest token encryption
const (
	EncryptionSalt       = "chatpush-token-salt-v1"
	EncryptionLookupSalt = "chatpush-token-lookup-v1"
)

// Privacy settings
const (
	TokenLogPrefixLength = 20
)
