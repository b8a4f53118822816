package constants

// This is set during compilation via -ldflags.
var Version = "latest"

const V1Path = "/api/v1/"

const (
	DefaultReportHistoryLimit = 20
	MaxReportHistoryLimit     = 100
)

// Default escalation windows, in hours, per response priority tier.
const (
	DefaultStandardDelayHours = 6
	DefaultHighDelayHours     = 4
	DefaultCriticalDelayHours = 2
)

const FollowupDateTBD = "date TBD"
