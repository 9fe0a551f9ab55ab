package engine

// RiskTier classifies a tool's potential impact.
type RiskTier string

const (
	RiskSafe      RiskTier = "safe"
	RiskModerate  RiskTier = "moderate"
	RiskDangerous RiskTier = "dangerous"
)

// PermissionTier is the agent-level autonomy setting.
type PermissionTier string

const (
	PermissionRestricted PermissionTier = "restricted"
	PermissionStandard   PermissionTier = "standard"
	PermissionAutonomous PermissionTier = "autonomous"
)

// riskByTool is the static classification table. Tools absent from the table
// classify as moderate: an unknown tool must not slip through as safe.
var riskByTool = map[string]RiskTier{
	"read_file":     RiskSafe,
	"list_dir":      RiskSafe,
	"search_files":  RiskSafe,
	"get_file_info": RiskSafe,

	"write_file": RiskModerate,
	"edit_file":  RiskModerate,
	"create_dir": RiskModerate,
	"move_file":  RiskModerate,

	"delete_file": RiskDangerous,
	"run_command": RiskDangerous,
}

// workProducing marks tools whose successful execution counts as evidence of
// actual task progress for completion verification.
var workProducing = map[string]bool{
	"write_file":  true,
	"edit_file":   true,
	"create_dir":  true,
	"move_file":   true,
	"delete_file": true,
	"run_command": true,
}

// ClassifyRisk maps a tool name to its risk tier.
func ClassifyRisk(tool string) RiskTier {
	if tier, ok := riskByTool[tool]; ok {
		return tier
	}
	return RiskModerate
}

// IsWorkProducing reports whether a successful call to this tool counts as
// task progress.
func IsWorkProducing(tool string) bool { return workProducing[tool] }

// ApprovalPolicy decides whether a call may run without human confirmation.
type ApprovalPolicy struct {
	Tier      PermissionTier
	Approvals ApprovalSource // may be nil
}

// AutoApprove returns true if the named tool may execute immediately.
// The always-approve list is consulted first; dangerous tools are never
// auto-approved by tier alone.
func (p ApprovalPolicy) AutoApprove(tool string) bool {
	if p.Approvals != nil {
		for _, name := range p.Approvals.AlwaysApprove() {
			if name == tool {
				return true
			}
		}
	}
	switch risk := ClassifyRisk(tool); p.Tier {
	case PermissionAutonomous:
		return risk == RiskSafe || risk == RiskModerate
	case PermissionStandard:
		return risk == RiskSafe
	default:
		return false
	}
}
