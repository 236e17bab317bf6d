package policy

import (
	"fmt"

	"github.com/upb/hitl-control-plane/models"
)

// Decision is the outcome of an approval policy check. ActionType and
// Reason are empty when no approval is required.
type Decision struct {
	RequiresApproval bool              `json:"requires_approval"`
	ActionType       models.ActionType `json:"action_type,omitempty"`
	Reason           string            `json:"reason,omitempty"`
}

// CheckHITLRequired classifies a skill by its capability flags. The first
// matching rule wins: financial, then client-facing, then any skill not
// marked read-only.
func CheckHITLRequired(meta models.SkillMetadata) Decision {
	switch {
	case meta.Financial:
		return Decision{
			RequiresApproval: true,
			ActionType:       models.ActionTypeFinancial,
			Reason:           fmt.Sprintf("Skill %q involves financial data and requires approval", meta.Name),
		}
	case meta.ClientFacing:
		return Decision{
			RequiresApproval: true,
			ActionType:       models.ActionTypeClientFacing,
			Reason:           fmt.Sprintf("Skill %q sends client-facing communications and requires approval", meta.Name),
		}
	case !meta.ReadOnly:
		return Decision{
			RequiresApproval: true,
			ActionType:       models.ActionTypeSystemModify,
			Reason:           fmt.Sprintf("Skill %q modifies system state and requires approval", meta.Name),
		}
	}
	return Decision{}
}
