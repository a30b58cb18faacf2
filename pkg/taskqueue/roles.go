package taskqueue

import "github.com/newstown/newstown/pkg/models"

// roleStages maps each role to the stages it may claim. This is the single
// auditable home of the role→stage mapping; the claim query takes the result
// verbatim. Detect never appears: the scout does not consume queued tasks.
var roleStages = map[models.Role][]models.Stage{
	models.RoleReporter:  {models.StageResearch, models.StageDraft, models.StageEdit},
	models.RoleEditor:    {models.StageReview},
	models.RolePublisher: {models.StagePublish},
}

// StagesForRole returns the stages claimable by role, empty for roles that
// do not consume tasks (chief, scout).
func StagesForRole(role models.Role) []models.Stage {
	stages := roleStages[role]
	out := make([]models.Stage, len(stages))
	copy(out, stages)
	return out
}

func stageStrings(stages []models.Stage) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = string(s)
	}
	return out
}
