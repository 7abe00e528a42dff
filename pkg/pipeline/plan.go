package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/veritas-engine/veritas/pkg/models"
)

// maxRetrievalSteps caps how many domain-scoped retrieval steps one plan
// fans out to.
const maxRetrievalSteps = 3

// parallelGroupRetrieval tags the retrieval steps that run concurrently.
const parallelGroupRetrieval = "retrieval"

// BuildPlan derives the research plan and its step graph from the analysed
// intent. Retrieval fans out per detected domain; analysis-grade intents get
// an analysis step over the combined evidence; synthesis always closes the
// graph.
func BuildPlan(req *models.QueryRequest, intent *models.IntentRecord) (*models.ResearchPlan, []models.PlanStep) {
	planID := uuid.NewString()

	securityLevel := models.SecurityLevel(req.SecurityLevel)
	if !securityLevel.IsValid() {
		securityLevel = models.SecurityInternal
	}
	language := req.QueryLanguage
	if language == "" {
		language = "de"
	}

	plan := &models.ResearchPlan{
		PlanID:           planID,
		RequestID:        req.RequestID,
		SessionID:        req.SessionID,
		UserIdentity:     req.UserIdentity,
		ResearchQuestion: req.QueryText,
		QueryLanguage:    language,
		Status:           models.PlanStatusPending,
		SecurityLevel:    securityLevel,
		CreatedAt:        time.Now(),
	}

	steps := buildSteps(planID, intent)
	plan.TotalSteps = len(steps)
	if doc, err := json.Marshal(steps); err == nil {
		plan.PlanDocument = doc
	}
	return plan, steps
}

func buildSteps(planID string, intent *models.IntentRecord) []models.PlanStep {
	domains := intent.DetectedDomains
	if len(domains) == 0 {
		domains = []string{"allgemein"}
	}
	if len(domains) > maxRetrievalSteps {
		domains = domains[:maxRetrievalSteps]
	}

	var steps []models.PlanStep
	var retrievalIDs []string
	for i, domain := range domains {
		id := fmt.Sprintf("s%d", len(steps)+1)
		retrievalIDs = append(retrievalIDs, id)
		group := ""
		if len(domains) > 1 {
			group = parallelGroupRetrieval
		}
		steps = append(steps, models.PlanStep{
			StepID:        id,
			PlanID:        planID,
			Index:         i,
			Name:          "Recherche " + domain,
			Type:          models.StepTypeRetrieval,
			Capabilities:  []string{"retrieval"},
			Status:        models.StepStatusPending,
			ParallelGroup: group,
		})
	}

	synthesisDeps := retrievalIDs
	if intent.IntentClass == models.IntentAnalysis || intent.IntentClass == models.IntentResearch {
		id := fmt.Sprintf("s%d", len(steps)+1)
		steps = append(steps, models.PlanStep{
			StepID:       id,
			PlanID:       planID,
			Index:        len(steps),
			Name:         "Analyse der Belege",
			Type:         models.StepTypeAnalysis,
			Capabilities: []string{"analysis"},
			Status:       models.StepStatusPending,
			Dependencies: retrievalIDs,
		})
		synthesisDeps = []string{id}
	}

	steps = append(steps, models.PlanStep{
		StepID:       fmt.Sprintf("s%d", len(steps)+1),
		PlanID:       planID,
		Index:        len(steps),
		Name:         "Antwortsynthese",
		Type:         models.StepTypeSynthesis,
		Status:       models.StepStatusPending,
		Dependencies: synthesisDeps,
	})
	return steps
}
