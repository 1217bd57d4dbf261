package domain

import "time"

type Tier string

const (
	TierPremium  Tier = "premium"
	TierStandard Tier = "standard"
	TierBasic    Tier = "basic"
	TierRejected Tier = "rejected"
)

// QualityReport is the verdict of the quality gate for one source image.
type QualityReport struct {
	Score      float64  `json:"score"`
	Tier       Tier     `json:"tier"`
	CanProceed bool     `json:"can_proceed"`
	Issues     []string `json:"issues,omitempty"`
}

// GenerationParams is sent to the generation job API.
type GenerationParams struct {
	Seed           int     `json:"seed"`
	SparseGuidance float64 `json:"ss_guidance_strength"`
	SparseSteps    int     `json:"ss_sampling_steps"`
	LatentGuidance float64 `json:"slat_guidance_strength"`
	LatentSteps    int     `json:"slat_sampling_steps"`
	SimplifyRatio  float64 `json:"mesh_simplify_ratio"`
	TextureSize    int     `json:"texture_size"`
	OutputFormat   string  `json:"output_format"`
}

type JobHandle struct {
	ID          string
	SubmittedAt time.Time
}

type JobState string

const (
	JobPending  JobState = "PENDING"
	JobRunning  JobState = "PROCESSING"
	JobComplete JobState = "COMPLETE"
	JobFailed   JobState = "FAILED"
)

type JobStatus struct {
	State    JobState `json:"status"`
	Progress int      `json:"progress"`
	Message  string   `json:"message,omitempty"`
}

// GenerationState is a step of the generation workflow.
type GenerationState string

const (
	StateReceived         GenerationState = "RECEIVED"
	StateImageFetched     GenerationState = "IMAGE_FETCHED"
	StateQualityChecked   GenerationState = "QUALITY_CHECKED"
	StateRejected         GenerationState = "REJECTED"
	StateParamsSelected   GenerationState = "PARAMS_SELECTED"
	StateGenerating       GenerationState = "GENERATING"
	StateGenerated        GenerationState = "GENERATED"
	StateGenerationFailed GenerationState = "GENERATION_FAILED"
	StateCatalogUpdated   GenerationState = "CATALOG_UPDATED"
	StateResponded        GenerationState = "RESPONDED"
)

var transitions = map[GenerationState][]GenerationState{
	StateReceived:         {StateImageFetched, StateGenerationFailed},
	StateImageFetched:     {StateQualityChecked},
	StateQualityChecked:   {StateRejected, StateParamsSelected},
	StateParamsSelected:   {StateGenerating},
	StateGenerating:       {StateGenerated, StateGenerationFailed},
	StateGenerated:        {StateCatalogUpdated, StateGenerationFailed},
	StateRejected:         {StateResponded},
	StateGenerationFailed: {StateResponded},
	StateCatalogUpdated:   {StateResponded},
}

// CanTransition reports whether the workflow may move from one state to the next.
func CanTransition(from, to GenerationState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
)
