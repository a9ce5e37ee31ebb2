package constants

// Pipeline stages, in run order
const (
	StageMastery             = "mastery"
	StageBuild               = "build"
	StageImport              = "import"
	StageEmbedModules        = "embed-modules"
	StageAggregate           = "aggregate"
	StageRecommend           = "recommend"
	StageExtractCompetencies = "extract-competencies"
	StageMapSkills           = "map-skills"
)

// PipelineStages lists the stages of one full cycle
var PipelineStages = []string{
	StageMastery,
	StageBuild,
	StageImport,
	StageEmbedModules,
	StageAggregate,
	StageRecommend,
}

// Sync progress labels
const (
	ProgressIdle     = "idle"
	ProgressDone     = "done"
	ProgressFailed   = "failed"
	PercentFailed    = -1
	PercentCompleted = 100
)

// API messages
const (
	// NoRecommendation is returned when the recommendation flow produced nothing
	NoRecommendation = "no recommendation available"
	// MasteryInsufficient is returned instead of a recommendation while weak
	// modules remain
	MasteryInsufficient = "insufficient mastery"
)
