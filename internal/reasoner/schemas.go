package reasoner

// Wire types and JSON schemas for the structured tasks. Each schema is the
// plain value tree handed to llm.StructuredRequest; the wire struct beside it
// is what the reply unmarshals into.

// ─── AI-content detection ─────────────────────────────────────────────────────

const detectPrompt = `You are an expert reviewer assessing whether presentation content was written by a human or generated by an AI assistant. Judge the single slide you are given. Look for genericity, template phrasing, absence of project-specific detail, and tonal uniformity. Be conservative: prefer "uncertain" over a weakly supported verdict.`

type sectionDetectionWire struct {
	Result      string   `json:"result"`
	Confidence  int      `json:"confidence"`
	Indicators  []string `json:"indicators"`
	Explanation string   `json:"explanation"`
}

var sectionDetectionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"result": map[string]any{
			"type": "string",
			"enum": []any{"likely_ai", "possibly_ai", "likely_human", "uncertain"},
		},
		"confidence": map[string]any{
			"type":    "integer",
			"minimum": 0,
			"maximum": 100,
		},
		"indicators": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"explanation": map[string]any{"type": "string"},
	},
	"required":             []any{"result", "confidence", "indicators", "explanation"},
	"additionalProperties": false,
}

// ─── Question generation ──────────────────────────────────────────────────────

const questionPrompt = `You are conducting a spoken project review. Generate %[1]s-difficulty questions grounded in the candidate's presentation. Easy questions check recall of their own material; medium questions probe design decisions; hard questions challenge trade-offs and failure modes. Each question must reference specific presentation content and be answerable in under a minute of speech. Generate exactly %[2]d questions.`

type questionWire struct {
	Question       string   `json:"question"`
	Context        string   `json:"context"`
	ExpectedPoints []string `json:"expected_points"`
	SlideReference string   `json:"slide_reference"`
}

type questionSetWire struct {
	Questions []questionWire `json:"questions"`
}

var questionSetSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"questions": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"question": map[string]any{"type": "string"},
					"context":  map[string]any{"type": "string"},
					"expected_points": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string"},
					},
					"slide_reference": map[string]any{"type": "string"},
				},
				"required":             []any{"question", "context", "expected_points", "slide_reference"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []any{"questions"},
	"additionalProperties": false,
}

// ─── Answer evaluation ────────────────────────────────────────────────────────

const evaluatePrompt = `You are evaluating a candidate's spoken answer in a project review. Score 1-10 for correctness and depth against the expected points. Note specifically whether the answer demonstrates genuine understanding of their own project, and flag concerns such as evasion, memorised phrasing, or contradiction of the presentation.`

type evaluationWire struct {
	Score                     int      `json:"score"`
	Feedback                  string   `json:"feedback"`
	DemonstratesUnderstanding bool     `json:"demonstrates_understanding"`
	FlaggedConcerns           []string `json:"flagged_concerns"`
}

var evaluationSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"score": map[string]any{
			"type":    "integer",
			"minimum": 1,
			"maximum": 10,
		},
		"feedback": map[string]any{"type": "string"},
		"demonstrates_understanding": map[string]any{"type": "boolean"},
		"flagged_concerns": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
	"required":             []any{"score", "feedback", "demonstrates_understanding", "flagged_concerns"},
	"additionalProperties": false,
}

// ─── Final report ─────────────────────────────────────────────────────────────

const reportPrompt = `You are writing the final report of a spoken project review. Weigh every evaluation, the AI-content detection results, and the overall dialogue. Score each dimension 1-10, list concrete knowledge gaps and AI-content concerns, and give one recommendation. Recommend "needs_review" when the evidence is contradictory rather than guessing.`

type finalReportWire struct {
	TechnicalUnderstanding int      `json:"technical_understanding"`
	ProjectOwnership       int      `json:"project_ownership"`
	CommunicationClarity   int      `json:"communication_clarity"`
	AIContentConcerns      []string `json:"ai_content_concerns"`
	KnowledgeGaps          []string `json:"knowledge_gaps"`
	OverallAssessment      string   `json:"overall_assessment"`
	Recommendation         string   `json:"recommendation"`
	NextSteps              []string `json:"next_steps"`
}

var finalReportSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"technical_understanding": map[string]any{"type": "integer", "minimum": 1, "maximum": 10},
		"project_ownership":       map[string]any{"type": "integer", "minimum": 1, "maximum": 10},
		"communication_clarity":   map[string]any{"type": "integer", "minimum": 1, "maximum": 10},
		"ai_content_concerns": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"knowledge_gaps": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"overall_assessment": map[string]any{"type": "string"},
		"recommendation": map[string]any{
			"type": "string",
			"enum": []any{"pass", "conditional_pass", "fail", "needs_review"},
		},
		"next_steps": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
	"required": []any{
		"technical_understanding", "project_ownership", "communication_clarity",
		"ai_content_concerns", "knowledge_gaps", "overall_assessment",
		"recommendation", "next_steps",
	},
	"additionalProperties": false,
}
