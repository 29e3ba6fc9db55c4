package store

import "time"

// TaskStatus is the status alphabet from spec.md §3.
type TaskStatus string

const (
	StatusBacklog   TaskStatus = "backlog"
	StatusReady     TaskStatus = "ready"
	StatusPlanning  TaskStatus = "planning"
	StatusActive    TaskStatus = "active"
	StatusReview    TaskStatus = "review"
	StatusDone      TaskStatus = "done"
	StatusCancelled TaskStatus = "cancelled"
)

// WorkableStatuses are the statuses from which a task may be claimed.
var WorkableStatuses = map[TaskStatus]bool{
	StatusBacklog:  true,
	StatusReady:    true,
	StatusPlanning: true,
}

// AssigneeType distinguishes human from agent assignees.
type AssigneeType string

const (
	AssigneeHuman AssigneeType = "human"
	AssigneeAgent AssigneeType = "agent"
)

// Task is the primary unit of work (spec.md §3).
type Task struct {
	ID           string
	Title        string
	Description  string
	Status       TaskStatus
	ParentID     *string
	Score        int
	AssigneeType *AssigneeType
	AssigneeID   *string
	AssignedAt   *time.Time
	AssignedBy   *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
	Metadata     map[string]interface{}
}

// Dependency is a (blocker, blocked) edge between tasks.
type Dependency struct {
	BlockerID string
	BlockedID string
	CreatedAt time.Time
}

// LearningSourceType enumerates where a learning originated.
type LearningSourceType string

const (
	LearningSourceManual     LearningSourceType = "manual"
	LearningSourceRun        LearningSourceType = "run"
	LearningSourceCompaction LearningSourceType = "compaction"
)

// Learning is a reusable fact tied to source locations via anchors.
type Learning struct {
	ID           int64
	Content      string
	SourceType   LearningSourceType
	SourceRef    *string
	Keywords     []string
	Category     *string
	Embedding    []float32
	UsageCount   int
	OutcomeScore *float64
	CreatedAt    time.Time
}

// FileLearning binds a note to a file path or glob pattern.
type FileLearning struct {
	ID          int64
	FilePattern string
	Note        string
	TaskID      *string
	CreatedAt   time.Time
}

// AnchorType enumerates how an anchor binds to source.
type AnchorType string

const (
	AnchorGlob      AnchorType = "glob"
	AnchorHash      AnchorType = "hash"
	AnchorSymbol    AnchorType = "symbol"
	AnchorLineRange AnchorType = "line_range"
)

// AnchorStatus is the verification outcome state.
type AnchorStatus string

const (
	AnchorValid   AnchorStatus = "valid"
	AnchorDrifted AnchorStatus = "drifted"
	AnchorInvalid AnchorStatus = "invalid"
)

// Anchor binds a learning to a source-code location (spec.md §3/§4.D).
type Anchor struct {
	ID           int64
	LearningID   int64
	AnchorType   AnchorType
	AnchorValue  string
	FilePath     string
	SymbolFqname *string
	LineStart    *int
	LineEnd      *int
	ContentHash  *string
	Status       AnchorStatus
	Pinned       bool
	VerifiedAt   *time.Time
	CreatedAt    time.Time
}

// InvalidationLogEntry records one verification outcome.
type InvalidationLogEntry struct {
	ID         int64
	AnchorID   int64
	OldStatus  AnchorStatus
	NewStatus  AnchorStatus
	DetectedBy string
	Reason     string
	DetectedAt time.Time
}

// Edge is a typed, weighted relation between two (type, id) entities.
type Edge struct {
	ID            int64
	EdgeType      string
	SourceType    string
	SourceID      string
	TargetType    string
	TargetID      string
	Weight        float64
	Metadata      map[string]interface{}
	InvalidatedAt *time.Time
	CreatedAt     time.Time
}

// DocKind enumerates the three document kinds in the doc graph.
type DocKind string

const (
	DocOverview DocKind = "overview"
	DocPRD      DocKind = "prd"
	DocDesign   DocKind = "design"
)

// DocStatus is the lock state of a doc version.
type DocStatus string

const (
	DocChanging DocStatus = "changing"
	DocLocked   DocStatus = "locked"
)

// Doc is a design/overview/PRD document whose body lives on disk as YAML.
type Doc struct {
	ID          int64
	Hash        string
	Kind        DocKind
	Name        string
	Title       string
	Version     int
	Status      DocStatus
	FilePath    string
	ParentDocID *int64
	CreatedAt   time.Time
	LockedAt    *time.Time
	Metadata    map[string]interface{}
}

// DocLinkType enumerates the allowed doc-to-doc link kinds.
type DocLinkType string

const (
	LinkOverviewToPRD    DocLinkType = "overview_to_prd"
	LinkOverviewToDesign DocLinkType = "overview_to_design"
	LinkPRDToDesign      DocLinkType = "prd_to_design"
	LinkDesignPatch      DocLinkType = "design_patch"
)

// DocLink is a typed edge between two docs.
type DocLink struct {
	ID        int64
	FromDocID int64
	ToDocID   int64
	LinkType  DocLinkType
	CreatedAt time.Time
}

// TaskDocLinkType enumerates how a task relates to a doc.
type TaskDocLinkType string

const (
	TaskDocImplements TaskDocLinkType = "implements"
	TaskDocReferences TaskDocLinkType = "references"
)

// TaskDocLink binds a task to a doc.
type TaskDocLink struct {
	ID        int64
	TaskID    string
	DocID     int64
	LinkType  TaskDocLinkType
	CreatedAt time.Time
}

// EnforcementKind enumerates how an invariant is machine-checked.
type EnforcementKind string

const (
	EnforcementIntegrationTest EnforcementKind = "integration_test"
	EnforcementLinter          EnforcementKind = "linter"
	EnforcementLLMJudge        EnforcementKind = "llm_as_judge"
)

// InvariantStatus tracks whether an invariant is still asserted by its doc.
type InvariantStatus string

const (
	InvariantActive     InvariantStatus = "active"
	InvariantDeprecated InvariantStatus = "deprecated"
)

// Invariant is a machine-checkable rule declared by a design doc.
type Invariant struct {
	ID          string
	Rule        string
	Enforcement EnforcementKind
	DocID       int64
	Subsystem   *string
	TestRef     *string
	LintRule    *string
	PromptRef   *string
	Status      InvariantStatus
	CreatedAt   time.Time
}

// InvariantCheck is one append-only check result for an invariant.
type InvariantCheck struct {
	ID          int64
	InvariantID string
	Passed      bool
	Details     *string
	CheckedAt   time.Time
	DurationMs  *int64
}

// RunStatus is the lifecycle state of an agent/process run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Run records one execution of an agent or process against a task.
type Run struct {
	ID              string
	TaskID          *string
	Agent           string
	PID             *int
	StartedAt       time.Time
	EndedAt         *time.Time
	Status          RunStatus
	ExitCode        *int
	TranscriptPath  *string
	StdoutPath      *string
	StderrPath      *string
	ContextInjected *bool
	Summary         *string
	ErrorMessage    *string
	Metadata        map[string]interface{}
}

// WorkerStatus is the lifecycle state of a worker process.
type WorkerStatus string

const (
	WorkerStarting WorkerStatus = "starting"
	WorkerIdle     WorkerStatus = "idle"
	WorkerBusy     WorkerStatus = "busy"
	WorkerStopping WorkerStatus = "stopping"
	WorkerDead     WorkerStatus = "dead"
)

// Worker is a process participating in task coordination.
type Worker struct {
	ID              string
	Name            string
	Hostname        string
	PID             int
	Capabilities    []string
	Status          WorkerStatus
	CurrentTaskID   *string
	RegisteredAt    time.Time
	LastHeartbeatAt time.Time
}

// ClaimStatus is the lifecycle state of a task claim.
type ClaimStatus string

const (
	ClaimActive   ClaimStatus = "active"
	ClaimReleased ClaimStatus = "released"
	ClaimExpired  ClaimStatus = "expired"
)

// TaskClaim is a lease granting a worker exclusive rights to a task.
type TaskClaim struct {
	ID             int64
	TaskID         string
	WorkerID       string
	ClaimedAt      time.Time
	LeaseExpiresAt time.Time
	RenewedCount   int
	Status         ClaimStatus
}

// Event is an append-only observability record (span or metric).
type Event struct {
	ID         int64
	EventType  string
	Content    string
	DurationMs *int64
	RunID      *string
	Metadata   map[string]interface{}
	CreatedAt  time.Time
}
