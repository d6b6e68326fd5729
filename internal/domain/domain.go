package domain

// Workflow stage names in their fixed sequence.
var StageSequence = []string{
	"Sales",
	"Design",
	"Technical Design",
	"Procurement",
	"Production",
	"Execution",
	"Post Installation",
}

// Approver types supported by approval configs.
const (
	ApproverDepartmentHead = "department-head"
	ApproverProjectManager = "project-manager"
	ApproverAdmin          = "admin"
	ApproverSpecificUser   = "specific-user"
	ApproverClient         = "client"
	ApproverExternal       = "external"
)

// Approval request states.
const (
	ApprovalPending   = "pending"
	ApprovalApproved  = "approved"
	ApprovalRejected  = "rejected"
	ApprovalExpired   = "expired"
	ApprovalDelegated = "delegated"
)

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ClientName  string `json:"client_name,omitempty"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type Stage struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	Name        string  `json:"name"`
	Position    int     `json:"position"`
	Status      string  `json:"status"`
	StartedAt   *string `json:"started_at,omitempty" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type Task struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"project_id"`
	Stage       string   `json:"stage,omitempty"`
	ParentID    *string  `json:"parent_id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	AssigneeID  *string  `json:"assignee_id,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	DueDate     *string  `json:"due_date,omitempty" format:"date-time"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
	CompletedAt *string  `json:"completed_at,omitempty" format:"date-time"`
}

type Document struct {
	ID                     string   `json:"id"`
	ProjectID              string   `json:"project_id"`
	Stage                  string   `json:"stage"`
	Title                  string   `json:"title"`
	Category               string   `json:"category" enum:"contract,drawing,specification,invoice,presentation,report,other"`
	Status                 string   `json:"status"`
	RequiredForProgression bool     `json:"required_for_progression"`
	Tags                   []string `json:"tags,omitempty"`
	UploadedBy             string   `json:"uploaded_by,omitempty"`
	CreatedAt              string   `json:"created_at" format:"date-time"`
	UpdatedAt              string   `json:"updated_at" format:"date-time"`
}

// StageFile is an expected deliverable for a stage (site survey, brief,
// signed quote, ...) tracked until it is received.
type StageFile struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	Stage       string  `json:"stage"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Required    bool    `json:"required"`
	Status      string  `json:"status"`
	ReceivedAt  *string `json:"received_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type Issue struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Stage       string `json:"stage,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	Priority    string `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	ReportedBy  string `json:"reported_by,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type TeamMember struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	Email       string `json:"email,omitempty"`
	Placeholder bool   `json:"placeholder,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// MatchCriteria limits which entities an approval rule applies to. An absent
// field does not filter on that dimension.
type MatchCriteria struct {
	Stages             []string `json:"stages,omitempty"`
	Priorities         []string `json:"priorities,omitempty"`
	DocumentCategories []string `json:"document_categories,omitempty"`
	TitlePattern       string   `json:"title_pattern,omitempty"`
	Tags               []string `json:"tags,omitempty"`
}

// ApprovalConfig is one level of an approval chain.
type ApprovalConfig struct {
	ApproverType    string `json:"approver_type" enum:"department-head,project-manager,admin,specific-user,client,external"`
	ApproverRole    string `json:"approver_role,omitempty"`
	ApproverUserID  string `json:"approver_user_id,omitempty"`
	Required        bool   `json:"required"`
	AllowDelegation bool   `json:"allow_delegation"`
	RequireComment  bool   `json:"require_comment"`
	ExpiryDays      *int   `json:"expiry_days,omitempty"`
}

type ApprovalRule struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Scope       string           `json:"scope" enum:"global,project"`
	ProjectID   *string          `json:"project_id,omitempty"`
	EntityType  string           `json:"entity_type" enum:"task,document,stage"`
	Criteria    MatchCriteria    `json:"criteria"`
	Configs     []ApprovalConfig `json:"configs"`
	Enabled     bool             `json:"enabled"`
	AutoApply   bool             `json:"auto_apply"`
	CreatedAt   string           `json:"created_at" format:"date-time"`
	UpdatedAt   string           `json:"updated_at" format:"date-time"`
}

// ApprovalRequest carries a snapshot of its rule's configs; later rule edits
// never change an in-flight request.
type ApprovalRequest struct {
	ID           string           `json:"id"`
	ProjectID    string           `json:"project_id"`
	Source       string           `json:"source" enum:"manual,rule,template"`
	RuleID       *string          `json:"rule_id,omitempty"`
	EntityType   string           `json:"entity_type" enum:"task,document,stage"`
	EntityID     string           `json:"entity_id"`
	EntityName   string           `json:"entity_name,omitempty"`
	Stage        string           `json:"stage,omitempty"`
	Status       string           `json:"status" enum:"pending,approved,rejected,expired,delegated"`
	CurrentLevel int              `json:"current_level"`
	Configs      []ApprovalConfig `json:"configs"`
	RequestedBy  string           `json:"requested_by"`
	RequestedAt  string           `json:"requested_at" format:"date-time"`
	AssignedTo   string           `json:"assigned_to"`
	ExpiresAt    *string          `json:"expires_at,omitempty" format:"date-time"`
	DecidedAt    *string          `json:"decided_at,omitempty" format:"date-time"`
	UpdatedAt    string           `json:"updated_at" format:"date-time"`
}

type StatusConfig struct {
	EntityType         string   `json:"entity_type" enum:"task,subtask,issue,stage,document,file,project"`
	Value              string   `json:"value"`
	Label              string   `json:"label"`
	Color              string   `json:"color,omitempty"`
	Icon               string   `json:"icon,omitempty"`
	IsDefault          bool     `json:"is_default"`
	IsActive           bool     `json:"is_active"`
	Position           int      `json:"position"`
	AllowedTransitions []string `json:"allowed_transitions,omitempty"`
}

// StageProgress is derived from the task collection, never stored.
type StageProgress struct {
	Stage           string `json:"stage"`
	TasksTotal      int    `json:"tasks_total"`
	TasksComplete   int    `json:"tasks_complete"`
	PercentComplete int    `json:"percent_complete"`
}

// GateResult is the stage completion verdict with its missing requirements.
type GateResult struct {
	Stage    string   `json:"stage"`
	Eligible bool     `json:"eligible"`
	Missing  []string `json:"missing"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
