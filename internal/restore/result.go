package restore

import (
	"time"

	"guild-backup/internal/backup"
)

// Phase names a step of a restore run
type Phase string

const (
	PhaseDeleteRoles    Phase = "delete_roles"
	PhaseLoadRoles      Phase = "load_roles"
	PhaseMatchRoles     Phase = "match_roles"
	PhaseDeleteChannels Phase = "delete_channels"
	PhaseLoadChannels   Phase = "load_channels"
	PhaseMatchChannels  Phase = "match_channels"
	PhaseLoadSettings   Phase = "load_settings"
	PhaseLoadThreads    Phase = "load_threads"
	PhaseLoadMemberInfo Phase = "load_member_info"
	PhaseLoadBans       Phase = "load_bans"
	PhaseLoadMessages   Phase = "load_messages"
)

// Outcome is the terminal state of a run
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// ErrRestoreCancelled is raised at the first checkpoint after a cancel request
var ErrRestoreCancelled = backup.NewCancelledError("restore cancelled", nil)

// OpResult is the outcome of one unit of work
type OpResult struct {
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason,omitempty"`
}

// OK is a unit that did its work
func OK() OpResult { return OpResult{} }

// Skipped is a unit that did nothing, with the reason why
func Skipped(reason string) OpResult { return OpResult{Skipped: true, Reason: reason} }

func (r OpResult) String() string {
	if r.Skipped {
		return "skipped"
	}
	return "ok"
}

// PhaseStats aggregates the unit results of one phase
type PhaseStats struct {
	Phase     Phase          `json:"phase"`
	Attempted int            `json:"attempted"`
	Succeeded int            `json:"succeeded"`
	Skipped   int            `json:"skipped"`
	Reasons   map[string]int `json:"reasons,omitempty"`
	Duration  time.Duration  `json:"duration"`
}

func (p *PhaseStats) record(res OpResult) {
	p.Attempted++
	if !res.Skipped {
		p.Succeeded++
		return
	}
	p.Skipped++
	if p.Reasons == nil {
		p.Reasons = make(map[string]int)
	}
	p.Reasons[res.Reason]++
}

// Stats are the operator-facing totals of a run
type Stats struct {
	DeletedRoles    int  `json:"deletedRoles"`
	CreatedRoles    int  `json:"createdRoles"`
	MatchedRoles    int  `json:"matchedRoles"`
	DeletedChannels int  `json:"deletedChannels"`
	CreatedChannels int  `json:"createdChannels"`
	MatchedChannels int  `json:"matchedChannels"`
	SettingsApplied bool `json:"settingsApplied"`
	CreatedThreads  int  `json:"createdThreads"`
	UpdatedMembers  int  `json:"updatedMembers"`
	AppliedBans     int  `json:"appliedBans"`
	LoadedMessages  int  `json:"loadedMessages"`
	PinnedMessages  int  `json:"pinnedMessages"`
	Skipped         int  `json:"skipped"`
}

// Report describes a finished run, whatever its outcome
type Report struct {
	TargetID   string            `json:"targetId"`
	BackupID   string            `json:"backupId"`
	OperatorID string            `json:"operatorId,omitempty"`
	Actions    []Action          `json:"actions"`
	Outcome    Outcome           `json:"outcome"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt"`
	Stats      Stats             `json:"stats"`
	Phases     []PhaseStats      `json:"phases"`
	RoleMap    map[string]string `json:"roleMap"`
	ChannelMap map[string]string `json:"channelMap"`
}

// Duration is the wall time of the run
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ProgressEvent is emitted after every unit
type ProgressEvent struct {
	TargetID  string
	Phase     Phase
	Processed int
	Result    OpResult
}

// ProgressFunc observes a running restore. It is called synchronously.
type ProgressFunc func(ProgressEvent)
