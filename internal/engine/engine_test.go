package engine_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"studioflow/internal/config"
	"studioflow/internal/db"
	"studioflow/internal/domain"
	"studioflow/internal/engine"
	"studioflow/internal/migrate"
	"studioflow/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Clock  *time.Time
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("proj-1")
	eng := engine.New(conn, cfg)
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return clock }
	ctx := context.Background()
	if _, err := eng.InitProject(ctx, engine.ProjectCreateOptions{ID: "proj-1", Name: "Test Project", ActorID: "tester"}); err != nil {
		t.Fatalf("init project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Clock: &clock}
}

func (env testEnv) addMember(t *testing.T, id, name, role string) domain.TeamMember {
	t.Helper()
	m, err := env.Engine.AddTeamMember(env.Ctx, engine.TeamMemberOptions{ID: id, Name: name, Role: role, ActorID: "tester"})
	if err != nil {
		t.Fatalf("add member %s: %v", id, err)
	}
	return m
}

func specificUser(id string, required bool) domain.ApprovalConfig {
	return domain.ApprovalConfig{
		ApproverType:   domain.ApproverSpecificUser,
		ApproverUserID: id,
		Required:       required,
	}
}

func TestApprovalChainProgression(t *testing.T) {
	env := newTestEnv(t)
	env.addMember(t, "pm-1", "Priya", "Project Manager")
	env.addMember(t, "dir-1", "Dana", "Design Director")

	a, err := env.Engine.CreateApprovalRequest(env.Ctx, engine.ApprovalRequestOptions{
		ProjectID:  "proj-1",
		EntityType: "task",
		EntityID:   "task-1",
		EntityName: "Order custom sofa",
		Configs:    []domain.ApprovalConfig{specificUser("pm-1", true), specificUser("dir-1", true)},
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if a.Status != domain.ApprovalPending || a.CurrentLevel != 0 || a.AssignedTo != "pm-1" {
		t.Fatalf("unexpected initial state: %+v", a)
	}

	if _, err := env.Engine.Approve(env.Ctx, a.ID, "dir-1", ""); err == nil {
		t.Fatalf("only the assignee may decide the current level")
	}

	a, err = env.Engine.Approve(env.Ctx, a.ID, "pm-1", "looks good")
	if err != nil {
		t.Fatalf("approve level 0: %v", err)
	}
	if a.Status != domain.ApprovalPending || a.CurrentLevel != 1 || a.AssignedTo != "dir-1" {
		t.Fatalf("expected advance to level 1, got %+v", a)
	}

	a, err = env.Engine.Approve(env.Ctx, a.ID, "dir-1", "")
	if err != nil {
		t.Fatalf("approve level 1: %v", err)
	}
	if a.Status != domain.ApprovalApproved || a.DecidedAt == nil {
		t.Fatalf("expected approved with decision time, got %+v", a)
	}

	if _, err := env.Engine.Approve(env.Ctx, a.ID, "dir-1", ""); err == nil {
		t.Fatalf("decided requests must not accept further decisions")
	}
}

func TestRejectionIsFinal(t *testing.T) {
	env := newTestEnv(t)
	env.addMember(t, "pm-1", "Priya", "Project Manager")
	env.addMember(t, "dir-1", "Dana", "Design Director")

	a, err := env.Engine.CreateApprovalRequest(env.Ctx, engine.ApprovalRequestOptions{
		ProjectID:  "proj-1",
		EntityType: "task",
		EntityID:   "task-1",
		Configs:    []domain.ApprovalConfig{specificUser("pm-1", true), specificUser("dir-1", true)},
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	a, err = env.Engine.Reject(env.Ctx, a.ID, "pm-1", "over budget")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if a.Status != domain.ApprovalRejected || a.DecidedAt == nil {
		t.Fatalf("expected rejected, got %+v", a)
	}
	if _, err := env.Engine.Approve(env.Ctx, a.ID, "pm-1", ""); err == nil {
		t.Fatalf("rejection is terminal; later levels never run")
	}
}

func TestDelegation(t *testing.T) {
	env := newTestEnv(t)
	env.addMember(t, "pm-1", "Priya", "Project Manager")
	env.addMember(t, "pm-2", "Marco", "Project Manager")

	cfg := specificUser("pm-1", true)
	cfg.AllowDelegation = true
	a, err := env.Engine.CreateApprovalRequest(env.Ctx, engine.ApprovalRequestOptions{
		ProjectID:  "proj-1",
		EntityType: "document",
		EntityID:   "doc-1",
		Configs:    []domain.ApprovalConfig{cfg},
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := env.Engine.Delegate(env.Ctx, a.ID, "pm-2", "pm-1", ""); err == nil {
		t.Fatalf("only the assignee may delegate")
	}
	if _, err := env.Engine.Delegate(env.Ctx, a.ID, "pm-1", "pm-1", ""); err == nil {
		t.Fatalf("self-delegation must fail")
	}
	if _, err := env.Engine.Delegate(env.Ctx, a.ID, "pm-1", "ghost", ""); err == nil {
		t.Fatalf("delegate must exist in the team directory")
	}

	a, err = env.Engine.Delegate(env.Ctx, a.ID, "pm-1", "pm-2", "on leave")
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	if a.Status != domain.ApprovalDelegated || a.AssignedTo != "pm-2" {
		t.Fatalf("expected delegated to pm-2, got %+v", a)
	}

	// Delegated requests cannot be re-delegated, only decided.
	if _, err := env.Engine.Delegate(env.Ctx, a.ID, "pm-2", "pm-1", ""); err == nil {
		t.Fatalf("expected re-delegation to fail")
	}
	a, err = env.Engine.Approve(env.Ctx, a.ID, "pm-2", "")
	if err != nil {
		t.Fatalf("delegate decides: %v", err)
	}
	if a.Status != domain.ApprovalApproved {
		t.Fatalf("expected approved, got %s", a.Status)
	}
}

func TestDelegationRequiresConfig(t *testing.T) {
	env := newTestEnv(t)
	env.addMember(t, "pm-1", "Priya", "Project Manager")
	env.addMember(t, "pm-2", "Marco", "Project Manager")

	a, err := env.Engine.CreateApprovalRequest(env.Ctx, engine.ApprovalRequestOptions{
		ProjectID:  "proj-1",
		EntityType: "task",
		EntityID:   "task-1",
		Configs:    []domain.ApprovalConfig{specificUser("pm-1", true)},
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Delegate(env.Ctx, a.ID, "pm-1", "pm-2", ""); err == nil {
		t.Fatalf("level without allow_delegation must refuse")
	}
}

func TestLazyExpiry(t *testing.T) {
	env := newTestEnv(t)
	env.addMember(t, "pm-1", "Priya", "Project Manager")

	// Workspace default expiry is 7 days.
	a, err := env.Engine.CreateApprovalRequest(env.Ctx, engine.ApprovalRequestOptions{
		ProjectID:  "proj-1",
		EntityType: "task",
		EntityID:   "task-1",
		Configs:    []domain.ApprovalConfig{specificUser("pm-1", true)},
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if a.ExpiresAt == nil {
		t.Fatalf("expected a deadline from the workspace default")
	}

	*env.Clock = env.Clock.Add(8 * 24 * time.Hour)
	a, err = env.Engine.GetApprovalRequest(env.Ctx, a.ID)
	if err != nil {
		t.Fatalf("get after deadline: %v", err)
	}
	if a.Status != domain.ApprovalExpired {
		t.Fatalf("expected expired on read, got %s", a.Status)
	}
	if _, err := env.Engine.Approve(env.Ctx, a.ID, "pm-1", ""); err == nil {
		t.Fatalf("expired requests must not accept decisions")
	}
}

func TestUpdateProjectCommitsWithEvent(t *testing.T) {
	env := newTestEnv(t)
	name := "Harbor Penthouse"
	p, err := env.Engine.UpdateProject(env.Ctx, "proj-1", engine.ProjectUpdateOptions{Name: &name, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != name {
		t.Fatalf("expected name %q, got %q", name, p.Name)
	}
	history, err := env.Engine.Repo.EntityHistory(env.Ctx, "project", "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	var updates int
	for _, evt := range history {
		if evt.Type == "project.update" {
			updates++
		}
	}
	if updates != 1 {
		t.Fatalf("expected exactly one project.update event, got %d", updates)
	}
}

func TestApproverResolutionFailureAbortsCreation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateApprovalRequest(env.Ctx, engine.ApprovalRequestOptions{
		ProjectID:  "proj-1",
		EntityType: "task",
		EntityID:   "task-1",
		Configs:    []domain.ApprovalConfig{specificUser("nobody", true)},
		ActorID:    "tester",
	})
	if err == nil {
		t.Fatalf("unknown approver must abort creation")
	}
	list, err := env.Engine.ListApprovalRequests(env.Ctx, repo.ApprovalFilter{ProjectID: "proj-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Fatalf("no request may be persisted after a failed resolution, got %d", len(list))
	}
}

func TestDepartmentHeadFallsBackToFirstMember(t *testing.T) {
	env := newTestEnv(t)
	first := env.addMember(t, "des-1", "Dana", "Designer")
	*env.Clock = env.Clock.Add(time.Minute)
	env.addMember(t, "des-2", "Devi", "Designer")

	req, err := env.Engine.CreateApprovalRequest(env.Ctx, engine.ApprovalRequestOptions{
		ProjectID:  "proj-1",
		EntityType: "task",
		EntityID:   "task-1",
		Configs: []domain.ApprovalConfig{{
			ApproverType: domain.ApproverDepartmentHead,
			ApproverRole: "Architecture",
			Required:     true,
		}},
		ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if req.AssignedTo != first.ID {
		t.Fatalf("expected fallback assignment to %s, got %s", first.ID, req.AssignedTo)
	}
}

func TestStageGateAndCompletion(t *testing.T) {
	env := newTestEnv(t)

	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: "proj-1", Stage: "Sales", Title: "Initial consultation", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	gate, err := env.Engine.StageGate(env.Ctx, "proj-1", "Sales")
	if err != nil {
		t.Fatal(err)
	}
	if gate.Eligible || len(gate.Missing) == 0 {
		t.Fatalf("open task must block the gate: %+v", gate)
	}

	for _, status := range []string{"in-progress", "completed"} {
		s := status
		if task, err = env.Engine.UpdateTask(env.Ctx, task.ID, engine.TaskUpdateOptions{Status: &s, ActorID: "tester"}); err != nil {
			t.Fatalf("task to %s: %v", status, err)
		}
	}

	file, err := env.Engine.CreateStageFile(env.Ctx, engine.StageFileCreateOptions{
		ProjectID: "proj-1", Stage: "Sales", Name: "Signed quote", Required: true, ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	gate, _ = env.Engine.StageGate(env.Ctx, "proj-1", "Sales")
	if gate.Eligible {
		t.Fatalf("required file must block the gate")
	}
	if _, err := env.Engine.MarkFileReceived(env.Ctx, file.ID, "tester"); err != nil {
		t.Fatalf("mark received: %v", err)
	}

	doc, err := env.Engine.CreateDocument(env.Ctx, engine.DocumentCreateOptions{
		ProjectID: "proj-1", Stage: "Sales", Title: "Engagement contract",
		Category: "contract", RequiredForProgression: true, ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	gate, _ = env.Engine.StageGate(env.Ctx, "proj-1", "Sales")
	if gate.Eligible {
		t.Fatalf("unapproved required document must block the gate")
	}
	for _, status := range []string{"pending-approval", "approved"} {
		s := status
		if doc, err = env.Engine.UpdateDocument(env.Ctx, doc.ID, engine.DocumentUpdateOptions{Status: &s, ActorID: "tester"}); err != nil {
			t.Fatalf("document to %s: %v", status, err)
		}
	}

	gate, err = env.Engine.StageGate(env.Ctx, "proj-1", "Sales")
	if err != nil {
		t.Fatal(err)
	}
	if !gate.Eligible || len(gate.Missing) != 0 {
		t.Fatalf("expected eligible gate, missing: %v", gate.Missing)
	}

	s, err := env.Engine.CompleteStage(env.Ctx, "proj-1", "Sales", "tester", false)
	if err != nil {
		t.Fatalf("complete stage: %v", err)
	}
	if s.Status != "completed" || s.CompletedAt == nil {
		t.Fatalf("expected completed Sales, got %+v", s)
	}

	stages, err := env.Engine.Repo.ListStages(env.Ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	for _, st := range stages {
		if st.Name == "Design" && st.Status != "active" {
			t.Fatalf("completing a stage must activate the next, Design is %s", st.Status)
		}
	}
}

func TestStageCompletionBlockedByRequiredApproval(t *testing.T) {
	env := newTestEnv(t)
	env.addMember(t, "pm-1", "Priya", "Project Manager")

	a, err := env.Engine.CreateApprovalRequest(env.Ctx, engine.ApprovalRequestOptions{
		ProjectID:  "proj-1",
		EntityType: "stage",
		EntityID:   "Sales",
		EntityName: "Sales",
		Stage:      "Sales",
		Configs:    []domain.ApprovalConfig{specificUser("pm-1", true)},
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CompleteStage(env.Ctx, "proj-1", "Sales", "tester", false); err == nil {
		t.Fatalf("pending required approval must block completion")
	}
	if _, err := env.Engine.Approve(env.Ctx, a.ID, "pm-1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CompleteStage(env.Ctx, "proj-1", "Sales", "tester", false); err != nil {
		t.Fatalf("approved gate should pass: %v", err)
	}
}

func TestStageGateTreatsParkedTasksAsOpen(t *testing.T) {
	env := newTestEnv(t)

	// A custom status lands at the end of the vocabulary; its position must
	// not make tasks parked there count as finished.
	if _, err := env.Engine.CreateStatus(env.Ctx, domain.StatusConfig{
		EntityType:         "task",
		Value:              "on-hold",
		Label:              "On Hold",
		AllowedTransitions: []string{"todo", "in-progress"},
	}, "tester"); err != nil {
		t.Fatalf("create status: %v", err)
	}
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: "proj-1", Stage: "Sales", Title: "Await client decision", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	parked := "on-hold"
	if _, err := env.Engine.UpdateTask(env.Ctx, task.ID, engine.TaskUpdateOptions{Status: &parked, ActorID: "tester"}); err != nil {
		t.Fatalf("todo -> on-hold: %v", err)
	}

	gate, err := env.Engine.StageGate(env.Ctx, "proj-1", "Sales")
	if err != nil {
		t.Fatal(err)
	}
	if gate.Eligible {
		t.Fatalf("a parked task must keep the stage ineligible, missing=%v", gate.Missing)
	}
	if len(gate.Missing) != 1 || !strings.Contains(gate.Missing[0], "on-hold") {
		t.Fatalf("expected the parked task listed as missing, got %v", gate.Missing)
	}
}

func TestStatusTransitionValidation(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: "proj-1", Stage: "Sales", Title: "Draft proposal", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != "todo" {
		t.Fatalf("new tasks start at the default status, got %s", task.Status)
	}

	review := "review"
	if _, err := env.Engine.UpdateTask(env.Ctx, task.ID, engine.TaskUpdateOptions{Status: &review, ActorID: "tester"}); err == nil {
		t.Fatalf("todo -> review is not an allowed transition")
	}
	if _, err := env.Engine.UpdateTask(env.Ctx, task.ID, engine.TaskUpdateOptions{Status: &review, Force: true, ActorID: "tester"}); err != nil {
		t.Fatalf("force bypasses transition rules: %v", err)
	}

	targets, err := env.Engine.AllowedTargets(env.Ctx, "task", "todo")
	if err != nil {
		t.Fatal(err)
	}
	var values []string
	for _, sc := range targets {
		values = append(values, sc.Value)
	}
	joined := strings.Join(values, ",")
	if !strings.Contains(joined, "in-progress") {
		t.Fatalf("in-progress should be reachable from todo, got %s", joined)
	}
	if strings.Contains(joined, "review") {
		t.Fatalf("review must not be reachable from todo, got %s", joined)
	}
}

func TestStatusLifecycle(t *testing.T) {
	env := newTestEnv(t)

	created, err := env.Engine.CreateStatus(env.Ctx, domain.StatusConfig{
		EntityType:         "task",
		Value:              "on-hold",
		Label:              "On Hold",
		AllowedTransitions: []string{"in-progress"},
	}, "tester")
	if err != nil {
		t.Fatalf("create status: %v", err)
	}
	if !created.IsActive {
		t.Fatalf("new statuses start active")
	}

	// A task carrying todo keeps the value undeletable.
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: "proj-1", Stage: "Sales", Title: "Anything", ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteStatus(env.Ctx, "task", "todo", "tester"); err == nil {
		t.Fatalf("statuses in use must not be deletable")
	}

	inactive := false
	updated, err := env.Engine.UpdateStatus(env.Ctx, "task", "on-hold", engine.StatusUpdateOptions{IsActive: &inactive, ActorID: "tester"})
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if updated.IsActive {
		t.Fatalf("expected deactivated status")
	}
	active, err := env.Engine.ActiveStatuses(env.Ctx, "task")
	if err != nil {
		t.Fatal(err)
	}
	for _, sc := range active {
		if sc.Value == "on-hold" {
			t.Fatalf("inactive statuses must not appear in the active listing")
		}
	}

	if err := env.Engine.DeleteStatus(env.Ctx, "task", "on-hold", "tester"); err != nil {
		t.Fatalf("unused status should delete: %v", err)
	}
}

func TestReorderStatuses(t *testing.T) {
	env := newTestEnv(t)
	existing, err := env.Engine.ListStatuses(env.Ctx, "issue")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ReorderStatuses(env.Ctx, "issue", []string{"open"}, "tester"); err == nil {
		t.Fatalf("partial reorder lists must be rejected")
	}
	if _, err := env.Engine.ReorderStatuses(env.Ctx, "issue", []string{"open", "open", "resolved", "closed"}, "tester"); err == nil {
		t.Fatalf("repeated values must be rejected")
	}

	reversed := make([]string, len(existing))
	for i, sc := range existing {
		reversed[len(existing)-1-i] = sc.Value
	}
	reordered, err := env.Engine.ReorderStatuses(env.Ctx, "issue", reversed, "tester")
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	for i, sc := range reordered {
		if sc.Value != reversed[i] {
			t.Fatalf("position %d: expected %s, got %s", i, reversed[i], sc.Value)
		}
	}
}

func TestResetStatuses(t *testing.T) {
	env := newTestEnv(t)
	defaults, err := env.Engine.ListStatuses(env.Ctx, "file")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateStatus(env.Ctx, domain.StatusConfig{
		EntityType: "file", Value: "archived", Label: "Archived",
	}, "tester"); err != nil {
		t.Fatal(err)
	}
	reset, err := env.Engine.ResetStatuses(env.Ctx, "file", "tester")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if len(reset) != len(defaults) {
		t.Fatalf("reset should restore %d defaults, got %d", len(defaults), len(reset))
	}
}

func TestAutoApplyOpensOneRequestPerRule(t *testing.T) {
	env := newTestEnv(t)
	env.addMember(t, "pm-1", "Priya", "Project Manager")

	_, err := env.Engine.CreateRule(env.Ctx, engine.RuleCreateOptions{
		Name:       "High priority sales sign-off",
		Scope:      "project",
		ProjectID:  "proj-1",
		EntityType: "task",
		Criteria:   domain.MatchCriteria{Stages: []string{"Sales"}, Priorities: []string{"high"}},
		Configs:    []domain.ApprovalConfig{specificUser("pm-1", true)},
		AutoApply:  true,
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: "proj-1", Stage: "Sales", Title: "Expedite order", Priority: "high", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	list, err := env.Engine.ListApprovalRequests(env.Ctx, repo.ApprovalFilter{ProjectID: "proj-1", EntityID: task.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Source != "rule" {
		t.Fatalf("expected one rule-sourced request, got %+v", list)
	}

	// A later update re-evaluates rules but must not duplicate the open request.
	title := "Expedite order today"
	if _, err := env.Engine.UpdateTask(env.Ctx, task.ID, engine.TaskUpdateOptions{Title: &title, ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	list, err = env.Engine.ListApprovalRequests(env.Ctx, repo.ApprovalFilter{ProjectID: "proj-1", EntityID: task.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected the open request to be reused, got %d", len(list))
	}

	// Non-matching tasks open nothing.
	other, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: "proj-1", Stage: "Sales", Title: "Routine errand", Priority: "low", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	list, _ = env.Engine.ListApprovalRequests(env.Ctx, repo.ApprovalFilter{ProjectID: "proj-1", EntityID: other.ID})
	if len(list) != 0 {
		t.Fatalf("low priority task must not match, got %d requests", len(list))
	}
}

func TestRuleValidation(t *testing.T) {
	env := newTestEnv(t)
	env.addMember(t, "pm-1", "Priya", "Project Manager")

	_, err := env.Engine.CreateRule(env.Ctx, engine.RuleCreateOptions{
		Name:       "Match everything",
		Scope:      "project",
		ProjectID:  "proj-1",
		EntityType: "task",
		Configs:    []domain.ApprovalConfig{specificUser("pm-1", true)},
		ActorID:    "tester",
	})
	if err == nil {
		t.Fatalf("criteria-less rules must be rejected while require_criteria is on")
	}

	_, err = env.Engine.CreateRule(env.Ctx, engine.RuleCreateOptions{
		Name:       "No approvers",
		Scope:      "project",
		ProjectID:  "proj-1",
		EntityType: "task",
		Criteria:   domain.MatchCriteria{Stages: []string{"Sales"}},
		ActorID:    "tester",
	})
	if err == nil {
		t.Fatalf("rules need at least one approver config")
	}
}

func TestCountRuleMatches(t *testing.T) {
	env := newTestEnv(t)
	for _, priority := range []string{"high", "high", "low"} {
		if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
			ProjectID: "proj-1", Stage: "Sales", Title: "Task " + priority, Priority: priority, ActorID: "tester",
		}); err != nil {
			t.Fatal(err)
		}
	}
	n, err := env.Engine.CountRuleMatches(env.Ctx, "proj-1", "task", domain.MatchCriteria{Priorities: []string{"high"}})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 matching tasks, got %d", n)
	}
}

func TestSubtaskRules(t *testing.T) {
	env := newTestEnv(t)
	parent, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: "proj-1", Stage: "Design", Title: "Furniture plan", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	child, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: "proj-1", ParentID: parent.ID, Title: "Pick fabrics", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create subtask: %v", err)
	}
	if child.Stage != "Design" {
		t.Fatalf("subtasks inherit the parent stage, got %q", child.Stage)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: "proj-1", ParentID: child.ID, Title: "Too deep", ActorID: "tester",
	}); err == nil {
		t.Fatalf("subtasks must not nest")
	}
}

func TestRemoveMemberBlockedByOpenApproval(t *testing.T) {
	env := newTestEnv(t)
	env.addMember(t, "pm-1", "Priya", "Project Manager")

	a, err := env.Engine.CreateApprovalRequest(env.Ctx, engine.ApprovalRequestOptions{
		ProjectID:  "proj-1",
		EntityType: "task",
		EntityID:   "task-1",
		Configs:    []domain.ApprovalConfig{specificUser("pm-1", true)},
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.RemoveTeamMember(env.Ctx, "pm-1", "tester"); err == nil {
		t.Fatalf("members with open approvals must not be removable")
	}
	if _, err := env.Engine.Approve(env.Ctx, a.ID, "pm-1", ""); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.RemoveTeamMember(env.Ctx, "pm-1", "tester"); err != nil {
		t.Fatalf("remove after deciding: %v", err)
	}
}

func TestWhoAmIAndRoles(t *testing.T) {
	env := newTestEnv(t)
	who, err := env.Engine.WhoAmI(env.Ctx, "proj-1", "tester")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, r := range who.Roles {
		if r == "admin" {
			found = true
		}
	}
	if !found {
		t.Fatalf("project creator should hold admin, got %v", who.Roles)
	}

	if err := env.Engine.GrantRole(env.Ctx, "proj-1", "tester", "alice", "designer"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	who, err = env.Engine.WhoAmI(env.Ctx, "proj-1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(who.Roles) != 1 || who.Roles[0] != "designer" {
		t.Fatalf("expected designer role, got %v", who.Roles)
	}
	if len(who.Permissions) == 0 {
		t.Fatalf("designer should carry permissions")
	}

	if err := env.Engine.GrantRole(env.Ctx, "proj-1", "tester", "alice", "superuser"); err == nil {
		t.Fatalf("unknown roles must be refused")
	}

	if err := env.Engine.RevokeRole(env.Ctx, "proj-1", "tester", "alice", "designer"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	who, _ = env.Engine.WhoAmI(env.Ctx, "proj-1", "alice")
	if len(who.Roles) != 0 {
		t.Fatalf("expected no roles after revoke, got %v", who.Roles)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	key, plaintext, err := env.Engine.CreateAPIKey(env.Ctx, "tester", "tester", "ci")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	if !strings.HasPrefix(plaintext, "sfk_") {
		t.Fatalf("unexpected key format %q", plaintext)
	}
	stored, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(plaintext))
	if err != nil {
		t.Fatalf("lookup by hash: %v", err)
	}
	if stored.ID != key.ID || stored.ActorID != "tester" {
		t.Fatalf("hash lookup mismatch: %+v", stored)
	}
	if err := env.Engine.RevokeAPIKey(env.Ctx, key.ID, "tester"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(plaintext)); err == nil {
		t.Fatalf("revoked keys must not resolve")
	}
}
