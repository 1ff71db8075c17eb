package agent

import (
	"context"

	"OpenEA-Agent/internal/approval"
	"OpenEA-Agent/internal/planner"
	"OpenEA-Agent/internal/tools"
)

// 固定的报销与会议参数。
const (
	ExpenseReportTitle = "October Ops Expenses"
	MeetingTopic       = "Sync"
	MeetingWhen        = "Thu 2pm PT"
)

// scratch 是同一次编排中前序步骤留给后续步骤的数据，按值传入步骤。
type scratch struct {
	user    string
	task    string
	request *tools.SchedulingRequest
	slots   []tools.Slot
}

func (s scratch) schedulingRequest() tools.SchedulingRequest {
	if s.request != nil {
		return *s.request
	}
	return tools.ParseSchedulingRequest(s.task)
}

// stepOutput 是步骤的输出，update 与 approval 在步骤成功返回后由编排器串行处理。
type stepOutput struct {
	detail   any
	artifact *Artifact
	update   func(*scratch)
	approval *pendingApproval
}

// pendingApproval 描述步骤需要登记的审批，complete 用审批编号生成最终输出。
type pendingApproval struct {
	action   string
	summary  string
	payload  any
	complete func(id int64) stepOutput
}

type stepFunc func(ctx context.Context, s scratch) (stepOutput, error)

// EmailDraft 是待审批的邮件草稿及其审批编号。
type EmailDraft struct {
	Draft      tools.Draft `json:"draft"`
	ApprovalID int64       `json:"approval_id"`
}

func (a *Agent) stepTable() map[planner.Step]stepFunc {
	return map[planner.Step]stepFunc{
		planner.StepParseScheduling: a.parseScheduling,
		planner.StepCheckCalendar:   a.checkCalendar,
		planner.StepProposeSlots:    a.proposeSlots,
		planner.StepDraftEmail:      a.draftEmail,
		planner.StepCreateReport:    a.createExpense,
		planner.StepAttachReceipt:   a.attachReceipt,
		planner.StepCreateMeeting:   a.createMeeting,
	}
}

func (a *Agent) parseScheduling(_ context.Context, s scratch) (stepOutput, error) {
	req := tools.ParseSchedulingRequest(s.task)
	return stepOutput{
		detail: req,
		update: func(st *scratch) { st.request = &req },
	}, nil
}

func (a *Agent) checkCalendar(ctx context.Context, s scratch) (stepOutput, error) {
	busy, err := a.tools.Calendar.ListBusy(ctx, s.user)
	if err != nil {
		return stepOutput{}, err
	}
	return stepOutput{detail: map[string]any{"busy_blocks": busy}}, nil
}

func (a *Agent) proposeSlots(ctx context.Context, s scratch) (stepOutput, error) {
	req := s.schedulingRequest()
	slots, err := a.tools.Calendar.ProposeSlots(ctx, s.user, req.DurationMin, req.DayHint)
	if err != nil {
		return stepOutput{}, err
	}
	return stepOutput{
		detail:   slots,
		artifact: &Artifact{Key: ArtifactCandidateSlots, Value: slots},
		update:   func(st *scratch) { st.slots = slots },
	}, nil
}

// draftEmail 只构造草稿，审批由编排器在步骤成功后登记，发送发生在审批通过之后。
func (a *Agent) draftEmail(ctx context.Context, s scratch) (stepOutput, error) {
	req := s.schedulingRequest()
	proposal := tools.MeetingProposal(req, s.slots)
	draft, err := a.tools.Mail.CreateDraft(ctx, proposal.To, proposal.Subject, proposal.Body)
	if err != nil {
		return stepOutput{}, err
	}
	return stepOutput{
		approval: &pendingApproval{
			action:  approval.ActionSendEmail,
			summary: "Send meeting proposal to " + req.Attendee,
			payload: draft,
			complete: func(id int64) stepOutput {
				info := EmailDraft{Draft: draft, ApprovalID: id}
				return stepOutput{
					detail:   info,
					artifact: &Artifact{Key: ArtifactEmailDraft, Value: info},
				}
			},
		},
	}, nil
}

func (a *Agent) createExpense(ctx context.Context, s scratch) (stepOutput, error) {
	report, err := a.tools.Expense.CreateReport(ctx, s.user, ExpenseReportTitle)
	if err != nil {
		return stepOutput{}, err
	}
	return stepOutput{
		detail:   report,
		artifact: &Artifact{Key: ArtifactExpenseReport, Value: report},
	}, nil
}

func (a *Agent) attachReceipt(ctx context.Context, _ scratch) (stepOutput, error) {
	att, err := a.tools.Expense.AttachPlaceholderReceipt(ctx)
	if err != nil {
		return stepOutput{}, err
	}
	return stepOutput{detail: att}, nil
}

func (a *Agent) createMeeting(ctx context.Context, _ scratch) (stepOutput, error) {
	mtg, err := a.tools.Video.CreateMeeting(ctx, MeetingTopic, MeetingWhen)
	if err != nil {
		return stepOutput{}, err
	}
	return stepOutput{
		detail:   mtg,
		artifact: &Artifact{Key: ArtifactZoomMeeting, Value: mtg},
	}, nil
}
