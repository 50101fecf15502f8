package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/voice-load-test/internal/domain"
	loadtestsvc "github.com/acme/voice-load-test/internal/service/loadtest"
	apperrors "github.com/acme/voice-load-test/pkg/errors"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type startRunRequest struct {
	PhoneNumber         string `json:"phone_number"`
	TrunkID             string `json:"trunk_id"`
	AgentName           string `json:"agent_name"`
	CallCount           *int   `json:"call_count"`
	IntervalSeconds     *int   `json:"interval_seconds"`
	CallDurationSeconds *int   `json:"call_duration_seconds"`
}

type runResponse struct {
	RunID               string `json:"run_id"`
	PhoneNumber         string `json:"phone_number"`
	TrunkID             string `json:"trunk_id"`
	AgentName           string `json:"agent_name"`
	CallCount           int    `json:"call_count"`
	IntervalSeconds     int    `json:"interval_seconds"`
	CallDurationSeconds int    `json:"call_duration_seconds"`
	RoomPrefix          string `json:"room_prefix"`
	Status              string `json:"status,omitempty"`
	CreatedAt           string `json:"created_at"`
	UpdatedAt           string `json:"updated_at,omitempty"`
}

type callResponse struct {
	CallIndex   int                   `json:"call_index"`
	Room        string                `json:"room"`
	DispatchID  string                `json:"dispatch_id,omitempty"`
	State       string                `json:"state"`
	Trigger     string                `json:"trigger,omitempty"`
	Reason      *domain.FailureReason `json:"reason,omitempty"`
	ConnectedAt *time.Time            `json:"connected_at,omitempty"`
	EndedAt     *time.Time            `json:"ended_at,omitempty"`
}

type reportResponse struct {
	Run         runResponse          `json:"run"`
	Stats       domain.RunStats      `json:"stats"`
	Totals      map[string]int       `json:"totals"`
	NotReported int                  `json:"not_reported"`
	Failures    map[string]int       `json:"failures"`
	Calls       []reportCallResponse `json:"calls"`
}

type reportCallResponse struct {
	CallIndex  int                   `json:"call_index"`
	Room       string                `json:"room"`
	State      string                `json:"state,omitempty"`
	Trigger    string                `json:"trigger,omitempty"`
	Reason     *domain.FailureReason `json:"reason,omitempty"`
	TalkTimeMs *int64                `json:"talk_time_ms,omitempty"`
}

func (h *HandlerSet) startRun(ctx *fiber.Ctx) error {
	var req startRunRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	input := loadtestsvc.NewRunInput{
		PhoneNumber:  req.PhoneNumber,
		TrunkID:      req.TrunkID,
		AgentName:    req.AgentName,
		CallCount:    req.CallCount,
		Interval:     seconds(req.IntervalSeconds),
		CallDuration: seconds(req.CallDurationSeconds),
	}

	run, err := h.runs.NewRun(input)
	if err != nil {
		return translateError(err)
	}

	if err := h.launcher.Launch(ctx.UserContext(), run); err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusAccepted).JSON(toRunResponse(domain.Run{LoadTestRun: run, Status: domain.RunStatusDispatching}))
}

func (h *HandlerSet) listRuns(ctx *fiber.Ctx) error {
	limit, err := pageSize(ctx)
	if err != nil {
		return err
	}

	runs, err := h.runs.List(ctx.UserContext(), limit)
	if err != nil {
		return translateError(err)
	}

	resp := make([]runResponse, 0, len(runs))
	for _, r := range runs {
		resp = append(resp, toRunResponse(*r))
	}
	return ctx.JSON(resp)
}

func (h *HandlerSet) getRun(ctx *fiber.Ctx) error {
	run, err := h.runs.Get(ctx.UserContext(), ctx.Params("id"))
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(toRunResponse(*run))
}

func (h *HandlerSet) runReport(ctx *fiber.Ctx) error {
	report, err := h.runs.Report(ctx.UserContext(), ctx.Params("id"))
	if err != nil {
		return translateError(err)
	}

	resp := reportResponse{
		Run:         toRunResponse(report.Run),
		Stats:       report.Stats,
		Totals:      make(map[string]int, len(report.Totals)),
		NotReported: report.NotReported,
		Failures:    report.Failures,
		Calls:       make([]reportCallResponse, 0, len(report.Calls)),
	}
	for state, n := range report.Totals {
		resp.Totals[string(state)] = n
	}
	for _, c := range report.Calls {
		resp.Calls = append(resp.Calls, reportCallResponse{
			CallIndex:  c.CallIndex,
			Room:       c.Room,
			State:      string(c.State),
			Trigger:    string(c.Trigger),
			Reason:     c.Reason,
			TalkTimeMs: c.TalkTime,
		})
	}
	return ctx.JSON(resp)
}

func (h *HandlerSet) listRunCalls(ctx *fiber.Ctx) error {
	limit, err := pageSize(ctx)
	if err != nil {
		return err
	}

	page, err := h.runs.ListCalls(ctx.UserContext(), ctx.Params("id"), limit, ctx.Query("page_token"))
	if err != nil {
		return translateError(err)
	}

	calls := make([]callResponse, 0, len(page.Calls))
	for _, c := range page.Calls {
		calls = append(calls, callResponse{
			CallIndex:   c.CallIndex,
			Room:        c.Room,
			DispatchID:  c.DispatchID,
			State:       string(c.State),
			Trigger:     string(c.Trigger),
			Reason:      c.Reason,
			ConnectedAt: c.ConnectedAt,
			EndedAt:     c.EndedAt,
		})
	}
	return ctx.JSON(fiber.Map{"calls": calls, "next_page_token": page.NextToken})
}

func toRunResponse(run domain.Run) runResponse {
	resp := runResponse{
		RunID:               run.RunID,
		PhoneNumber:         run.PhoneNumber,
		TrunkID:             run.TrunkID,
		AgentName:           run.AgentName,
		CallCount:           run.CallCount,
		IntervalSeconds:     int(run.Interval / time.Second),
		CallDurationSeconds: int(run.CallDuration / time.Second),
		RoomPrefix:          domain.RoomPrefix(run.RunID),
		Status:              string(run.Status),
		CreatedAt:           run.CreatedAt.UTC().Format(time.RFC3339),
	}
	if !run.UpdatedAt.IsZero() {
		resp.UpdatedAt = run.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func seconds(v *int) *time.Duration {
	if v == nil {
		return nil
	}
	d := time.Duration(*v) * time.Second
	return &d
}

func pageSize(ctx *fiber.Ctx) (int, error) {
	limit := ctx.QueryInt("limit", defaultPageSize)
	if limit < 1 || limit > maxPageSize {
		return 0, translateError(apperrors.Mark(fmt.Errorf("limit must be between 1 and %d", maxPageSize), apperrors.ErrValidation))
	}
	return limit, nil
}
