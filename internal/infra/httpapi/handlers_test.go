package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"course_rewards/internal/app"
	"course_rewards/internal/domain/enrollment"
	"course_rewards/internal/domain/reward"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCompletion struct {
	lastEvent app.LessonCompletionEvent
	outcome   *app.CompletionOutcome
	err       error
	progress  enrollment.Progress
}

func (s *stubCompletion) Enroll(ctx context.Context, studentID, courseID int64) (*app.CompletionOutcome, error) {
	return s.outcome, s.err
}

func (s *stubCompletion) HandleLessonCompleted(ctx context.Context, ev app.LessonCompletionEvent) (*app.CompletionOutcome, error) {
	s.lastEvent = ev
	return s.outcome, s.err
}

func (s *stubCompletion) Progress(ctx context.Context, studentID, courseID int64) (enrollment.Progress, error) {
	return s.progress, s.err
}

type stubRewards struct {
	rec *reward.Record
	err error
}

func (s *stubRewards) GetRewardStatus(ctx context.Context, studentID, courseID int64) (*reward.Record, error) {
	return s.rec, s.err
}

func (s *stubRewards) RetryAward(ctx context.Context, studentID, courseID int64) (*reward.Record, error) {
	return s.rec, s.err
}

type stubChain struct {
	done    bool
	courses []int64
	err     error
}

func (s *stubChain) ReadAwardStatus(ctx context.Context, studentID, courseID int64) (bool, error) {
	return s.done, s.err
}

func (s *stubChain) CompletedCourses(ctx context.Context, studentID int64) ([]int64, error) {
	return s.courses, s.err
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *ErrorDetail    `json:"error"`
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func do(t *testing.T, h *Handler, method, path, body string) (int, envelope) {
	t.Helper()
	app := NewApp(h, quietLogger())

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func confirmedRecord() *reward.Record {
	rec := reward.NewPending(7, 3, 100, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rec.Status = reward.StatusOffChainCredited
	return rec
}

func TestCompleteLesson(t *testing.T) {
	completion := &stubCompletion{outcome: &app.CompletionOutcome{
		JustCompleted: true,
		TokensEarned:  100,
		Progress:      enrollment.Progress{CompletedCount: 2, TotalCount: 2, Percent: 100, IsComplete: true},
		Reward:        confirmedRecord(),
	}}
	h := NewHandler(completion, &stubRewards{}, nil, quietLogger())

	status, env := do(t, h, http.MethodPost, "/api/v1/lessons/complete",
		`{"student_id":7,"course_id":3,"lesson_id":11,"time_spent_seconds":90}`)

	require.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)
	assert.Equal(t, app.LessonCompletionEvent{StudentID: 7, CourseID: 3, LessonID: 11, TimeSpent: 90 * time.Second}, completion.lastEvent)

	var resp CompletionResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.True(t, resp.JustCompleted)
	assert.Equal(t, int64(100), resp.TokensEarned)
	require.NotNil(t, resp.Reward)
	assert.Equal(t, "OFF_CHAIN_CREDITED", resp.Reward.Status)
}

func TestCompleteLesson_Validation(t *testing.T) {
	h := NewHandler(&stubCompletion{}, &stubRewards{}, nil, quietLogger())

	status, env := do(t, h, http.MethodPost, "/api/v1/lessons/complete", `{"student_id":7,"course_id":3}`)

	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, CodeValidation, env.Error.Code)
	assert.Contains(t, env.Error.Fields, "lesson_id")
}

func TestCompleteLesson_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{enrollment.ErrNotEnrolled, http.StatusNotFound, CodeNotEnrolled},
		{enrollment.ErrUnknownLesson, http.StatusUnprocessableEntity, CodeUnknownLesson},
		{fmt.Errorf("wrapped: %w", reward.ErrInvalidAddress), http.StatusConflict, CodeInvalidAddress},
		{sql.ErrConnDone, http.StatusInternalServerError, CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			h := NewHandler(&stubCompletion{err: tc.err}, &stubRewards{}, nil, quietLogger())
			status, env := do(t, h, http.MethodPost, "/api/v1/lessons/complete",
				`{"student_id":1,"course_id":2,"lesson_id":3}`)
			assert.Equal(t, tc.status, status)
			require.NotNil(t, env.Error)
			assert.Equal(t, tc.code, env.Error.Code)
			assert.False(t, env.Success)
		})
	}
}

func TestCompleteLesson_InvalidAddressKeepsOutcome(t *testing.T) {
	rec := confirmedRecord()
	rec.Status = reward.StatusFailed
	rec.FailureKind = reward.FailureInvalidAddress
	completion := &stubCompletion{
		outcome: &app.CompletionOutcome{JustCompleted: true, Reward: rec},
		err:     reward.ErrInvalidAddress,
	}
	h := NewHandler(completion, &stubRewards{}, nil, quietLogger())

	status, env := do(t, h, http.MethodPost, "/api/v1/lessons/complete", `{"student_id":7,"course_id":3,"lesson_id":1}`)

	assert.Equal(t, http.StatusConflict, status)
	var resp CompletionResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.True(t, resp.JustCompleted)
	assert.Equal(t, "INVALID_ADDRESS", resp.Reward.FailureKind)
}

func TestReward(t *testing.T) {
	h := NewHandler(&stubCompletion{}, &stubRewards{err: reward.ErrNotAwarded}, nil, quietLogger())
	status, env := do(t, h, http.MethodGet, "/api/v1/students/7/courses/3/reward", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, CodeNotAwarded, env.Error.Code)

	h = NewHandler(&stubCompletion{}, &stubRewards{rec: confirmedRecord()}, nil, quietLogger())
	status, env = do(t, h, http.MethodGet, "/api/v1/students/7/courses/3/reward", "")
	require.Equal(t, http.StatusOK, status)
	var view RewardView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, int64(100), view.Amount)
}

func TestRetryReward_NotAllowed(t *testing.T) {
	h := NewHandler(&stubCompletion{}, &stubRewards{rec: confirmedRecord(), err: reward.ErrRetryNotAllowed}, nil, quietLogger())
	status, env := do(t, h, http.MethodPost, "/api/v1/students/7/courses/3/reward/retry", "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, CodeRetryNotAllowed, env.Error.Code)
}

func TestBadPathParam(t *testing.T) {
	h := NewHandler(&stubCompletion{}, &stubRewards{}, nil, quietLogger())
	status, env := do(t, h, http.MethodGet, "/api/v1/students/abc/courses/3/progress", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, CodeValidation, env.Error.Code)
}

func TestChainRoutes(t *testing.T) {
	h := NewHandler(&stubCompletion{}, &stubRewards{}, nil, quietLogger())
	status, env := do(t, h, http.MethodGet, "/api/v1/students/7/courses/3/chain", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, CodeChainDisabled, env.Error.Code)

	h = NewHandler(&stubCompletion{}, &stubRewards{}, &stubChain{done: true, courses: []int64{3, 9}}, quietLogger())
	status, env = do(t, h, http.MethodGet, "/api/v1/students/7/chain/courses", "")
	require.Equal(t, http.StatusOK, status)
	var body struct {
		CourseIDs []int64 `json:"course_ids"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, []int64{3, 9}, body.CourseIDs)
}

func TestHealth(t *testing.T) {
	h := NewHandler(&stubCompletion{}, &stubRewards{}, nil, quietLogger())
	status, env := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)
}
