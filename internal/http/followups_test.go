package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linguaflow/followup-engine/internal/clock"
	"github.com/linguaflow/followup-engine/internal/model"
	"github.com/linguaflow/followup-engine/internal/repository"
	"github.com/linguaflow/followup-engine/internal/service/followup"
)

type memSequences struct {
	byID map[int64]*model.Sequence
}

func (f *memSequences) GetByID(_ context.Context, id int64) (*model.Sequence, error) {
	return f.byID[id], nil
}
func (f *memSequences) List(context.Context) ([]model.Sequence, error) { return nil, nil }
func (f *memSequences) Create(context.Context, *model.Sequence) error  { return nil }

var _ repository.SequencesRepository = (*memSequences)(nil)

// activatingRuns extends memRuns with a working ActivateRun.
type activatingRuns struct {
	memRuns
}

func (f *activatingRuns) ActivateRun(_ context.Context, run model.AutomationRun, _ []model.RunStep) error {
	for _, existing := range f.runs {
		if existing.StudentID == run.StudentID && existing.SequenceID == run.SequenceID && existing.Status.Active() {
			return repository.ErrDuplicateActiveRun
		}
	}
	r := run
	f.runs[run.ID] = &r
	return nil
}

func followupFixture() *followup.Service {
	runs := &activatingRuns{memRuns{runs: map[string]*model.AutomationRun{}}}
	students := &memStudents{byID: map[int64]*model.Student{
		1: {ID: 1, FirstName: "Sara", Email: "sara@example.com", Phone: "+31612000001"},
	}}
	sequences := &memSequences{byID: map[int64]*model.Sequence{
		10: {ID: 10, Name: "trial-welcome", Status: model.SequenceActive,
			Steps: []model.SequenceStep{{StepOrder: 0, Channel: model.ChannelEmail, Body: "hi"}}},
	}}
	clk := clock.NewManual(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	return followup.New(runs, sequences, students, &memTouchpoints{}, clk)
}

func postJSON(h echo.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	_ = h(e.NewContext(req, rec))
	return rec
}

func TestActivateHandler(t *testing.T) {
	svc := followupFixture()
	h := activateFollowUpHandler(svc)

	rec := postJSON(h, "/v1/follow-ups", `{"student_id":1,"sequence_id":10}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Created bool                `json:"created"`
		Run     model.AutomationRun `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Created)
	assert.Equal(t, model.RunActivated, resp.Run.Status)

	// second activation: 200 with the same run, not a duplicate
	rec = postJSON(h, "/v1/follow-ups", `{"student_id":1,"sequence_id":10}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var second struct {
		Created bool                `json:"created"`
		Run     model.AutomationRun `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.False(t, second.Created)
	assert.Equal(t, resp.Run.ID, second.Run.ID)
}

func TestActivateHandlerErrors(t *testing.T) {
	h := activateFollowUpHandler(followupFixture())

	tests := []struct {
		name string
		body string
		code int
	}{
		{"missing ids", `{}`, http.StatusBadRequest},
		{"unknown student", `{"student_id":99,"sequence_id":10}`, http.StatusNotFound},
		{"unknown sequence", `{"student_id":1,"sequence_id":99}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(h, "/v1/follow-ups", tt.body)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestStopHandler(t *testing.T) {
	svc := followupFixture()

	rec := postJSON(activateFollowUpHandler(svc), "/v1/follow-ups", `{"student_id":1,"sequence_id":10}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp struct {
		Run model.AutomationRun `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/follow-ups/"+resp.Run.ID+"/stop", nil)
	stopRec := httptest.NewRecorder()
	c := e.NewContext(req, stopRec)
	c.SetPath("/v1/follow-ups/:id/stop")
	c.SetParamNames("id")
	c.SetParamValues(resp.Run.ID)
	_ = stopFollowUpHandler(svc)(c)

	require.Equal(t, http.StatusOK, stopRec.Code)
	var stopped struct {
		Run model.AutomationRun `json:"run"`
	}
	require.NoError(t, json.Unmarshal(stopRec.Body.Bytes(), &stopped))
	assert.Equal(t, model.RunDisabled, stopped.Run.Status)
}
