package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strand/internal/store"
)

const sleepDefinition = `{
	"type": "Sequence",
	"id": "root",
	"children": [{"type": "Sleep", "id": "z", "props": {"seconds": 1}}]
}`

func newTestRouter(t *testing.T) (*gin.Engine, *store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewRouter(st), st
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func deployTestWorkflow(t *testing.T, r *gin.Engine, name string) {
	t.Helper()
	rec, resp := doJSON(t, r, http.MethodPost, "/workflows", map[string]any{
		"name":       name,
		"definition": json.RawMessage(sleepDefinition),
	})
	require.Equal(t, http.StatusOK, rec.Code, resp.Error)
	require.True(t, resp.Success)
}

func TestDeploy_AndList(t *testing.T) {
	r, _ := newTestRouter(t)
	deployTestWorkflow(t, r, "wf")

	rec, resp := doJSON(t, r, http.MethodGet, "/workflows", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	workflows := resp.Data["workflows"].([]any)
	require.Len(t, workflows, 1)
	assert.Equal(t, "wf", workflows[0].(map[string]any)["name"])
}

func TestDeploy_RejectsInvalidDefinition(t *testing.T) {
	r, _ := newTestRouter(t)

	rec, resp := doJSON(t, r, http.MethodPost, "/workflows", map[string]any{
		"name":       "bad",
		"definition": json.RawMessage(`{"type": "Selector", "id": "x"}`),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestDeploy_RejectsMissingName(t *testing.T) {
	r, _ := newTestRouter(t)

	rec, _ := doJSON(t, r, http.MethodPost, "/workflows", map[string]any{
		"definition": json.RawMessage(sleepDefinition),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateInstance_WithBlackboard(t *testing.T) {
	r, st := newTestRouter(t)
	deployTestWorkflow(t, r, "wf")

	rec, resp := doJSON(t, r, http.MethodPost, "/workflows/wf/instances", map[string]any{
		"blackboard": map[string]any{"seed": 7},
	})
	require.Equal(t, http.StatusOK, rec.Code, resp.Error)
	id := resp.Data["id"].(string)

	inst, err := st.GetInstance(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, store.InstanceRunnable, inst.Status)
	assert.Equal(t, float64(7), inst.Blackboard["seed"])
}

func TestCreateInstance_UnknownWorkflow(t *testing.T) {
	r, _ := newTestRouter(t)

	rec, resp := doJSON(t, r, http.MethodPost, "/workflows/nope/instances", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, resp.Success)
}

func TestGetInstance_JoinsStepsAndDefinition(t *testing.T) {
	r, st := newTestRouter(t)
	deployTestWorkflow(t, r, "wf")
	_, resp := doJSON(t, r, http.MethodPost, "/workflows/wf/instances", nil)
	id := resp.Data["id"].(string)

	ctx := context.Background()
	_, err := st.GetOrCreateStep(ctx, id, "z")
	require.NoError(t, err)
	require.NoError(t, st.UpdateStepSuccess(ctx, id, "z", nil))

	rec, resp := doJSON(t, r, http.MethodGet, "/instances/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "wf", resp.Data["workflow"])
	steps := resp.Data["steps"].([]any)
	require.Len(t, steps, 1)
	assert.Equal(t, "succeeded", steps[0].(map[string]any)["status"])
}

func TestResetInstance(t *testing.T) {
	r, st := newTestRouter(t)
	deployTestWorkflow(t, r, "wf")
	_, resp := doJSON(t, r, http.MethodPost, "/workflows/wf/instances", nil)
	id := resp.Data["id"].(string)

	ctx := context.Background()
	_, err := st.GetOrCreateStep(ctx, id, "z")
	require.NoError(t, err)
	_, err = st.IncrementStepAttempts(ctx, id, "z")
	require.NoError(t, err)
	require.NoError(t, st.UpdateInstanceStatus(ctx, id, store.InstanceFailed, nil))

	rec, _ := doJSON(t, r, http.MethodPost, "/instances/"+id+"/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	inst, err := st.GetInstance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.InstanceRunnable, inst.Status)
	step, err := st.GetStep(ctx, id, "z")
	require.NoError(t, err)
	assert.Equal(t, 0, step.Attempts)
}

func TestDeleteInstance(t *testing.T) {
	r, st := newTestRouter(t)
	deployTestWorkflow(t, r, "wf")
	_, resp := doJSON(t, r, http.MethodPost, "/workflows/wf/instances", nil)
	id := resp.Data["id"].(string)

	rec, _ := doJSON(t, r, http.MethodDelete, "/instances/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := st.GetInstance(context.Background(), id)
	assert.ErrorIs(t, err, store.ErrNotFound)

	rec, _ = doJSON(t, r, http.MethodDelete, "/instances/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListInstances(t *testing.T) {
	r, _ := newTestRouter(t)
	deployTestWorkflow(t, r, "wf")
	doJSON(t, r, http.MethodPost, "/workflows/wf/instances", nil)
	time.Sleep(2 * time.Millisecond) // distinct created_at ordering
	doJSON(t, r, http.MethodPost, "/workflows/wf/instances", nil)

	rec, resp := doJSON(t, r, http.MethodGet, "/instances", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp.Data["instances"].([]any), 2)
}
