package binding

import (
	"encoding/json"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestRouter(t *testing.T) (*gin.Engine, *managerRig) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rig := newManagerRig(t, WithInitialDelay(time.Hour))
	rig.slave.registers[0] = 5
	rig.slave.coils[0] = true
	cfg := &Config{
		PollInterval: time.Hour,
		Slaves:       []SlaveConfig{slaveConfig("regs", "holding", 0, 2), slaveConfig("coils", "coil", 0, 2)},
		Items: []ItemConfig{
			{Name: "shutter", Type: "Rollershutter", Binding: "regs:0"},
			{Name: "lamp", Type: "Switch", Binding: "coils:0"},
		},
	}
	require.NoError(t, rig.manager.Activate(cfg))
	router := gin.New()
	InstallHandler(router.Group("/api/v1"), rig.manager)
	return router, rig
}

func serve(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	router.ServeHTTP(w, req)
	return w
}

func TestItemHandlers(t *testing.T) {
	router, _ := newTestRouter(t)

	w := serve(router, http.MethodPost, "/api/v1/slaves/regs/poll", "")
	require.Equal(t, http.StatusNoContent, w.Code)

	w = serve(router, http.MethodGet, "/api/v1/items", "")
	require.Equal(t, http.StatusOK, w.Code)
	var items []ItemStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	assert.Equal(t, []ItemStatus{
		{Name: "lamp", Type: "Switch"},
		{Name: "shutter", Type: "Rollershutter", Kind: "Decimal", State: "5"},
	}, items)

	w = serve(router, http.MethodGet, "/api/v1/items?kind=switch", "")
	var filtered []ItemStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &filtered))
	assert.Equal(t, []ItemStatus{{Name: "lamp", Type: "Switch"}}, filtered)

	w = serve(router, http.MethodGet, "/api/v1/items/shutter", "")
	require.Equal(t, http.StatusOK, w.Code)
	var item ItemStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &item))
	assert.Equal(t, "5", item.State)

	w = serve(router, http.MethodGet, "/api/v1/items/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "item nope not found.")

	w = serve(router, http.MethodPost, "/api/v1/slaves/nope/poll", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCommandHandler(t *testing.T) {
	router, rig := newTestRouter(t)
	serve(router, http.MethodPost, "/api/v1/slaves/regs/poll", "")

	w := serve(router, http.MethodPut, "/api/v1/items/shutter/command", "UP")
	require.Equal(t, http.StatusOK, w.Code)
	var result CommandResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, CommandResult{Written: 1}, result)
	assert.Equal(t, uint16(6), rig.slave.registers[0])

	w = serve(router, http.MethodPut, "/api/v1/items/lamp/command", "off")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, rig.slave.coils[0])

	w = serve(router, http.MethodPut, "/api/v1/items/lamp/command", "50")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "10004")

	w = serve(router, http.MethodPut, "/api/v1/items/nope/command", "ON")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPollsHandler(t *testing.T) {
	router, _ := newTestRouter(t)

	w := serve(router, http.MethodGet, "/api/v1/polls", "")

	require.Equal(t, http.StatusOK, w.Code)
	var polls []PollStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &polls))
	require.Len(t, polls, 2)
	assert.Equal(t, time.Hour, polls[0].Period)
	assert.NotEmpty(t, polls[0].ID)
	assert.Contains(t, polls[0].Task, "tcp://127.0.0.1:502")
}
