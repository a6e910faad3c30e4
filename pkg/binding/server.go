package binding

import (
	"errors"
	"github.com/gin-gonic/gin"
	"harnspoller/pkg/apis"
	"harnspoller/pkg/apis/response"
	"harnspoller/pkg/binding/signal"
	"io"
	"k8s.io/klog/v2"
	"net/http"
	"strings"
	"time"
)

type ItemStatus struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Kind  string `json:"kind,omitempty"`
	State string `json:"state,omitempty"`
}

type PollStatus struct {
	ID           string        `json:"id"`
	Task         string        `json:"task"`
	Period       time.Duration `json:"period"`
	RegisteredAt time.Time     `json:"registeredAt"`
}

func InstallHandler(group *gin.RouterGroup, mgr *Manager) {
	group.GET("/items", listItems(mgr))
	group.GET("/items/:name", getItem(mgr))
	group.PUT("/items/:name/command", sendCommand(mgr))
	group.POST("/slaves/:name/poll", pollSlave(mgr))
	group.GET("/polls", listPolls(mgr))
}

func (m *Manager) status(name string) (ItemStatus, bool) {
	t, ok := m.ItemType(name)
	if !ok {
		return ItemStatus{}, false
	}
	s := ItemStatus{Name: name, Type: t.String()}
	if v, ok := m.State(name); ok {
		s.Kind = v.Kind().String()
		s.State = v.String()
	}
	return s, true
}

func listItems(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		kind := c.Query(apis.Kind)
		items := make([]ItemStatus, 0)
		for _, name := range mgr.Items() {
			s, ok := mgr.status(name)
			if !ok || (len(kind) > 0 && !strings.EqualFold(kind, s.Type)) {
				continue
			}
			items = append(items, s)
		}
		c.JSON(http.StatusOK, items)
	}
}

func getItem(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param(apis.Name)
		s, ok := mgr.status(name)
		if !ok {
			c.JSON(http.StatusNotFound, response.NewMultiError(response.ErrResourceNotFound("item "+name)))
			return
		}
		c.JSON(http.StatusOK, s)
	}
}

func sendCommand(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param(apis.Name)
		accepted, ok := mgr.AcceptedCommands(name)
		if !ok {
			c.JSON(http.StatusNotFound, response.NewMultiError(response.ErrResourceNotFound("item "+name)))
			return
		}
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			klog.V(2).InfoS("Failed to get request body", "err", err)
			c.JSON(http.StatusBadRequest, response.NewMultiError(response.ErrRequestBody))
			return
		}
		text := strings.TrimSpace(string(body))
		cmd := signal.ParseFirst(accepted, text)
		if cmd == nil {
			c.JSON(http.StatusBadRequest, response.NewMultiError(response.ErrCommandRejected(text, ErrCommandNotAccepted)))
			return
		}

		result, err := mgr.ReceiveCommand(c.Request.Context(), name, cmd)
		if err != nil {
			if errors.Is(err, ErrCommandNotAccepted) {
				c.JSON(http.StatusBadRequest, response.NewMultiError(response.ErrCommandRejected(text, err)))
			} else if errors.Is(err, ErrUnknownItem) {
				c.JSON(http.StatusNotFound, response.NewMultiError(response.ErrResourceNotFound("item "+name)))
			} else {
				c.JSON(http.StatusBadGateway, response.NewMultiError(response.ErrTransaction(err)))
			}
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func pollSlave(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param(apis.Name)
		if err := mgr.ExecuteOnce(c.Request.Context(), name); err != nil {
			if errors.Is(err, ErrUnknownSlave) {
				c.JSON(http.StatusNotFound, response.NewMultiError(response.ErrResourceNotFound("slave "+name)))
			} else {
				c.JSON(http.StatusBadRequest, response.NewMultiError(response.ErrInvalidConfig(err)))
			}
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func listPolls(mgr *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		handles := mgr.Polls()
		polls := make([]PollStatus, 0, len(handles))
		for _, h := range handles {
			polls = append(polls, PollStatus{
				ID:           h.ID,
				Task:         h.Task.Key().String(),
				Period:       h.Period,
				RegisteredAt: h.RegisteredAt,
			})
		}
		c.JSON(http.StatusOK, polls)
	}
}
