package gin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/odla-network/settlement"
	"github.com/odla-network/settlement/signers/delegated"
)

// OpenSessionRequest is the body of POST /wallet/sessions
type OpenSessionRequest struct {
	Accounts []string `json:"accounts"`
	Network  string   `json:"network"`
}

// OpenSessionResponse identifies a new wallet session
type OpenSessionResponse struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

// PollResponse lists the sign requests awaiting the wallet
type PollResponse struct {
	Requests []delegated.SignRequest `json:"requests"`
}

// EventRequest is the body of POST /wallet/sessions/:id/events
type EventRequest struct {
	Event string   `json:"event"`
	Args  []string `json:"args"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func badBody(err error) error {
	return settlement.WrapError(settlement.ErrCodeMissingField, err, "malformed request body")
}

func (s *server) openSession(c *gin.Context) {
	var req OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, badBody(err))
		return
	}
	session, err := s.signers.Hub().Open(req.Accounts, req.Network)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, OpenSessionResponse{SessionID: session.ID, CreatedAt: session.CreatedAt})
}

func (s *server) closeSession(c *gin.Context) {
	if err := s.signers.Hub().Close(c.Param("id")); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse{Status: "closed"})
}

func (s *server) pollRequests(c *gin.Context) {
	wait := s.pollWait
	if v := c.Query("wait"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			abort(c, settlement.NewError(settlement.ErrCodeMissingField, "wait must be a duration such as 10s",
				map[string]interface{}{"field": "wait"}))
			return
		}
		wait = min(d, maxPollWait)
	}

	requests, err := s.signers.Hub().Poll(c.Request.Context(), c.Param("id"), wait)
	if err != nil {
		abort(c, err)
		return
	}
	if requests == nil {
		requests = []delegated.SignRequest{}
	}
	c.JSON(http.StatusOK, PollResponse{Requests: requests})
}

func (s *server) resolveRequest(c *gin.Context) {
	var res delegated.Resolution
	if err := c.ShouldBindJSON(&res); err != nil {
		abort(c, badBody(err))
		return
	}
	if err := s.signers.Hub().Resolve(c.Param("id"), c.Param("rid"), res); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse{Status: "resolved"})
}

func (s *server) emitEvent(c *gin.Context) {
	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, badBody(err))
		return
	}
	if req.Event == "" {
		abort(c, settlement.NewError(settlement.ErrCodeMissingField, "missing required field: event",
			map[string]interface{}{"field": "event"}))
		return
	}
	if err := s.signers.Hub().Emit(c.Param("id"), req.Event, req.Args...); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse{Status: "delivered"})
}
