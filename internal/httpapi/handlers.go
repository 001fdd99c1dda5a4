package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tracecore/internal/core"
	"tracecore/pkg/domain"
)

const (
	defaultEventPage = 100
	maxEventPage     = 1000
)

type valueRequest struct {
	Value string `json:"value"`
}

type mutationResponse struct {
	Height uint64         `json:"height"`
	Events []domain.Event `json:"events"`
}

type agencyRequest struct {
	ID           string `json:"id"`
	Actor        string `json:"actor"`
	Name         string `json:"name"`
	Jurisdiction string `json:"jurisdiction"`
	AccessLevel  uint32 `json:"access_level"`
}

type thresholdRequest struct {
	Min      int64  `json:"min"`
	Max      int64  `json:"max"`
	Critical int64  `json:"critical"`
	Unit     string `json:"unit"`
}

type recordEventRequest struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		WriteErrorCode(c, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return false
	}
	return true
}

func writeMutation(c *gin.Context, res core.Result, err error) {
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, mutationResponse{Height: res.Height, Events: res.Events})
}

func (s *Server) handleSystem(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.SystemConfig(c.Request.Context()))
}

func (s *Server) handleTransferOwnership(c *gin.Context) {
	var req valueRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.svc.TransferOwnership(c.Request.Context(), callerFrom(c), domain.ActorID(req.Value))
	writeMutation(c, res, err)
}

func (s *Server) handleUpdateStatus(c *gin.Context) {
	var req valueRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.svc.UpdateSystemStatus(c.Request.Context(), callerFrom(c), req.Value)
	writeMutation(c, res, err)
}

func (s *Server) handleUpdateVersion(c *gin.Context) {
	var req valueRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.svc.UpdateSystemVersion(c.Request.Context(), callerFrom(c), req.Value)
	writeMutation(c, res, err)
}

func (s *Server) handleListAdmins(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"administrators": s.svc.Administrators(c.Request.Context())})
}

func (s *Server) handleAddAdmin(c *gin.Context) {
	res, err := s.svc.AddAdministrator(c.Request.Context(), callerFrom(c), domain.ActorID(c.Param("actor")))
	writeMutation(c, res, err)
}

func (s *Server) handleRemoveAdmin(c *gin.Context) {
	res, err := s.svc.RemoveAdministrator(c.Request.Context(), callerFrom(c), domain.ActorID(c.Param("actor")))
	writeMutation(c, res, err)
}

func (s *Server) handleListCallers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"callers": s.svc.AuthorizedCallers(c.Request.Context())})
}

func (s *Server) handleWhitelistCaller(c *gin.Context) {
	res, err := s.svc.WhitelistCaller(c.Request.Context(), callerFrom(c), domain.ActorID(c.Param("actor")))
	writeMutation(c, res, err)
}

func (s *Server) handleRemoveCaller(c *gin.Context) {
	res, err := s.svc.RemoveCallerWhitelist(c.Request.Context(), callerFrom(c), domain.ActorID(c.Param("actor")))
	writeMutation(c, res, err)
}

func (s *Server) handleRoles(c *gin.Context) {
	caller := domain.Via(domain.ActorID(c.Param("actor")), domain.ActorID(c.Query("component")))
	c.JSON(http.StatusOK, s.svc.Roles(c.Request.Context(), caller))
}

func (s *Server) handleMyRoles(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Roles(c.Request.Context(), callerFrom(c)))
}

func (s *Server) handleListAgencies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agencies": s.svc.ListAgencies(c.Request.Context())})
}

func (req agencyRequest) agency() domain.Agency {
	return domain.Agency{
		ID:           req.ID,
		Actor:        domain.ActorID(req.Actor),
		Name:         req.Name,
		Jurisdiction: req.Jurisdiction,
		AccessLevel:  req.AccessLevel,
	}
}

func (s *Server) handleRegisterAgency(c *gin.Context) {
	var req agencyRequest
	if !bindJSON(c, &req) {
		return
	}
	agency, err := s.svc.RegisterAgency(c.Request.Context(), callerFrom(c), req.agency())
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, agency)
}

func (s *Server) handleGetAgency(c *gin.Context) {
	agency, ok := s.svc.GetAgency(c.Request.Context(), c.Param("id"))
	if !ok {
		WriteError(c, domain.DoesNotExist("get_agency", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, agency)
}

func (s *Server) handleUpdateAgency(c *gin.Context) {
	var req agencyRequest
	if !bindJSON(c, &req) {
		return
	}
	req.ID = c.Param("id")
	agency, err := s.svc.UpdateAgency(c.Request.Context(), callerFrom(c), req.agency())
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, agency)
}

func (s *Server) handleRemoveAgency(c *gin.Context) {
	agency, err := s.svc.RemoveAgency(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, agency)
}

func (s *Server) handleListThresholds(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"thresholds": s.svc.ListThresholds(c.Request.Context())})
}

func (s *Server) handleSetThreshold(c *gin.Context) {
	var req thresholdRequest
	if !bindJSON(c, &req) {
		return
	}
	threshold, err := s.svc.SetThreshold(c.Request.Context(), callerFrom(c), domain.Threshold{
		ParameterID: c.Param("parameter"),
		Min:         req.Min,
		Max:         req.Max,
		Critical:    req.Critical,
		Unit:        req.Unit,
	})
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, threshold)
}

func (s *Server) handleGetThreshold(c *gin.Context) {
	threshold, ok := s.svc.GetThreshold(c.Request.Context(), c.Param("parameter"))
	if !ok {
		WriteError(c, domain.DoesNotExist("get_threshold", c.Param("parameter")))
		return
	}
	c.JSON(http.StatusOK, threshold)
}

func (s *Server) handleEvaluate(c *gin.Context) {
	parameter := c.Param("parameter")
	value, err := strconv.ParseInt(c.Query("value"), 10, 64)
	if err != nil {
		WriteError(c, domain.InvalidParameter("evaluate_threshold", "value", "must be an integer"))
		return
	}
	// All three answers come from the same threshold read.
	status, within, critical := domain.ThresholdUnset, false, false
	if threshold, ok := s.svc.GetThreshold(c.Request.Context(), parameter); ok {
		status = threshold.Classify(value)
		within = threshold.Within(value)
		critical = threshold.IsCritical(value)
	}
	c.JSON(http.StatusOK, gin.H{
		"parameter_id": parameter,
		"value":        value,
		"status":       status,
		"within":       within,
		"critical":     critical,
	})
}

func (s *Server) handleListEvents(c *gin.Context) {
	from, err := strconv.ParseUint(c.DefaultQuery("from", "0"), 10, 64)
	if err != nil {
		WriteError(c, domain.InvalidParameter("list_events", "from", "must be a non-negative integer"))
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultEventPage)))
	if err != nil || limit <= 0 {
		WriteError(c, domain.InvalidParameter("list_events", "limit", "must be a positive integer"))
		return
	}
	limit = min(limit, maxEventPage)
	ctx := c.Request.Context()
	c.JSON(http.StatusOK, gin.H{
		"events": s.svc.ListEvents(ctx, from, limit),
		"total":  s.svc.EventCount(ctx),
	})
}

func (s *Server) handleRecordEvent(c *gin.Context) {
	var req recordEventRequest
	if !bindJSON(c, &req) {
		return
	}
	ev, err := s.svc.RecordEvent(c.Request.Context(), callerFrom(c), req.Type, req.Payload)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ev)
}

func (s *Server) handleGetEvent(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		WriteError(c, domain.InvalidParameter("get_event", "id", "must be a non-negative integer"))
		return
	}
	ev, ok := s.svc.GetEvent(c.Request.Context(), id)
	if !ok {
		WriteError(c, domain.DoesNotExist("get_event", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, ev)
}

func (s *Server) handleVerifyChain(c *gin.Context) {
	report, err := s.svc.VerifyEventChain(c.Request.Context())
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
