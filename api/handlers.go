package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"portscan/scanner"
)

// Server bundles dependencies for HTTP handlers.
type Server struct {
	store    TaskStore
	scanner  PortScanner
	maxPorts int
	logger   *slog.Logger
}

// NewServer creates a new API server instance. maxPorts caps the size of any
// single requested range.
func NewServer(store TaskStore, scan PortScanner, maxPorts int, logger *slog.Logger) *Server {
	return &Server{store: store, scanner: scan, maxPorts: maxPorts, logger: logger}
}

type route struct {
	method  string
	path    string
	handler gin.HandlerFunc
}

// routes is the complete table of scan endpoints.
func (s *Server) routes() []route {
	return []route{
		{http.MethodGet, "/scan/:address/:start", s.scanPortHandler},
		{http.MethodGet, "/scan/:address/:start/:end", s.scanRangeHandler},
		{http.MethodPost, "/scans", s.createScanHandler},
		{http.MethodGet, "/scans/:id", s.getScanHandler},
	}
}

// RegisterRoutes attaches handlers to the provided Gin router group.
func (s *Server) RegisterRoutes(routes gin.IRoutes) {
	for _, r := range s.routes() {
		routes.Handle(r.method, r.path, r.handler)
	}
}

// @Summary      Scan a single port
// @Description  Probes one TCP port on the address and answers once it is classified. The port is Open when the handshake completes, Closed when the peer refuses or resets, and Filtered when nothing definitive arrives before the per-port timeout.
// @Tags         Scan
// @Produce      json
// @Param        address  path      string  true  "IPv4/IPv6 literal or resolvable host name"
// @Param        start    path      int     true  "Port to probe (1-65535)"
// @Success      200      {array}   scanner.PortResult  "Example: [{\"port\":22,\"state\":\"Open\"}]"
// @Failure      400      {object}  ErrorResponse       "Unresolvable address or invalid port"
// @Failure      401      {object}  ErrorResponse       "Missing or incorrect API key"
// @Failure      405      {object}  ErrorResponse       "Only GET is allowed"
// @Failure      429      {object}  ErrorResponse       "Rate limit exceeded"
// @Failure      500      {object}  ErrorResponse       "The scan could not run"
// @Security     ApiKeyAuth
// @Router       /scan/{address}/{start} [get]
func (s *Server) scanPortHandler(c *gin.Context) {
	s.runScan(c, c.Param("start"), c.Param("start"))
}

// @Summary      Scan a port range
// @Description  Probes every port in the inclusive range one at a time and returns one entry per port in ascending order. The response is produced after the whole range is classified.
// @Tags         Scan
// @Produce      json
// @Param        address  path      string  true  "IPv4/IPv6 literal or resolvable host name"
// @Param        start    path      int     true  "First port (1-65535)"
// @Param        end      path      int     true  "Last port, inclusive (start-65535)"
// @Success      200      {array}   scanner.PortResult  "Example: [{\"port\":20,\"state\":\"Closed\"},{\"port\":21,\"state\":\"Open\"}]"
// @Failure      400      {object}  ErrorResponse       "Unresolvable address, invalid or oversized range"
// @Failure      401      {object}  ErrorResponse       "Missing or incorrect API key"
// @Failure      405      {object}  ErrorResponse       "Only GET is allowed"
// @Failure      429      {object}  ErrorResponse       "Rate limit exceeded"
// @Failure      500      {object}  ErrorResponse       "The scan could not run"
// @Security     ApiKeyAuth
// @Router       /scan/{address}/{start}/{end} [get]
func (s *Server) scanRangeHandler(c *gin.Context) {
	s.runScan(c, c.Param("start"), c.Param("end"))
}

func (s *Server) runScan(c *gin.Context, rawStart, rawEnd string) {
	start, end, err := parseRange(rawStart, rawEnd)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if err := s.checkRange(start, end); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	results, err := s.scanner.Scan(c.Request.Context(), c.Param("address"), start, end)
	if err != nil {
		status, msg := scanErrorStatus(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("scan failed", "address", c.Param("address"), "error", err)
		}
		c.JSON(status, ErrorResponse{Error: msg})
		return
	}

	c.IndentedJSON(http.StatusOK, results)
}

func parseRange(rawStart, rawEnd string) (int, int, error) {
	start, err := strconv.Atoi(rawStart)
	if err != nil {
		return 0, 0, fmt.Errorf("start port is not a number: %s", rawStart)
	}
	end, err := strconv.Atoi(rawEnd)
	if err != nil {
		return 0, 0, fmt.Errorf("end port is not a number: %s", rawEnd)
	}
	return start, end, nil
}

func (s *Server) checkRange(start, end int) error {
	if err := scanner.ValidateRange(start, end); err != nil {
		return err
	}
	if s.maxPorts > 0 && end-start+1 > s.maxPorts {
		return fmt.Errorf("range covers %d ports, at most %d are allowed", end-start+1, s.maxPorts)
	}
	return nil
}

func scanErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, scanner.ErrInvalidTarget):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, scanner.ErrReactorClosed):
		return http.StatusServiceUnavailable, "scanner is shutting down"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "scan aborted"
	default:
		return http.StatusInternalServerError, "scan failed"
	}
}

// @Summary      Queue a scan task
// @Description  Validates the range, stores a pending task and queues it for background workers. Poll GET /scans/{id} for the outcome. Address resolution happens when the task runs, so an unresolvable address surfaces as a failed task.
// @Tags         Scans
// @Accept       json
// @Produce      json
// @Param        scanRequest  body      CreateScanRequest     true  "Scan request parameters"
// @Success      202          {object}  ScanAcceptedResponse  "Example: {\"id\":\"a3f5c62e-1234-4f72-a84a-1c2d3e4f5678\",\"status\":\"pending\"}"
// @Failure      400          {object}  ErrorResponse         "Malformed JSON body or invalid range"
// @Failure      401          {object}  ErrorResponse         "Missing or incorrect API key"
// @Failure      429          {object}  ErrorResponse         "Rate limit exceeded"
// @Failure      500          {object}  ErrorResponse         "Internal error while persisting or queueing the task"
// @Security     ApiKeyAuth
// @Router       /scans [post]
func (s *Server) createScanHandler(c *gin.Context) {
	var req CreateScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid request payload: %v", err)})
		return
	}
	if req.PortEnd == 0 {
		req.PortEnd = req.PortStart
	}
	if err := s.checkRange(req.PortStart, req.PortEnd); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	ctx := c.Request.Context()
	task := &ScanTask{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		Address:   req.Address,
		PortStart: req.PortStart,
		PortEnd:   req.PortEnd,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.CreateTask(ctx, task); err != nil {
		s.logger.Error("failed to persist task", "task_id", task.ID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to persist task"})
		return
	}

	if err := s.store.PushToQueue(ctx, task.ID); err != nil {
		s.logger.Error("failed to queue task", "task_id", task.ID, "error", err)
		task.Status = StatusFailed
		task.Error = "failed to queue task"
		now := time.Now().UTC()
		task.CompletedAt = &now
		_ = s.store.UpdateTask(ctx, task)

		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to queue task"})
		return
	}

	c.JSON(http.StatusAccepted, ScanAcceptedResponse{ID: task.ID, Status: task.Status})
}

// @Summary      Get scan task status and results
// @Description  Returns the task snapshot. results is present once status is completed; error explains a failed task.
// @Tags         Scans
// @Produce      json
// @Param        id   path      string         true  "Scan Task ID (UUID v4)"
// @Success      200  {object}  ScanTask       "Current task snapshot"
// @Failure      400  {object}  ErrorResponse  "Malformed task identifier"
// @Failure      401  {object}  ErrorResponse  "Missing or incorrect API key"
// @Failure      404  {object}  ErrorResponse  "Unknown or expired task"
// @Failure      429  {object}  ErrorResponse  "Rate limit exceeded"
// @Failure      500  {object}  ErrorResponse  "Internal error when loading the task"
// @Security     ApiKeyAuth
// @Router       /scans/{id} [get]
func (s *Server) getScanHandler(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil || id.Version() != 4 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid task id format"})
		return
	}

	task, err := s.store.GetTask(c.Request.Context(), id.String())
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "task not found"})
			return
		}
		s.logger.Error("failed to load task", "task_id", id.String(), "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load task"})
		return
	}

	c.JSON(http.StatusOK, task)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// @Summary      Liveness probe
// @Description  Reports ok, or 503 when the task store is unreachable.
// @Tags         Health
// @Produce      json
// @Success      200  {object}  HealthResponse
// @Failure      503  {object}  ErrorResponse
// @Router       /healthz [get]
func (s *Server) healthHandler(c *gin.Context) {
	if p, ok := s.store.(pinger); ok {
		if err := p.Ping(c.Request.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "task store unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func methodNotAllowed(c *gin.Context) {
	c.JSON(http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found"})
}
