// Package control — server.go
//
// Unix domain socket server exposing the agent's read-through control
// plane (SPEC_FULL.md §4.9).
//
// Protocol: newline-delimited JSON over a Unix domain socket.
// Socket path: /run/ransomwarden/control.sock (configurable).
// Permissions: 0600, owned by root. Only root can connect.
//
// Commands (JSON request → JSON response):
//
//	{"cmd":"alerts","since":1234567890}
//	  → Returns every alert recorded at or after the given Unix timestamp.
//	  → Response: {"ok":true,"alerts":[{"pid":33,"ml_score":0.91,"quarantined":true,"timestamp":...}]}
//
//	{"cmd":"risk_overview"}
//	  → Returns the current per-PID activity snapshot, ranked by activity
//	    score, for operator situational awareness.
//	  → Response: {"ok":true,"processes":[{"pid":33,"activity_score":4.2,...}]}
//
//	{"cmd":"release","pid":33}
//	  → Invokes the quarantine helper's --release path for PID 33 and
//	    clears its cool-down entry so the decision loop may quarantine it
//	    again if it resumes malicious behavior.
//	  → Response: {"ok":true,"pid":33}
//
//	{"cmd":"status"}
//	  → Returns agent liveness and a small operational summary.
//	  → Response: {"ok":true,"tracked_pids":12,"node_id":"host-1"}
//
// Adapted nearly verbatim from the upstream operator socket's transport
// (connection semaphore, size cap, deadlines) with the command vocabulary
// replaced — this control plane is read-mostly (alerts, risk_overview,
// status) plus one write (release), rather than the upstream's pin/unpin/
// reset state-mutation surface.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const (
	maxConcurrentConns = 4
	maxRequestBytes    = 4096
	connTimeout        = 10 * time.Second
)

// AlertView is one alert as exposed to the control plane.
type AlertView struct {
	ProcessID   uint32  `json:"pid"`
	MLScore     float64 `json:"ml_score"`
	Quarantined bool    `json:"quarantined"`
	Timestamp   int64   `json:"timestamp"`
}

// ProcessRisk is one process's activity snapshot for the risk overview.
type ProcessRisk struct {
	ProcessID     uint32  `json:"pid"`
	ActivityScore float64 `json:"activity_score"`
	FileWrites    uint64  `json:"file_writes"`
	FileRenames   uint64  `json:"file_renames"`
	FileDeletes   uint64  `json:"file_deletes"`
}

// Backend is the set of read-through accessors and the single mutating
// operation (release) the control server depends on. Implemented by the
// agent composition root over the sink, stats store, and quarantine
// controller.
type Backend interface {
	AlertsSince(ctx context.Context, sinceUnix int64) ([]AlertView, error)
	RiskOverview(ctx context.Context) ([]ProcessRisk, error)
	Release(ctx context.Context, pid uint32) error
	TrackedPIDs(ctx context.Context) int
	NodeID() string
}

// Request is the JSON structure for control commands.
type Request struct {
	Cmd   string `json:"cmd"`            // alerts | risk_overview | release | status
	PID   uint32 `json:"pid,omitempty"`  // target PID for release
	Since int64  `json:"since,omitempty"`
}

// Response is the JSON structure for control command responses.
type Response struct {
	OK          bool          `json:"ok"`
	Error       string        `json:"error,omitempty"`
	PID         uint32        `json:"pid,omitempty"`
	Alerts      []AlertView   `json:"alerts,omitempty"`
	Processes   []ProcessRisk `json:"processes,omitempty"`
	TrackedPIDs int           `json:"tracked_pids,omitempty"`
	NodeID      string        `json:"node_id,omitempty"`
}

// Metrics is the subset of observability.Metrics the control server uses.
type Metrics interface {
	ObserveRequest(command string)
}

// Server is the control-plane Unix domain socket server.
type Server struct {
	socketPath string
	backend    Backend
	metrics    Metrics
	log        *zap.Logger
	sem        chan struct{}
}

// NewServer creates a control Server.
func NewServer(socketPath string, backend Backend, metrics Metrics, log *zap.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		backend:    backend,
		metrics:    metrics,
		log:        log,
		sem:        make(chan struct{}, maxConcurrentConns),
	}
}

// ListenAndServe starts the control socket server, removing any stale
// socket file first. Blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("control: remove stale socket %q: %w", s.socketPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o700); err != nil {
		return fmt.Errorf("control: mkdir %q: %w", filepath.Dir(s.socketPath), err)
	}

	lis, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("control: listen %q: %w", s.socketPath, err)
	}
	defer lis.Close()

	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		return fmt.Errorf("control: chmod %q: %w", s.socketPath, err)
	}

	if s.log != nil {
		s.log.Info("control socket listening", zap.String("path", s.socketPath))
	}

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				if s.log != nil {
					s.log.Error("control: accept error", zap.Error(err))
				}
				continue
			}
		}

		select {
		case s.sem <- struct{}{}:
		default:
			if s.log != nil {
				s.log.Warn("control: max connections reached, rejecting")
			}
			_ = conn.Close()
			continue
		}

		go func(c net.Conn) {
			defer func() { <-s.sem }()
			defer c.Close()
			s.handleConn(ctx, c)
		}(conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	buf := make([]byte, maxRequestBytes)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		if s.log != nil {
			s.log.Warn("control: read error", zap.Error(err))
		}
		return
	}

	var req Request
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		s.writeResponse(conn, Response{OK: false, Error: "invalid JSON: " + err.Error()})
		return
	}

	if s.metrics != nil {
		s.metrics.ObserveRequest(req.Cmd)
	}

	resp := s.dispatch(ctx, req)
	s.writeResponse(conn, resp)
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	switch req.Cmd {
	case "alerts":
		return s.cmdAlerts(ctx, req)
	case "risk_overview":
		return s.cmdRiskOverview(ctx)
	case "release":
		return s.cmdRelease(ctx, req)
	case "status":
		return s.cmdStatus(ctx)
	default:
		return Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Cmd)}
	}
}

func (s *Server) cmdAlerts(ctx context.Context, req Request) Response {
	alerts, err := s.backend.AlertsSince(ctx, req.Since)
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	return Response{OK: true, Alerts: alerts}
}

func (s *Server) cmdRiskOverview(ctx context.Context) Response {
	procs, err := s.backend.RiskOverview(ctx)
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	return Response{OK: true, Processes: procs}
}

func (s *Server) cmdRelease(ctx context.Context, req Request) Response {
	if req.PID == 0 {
		return Response{OK: false, Error: "pid required for release"}
	}
	if err := s.backend.Release(ctx, req.PID); err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	if s.log != nil {
		s.log.Info("control: pid released", zap.Uint32("pid", req.PID))
	}
	return Response{OK: true, PID: req.PID}
}

func (s *Server) cmdStatus(ctx context.Context) Response {
	return Response{
		OK:          true,
		TrackedPIDs: s.backend.TrackedPIDs(ctx),
		NodeID:      s.backend.NodeID(),
	}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	_, _ = conn.Write(data)
}
