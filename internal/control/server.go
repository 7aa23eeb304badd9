// Package control exposes the Session/Monitor control surface (spec.md
// section 6) as MCP tools, finishing the go-sdk wiring the teacher's
// internal/mcp/server_test.go already assumed but internal/mcp/server.go
// (a hand-rolled JSON-RPC loop) never actually used.
package control

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/fankserver/meetcap/internal/config"
	pipelineerr "github.com/fankserver/meetcap/internal/errors"
	"github.com/fankserver/meetcap/internal/session"
	"github.com/fankserver/meetcap/internal/storage"
	"github.com/fankserver/meetcap/internal/vectorization"
)

// monitorInterval is how often the background health monitor polls the
// active session's essential stages (spec.md section 4.6's health model
// is evaluated continuously, not just on an explicit status() call).
const monitorInterval = 5 * time.Second

// Server wires the session manager, storage backend, and vector index
// behind the nine control-surface commands spec.md section 6 names,
// each registered as an MCP tool. Grounded on the teacher's
// internal/mcp/server.go (bot + sessions + tool dispatch), generalized
// from "join/leave/get_transcript/list/export" to the full session
// lifecycle + search + database maintenance surface SPEC_FULL requires.
type Server struct {
	manager       *session.Manager
	store         *storage.Store
	vectorIndex   *storage.VectorIndex
	embedProvider vectorization.Provider
	cfg           config.Config
	deps          session.Deps

	mu       sync.Mutex
	activeID string

	mcpServer *mcp.Server
	logger    *logrus.Entry
}

// NewServer builds the control surface and registers every tool.
func NewServer(manager *session.Manager, store *storage.Store, vectorIndex *storage.VectorIndex, embedProvider vectorization.Provider, cfg config.Config, deps session.Deps) *Server {
	s := &Server{
		manager:       manager,
		store:         store,
		vectorIndex:   vectorIndex,
		embedProvider: embedProvider,
		cfg:           cfg,
		deps:          deps,
		logger:        logrus.WithField("component", "control_server"),
	}

	s.mcpServer = mcp.NewServer(&mcp.Implementation{Name: "meetcap", Version: "0.1.0"}, nil)

	mcp.AddTool(s.mcpServer, &mcp.Tool{Name: "start", Description: "Start a new meeting capture session"}, s.handleStart)
	mcp.AddTool(s.mcpServer, &mcp.Tool{Name: "stop", Description: "Stop the active session, optionally skipping the graceful drain"}, s.handleStop)
	mcp.AddTool(s.mcpServer, &mcp.Tool{Name: "pause", Description: "Pause audio capture on the active session"}, s.handlePause)
	mcp.AddTool(s.mcpServer, &mcp.Tool{Name: "resume", Description: "Resume audio capture on the active session"}, s.handleResume)
	mcp.AddTool(s.mcpServer, &mcp.Tool{Name: "status", Description: "Report the active session's lifecycle status, stage health, and queue depths"}, s.handleStatus)
	mcp.AddTool(s.mcpServer, &mcp.Tool{Name: "search", Description: "Search the active session's transcript (keyword, semantic, or hybrid)"}, s.handleSearch)
	mcp.AddTool(s.mcpServer, &mcp.Tool{Name: "identify", Description: "Assign a human name to a speaker id"}, s.handleIdentify)
	mcp.AddTool(s.mcpServer, &mcp.Tool{Name: "merge", Description: "Merge one speaker id into another"}, s.handleMerge)
	mcp.AddTool(s.mcpServer, &mcp.Tool{Name: "database", Description: "Run a database maintenance operation: export, compact, or verify"}, s.handleDatabase)

	return s
}

// Run serves the control surface over stdio until ctx is cancelled,
// alongside a background loop that watches the active session's essential
// stage health and forces a transition to Stopping on fatal failure.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Control server started")
	defer s.logger.Info("Control server stopped")

	go s.monitorLoop(ctx)

	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sess, err := s.activeSession(); err == nil {
				sess.MonitorOnce()
			}
		}
	}
}

func (s *Server) activeSession() (*session.MeetingSession, error) {
	s.mu.Lock()
	id := s.activeID
	s.mu.Unlock()
	if id == "" {
		return nil, pipelineerr.Storage(false, "no active session", nil)
	}
	return s.manager.GetSession(id)
}

func (s *Server) handleStart(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[StartInput]) (*mcp.CallToolResultFor[StartOutput], error) {
	sess, err := s.manager.CreateSession(ctx, params.Arguments.Title, s.cfg, s.deps)
	if err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}
	if params.Arguments.NoAutoRecord {
		if err := sess.Pause(); err != nil {
			s.logger.WithError(err).Warn("Failed to honor no_auto_record")
		}
	}

	s.mu.Lock()
	s.activeID = sess.ID()
	s.mu.Unlock()

	return &mcp.CallToolResultFor[StartOutput]{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Started session %s", sess.ID())}},
	}, nil
}

func (s *Server) handleStop(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[StopInput]) (*mcp.CallToolResultFor[StatusResult], error) {
	s.mu.Lock()
	id := s.activeID
	s.mu.Unlock()
	if id == "" {
		return nil, pipelineerr.Storage(false, "no active session", nil)
	}
	if err := s.manager.StopSession(ctx, id, params.Arguments.Force, s.store); err != nil {
		return nil, fmt.Errorf("stopping session: %w", err)
	}
	return &mcp.CallToolResultFor[StatusResult]{
		Content: []mcp.Content{&mcp.TextContent{Text: "Session stopped"}},
	}, nil
}

func (s *Server) handlePause(_ context.Context, _ *mcp.ServerSession, _ *mcp.CallToolParamsFor[EmptyInput]) (*mcp.CallToolResultFor[StatusResult], error) {
	sess, err := s.activeSession()
	if err != nil {
		return nil, err
	}
	if err := sess.Pause(); err != nil {
		return nil, fmt.Errorf("pausing session: %w", err)
	}
	return &mcp.CallToolResultFor[StatusResult]{
		Content: []mcp.Content{&mcp.TextContent{Text: "Session paused"}},
	}, nil
}

func (s *Server) handleResume(ctx context.Context, _ *mcp.ServerSession, _ *mcp.CallToolParamsFor[EmptyInput]) (*mcp.CallToolResultFor[StatusResult], error) {
	sess, err := s.activeSession()
	if err != nil {
		return nil, err
	}
	if err := sess.Resume(ctx); err != nil {
		return nil, fmt.Errorf("resuming session: %w", err)
	}
	return &mcp.CallToolResultFor[StatusResult]{
		Content: []mcp.Content{&mcp.TextContent{Text: "Session resumed"}},
	}, nil
}

func (s *Server) handleStatus(_ context.Context, _ *mcp.ServerSession, _ *mcp.CallToolParamsFor[EmptyInput]) (*mcp.CallToolResultFor[StatusOutput], error) {
	sess, err := s.activeSession()
	if err != nil {
		return nil, err
	}
	status := sess.SystemStatus()

	stages := make([]StageStatusOutput, 0, len(status.Stages))
	for name, h := range status.Stages {
		stages = append(stages, StageStatusOutput{Stage: name, State: string(h.State), Message: h.Message})
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].Stage < stages[j].Stage })

	out := StatusOutput{
		SessionID:      status.SessionID,
		MeetingStatus:  string(status.MeetingStatus),
		SegmentCount:   status.Stats.SegmentCount,
		SpeakerCount:   status.Stats.SpeakerCount,
		DurationSecond: status.Stats.Duration.Seconds(),
		Stages:         stages,
		QueueDepths:    status.QueueDepths,
		ErrorCounts: ErrorCountsOutput{
			AudioErrors:         status.ErrorCounts.AudioErrors,
			TranscriptionErrors: status.ErrorCounts.TranscriptionErrors,
			DiarizationErrors:   status.ErrorCounts.DiarizationErrors,
			VectorizationErrors: status.ErrorCounts.VectorizationErrors,
			StorageErrors:       status.ErrorCounts.StorageErrors,
			TotalErrors:         status.ErrorCounts.TotalErrors,
		},
	}

	return &mcp.CallToolResultFor[StatusOutput]{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Session %s is %s (%d segments, %d speakers, %d errors)", out.SessionID, out.MeetingStatus, out.SegmentCount, out.SpeakerCount, out.ErrorCounts.TotalErrors)}},
	}, nil
}

func (s *Server) handleIdentify(_ context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[IdentifyInput]) (*mcp.CallToolResultFor[StatusResult], error) {
	sess, err := s.activeSession()
	if err != nil {
		return nil, err
	}
	if err := sess.NameSpeaker(params.Arguments.SpeakerID, params.Arguments.Name); err != nil {
		return nil, fmt.Errorf("identifying speaker: %w", err)
	}
	return &mcp.CallToolResultFor[StatusResult]{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Speaker %s is now %s", params.Arguments.SpeakerID, params.Arguments.Name)}},
	}, nil
}

func (s *Server) handleMerge(_ context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[MergeInput]) (*mcp.CallToolResultFor[StatusResult], error) {
	sess, err := s.activeSession()
	if err != nil {
		return nil, err
	}
	if err := sess.MergeSpeakers(params.Arguments.FromID, params.Arguments.ToID); err != nil {
		return nil, fmt.Errorf("merging speakers: %w", err)
	}
	return &mcp.CallToolResultFor[StatusResult]{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Merged %s into %s", params.Arguments.FromID, params.Arguments.ToID)}},
	}, nil
}
