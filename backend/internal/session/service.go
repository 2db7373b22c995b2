package session

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TonyStef/Dimini/backend/internal/builder"
	"github.com/TonyStef/Dimini/backend/internal/graph"
	apperrors "github.com/TonyStef/Dimini/backend/pkg/errors"
	"github.com/TonyStef/Dimini/backend/pkg/logger"
)

// Pipeline is the graph ingestion surface the service drives
type Pipeline interface {
	Process(ctx context.Context, sessionID, fragment string) *builder.ProcessingResult
	ProcessNote(ctx context.Context, sessionID, category, content string) error
	ProcessConcern(ctx context.Context, sessionID, concernType, severity, description string) error
	ProcessProgress(ctx context.Context, sessionID, progressType, description string) error
}

// Store is the session metadata persistence surface
type Store interface {
	CreateSession(ctx context.Context, sessionID, patientID, therapistID string) (*graph.Session, error)
	GetSession(ctx context.Context, sessionID string) (*graph.Session, error)
	FindActiveSessionForPatient(ctx context.Context, patientID string) (*graph.Session, error)
	UpdateSessionStatus(ctx context.Context, sessionID string, status graph.SessionStatus) (*graph.Session, error)
	AppendTranscript(ctx context.Context, sessionID, text string) error
}

// Schedulers controls the per-session background metric loops
type Schedulers interface {
	Start(sessionID string)
	Stop(sessionID string)
}

// Broadcaster is the subset of realtime broadcasting the lifecycle needs
type Broadcaster interface {
	BroadcastSessionStatus(ctx context.Context, sessionID, status string) error
}

// Service owns the session lifecycle: starting a session starts its metric
// loops, ending or cancelling it stops them. A patient has at most one ACTIVE
// session; starting a new one auto-closes the previous so its background
// loops never leak.
type Service struct {
	store       Store
	pipeline    Pipeline
	schedulers  Schedulers
	broadcaster Broadcaster
	logger      *zap.Logger
}

// NewService creates a session lifecycle service
func NewService(store Store, pipeline Pipeline, schedulers Schedulers, broadcaster Broadcaster) *Service {
	return &Service{
		store:       store,
		pipeline:    pipeline,
		schedulers:  schedulers,
		broadcaster: broadcaster,
		logger:      logger.Get(),
	}
}

// Start creates a new ACTIVE session and launches its metric loops. If the
// patient already has an ACTIVE session it is completed first; stale sessions
// otherwise accumulate running loops when a client reconnects without ending
// the previous session.
func (s *Service) Start(ctx context.Context, patientID, therapistID string) (*graph.Session, error) {
	previous, err := s.store.FindActiveSessionForPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if previous != nil {
		s.logger.Info("Auto-closing previous active session",
			zap.String("patient_id", patientID),
			zap.String("previous_session_id", previous.ID),
		)
		if _, err := s.close(ctx, previous.ID, graph.SessionStatusCompleted); err != nil {
			return nil, err
		}
	}

	sessionID := uuid.NewString()
	created, err := s.store.CreateSession(ctx, sessionID, patientID, therapistID)
	if err != nil {
		return nil, err
	}

	s.schedulers.Start(sessionID)
	s.broadcastStatus(ctx, sessionID, string(graph.SessionStatusActive))

	s.logger.Info("Session started",
		zap.String("session_id", sessionID),
		zap.String("patient_id", patientID),
	)
	return created, nil
}

// ProcessTranscript appends a fragment to the session transcript and runs it
// through the graph pipeline. The session must be ACTIVE.
func (s *Service) ProcessTranscript(ctx context.Context, sessionID, fragment string) (*builder.ProcessingResult, error) {
	if _, err := s.requireActive(ctx, sessionID); err != nil {
		return nil, err
	}

	if err := s.store.AppendTranscript(ctx, sessionID, fragment); err != nil {
		return nil, err
	}
	return s.pipeline.Process(ctx, sessionID, fragment), nil
}

// End completes a session and stops its metric loops. Ending a session that
// is already terminal is a no-op.
func (s *Service) End(ctx context.Context, sessionID string) (*graph.Session, error) {
	return s.close(ctx, sessionID, graph.SessionStatusCompleted)
}

// Cancel aborts a session and stops its metric loops
func (s *Service) Cancel(ctx context.Context, sessionID string) (*graph.Session, error) {
	return s.close(ctx, sessionID, graph.SessionStatusCancelled)
}

func (s *Service) close(ctx context.Context, sessionID string, status graph.SessionStatus) (*graph.Session, error) {
	current, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if current.Status != graph.SessionStatusActive {
		// Already terminal; make sure no loops are left behind
		s.schedulers.Stop(sessionID)
		return current, nil
	}

	updated, err := s.store.UpdateSessionStatus(ctx, sessionID, status)
	if err != nil {
		return nil, err
	}

	s.schedulers.Stop(sessionID)
	s.broadcastStatus(ctx, sessionID, string(status))

	s.logger.Info("Session closed",
		zap.String("session_id", sessionID),
		zap.String("status", string(status)),
	)
	return updated, nil
}

// AddNote ingests a clinical note into the session graph in the background,
// so the tool response is not blocked on extraction
func (s *Service) AddNote(ctx context.Context, sessionID, category, content string) error {
	if _, err := s.requireActive(ctx, sessionID); err != nil {
		return err
	}

	go func(ctx context.Context) {
		if err := s.pipeline.ProcessNote(ctx, sessionID, category, content); err != nil {
			s.logger.Error("Note ingestion failed",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}(context.WithoutCancel(ctx))
	return nil
}

// FlagConcern records a clinical concern in the session graph
func (s *Service) FlagConcern(ctx context.Context, sessionID, concernType, severity, description string) error {
	if _, err := s.requireActive(ctx, sessionID); err != nil {
		return err
	}

	go func(ctx context.Context) {
		if err := s.pipeline.ProcessConcern(ctx, sessionID, concernType, severity, description); err != nil {
			s.logger.Error("Concern ingestion failed",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}(context.WithoutCancel(ctx))
	return nil
}

// MarkProgress records a progress milestone in the session graph
func (s *Service) MarkProgress(ctx context.Context, sessionID, progressType, description string) error {
	if _, err := s.requireActive(ctx, sessionID); err != nil {
		return err
	}

	go func(ctx context.Context) {
		if err := s.pipeline.ProcessProgress(ctx, sessionID, progressType, description); err != nil {
			s.logger.Error("Progress ingestion failed",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}(context.WithoutCancel(ctx))
	return nil
}

// Get returns a session record
func (s *Service) Get(ctx context.Context, sessionID string) (*graph.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

func (s *Service) requireActive(ctx context.Context, sessionID string) (*graph.Session, error) {
	current, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if current.Status != graph.SessionStatusActive {
		return nil, apperrors.NewSessionNotActive(sessionID, string(current.Status))
	}
	return current, nil
}

func (s *Service) broadcastStatus(ctx context.Context, sessionID, status string) {
	if err := s.broadcaster.BroadcastSessionStatus(ctx, sessionID, status); err != nil {
		s.logger.Warn("Session status broadcast failed",
			zap.String("session_id", sessionID),
			zap.String("status", status),
			zap.Error(err),
		)
	}
}
