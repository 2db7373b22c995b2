package graph

import (
	"context"

	"go.uber.org/zap"

	apperrors "github.com/TonyStef/Dimini/backend/pkg/errors"
)

// Session metadata lives alongside the knowledge graph as Session nodes.
// User/patient records belong to the collaborator that owns them; only the
// lifecycle state the engine needs is stored here.

// CreateSession creates a new ACTIVE session record
func (r *Repository) CreateSession(ctx context.Context, sessionID, patientID, therapistID string) (*Session, error) {
	query := `
		CREATE (s:Session {
			id: $id,
			patient_id: $patient_id,
			therapist_id: $therapist_id,
			status: $status,
			transcript: "",
			started_at: datetime()
		})
		RETURN s.id AS id, s.patient_id AS patient_id, s.therapist_id AS therapist_id,
		       s.status AS status, s.transcript AS transcript, s.started_at AS started_at
	`

	records, err := r.executeWrite(ctx, query, map[string]interface{}{
		"id":           sessionID,
		"patient_id":   patientID,
		"therapist_id": therapistID,
		"status":       string(SessionStatusActive),
	})
	if err != nil {
		return nil, apperrors.NewGraphQueryFailed("create_session", err)
	}
	if len(records) == 0 {
		return nil, apperrors.NewGraphQueryFailed("create_session", nil)
	}

	r.logger.Info("Session created",
		zap.String("session_id", sessionID),
		zap.String("patient_id", patientID),
	)
	return sessionFromRecord(records[0]), nil
}

// GetSession returns a session record, or ErrSessionNotFound
func (r *Repository) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	query := `
		MATCH (s:Session {id: $id})
		RETURN s.id AS id, s.patient_id AS patient_id, s.therapist_id AS therapist_id,
		       s.status AS status, s.transcript AS transcript,
		       s.started_at AS started_at, s.ended_at AS ended_at
	`

	records, err := r.executeRead(ctx, query, map[string]interface{}{"id": sessionID})
	if err != nil {
		return nil, apperrors.NewGraphQueryFailed("get_session", err)
	}
	if len(records) == 0 {
		return nil, apperrors.NewSessionNotFound(sessionID)
	}
	return sessionFromRecord(records[0]), nil
}

// FindActiveSessionForPatient returns the patient's ACTIVE session if one
// exists, otherwise nil
func (r *Repository) FindActiveSessionForPatient(ctx context.Context, patientID string) (*Session, error) {
	query := `
		MATCH (s:Session {patient_id: $patient_id, status: $status})
		RETURN s.id AS id, s.patient_id AS patient_id, s.therapist_id AS therapist_id,
		       s.status AS status, s.transcript AS transcript,
		       s.started_at AS started_at, s.ended_at AS ended_at
		LIMIT 1
	`

	records, err := r.executeRead(ctx, query, map[string]interface{}{
		"patient_id": patientID,
		"status":     string(SessionStatusActive),
	})
	if err != nil {
		return nil, apperrors.NewGraphQueryFailed("find_active_session", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return sessionFromRecord(records[0]), nil
}

// UpdateSessionStatus transitions a session's lifecycle state. Terminal
// states also stamp ended_at.
func (r *Repository) UpdateSessionStatus(ctx context.Context, sessionID string, status SessionStatus) (*Session, error) {
	query := `
		MATCH (s:Session {id: $id})
		SET s.status = $status,
			s.ended_at = CASE WHEN $terminal THEN datetime() ELSE s.ended_at END
		RETURN s.id AS id, s.patient_id AS patient_id, s.therapist_id AS therapist_id,
		       s.status AS status, s.transcript AS transcript,
		       s.started_at AS started_at, s.ended_at AS ended_at
	`

	terminal := status == SessionStatusCompleted || status == SessionStatusCancelled

	records, err := r.executeWrite(ctx, query, map[string]interface{}{
		"id":       sessionID,
		"status":   string(status),
		"terminal": terminal,
	})
	if err != nil {
		return nil, apperrors.NewGraphQueryFailed("update_session_status", err)
	}
	if len(records) == 0 {
		return nil, apperrors.NewSessionNotFound(sessionID)
	}

	r.logger.Info("Session status updated",
		zap.String("session_id", sessionID),
		zap.String("status", string(status)),
	)
	return sessionFromRecord(records[0]), nil
}

// AppendTranscript appends a fragment to the session's accumulated transcript
func (r *Repository) AppendTranscript(ctx context.Context, sessionID, text string) error {
	query := `
		MATCH (s:Session {id: $id})
		SET s.transcript = CASE
			WHEN s.transcript = "" THEN $text
			ELSE s.transcript + "\n" + $text
		END
		RETURN s.id AS id
	`

	records, err := r.executeWrite(ctx, query, map[string]interface{}{
		"id":   sessionID,
		"text": text,
	})
	if err != nil {
		return apperrors.NewGraphQueryFailed("append_transcript", err)
	}
	if len(records) == 0 {
		return apperrors.NewSessionNotFound(sessionID)
	}
	return nil
}
