package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/quickmart/shopping-assistant/orchestrator/internal/metrics"
	"github.com/quickmart/shopping-assistant/orchestrator/internal/models"
)

// maxToolIterations caps tool round-trips per turn so a confused model cannot
// loop forever against the cart
const maxToolIterations = 8

// ErrSessionNotFound is returned when a session does not exist
var ErrSessionNotFound = fmt.Errorf("session not found")

// TurnEvent is one streamed event produced while handling a turn
type TurnEvent struct {
	EventType string                 `json:"event_type"`
	Data      map[string]interface{} `json:"data"`
}

// Turn event types
const (
	EventToolCall         = "tool_call"
	EventToolResult       = "tool_result"
	EventAssistantMessage = "assistant_message"
	EventEnd              = "end"
	EventError            = "error"
)

// TurnSink receives turn events as they happen. A nil sink is valid for the
// synchronous HTTP path.
type TurnSink func(event TurnEvent)

// Service runs assistant sessions: persistence of the transcript plus the
// LLM tool-calling loop
type Service struct {
	pool       *pgxpool.Pool
	llm        LLMClient
	dispatcher *Dispatcher
	metrics    *metrics.SessionMetrics
	tracer     trace.Tracer
}

// NewService creates a new assistant service
func NewService(pool *pgxpool.Pool, llm LLMClient, dispatcher *Dispatcher, sessionMetrics *metrics.SessionMetrics) *Service {
	return &Service{
		pool:       pool,
		llm:        llm,
		dispatcher: dispatcher,
		metrics:    sessionMetrics,
		tracer:     otel.Tracer("assistant-service"),
	}
}

// CreateSession opens a new session for a shopper and persists the greeting
func (s *Service) CreateSession(ctx context.Context, userID string) (*models.Session, error) {
	ctx, span := s.tracer.Start(ctx, "assistant.create_session")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var session models.Session
	session.UserID = userID
	session.Status = models.SessionStatusActive
	err = tx.QueryRow(ctx, `
		INSERT INTO sessions (user_id, status)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at
	`, userID, session.Status).Scan(&session.ID, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (session_id, role, content)
		VALUES ($1, $2, $3)
	`, session.ID, models.RoleAssistant, Greeting)
	if err != nil {
		return nil, fmt.Errorf("failed to persist greeting: %w", err)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"session_id": session.ID,
		"user_id":    userID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outbox payload: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (aggregate_id, event_type, payload, status)
		VALUES ($1, $2, $3, $4)
	`, session.ID, models.EventTypeSessionStarted, payload, models.OutboxEventStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to insert outbox event: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordSessionStarted(ctx, session.ID)
	}

	span.SetAttributes(attribute.String("session_id", session.ID))

	return &session, nil
}

// GetSession retrieves a session by ID. A malformed ID is treated as not
// found rather than reaching Postgres as an invalid uuid literal.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, ErrSessionNotFound
	}

	var session models.Session
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, status, created_at, updated_at
		FROM sessions
		WHERE id = $1
	`, sessionID).Scan(&session.ID, &session.UserID, &session.Status, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// CloseSession marks a session closed. Closing a session that is already
// closed or does not exist is a no-op.
func (s *Service) CloseSession(ctx context.Context, sessionID string) error {
	ctx, span := s.tracer.Start(ctx, "assistant.close_session")
	defer span.End()

	span.SetAttributes(attribute.String("session_id", sessionID))

	if _, err := uuid.Parse(sessionID); err != nil {
		return ErrSessionNotFound
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, models.SessionStatusClosed, sessionID, models.SessionStatusActive)
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}

	if tag.RowsAffected() > 0 && s.metrics != nil {
		s.metrics.RecordSessionClosed(ctx, sessionID)
	}

	return nil
}

// History returns all persisted messages for a session in order
func (s *Service) History(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	ctx, span := s.tracer.Start(ctx, "assistant.history")
	defer span.End()

	span.SetAttributes(attribute.String("session_id", sessionID))

	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, role, content, tool_name, created_at
		FROM messages
		WHERE session_id = $1
		ORDER BY created_at, id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var history []models.ChatMessage
	for rows.Next() {
		var msg models.ChatMessage
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.ToolName, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		history = append(history, msg)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return history, nil
}

// HandleTurn runs one user turn through the LLM tool-calling loop. Events are
// streamed to the sink as they happen; the final assistant message is returned.
func (s *Service) HandleTurn(ctx context.Context, sessionID, userID, text string, sink TurnSink) (*models.ChatMessage, error) {
	ctx, span := s.tracer.Start(ctx, "assistant.handle_turn")
	defer span.End()

	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("user_id", userID),
	)

	start := time.Now()
	if s.metrics != nil {
		s.metrics.RecordTurnStarted(ctx, sessionID)
	}

	if _, err := s.persistMessage(ctx, sessionID, models.RoleUser, text, nil); err != nil {
		s.failTurn(ctx, sessionID, "persistence", start, sink, err)
		return nil, err
	}

	working, err := s.conversationContext(ctx, sessionID)
	if err != nil {
		s.failTurn(ctx, sessionID, "persistence", start, sink, err)
		return nil, err
	}

	var usage Usage
	for i := 0; i < maxToolIterations; i++ {
		resp, err := s.llm.Complete(ctx, CompletionRequest{
			System:   systemPrompt,
			Messages: working,
			Tools:    s.dispatcher.Definitions(),
		})
		if err != nil {
			span.RecordError(err)
			s.failTurn(ctx, sessionID, "llm_error", start, sink, err)
			return nil, fmt.Errorf("assistant completion failed: %w", err)
		}

		usage.InputTokens += resp.Usage.InputTokens
		usage.OutputTokens += resp.Usage.OutputTokens

		if len(resp.ToolCalls) == 0 {
			msg, err := s.persistMessage(ctx, sessionID, models.RoleAssistant, resp.Text, nil)
			if err != nil {
				s.failTurn(ctx, sessionID, "persistence", start, sink, err)
				return nil, err
			}

			emit(sink, TurnEvent{EventType: EventAssistantMessage, Data: map[string]interface{}{
				"message_id": msg.ID,
				"content":    msg.Content,
			}})
			emit(sink, TurnEvent{EventType: EventEnd, Data: map[string]interface{}{
				"session_id": sessionID,
			}})

			if s.metrics != nil {
				s.metrics.RecordTurnCompleted(ctx, sessionID, time.Since(start))
				s.metrics.RecordTokenUsage(ctx, sessionID, usage.InputTokens, usage.OutputTokens)
			}
			span.SetAttributes(attribute.Int("turn.iterations", i+1))
			return msg, nil
		}

		working = append(working, Message{Role: models.RoleAssistant, ToolCalls: resp.ToolCalls})

		for _, call := range resp.ToolCalls {
			emit(sink, TurnEvent{EventType: EventToolCall, Data: map[string]interface{}{
				"name": call.Name,
				"args": call.Args,
			}})
			if s.metrics != nil {
				s.metrics.RecordToolCall(ctx, sessionID, call.Name)
			}

			result, err := s.dispatcher.Execute(ctx, sessionID, userID, call)
			if err != nil {
				// Surface infrastructure failures to the model instead of
				// killing the turn; the assistant apologizes and moves on.
				log.Printf(`{"level":"warn","message":"Tool execution failed","session_id":"%s","tool":"%s","error":"%v"}`,
					sessionID, call.Name, err)
				result = fmt.Sprintf("The %s tool failed. Apologize to the shopper and suggest trying again.", call.Name)
			}

			toolName := call.Name
			if _, err := s.persistMessage(ctx, sessionID, models.RoleTool, result, &toolName); err != nil {
				s.failTurn(ctx, sessionID, "persistence", start, sink, err)
				return nil, err
			}

			emit(sink, TurnEvent{EventType: EventToolResult, Data: map[string]interface{}{
				"name":   call.Name,
				"result": result,
			}})

			working = append(working, Message{Role: models.RoleTool, ToolName: call.Name, Content: result})
		}
	}

	s.failTurn(ctx, sessionID, "tool_loop", start, sink, fmt.Errorf("tool iteration limit reached"))
	return nil, fmt.Errorf("assistant exceeded %d tool iterations", maxToolIterations)
}

// conversationContext rebuilds the LLM transcript from persisted user and
// assistant messages. Tool traffic from earlier turns is not replayed; each
// turn's tool exchange lives only in that turn's working transcript.
func (s *Service) conversationContext(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT role, content
		FROM messages
		WHERE session_id = $1 AND role IN ($2, $3)
		ORDER BY created_at, id
	`, sessionID, models.RoleUser, models.RoleAssistant)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	defer rows.Close()

	var working []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.Role, &msg.Content); err != nil {
			return nil, fmt.Errorf("failed to scan conversation message: %w", err)
		}
		working = append(working, msg)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversation: %w", err)
	}

	return working, nil
}

// persistMessage stores one transcript message and returns it with its ID
func (s *Service) persistMessage(ctx context.Context, sessionID, role, content string, toolName *string) (*models.ChatMessage, error) {
	msg := &models.ChatMessage{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		ToolName:  toolName,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (session_id, role, content, tool_name)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, sessionID, role, content, toolName).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to persist %s message: %w", role, err)
	}
	return msg, nil
}

func (s *Service) failTurn(ctx context.Context, sessionID, errorType string, start time.Time, sink TurnSink, cause error) {
	if s.metrics != nil {
		s.metrics.RecordTurnFailed(ctx, sessionID, errorType, time.Since(start))
	}
	emit(sink, TurnEvent{EventType: EventError, Data: map[string]interface{}{
		"error": cause.Error(),
	}})
}

func emit(sink TurnSink, event TurnEvent) {
	if sink != nil {
		sink(event)
	}
}
