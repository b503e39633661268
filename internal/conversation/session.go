// Package conversation implements the per-project chat state machine: turn
// counting, locking, phase transitions and question deduplication.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/ashureev/incubator/internal/advisor"
	"github.com/ashureev/incubator/internal/domain"
	"github.com/ashureev/incubator/internal/llm"
	"github.com/ashureev/incubator/internal/metrics"
	"github.com/ashureev/incubator/internal/questions"
	"github.com/ashureev/incubator/internal/sanitize"
	"github.com/ashureev/incubator/internal/store"
	"github.com/ashureev/incubator/internal/transcript"
)

// MinMessageLength is the shortest accepted message, in runes.
const MinMessageLength = 3

var (
	ErrEmptyMessage     = errors.New("empty message")
	ErrMessageTooShort  = errors.New("message too short")
	ErrSessionLocked    = errors.New("session locked")
	ErrGenerationFailed = errors.New("generation failed")
	ErrPlanRequired     = errors.New("a viability report is required first")
	ErrUnauthorized     = errors.New("session belongs to another user")
	// ErrSessionEvicted is returned by a session dropped from the registry
	// while a caller still held it; fetch it again.
	ErrSessionEvicted = errors.New("session evicted")
	// ErrInjectionDetected is sanitize.ErrInjectionDetected.
	ErrInjectionDetected = sanitize.ErrInjectionDetected
)

// Config holds the conversation limits.
type Config struct {
	MaxMessages      int
	CloseWindow      int
	MinQuestions     int
	OpeningQuestions int
	MinContextChars  int
}

// DefaultConfig matches the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxMessages:      10,
		CloseWindow:      2,
		MinQuestions:     3,
		OpeningQuestions: 3,
		MinContextChars:  200,
	}
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Store      store.Repository
	Advisor    *advisor.Advisor
	Metrics    *metrics.Recorder
	Transcript transcript.Logger
	Logger     *slog.Logger
}

func (d *Deps) normalize() {
	if d.Advisor == nil {
		d.Advisor = advisor.New(nil, "", d.Logger)
	}
	if d.Transcript == nil {
		d.Transcript = transcript.Nop{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
}

// Reply is the outcome of an accepted message.
type Reply struct {
	Response     string               `json:"response"`
	Locked       bool                 `json:"locked"`
	MessageCount int                  `json:"message_count"`
	MaxMessages  int                  `json:"max_messages"`
	Phase        domain.Phase         `json:"phase"`
	Plan         *domain.BusinessPlan `json:"plan,omitempty"`
	Fallback     bool                 `json:"fallback"`
	Closing      bool                 `json:"closing"`
}

// Session owns one conversation. All methods are safe for concurrent use;
// messages are processed one at a time, model calls included.
type Session struct {
	mu       sync.Mutex
	userID   string
	evicted  bool
	state    *domain.Session
	plan     *domain.BusinessPlan
	messages []domain.ChatMessage

	gen    llm.Generator
	deps   *Deps
	cfg    Config
	logger *slog.Logger

	lastUsed atomic.Int64
}

func newSession(state *domain.Session, plan *domain.BusinessPlan, msgs []domain.ChatMessage,
	gen llm.Generator, deps *Deps, cfg Config) *Session {
	s := &Session{
		userID:   state.UserID,
		state:    state,
		plan:     plan,
		messages: msgs,
		gen:      gen,
		deps:     deps,
		cfg:      cfg,
		logger: deps.Logger.With(
			"project_id", state.ProjectID,
			"session_id", state.ID,
			"user_id", state.UserID,
			"kind", string(state.Kind),
		),
	}
	s.touch()
	return s
}

func (s *Session) touch() { s.lastUsed.Store(time.Now().UnixNano()) }

// LastUsed is when the session last served a request.
func (s *Session) LastUsed() time.Time { return time.Unix(0, s.lastUsed.Load()) }

// Snapshot returns a copy of the persisted state.
func (s *Session) Snapshot() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneState(s.state)
}

// Messages returns a copy of the log.
func (s *Session) Messages() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ChatMessage(nil), s.messages...)
}

// Plan returns the viability report known to this session, if any.
func (s *Session) Plan() *domain.BusinessPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan
}

// Start delivers the opening assistant messages of a new conversation. It is
// a no-op once the session has assistant messages. No user turn is consumed.
func (s *Session) Start(ctx context.Context) ([]domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	if s.evicted {
		return nil, ErrSessionEvicted
	}

	if s.capped() {
		s.settleClosing(ctx)
		return append([]domain.ChatMessage(nil), s.messages...), nil
	}
	if hasAssistantMessage(s.messages) {
		return append([]domain.ChatMessage(nil), s.messages...), nil
	}

	next := cloneState(s.state)
	var opening []*domain.ChatMessage

	switch s.state.Kind {
	case domain.KindClarification:
		next.Advance(domain.PhaseAmbiguityCheck)
		batch := s.deps.Advisor.ClarifyingQuestions(ctx, s.gen, s.state.RawIdea, s.cfg.OpeningQuestions, next.AskedQuestions)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, q := range batch {
			next.AskedQuestions = append(next.AskedQuestions, q)
			opening = append(opening, assistantMessage(q))
		}
		next.Advance(domain.PhaseMicroInterview)

	case domain.KindAnalysis:
		return append([]domain.ChatMessage(nil), s.messages...), nil

	case domain.KindPivot:
		if s.plan == nil {
			return nil, ErrPlanRequired
		}
		failing := s.plan.FailingPillars()
		analysis, err := s.deps.Advisor.PivotAnalysis(ctx, s.gen, s.state.RawIdea, failing)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			s.logger.Warn("Pivot analysis failed, using fallback", "error", err)
			analysis = domain.FallbackPivotAnalysis()
		}
		opening = append(opening, assistantMessage(analysis.Render()))
		next.Advance(domain.PhaseBlueprintReady)

	default:
		return nil, fmt.Errorf("unknown session kind %q", s.state.Kind)
	}

	if err := s.deps.Store.SaveTurn(ctx, &next, opening...); err != nil {
		return nil, fmt.Errorf("save opening messages: %w", err)
	}
	s.commit(&next, opening)
	return append([]domain.ChatMessage(nil), s.messages...), nil
}

// Submit processes one user message.
func (s *Session) Submit(ctx context.Context, text string) (*Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	if s.evicted {
		return nil, ErrSessionEvicted
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, s.reject(ErrEmptyMessage)
	}
	if s.capped() {
		s.settleClosing(ctx)
		return nil, s.reject(ErrSessionLocked)
	}
	if utf8.RuneCountInString(text) < MinMessageLength {
		return nil, s.reject(ErrMessageTooShort)
	}
	clean, err := sanitize.Sanitize(text)
	if err != nil {
		return nil, s.reject(err)
	}

	// The turn is consumed here, before any model call. The message that
	// reaches the cap locks in the same write; the call to action follows
	// with the reply.
	userState := cloneState(s.state)
	userState.IsLocked = s.state.UserTurnCount+1 >= s.cfg.MaxMessages
	userMsg := &domain.ChatMessage{Role: domain.RoleUser, Content: clean}
	if err := s.deps.Store.SaveTurn(ctx, &userState, userMsg); err != nil {
		return nil, fmt.Errorf("save user message: %w", err)
	}
	s.commit(&userState, []*domain.ChatMessage{userMsg})
	s.deps.Metrics.IncTurn(string(s.state.Kind))
	s.record(transcript.DirectionInbound, "user_message", clean)

	next := cloneState(s.state)
	out, genErr := s.dispatch(ctx, &next, clean)
	if genErr != nil && ctx.Err() != nil {
		// Nothing past the user message is applied.
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, genErr)
	}

	var replies []*domain.ChatMessage
	if genErr == nil {
		replies = append(replies, assistantMessage(out.response))
	}

	reply := &Reply{
		Response: out.response,
		Plan:     out.plan,
		Fallback: out.fallback,
	}

	switch {
	case next.UserTurnCount >= s.cfg.MaxMessages:
		next.IsLocked = true
		next.Advance(domain.PhaseCompleted)
		replies = append(replies, assistantMessage(s.deps.Advisor.ClosingMessage(s.currentPlan(out))))
		s.deps.Metrics.IncLock(string(next.Kind))
		s.logger.Info("Session locked", "turns", next.UserTurnCount)
	case next.UserTurnCount >= s.cfg.MaxMessages-s.cfg.CloseWindow:
		next.Advance(domain.PhaseClosePhase)
		reply.Closing = true
	}

	if err := s.deps.Store.SaveTurn(ctx, &next, replies...); err != nil {
		return nil, fmt.Errorf("save assistant reply: %w", err)
	}
	if out.storePlan != nil {
		s.plan = out.storePlan
	}
	s.commit(&next, replies)
	for _, m := range replies {
		s.record(transcript.DirectionOutbound, "assistant_message", m.Content)
	}

	if genErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, genErr)
	}

	reply.Locked = s.state.IsLocked
	reply.MessageCount = s.state.UserTurnCount
	reply.MaxMessages = s.cfg.MaxMessages
	reply.Phase = s.state.Phase
	if reply.Locked {
		// The closing call to action follows the answer.
		reply.Response = reply.Response + "\n\n" + replies[len(replies)-1].Content
	}
	return reply, nil
}

// turnResult is what dispatch computed for one message.
type turnResult struct {
	response  string
	plan      *domain.BusinessPlan
	storePlan *domain.BusinessPlan
	fallback  bool
}

func (s *Session) dispatch(ctx context.Context, next *domain.Session, msg string) (turnResult, error) {
	switch next.Kind {
	case domain.KindClarification:
		if s.plan != nil {
			next.Advance(domain.PhaseContextualChat)
			return turnResult{response: s.plan.Render(), plan: s.plan}, nil
		}
		if s.readyForPlan(next) {
			return s.generatePlan(ctx, next)
		}
		return s.askQuestion(ctx, next)

	case domain.KindAnalysis:
		return s.generatePlan(ctx, next)

	case domain.KindPivot:
		report := ""
		if s.plan != nil {
			report = s.plan.Render()
		}
		text, err := s.deps.Advisor.ChatReply(ctx, s.gen, advisor.ChatRequest{
			Idea:       s.state.RawIdea,
			Report:     report,
			Transcript: s.transcript(),
			Message:    msg,
		})
		if err != nil {
			return turnResult{}, err
		}
		next.Advance(domain.PhaseContextualChat)
		return turnResult{response: text}, nil

	default:
		return turnResult{}, fmt.Errorf("unknown session kind %q", next.Kind)
	}
}

// readyForPlan reports whether enough has been asked and answered to
// produce a report.
func (s *Session) readyForPlan(next *domain.Session) bool {
	return next.UserTurnCount >= s.cfg.MinQuestions &&
		len(next.AskedQuestions) >= s.cfg.MinQuestions &&
		utf8.RuneCountInString(s.answers()) > s.cfg.MinContextChars
}

func (s *Session) askQuestion(ctx context.Context, next *domain.Session) (turnResult, error) {
	q, err := s.deps.Advisor.NextQuestion(ctx, s.gen, advisor.QuestionRequest{
		Idea:       s.state.RawIdea,
		Transcript: s.transcript(),
		Turn:       next.UserTurnCount,
		Asked:      next.AskedQuestions,
	})
	if errors.Is(err, questions.ErrNoUniqueQuestion) {
		s.logger.Info("Question bank exhausted, generating report early")
		return s.generatePlan(ctx, next)
	}
	if err != nil {
		return turnResult{}, err
	}

	if questions.IsQuestion(q) && !questions.IsDuplicate(q, next.AskedQuestions) {
		next.AskedQuestions = append(next.AskedQuestions, q)
	}
	next.Advance(domain.PhaseMicroInterview)
	return turnResult{response: q}, nil
}

// generatePlan produces a report. Failures are answered with the fallback
// report, which is neither stored nor allowed to advance the phase.
func (s *Session) generatePlan(ctx context.Context, next *domain.Session) (turnResult, error) {
	answers := s.answers()
	plan, err := s.deps.Advisor.BusinessPlan(ctx, s.gen, s.state.RawIdea, s.transcript())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return turnResult{}, ctxErr
		}
		s.logger.Warn("Report generation failed, answering with fallback", "error", err)
		fb := domain.FallbackPlan()
		return turnResult{response: fb.Render(), plan: fb, fallback: true}, nil
	}

	if err := s.deps.Store.UpsertPlan(ctx, s.state.ProjectID, plan); err != nil {
		return turnResult{}, fmt.Errorf("store plan: %w", err)
	}
	if err := s.deps.Store.UpdateProjectStatus(ctx, s.state.ProjectID, domain.ProjectCompleted); err != nil {
		s.logger.Warn("Failed to update project status", "error", err)
	}

	if next.Kind == domain.KindClarification && answers != "" {
		next.RefinedIdea = s.state.RawIdea + "\n\n" + answers
	}
	if !next.Advance(domain.PhaseBlueprintReady) || s.plan != nil {
		next.Advance(domain.PhaseContextualChat)
	}
	s.logger.Info("Viability report generated", "score", plan.ViabilityScore, "recommendation", plan.Recommendation)
	return turnResult{response: plan.Render(), plan: plan, storePlan: plan}, nil
}

func (s *Session) currentPlan(out turnResult) *domain.BusinessPlan {
	if out.storePlan != nil {
		return out.storePlan
	}
	return s.plan
}

// capped reports whether the session accepts no more user messages.
func (s *Session) capped() bool {
	return s.state.IsLocked || s.state.UserTurnCount >= s.cfg.MaxMessages
}

// settleClosing appends the call to action to a capped session whose last
// message is still the user's, which happens when the reply to the final
// message was never stored. A failure is logged and retried on the next call.
func (s *Session) settleClosing(ctx context.Context) {
	n := len(s.messages)
	if n == 0 || s.messages[n-1].Role != domain.RoleUser {
		return
	}
	next := cloneState(s.state)
	next.IsLocked = true
	next.Advance(domain.PhaseCompleted)
	cta := assistantMessage(s.deps.Advisor.ClosingMessage(s.plan))
	if err := s.deps.Store.SaveTurn(ctx, &next, cta); err != nil {
		s.logger.Warn("Failed to store closing message", "error", err)
		return
	}
	s.commit(&next, []*domain.ChatMessage{cta})
	s.deps.Metrics.IncLock(string(next.Kind))
	s.record(transcript.DirectionOutbound, "assistant_message", cta.Content)
	s.logger.Info("Session locked", "turns", next.UserTurnCount)
}

// answers joins the user messages of the log.
func (s *Session) answers() string {
	var parts []string
	for _, m := range s.messages {
		if m.Role == domain.RoleUser {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n")
}

func (s *Session) transcript() string {
	var b strings.Builder
	for _, m := range s.messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

// commit adopts next as the session state and appends the saved messages.
func (s *Session) commit(next *domain.Session, msgs []*domain.ChatMessage) {
	s.state = next
	for _, m := range msgs {
		s.messages = append(s.messages, *m)
	}
}

func (s *Session) reject(err error) error {
	s.deps.Metrics.IncRejection(reasonLabel(err))
	return err
}

func (s *Session) record(direction, eventType, content string) {
	s.deps.Transcript.Log(transcript.Event{
		UserID:     s.state.UserID,
		ProjectID:  s.state.ProjectID,
		SessionID:  s.state.ID,
		Kind:       string(s.state.Kind),
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Meta:       map[string]any{"phase": s.state.Phase.String(), "turn": s.state.UserTurnCount},
	})
}

func reasonLabel(err error) string {
	switch {
	case errors.Is(err, ErrEmptyMessage):
		return "empty_message"
	case errors.Is(err, ErrSessionLocked):
		return "session_locked"
	case errors.Is(err, ErrMessageTooShort):
		return "message_too_short"
	case errors.Is(err, ErrInjectionDetected):
		return "injection_detected"
	default:
		return "other"
	}
}

func cloneState(s *domain.Session) domain.Session {
	c := *s
	c.AskedQuestions = append([]string(nil), s.AskedQuestions...)
	return c
}

func assistantMessage(content string) *domain.ChatMessage {
	return &domain.ChatMessage{Role: domain.RoleAssistant, Content: content}
}

func hasAssistantMessage(msgs []domain.ChatMessage) bool {
	for _, m := range msgs {
		if m.Role == domain.RoleAssistant {
			return true
		}
	}
	return false
}
