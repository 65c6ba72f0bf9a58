package telegram

import (
	"sync"

	"safety-proxy/api/internal/ai"
	"safety-proxy/api/internal/normalize"
	"safety-proxy/api/internal/pipeline"
)

// lastAssessment is what /more works from. ID is empty when assessments
// are not persisted.
type lastAssessment struct {
	ID          string
	ProcessName string
	Hazards     []normalize.Hazard
}

type chatState struct {
	mu sync.Mutex

	engine         string // "" = service default
	pendingProcess string // set by /risk, consumed by the next photo
	last           *lastAssessment
	history        []ai.Turn
}

func (r *Router) state(chatID int64) *chatState {
	v, _ := r.chats.LoadOrStore(chatID, &chatState{})
	return v.(*chatState)
}

func (s *chatState) Engine() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

func (s *chatState) SetEngine(name string) {
	s.mu.Lock()
	s.engine = name
	s.mu.Unlock()
}

func (s *chatState) SetPending(process string) {
	s.mu.Lock()
	s.pendingProcess = process
	s.mu.Unlock()
}

// TakePending returns and clears the process name waiting for a photo.
func (s *chatState) TakePending() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pendingProcess
	s.pendingProcess = ""
	return p
}

func (s *chatState) Last() *lastAssessment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	cp := *s.last
	cp.Hazards = append([]normalize.Hazard(nil), s.last.Hazards...)
	return &cp
}

func (s *chatState) SetLast(a *lastAssessment) {
	s.mu.Lock()
	s.last = a
	s.mu.Unlock()
}

func (s *chatState) History() []ai.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ai.Turn(nil), s.history...)
}

// Remember appends a question/answer pair, keeping only what the pipeline sends.
func (s *chatState) Remember(question, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history,
		ai.Turn{Role: ai.RoleUser, Text: question},
		ai.Turn{Role: ai.RoleModel, Text: answer},
	)
	if n := len(s.history); n > pipeline.MaxHistory {
		s.history = append([]ai.Turn(nil), s.history[n-pipeline.MaxHistory:]...)
	}
}

func (s *chatState) Reset() {
	s.mu.Lock()
	s.pendingProcess = ""
	s.history = nil
	s.mu.Unlock()
}
