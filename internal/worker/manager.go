package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"chatassist/internal/history"
	"chatassist/internal/models"
)

// ErrBusy reports that a session's task queue is full.
var ErrBusy = errors.New("session queue full")

// ErrSessionClosed reports that the session was purged while a turn for
// it was queued or in flight.
var ErrSessionClosed = errors.New("session closed")

const (
	defaultQueueSize   = 16
	defaultIdleTimeout = 5 * time.Minute
)

// AICalling is the slice of the model client the workers need.
type AICalling interface {
	Chat(ctx context.Context, turns []models.Turn) (string, error)
}

// AIFactory builds a model client for the requested model name. An
// empty name selects the provider's default model.
type AIFactory func(modelName string) (AICalling, error)

type TurnRequest struct {
	Context   context.Context
	SessionID string
	Message   string
	Model     string
}

type TurnResult struct {
	Reply      string
	Transcript []models.Turn
	Err        error
}

type turnTask struct {
	req      TurnRequest
	resultCh chan TurnResult
}

type ManagerConfig struct {
	QueueSize          int
	IdleTimeout        time.Duration
	RequestTimeout     time.Duration
	MaxConcurrentCalls int
}

// Manager runs one worker goroutine per active session. A session's
// turns are handled strictly in order by its worker, so two concurrent
// requests for the same session can never interleave their
// read-model-append sequences, while distinct sessions proceed fully in
// parallel. The transcript store is never locked across a model call;
// ordering comes from the worker itself.
type Manager struct {
	store   *history.Store
	factory AIFactory
	cfg     ManagerConfig
	sem     chan struct{}

	mu      sync.Mutex
	workers map[string]*workerState
}

func NewManager(store *history.Store, factory AIFactory, cfg ManagerConfig) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	m := &Manager{
		store:   store,
		factory: factory,
		cfg:     cfg,
		workers: make(map[string]*workerState),
	}
	if cfg.MaxConcurrentCalls > 0 {
		m.sem = make(chan struct{}, cfg.MaxConcurrentCalls)
	}
	return m
}

// HandleTurn appends the user turn, invokes the model with the full
// transcript, appends the reply, and returns it together with the
// updated transcript. Blocks until the session's worker has processed
// the turn; returns ErrBusy when the session queue is full.
func (m *Manager) HandleTurn(req TurnRequest) (string, []models.Turn, error) {
	resultCh := make(chan TurnResult, 1)
	if err := m.enqueue(turnTask{req: req, resultCh: resultCh}); err != nil {
		return "", nil, err
	}
	res := <-resultCh
	return res.Reply, res.Transcript, res.Err
}

// Purge drops the session's transcript and stops its worker if running.
// The transcript is deleted under the manager lock so an in-flight turn
// cannot append to it afterwards: the worker re-checks its registration
// under the same lock before every append.
func (m *Manager) Purge(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.workers[sessionID]; ok {
		delete(m.workers, sessionID)
		close(state.stopCh)
	}
	return m.store.Delete(sessionID)
}

// ActiveWorkers reports how many session workers are currently alive.
func (m *Manager) ActiveWorkers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

// enqueue hands the task to the session's worker, spawning one if
// needed. Holding the manager lock across the send keeps the idle
// shutdown path from retiring a worker with a task in flight.
func (m *Manager) enqueue(task turnTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.workers[task.req.SessionID]
	if !ok {
		state = newWorkerState(m.cfg.QueueSize)
		m.workers[task.req.SessionID] = state
		go m.runWorker(task.req.SessionID, state)
	}
	select {
	case state.taskCh <- task:
		return nil
	default:
		return ErrBusy
	}
}

func (m *Manager) runWorker(sessionID string, state *workerState) {
	idle := time.NewTimer(m.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case task := <-state.taskCh:
			m.processTurn(state, task)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(m.cfg.IdleTimeout)
		case <-state.stopCh:
			state.drain(ErrSessionClosed)
			debugLog("[worker] session %s stopped", sessionID)
			return
		case <-idle.C:
			// Only unregister when the map entry is still this worker;
			// a purge plus racing enqueue may have installed a
			// replacement, which must keep its registration.
			m.mu.Lock()
			if cur, ok := m.workers[sessionID]; ok && cur == state && len(state.taskCh) == 0 {
				delete(m.workers, sessionID)
				m.mu.Unlock()
				debugLog("[worker] session %s retired after idle timeout", sessionID)
				return
			}
			m.mu.Unlock()
			idle.Reset(m.cfg.IdleTimeout)
		}
	}
}

func (m *Manager) processTurn(state *workerState, task turnTask) {
	req := task.req
	ctx := req.Context
	if ctx == nil {
		ctx = context.Background()
	}

	svc, err := state.resources(req.Model, m.factory)
	if err != nil {
		task.resultCh <- TurnResult{Err: err}
		return
	}

	turns, ok := m.appendIfActive(state, req.SessionID, models.Turn{
		Role:      models.RoleUser,
		Content:   req.Message,
		CreatedAt: time.Now().UTC(),
	})
	if !ok {
		task.resultCh <- TurnResult{Err: ErrSessionClosed}
		return
	}

	if m.sem != nil {
		m.sem <- struct{}{}
	}
	callCtx := ctx
	var cancel context.CancelFunc
	if m.cfg.RequestTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, m.cfg.RequestTimeout)
	}
	reply, err := svc.Chat(callCtx, turns)
	if cancel != nil {
		cancel()
	}
	if m.sem != nil {
		<-m.sem
	}
	if err != nil {
		// The user turn stays recorded; no assistant turn is appended.
		task.resultCh <- TurnResult{Err: err}
		return
	}

	transcript, ok := m.appendIfActive(state, req.SessionID, models.Turn{
		Role:      models.RoleAssistant,
		Content:   reply,
		CreatedAt: time.Now().UTC(),
	})
	if !ok {
		// Purged while the model call was in flight; the reply is
		// discarded rather than resurrecting the deleted transcript.
		task.resultCh <- TurnResult{Err: ErrSessionClosed}
		return
	}
	task.resultCh <- TurnResult{Reply: reply, Transcript: transcript}
}

// appendIfActive appends the turn and snapshots the transcript only
// while this worker still holds the session's registration. A purge
// removes the registration and deletes the transcript under the same
// lock, so a turn in flight across a purge can never write to the store
// again.
func (m *Manager) appendIfActive(state *workerState, sessionID string, turn models.Turn) ([]models.Turn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.workers[sessionID]; !ok || cur != state {
		return nil, false
	}
	m.store.Append(sessionID, turn)
	return m.store.Snapshot(sessionID), true
}
