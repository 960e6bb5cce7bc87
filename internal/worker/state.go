package worker

// workerState carries one session worker's queue and its cached model
// clients. Model clients are keyed by model name so switching models
// mid-session reuses an already built client.
type workerState struct {
	taskCh chan turnTask
	stopCh chan struct{}
	models map[string]AICalling
}

func newWorkerState(queueSize int) *workerState {
	return &workerState{
		taskCh: make(chan turnTask, queueSize),
		stopCh: make(chan struct{}),
		models: make(map[string]AICalling),
	}
}

// resources returns the cached client for modelName, building it on
// first use. Only the owning worker goroutine touches the cache.
func (s *workerState) resources(modelName string, factory AIFactory) (AICalling, error) {
	if svc, ok := s.models[modelName]; ok {
		return svc, nil
	}
	svc, err := factory(modelName)
	if err != nil {
		return nil, err
	}
	s.models[modelName] = svc
	return svc, nil
}

// drain fails all tasks still queued when the worker shuts down.
func (s *workerState) drain(err error) {
	for {
		select {
		case task := <-s.taskCh:
			task.resultCh <- TurnResult{Err: err}
		default:
			return
		}
	}
}
