package expect

import (
	"context"
	"sync"
	"time"

	"custody-relay-sol/internal/pkg/logger"
	"custody-relay-sol/internal/relayerr"
)

const defaultSweepInterval = 30 * time.Second

// MemoryStore 进程内预期存储，适用于单实例部署。
// 后台清扫协程周期性移除过期记录；Get 自身也做过期判定，
// 因此清扫延迟不会放大重放窗口。
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Expectation

	sweepInterval time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once

	now func() time.Time // 测试注入
}

func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	return &MemoryStore{
		entries:       make(map[string]*Expectation),
		sweepInterval: sweepInterval,
		stopCh:        make(chan struct{}),
		now:           time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, exp *Expectation) (string, error) {
	if exp.ID == "" {
		id, err := NewRequestID()
		if err != nil {
			return "", err
		}
		exp.ID = id
	}
	if exp.CreatedAt == 0 {
		exp.CreatedAt = s.now().Unix()
	}

	s.mu.Lock()
	s.entries[exp.ID] = exp
	s.mu.Unlock()
	return exp.ID, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Expectation, error) {
	s.mu.RLock()
	exp, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, relayerr.ErrNotFound
	}
	if exp.Expired(s.now()) {
		// 过期即视同已删除，fail closed
		s.mu.Lock()
		delete(s.entries, id)
		s.mu.Unlock()
		return nil, relayerr.ErrNotFound
	}
	return exp, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}

// Start 启动过期清扫循环，实现 go-zero service.Service
func (s *MemoryStore) Start() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *MemoryStore) sweep() {
	now := s.now()
	var removed int

	s.mu.Lock()
	for id, exp := range s.entries {
		if exp.Expired(now) {
			delete(s.entries, id)
			removed++
		}
	}
	remaining := len(s.entries)
	s.mu.Unlock()

	if removed > 0 {
		logger.Infof("[expect] sweep removed=%d remaining=%d", removed, remaining)
	}
}

// Len 当前在途预期数量（监控/测试用）
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
