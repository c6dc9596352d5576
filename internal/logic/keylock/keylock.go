// Package keylock 提供按 key 的互斥锁：同一 key 同一时刻至多一个持有者，
// 不同 key 完全并行。锁条目按引用计数管理，无竞争时不留任何残留。
//
// 获取成功返回 release 闭包，调用方必须以 defer 保证每条路径恰好释放一次
// （重复调用 release 是安全的空操作）。锁被持有期间不会自动过期：
// 自动回收一把仍被持有的锁可能导致两笔并发广播，泄漏锁的代价
// （该 key 永久阻塞，需重启进程）是明确接受的运维风险。
//
// 等待者唤醒顺序未定义（非 FIFO），持续高争用下理论上存在饿死可能。
package keylock

import (
	"context"
	"sync"
)

type entry struct {
	ch   chan struct{} // 容量 1，持有即占用
	refs int
}

// KeyedLock 按字符串 key 串行化的互斥原语
type KeyedLock struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func New() *KeyedLock {
	return &KeyedLock{entries: make(map[string]*entry)}
}

// Lock 阻塞直到取得 key 的锁或 ctx 结束。
// 成功时返回 release 闭包；ctx 结束时返回 ctx.Err()。
func (l *KeyedLock) Lock(ctx context.Context, key string) (release func(), err error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.unref(key, e)
		})
	}, nil
}

func (l *KeyedLock) unref(key string, e *entry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
	l.mu.Unlock()
}

// Held 判断 key 当前是否存在持有者或等待者（监控/测试用）
func (l *KeyedLock) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[key]
	return ok
}
