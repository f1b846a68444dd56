package remote

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Memo shares responses between identical requests. Concurrent callers of
// the same key wait for one in-flight request; successful bodies are kept
// until Reset.
//
// A Memo is safe for concurrent use. The zero value is ready to use.
type Memo struct {
	group singleflight.Group

	mu   sync.RWMutex
	done map[string][]byte
}

func memoKey(url string, raw bool, body []byte) string {
	flag := "0"
	if raw {
		flag = "1"
	}
	return url + "|" + flag + "|" + string(body)
}

func (m *Memo) do(key string, fn func() ([]byte, error)) ([]byte, error) {
	m.mu.RLock()
	body, ok := m.done[key]
	m.mu.RUnlock()
	if ok {
		return body, nil
	}

	v, err, _ := m.group.Do(key, func() (any, error) {
		body, err := fn()
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		if m.done == nil {
			m.done = make(map[string][]byte)
		}
		m.done[key] = body
		m.mu.Unlock()
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Len returns the number of memoized responses.
func (m *Memo) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.done)
}

// Reset forgets every memoized response.
func (m *Memo) Reset() {
	m.mu.Lock()
	m.done = nil
	m.mu.Unlock()
}
