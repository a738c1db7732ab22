package main

import "sync"

type counter struct {
	mu sync.Mutex
	n  map[string]int64
}

func newCounter() *counter {
	return &counter{n: make(map[string]int64)}
}

func (c *counter) add(key string) {
	c.mu.Lock()
	c.n[key]++
	c.mu.Unlock()
}

func (c *counter) snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.n))
	for k, v := range c.n {
		out[k] = v
	}
	return out
}
