package app

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Profiler keeps the last duration of each named scope and a set of
// counters. Scopes are written on the graphics thread and read from anywhere.
type Profiler struct {
	mu         sync.Mutex
	scopes     map[string]time.Duration
	startTimes map[string]time.Time
	counts     map[string]int
	order      []string
}

func NewProfiler() *Profiler {
	return &Profiler{
		scopes:     make(map[string]time.Duration),
		startTimes: make(map[string]time.Time),
		counts:     make(map[string]int),
		order:      make([]string, 0),
	}
}

func (p *Profiler) BeginScope(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startTimes[name] = time.Now()
	if _, seen := p.scopes[name]; !seen {
		p.order = append(p.order, name)
		p.scopes[name] = 0
	}
}

func (p *Profiler) EndScope(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if start, ok := p.startTimes[name]; ok {
		p.scopes[name] = time.Since(start)
		delete(p.startTimes, name)
	}
}

func (p *Profiler) SetCount(name string, count int) {
	p.mu.Lock()
	p.counts[name] = count
	p.mu.Unlock()
}

func (p *Profiler) Scope(name string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scopes[name]
}

func (p *Profiler) Count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[name]
}

// Reset zeroes the timings but keeps scope order.
func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k := range p.scopes {
		p.scopes[k] = 0
	}
}

func (p *Profiler) GetStatsString() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("Timings (CPU):\n")
	for _, name := range p.order {
		ms := float64(p.scopes[name].Microseconds()) / 1000.0
		sb.WriteString(fmt.Sprintf("  %-15s: %.2f ms\n", name, ms))
	}

	sb.WriteString("\nStats:\n")
	keys := make([]string, 0, len(p.counts))
	for k := range p.counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("  %-15s: %d\n", k, p.counts[k]))
	}
	return sb.String()
}
