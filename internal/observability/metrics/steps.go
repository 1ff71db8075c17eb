package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Step outcome labels.
const (
	StepOK     = "ok"
	StepFailed = "failed"
)

type stepKey struct {
	step   string
	status string
}

type stepCollector struct {
	mu       sync.Mutex
	counts   map[stepKey]uint64
	duration map[string]*histogram
}

var stepMetrics = &stepCollector{
	counts:   make(map[stepKey]uint64),
	duration: make(map[string]*histogram),
}

// ObserveStep records one orchestration step dispatch.
func ObserveStep(step, status string, duration time.Duration) {
	c := stepMetrics
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[stepKey{step: step, status: status}]++
	hist := c.duration[step]
	if hist == nil {
		hist = newHistogram()
		c.duration[step] = hist
	}
	hist.observe(duration.Seconds())
}

// StepCount returns how many times step finished with status.
func StepCount(step, status string) uint64 {
	stepMetrics.mu.Lock()
	defer stepMetrics.mu.Unlock()
	return stepMetrics.counts[stepKey{step: step, status: status}]
}

func (c *stepCollector) write(b *strings.Builder) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]stepKey, 0, len(c.counts))
	for k := range c.counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].step != keys[j].step {
			return keys[i].step < keys[j].step
		}
		return keys[i].status < keys[j].status
	})
	writeHeader(b, "eagent_steps_total", "counter", "Orchestration steps dispatched, by outcome.")
	for _, k := range keys {
		fmt.Fprintf(b, "eagent_steps_total{step=\"%s\",status=\"%s\"} %d\n", escape(k.step), k.status, c.counts[k])
	}

	steps := make([]string, 0, len(c.duration))
	for s := range c.duration {
		steps = append(steps, s)
	}
	sort.Strings(steps)
	writeHeader(b, "eagent_step_duration_seconds", "histogram", "Capability dispatch latency in seconds.")
	for _, s := range steps {
		writeHistogram(b, "eagent_step_duration_seconds", fmt.Sprintf("step=\"%s\"", escape(s)), c.duration[s])
	}
}

type eventCollector struct {
	mu     sync.Mutex
	counts map[string]uint64
}

var eventMetrics = &eventCollector{counts: make(map[string]uint64)}

// IncEvent bumps a named domain counter such as approvals_created or tasks_failed.
func IncEvent(name string, delta int) {
	if delta <= 0 {
		return
	}
	eventMetrics.mu.Lock()
	eventMetrics.counts[name] += uint64(delta)
	eventMetrics.mu.Unlock()
}

func (c *eventCollector) write(b *strings.Builder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.counts))
	for n := range c.counts {
		names = append(names, n)
	}
	sort.Strings(names)
	writeHeader(b, "eagent_events_total", "counter", "Domain events such as approvals and task outcomes.")
	for _, n := range names {
		fmt.Fprintf(b, "eagent_events_total{event=\"%s\"} %d\n", escape(n), c.counts[n])
	}
}
