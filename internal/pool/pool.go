// Package pool meters concurrent model usage: local runtime slots and
// hosted API slots are counted separately and never block callers.
package pool

import (
	"sync"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/errors"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/logging"
)

// Status is a point-in-time snapshot of one resource's slots.
type Status struct {
	Capacity int      `json:"capacity"`
	InUse    int      `json:"in_use"`
	Holders  []string `json:"holders,omitempty"`
}

// Snapshot reports both resources for the status endpoint.
type Snapshot struct {
	Ollama Status `json:"ollama"`
	Claude Status `json:"claude"`
}

// ResourcePool tracks which task holds which slot. Acquire is idempotent
// per task: a task re-acquiring the resource it already holds is a no-op,
// so crash-retry paths never double-count.
type ResourcePool struct {
	mu       sync.Mutex
	capacity map[domain.ResourceType]int
	holders  map[domain.ResourceType]map[string]struct{} // resource -> taskID set
	logger   logging.Logger
}

// New creates a pool with the given slot counts.
func New(ollamaSlots, claudeSlots int, logger logging.Logger) *ResourcePool {
	return &ResourcePool{
		capacity: map[domain.ResourceType]int{
			domain.ResourceOllama: ollamaSlots,
			domain.ResourceClaude: claudeSlots,
		},
		holders: map[domain.ResourceType]map[string]struct{}{
			domain.ResourceOllama: {},
			domain.ResourceClaude: {},
		},
		logger: logging.OrNop(logger),
	}
}

// CanAcquire reports whether a slot is free without taking it. A task that
// already holds the resource can always "acquire" again.
func (p *ResourcePool) CanAcquire(resource domain.ResourceType, taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canAcquireLocked(resource, taskID)
}

func (p *ResourcePool) canAcquireLocked(resource domain.ResourceType, taskID string) bool {
	held, ok := p.holders[resource]
	if !ok {
		return false
	}
	if _, already := held[taskID]; already {
		return true
	}
	return len(held) < p.capacity[resource]
}

// Acquire takes a slot for the task. It never blocks: when the pool is
// exhausted it returns ResourceBusy immediately and the caller decides
// whether to queue or skip.
func (p *ResourcePool) Acquire(resource domain.ResourceType, taskID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	held, ok := p.holders[resource]
	if !ok {
		return errors.E(errors.KindValidation, "unknown resource %q", resource)
	}
	if _, already := held[taskID]; already {
		return nil
	}
	if len(held) >= p.capacity[resource] {
		return errors.E(errors.KindResourceBusy, "%s pool exhausted (%d/%d)", resource, len(held), p.capacity[resource])
	}
	held[taskID] = struct{}{}
	p.logger.Debug("acquired %s slot for task %s (%d/%d)", resource, taskID, len(held), p.capacity[resource])
	return nil
}

// Release frees the task's slot. Releasing a slot the task does not hold
// is a no-op, so double-release in cleanup paths is harmless.
func (p *ResourcePool) Release(resource domain.ResourceType, taskID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	held, ok := p.holders[resource]
	if !ok {
		return
	}
	if _, holds := held[taskID]; !holds {
		return
	}
	delete(held, taskID)
	p.logger.Debug("released %s slot for task %s (%d/%d)", resource, taskID, len(held), p.capacity[resource])
}

// ReleaseAll frees every slot the task holds across both resources.
func (p *ResourcePool) ReleaseAll(taskID string) {
	for _, resource := range []domain.ResourceType{domain.ResourceOllama, domain.ResourceClaude} {
		p.Release(resource, taskID)
	}
}

// Holds reports which resource, if any, the task currently occupies.
func (p *ResourcePool) Holds(taskID string) (domain.ResourceType, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for resource, held := range p.holders {
		if _, ok := held[taskID]; ok {
			return resource, true
		}
	}
	return "", false
}

// Status snapshots both resources.
func (p *ResourcePool) Status() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		Ollama: p.statusLocked(domain.ResourceOllama),
		Claude: p.statusLocked(domain.ResourceClaude),
	}
}

func (p *ResourcePool) statusLocked(resource domain.ResourceType) Status {
	held := p.holders[resource]
	st := Status{Capacity: p.capacity[resource], InUse: len(held)}
	for taskID := range held {
		st.Holders = append(st.Holders, taskID)
	}
	return st
}

// Clear drops all holders. Used when the engine restarts and persisted
// task state has already been failed out.
func (p *ResourcePool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for resource := range p.holders {
		p.holders[resource] = map[string]struct{}{}
	}
}
