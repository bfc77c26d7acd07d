package security

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/resgraph/internal/graph"
)

// DefaultDebounce is how long a policy file must be quiet before it is
// reloaded.
const DefaultDebounce = 200 * time.Millisecond

// PolicyOracle decides with the policy loaded from a file and reloads it
// when the file changes. A file that fails to load leaves the previous
// policy in force.
//
// Thread-safety: Permit is lock-free; reloads swap the policy pointer.
type PolicyOracle struct {
	path     string
	debounce time.Duration
	policy   atomic.Pointer[Policy]

	mu       sync.Mutex
	onReload []func()

	fsw  *fsnotify.Watcher
	done chan struct{}
	wg   sync.WaitGroup
}

// PolicyOption configures a PolicyOracle.
type PolicyOption func(*PolicyOracle)

// WithDebounce sets the reload debounce. Default: DefaultDebounce.
func WithDebounce(d time.Duration) PolicyOption {
	return func(o *PolicyOracle) {
		if d > 0 {
			o.debounce = d
		}
	}
}

// NewPolicyOracle loads the policy at path. Call Watch to follow changes.
func NewPolicyOracle(path string, opts ...PolicyOption) (*PolicyOracle, error) {
	p, err := LoadPolicy(path)
	if err != nil {
		return nil, err
	}
	o := &PolicyOracle{path: path, debounce: DefaultDebounce}
	for _, opt := range opts {
		opt(o)
	}
	o.policy.Store(p)
	return o, nil
}

// Permit implements graph.Oracle.
func (o *PolicyOracle) Permit(owner, path string, op graph.Operation) bool {
	return o.policy.Load().Permit(owner, path, op)
}

// Policy returns the policy in force.
func (o *PolicyOracle) Policy() *Policy {
	return o.policy.Load()
}

// OnReload registers fn to run after every successful reload.
func (o *PolicyOracle) OnReload(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onReload = append(o.onReload, fn)
}

// Reload reads the file again.
func (o *PolicyOracle) Reload() error {
	p, err := LoadPolicy(o.path)
	if err != nil {
		return err
	}
	o.policy.Store(p)

	o.mu.Lock()
	fns := append([]func(){}, o.onReload...)
	o.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	slog.Info("security policy reloaded", "path", o.path, "rules", len(p.Rules))
	return nil
}

// Watch starts following the policy file. The directory is watched so
// editors that replace the file are noticed.
func (o *PolicyOracle) Watch() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(o.path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return fmt.Errorf("watching directory %s: %w", dir, err)
	}
	o.fsw = fsw
	o.done = make(chan struct{})
	o.wg.Add(1)
	go o.loop()
	return nil
}

// Close stops watching.
func (o *PolicyOracle) Close() error {
	if o.fsw == nil {
		return nil
	}
	close(o.done)
	err := o.fsw.Close()
	o.wg.Wait()
	o.fsw = nil
	return err
}

func (o *PolicyOracle) loop() {
	defer o.wg.Done()

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	target := filepath.Clean(o.path)
	for {
		select {
		case ev, ok := <-o.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(o.debounce)

		case <-debounce.C:
			if err := o.Reload(); err != nil {
				slog.Warn("security policy reload failed, keeping previous policy", "path", o.path, "error", err)
			}

		case err, ok := <-o.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("security policy watcher error", "path", o.path, "error", err)

		case <-o.done:
			return
		}
	}
}
