// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package layer

import (
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/portworx/lcfs/logger"
)

// Flusher periodically syncs every mounted layer's dirty pages and inodes to
// the device (spec §5/§9's background writeback), rather than relying solely
// on an explicit Commit. It can also be woken early, and drains one final
// time on Stop so nothing dirty is lost at unmount.
type Flusher struct {
	manager  *LayerManager
	interval time.Duration

	mu      sync.Mutex
	cond    *sync.Cond
	woken   bool
	stopped bool
	stopCh  chan struct{} // closed by Stop; unblocks tick's ticker wait

	wg sync.WaitGroup
}

// NewFlusher builds a Flusher for manager. interval <= 0 disables the
// periodic tick; the flusher still runs and still drains on Stop or an
// explicit Wake.
func NewFlusher(manager *LayerManager, interval time.Duration) *Flusher {
	f := &Flusher{manager: manager, interval: interval, stopCh: make(chan struct{})}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Start launches the flusher's wait/drain loop and, if interval > 0, a
// ticker goroutine that wakes it on schedule. Both goroutines are joined by
// Stop.
func (f *Flusher) Start() {
	f.wg.Add(1)
	go f.run()

	if f.interval > 0 {
		f.wg.Add(1)
		go f.tick()
	}
}

// Wake requests an out-of-schedule drain, e.g. after a Commit so the rest of
// the layer tree's dirty state gets a chance to reach disk promptly too.
func (f *Flusher) Wake() {
	f.mu.Lock()
	f.woken = true
	f.cond.Signal()
	f.mu.Unlock()
}

// Stop requests shutdown, marks the mount as unmounting so RequestDispatch
// rejects new mutating ops, drains one last time, and waits for both
// goroutines to exit.
func (f *Flusher) Stop() {
	f.manager.State().SetUnmounting()
	f.mu.Lock()
	f.stopped = true
	f.woken = true
	f.cond.Signal()
	f.mu.Unlock()
	close(f.stopCh)
	f.wg.Wait()
}

func (f *Flusher) tick() {
	defer f.wg.Done()
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			f.Wake()
		case <-f.stopCh:
			return
		}
	}
}

func (f *Flusher) run() {
	defer f.wg.Done()
	for {
		f.mu.Lock()
		for !f.woken && !f.stopped {
			f.cond.Wait()
		}
		stop := f.stopped
		f.woken = false
		f.mu.Unlock()

		f.drain()
		if stop {
			return
		}
	}
}

// drain syncs every live layer concurrently via errgroup, logging (but not
// failing the whole pass on) a single layer's sync error so one stuck layer
// doesn't block the rest of the tree's writeback.
func (f *Flusher) drain() {
	layers := f.manager.State().Layers()
	dev := f.manager.State().Device

	var eg errgroup.Group
	for _, l := range layers {
		if l == nil {
			continue
		}
		l := l
		eg.Go(func() error {
			if err := l.Sync(dev); err != nil {
				logger.Warnf("flusher: layer %q sync failed: %v", l.Name, err)
			}
			return nil
		})
	}
	_ = eg.Wait()
}
