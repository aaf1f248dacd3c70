package testutil

import (
	"sync"

	"dupefind/internal/dupe"
	"dupefind/internal/fs"
)

// FaultyPlatform is the real OS platform with injectable failures.
// Paths are matched exactly.
type FaultyPlatform struct {
	dupe.Platform

	mu        sync.Mutex
	failRead  map[string]error
	failWrite map[string]error
	onRead    map[string]func()
	writes    []string
}

// NewFaultyPlatform wraps the OS platform.
func NewFaultyPlatform() *FaultyPlatform {
	return &FaultyPlatform{
		Platform:  fs.NewOSPlatform(),
		failRead:  make(map[string]error),
		failWrite: make(map[string]error),
		onRead:    make(map[string]func()),
	}
}

// FailReadTimes makes ReadTimes(path) return err.
func (p *FaultyPlatform) FailReadTimes(path string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failRead[path] = err
}

// FailWriteTimes makes WriteTimes(path) return err.
func (p *FaultyPlatform) FailWriteTimes(path string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWrite[path] = err
}

// BeforeReadTimes runs fn once, the next time ReadTimes(path) is called.
func (p *FaultyPlatform) BeforeReadTimes(path string, fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRead[path] = fn
}

func (p *FaultyPlatform) ReadTimes(path string) (dupe.FileTimes, error) {
	p.mu.Lock()
	err := p.failRead[path]
	hook := p.onRead[path]
	delete(p.onRead, path)
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return dupe.FileTimes{}, err
	}
	return p.Platform.ReadTimes(path)
}

func (p *FaultyPlatform) WriteTimes(path string, times dupe.FileTimes) error {
	p.mu.Lock()
	err := p.failWrite[path]
	p.writes = append(p.writes, path)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	return p.Platform.WriteTimes(path, times)
}

// Writes returns every path WriteTimes was called for, in call order.
func (p *FaultyPlatform) Writes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.writes...)
}
