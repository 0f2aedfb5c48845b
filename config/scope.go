// Copyright (c) 2024 The ESGF2-US Project and its Contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package config

import (
	"sync"
)

// A Scope is a handle to a temporary configuration override. Overrides are
// serialized by a lock held for the lifetime of the scope, so two goroutines
// can never interleave modifications to the same shared configuration. The
// previous snapshot is restored when the scope is released.
type Scope struct {
	target *Config
	saved  Config
	once   sync.Once
}

var overrideMutex sync.Mutex

// Applies the given modification to a shared configuration, returning a
// Scope that must be released (usually with defer) to restore the previous
// snapshot:
//
//	scope := config.Override(&conf, func(c *config.Config) {
//	    c.Fetch.BreakOnError = false
//	})
//	defer scope.Release()
func Override(target *Config, apply func(*Config)) *Scope {
	overrideMutex.Lock()
	scope := &Scope{
		target: target,
		saved:  target.Clone(),
	}
	apply(target)
	return scope
}

// restores the configuration to its state before the override and releases
// the override lock (subsequent calls have no effect)
func (s *Scope) Release() {
	s.once.Do(func() {
		*s.target = s.saved
		overrideMutex.Unlock()
	})
}
