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

package indices

import (
	"sync"

	"github.com/esgf2-us/esgcat/config"
)

// a function that creates an index from its configuration
type Factory func(conf config.IndexConfig) (Index, error)

// the provider and instance tables are shared by every request handler, so
// access goes through this mutex
var registryMutex sync.Mutex

// we maintain a table of index providers, identified by their names
var allProviders = make(map[string]Factory)

// we maintain a table of index instances, identified by their names
var allIndices = make(map[string]Index)

// Registers a provider under the given name so that indices configured with
// that provider can be created with New. Call this at startup for each
// supported backend family.
func RegisterProvider(name string, factory Factory) error {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	if _, found := allProviders[name]; found {
		return &AlreadyRegisteredError{Provider: name}
	}
	allProviders[name] = factory
	return nil
}

// creates an index based on the configured provider, or returns an existing
// instance
func New(name string, conf config.IndexConfig) (Index, error) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	// do we have one of these already?
	if index, found := allIndices[name]; found {
		return index, nil
	}
	factory, found := allProviders[conf.Provider]
	if !found {
		return nil, &NotFoundError{Provider: conf.Provider}
	}
	index, err := factory(conf)
	if err == nil {
		allIndices[name] = index // stash it
	}
	return index, err
}

// discards all index instances (providers remain registered); used by tests
// and by callers reloading their configuration
func Reset() {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	allIndices = make(map[string]Index)
}
