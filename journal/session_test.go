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

package journal

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionLogsEventsInOrder(t *testing.T) {
	assert := assert.New(t)

	session := NewSession()
	session.Log("search", "queried %d indices", 3)
	session.Warn("index '%s' is unavailable", "ornl")
	session.Log("resolve", "resolved 10 files")

	events := session.Events()
	assert.Equal(3, len(events))
	assert.Equal("search", events[0].Type)
	assert.Equal("queried 3 indices", events[0].Message)
	assert.Equal("warning", events[1].Type)
	assert.Equal("resolve", events[2].Type)

	warnings := session.Warnings()
	assert.Equal([]string{"index 'ornl' is unavailable"}, warnings)
}

func TestSessionEventsAreCopies(t *testing.T) {
	assert := assert.New(t)

	session := NewSession()
	session.Log("search", "first")
	events := session.Events()
	session.Log("search", "second")
	assert.Equal(1, len(events))
	assert.Equal(2, len(session.Events()))
}

func TestSessionConcurrentAppends(t *testing.T) {
	assert := assert.New(t)

	session := NewSession()
	var group sync.WaitGroup
	for i := 0; i < 10; i++ {
		group.Add(1)
		go func() {
			defer group.Done()
			for j := 0; j < 100; j++ {
				session.Log("transfer", "chunk")
			}
		}()
	}
	group.Wait()
	assert.Equal(1000, len(session.Events()))
}
