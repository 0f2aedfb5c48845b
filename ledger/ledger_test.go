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

package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func openTestLedger(t *testing.T, exploration float64) *Ledger {
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"),
		7*24*time.Hour, exploration)
	assert.Nil(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestOpenCreatesDirectory(t *testing.T) {
	assert := assert.New(t)
	path := filepath.Join(t.TempDir(), "nested", "dir", "ledger.db")
	l, err := Open(path, 0, 0)
	assert.Nil(err)
	assert.Nil(l.Close())
}

func TestRates(t *testing.T) {
	assert := assert.New(t)
	l := openTestLedger(t, 0)

	assert.Nil(l.RecordSample(Sample{Host: "fast.node.gov", Seconds: 10, Megabytes: 1000}))
	assert.Nil(l.RecordSample(Sample{Host: "slow.node.gov", Seconds: 100, Megabytes: 100}))

	rates, err := l.Rates()
	assert.Nil(err)
	assert.Equal(2, len(rates))
	assert.InDelta(100.0, rates["fast.node.gov"], 1e-6)
	assert.InDelta(1.0, rates["slow.node.gov"], 1e-6)
}

func TestRatesWeighRecentSamplesMoreHeavily(t *testing.T) {
	assert := assert.New(t)
	l := openTestLedger(t, 0)

	now := time.Now()
	// a host that was fast a year ago but slow yesterday
	assert.Nil(l.RecordSample(Sample{
		Time: now.Add(-365 * 24 * time.Hour), Host: "node", Seconds: 10, Megabytes: 1000,
	}))
	assert.Nil(l.RecordSample(Sample{
		Time: now.Add(-24 * time.Hour), Host: "node", Seconds: 100, Megabytes: 100,
	}))

	rates, err := l.Rates()
	assert.Nil(err)
	// the year-old sample's weight is negligible next to yesterday's
	assert.Less(rates["node"], 2.0)
	assert.Greater(rates["node"], 0.9)
}

func TestRankOrdersByRate(t *testing.T) {
	assert := assert.New(t)
	l := openTestLedger(t, 0) // no exploration

	assert.Nil(l.RecordSample(Sample{Host: "slow", Seconds: 100, Megabytes: 100}))
	assert.Nil(l.RecordSample(Sample{Host: "fast", Seconds: 10, Megabytes: 1000}))

	ranked, err := l.Rank([]string{"slow", "cold", "fast"})
	assert.Nil(err)
	assert.Equal([]string{"fast", "slow", "cold"}, ranked)
}

func TestRankExplorationPromotesColdHost(t *testing.T) {
	assert := assert.New(t)
	l := openTestLedger(t, 1.0) // always explore

	assert.Nil(l.RecordSample(Sample{Host: "fast", Seconds: 10, Megabytes: 1000}))

	ranked, err := l.Rank([]string{"fast", "cold"})
	assert.Nil(err)
	assert.Equal([]string{"cold", "fast"}, ranked)
}

func TestRankWithoutSamples(t *testing.T) {
	assert := assert.New(t)
	l := openTestLedger(t, 1.0)

	// with no sampled hosts there is nothing to explore past
	ranked, err := l.Rank([]string{"a", "b"})
	assert.Nil(err)
	assert.Equal([]string{"a", "b"}, ranked)
}

func TestLedgerSurvivesReopen(t *testing.T) {
	assert := assert.New(t)
	path := filepath.Join(t.TempDir(), "ledger.db")

	l, err := Open(path, 7*24*time.Hour, 0)
	assert.Nil(err)
	assert.Nil(l.RecordSample(Sample{Host: "node", Seconds: 10, Megabytes: 100}))
	assert.Nil(l.Close())

	l, err = Open(path, 7*24*time.Hour, 0)
	assert.Nil(err)
	defer l.Close()
	rates, err := l.Rates()
	assert.Nil(err)
	assert.InDelta(10.0, rates["node"], 1e-6)
}

func TestSummary(t *testing.T) {
	assert := assert.New(t)
	l := openTestLedger(t, 0)

	assert.Nil(l.RecordSample(Sample{Host: "fast", Seconds: 10, Megabytes: 1000}))
	assert.Nil(l.RecordSample(Sample{Host: "fast", Seconds: 10, Megabytes: 1000}))
	assert.Nil(l.RecordSample(Sample{Host: "slow", Seconds: 100, Megabytes: 100}))

	summaries, err := l.Summary()
	assert.Nil(err)
	assert.Equal(2, len(summaries))
	assert.Equal("fast", summaries[0].Host)
	assert.Equal(2, summaries[0].Samples)
	assert.InDelta(2000.0, summaries[0].Megabytes, 1e-6)
	assert.Equal("slow", summaries[1].Host)
}
