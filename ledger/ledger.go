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

// Package ledger maintains a persistent record of observed transfer
// performance, one sample per completed (or failed) transfer, and ranks
// candidate hosts by their recency-weighted transfer rates. The record
// survives process restarts, so the scheduler gets smarter over time.
package ledger

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `
CREATE TABLE IF NOT EXISTS transfers (
	timestamp     INTEGER NOT NULL,
	host          TEXT NOT NULL,
	transfer_time REAL NOT NULL,
	transfer_size REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transfers_host ON transfers(host);
`

// A Sample records one observed transfer: how many megabytes moved from a
// host and how long it took. Failed transfers are recorded with a near-zero
// size so the host's rate sinks.
type Sample struct {
	// time at which the transfer completed
	Time time.Time
	// host (or Globus endpoint id) the data came from
	Host string
	// elapsed transfer time in seconds
	Seconds float64
	// transferred size in megabytes
	Megabytes float64
}

// A Ledger wraps a SQLite database of transfer samples. All methods are safe
// for concurrent use.
type Ledger struct {
	mutex sync.Mutex
	conn  *sqlite.Conn
	// half-life of the recency weighting
	halfLife time.Duration
	// probability that an unsampled host is ranked first
	exploration float64
	// clock and rng hooks (overridden in tests)
	now  func() time.Time
	rand func() float64
}

// Opens (creating if necessary) the ledger database at the given path with
// the given recency half-life and exploration probability.
func Open(path string, halfLife time.Duration, exploration float64) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("Couldn't create ledger directory: %s", err.Error())
	}
	conn, err := sqlite.OpenConn(path)
	if err != nil {
		return nil, fmt.Errorf("Couldn't open ledger database %s: %s", path, err.Error())
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("Couldn't initialize ledger database: %s", err.Error())
	}
	return &Ledger{
		conn:        conn,
		halfLife:    halfLife,
		exploration: exploration,
		now:         time.Now,
		rand:        rand.Float64,
	}, nil
}

// closes the underlying database
func (l *Ledger) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.conn.Close()
}

// records a transfer sample
func (l *Ledger) RecordSample(sample Sample) error {
	if sample.Time.IsZero() {
		sample.Time = l.now()
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return sqlitex.Execute(l.conn,
		`INSERT INTO transfers (timestamp, host, transfer_time, transfer_size)
		 VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{sample.Time.Unix(), sample.Host, sample.Seconds, sample.Megabytes},
		})
}

// Returns the recency-weighted mean transfer rate (MB/s) for every host with
// at least one sample. Each sample's weight decays exponentially with its
// age, halving once per configured half-life, so a host that was fast last
// year but slow last week ranks as slow.
func (l *Ledger) Rates() (map[string]float64, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	type accumulator struct {
		weightedRate float64
		totalWeight  float64
	}
	acc := make(map[string]*accumulator)
	now := l.now()
	err := sqlitex.Execute(l.conn,
		`SELECT timestamp, host, transfer_time, transfer_size FROM transfers`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				timestamp := time.Unix(stmt.ColumnInt64(0), 0)
				host := stmt.ColumnText(1)
				seconds := stmt.ColumnFloat(2)
				megabytes := stmt.ColumnFloat(3)
				if seconds <= 0 {
					return nil
				}
				weight := 1.0
				if l.halfLife > 0 {
					age := now.Sub(timestamp)
					weight = math.Exp2(-age.Hours() / l.halfLife.Hours())
				}
				a, found := acc[host]
				if !found {
					a = &accumulator{}
					acc[host] = a
				}
				a.weightedRate += weight * megabytes / seconds
				a.totalWeight += weight
				return nil
			},
		})
	if err != nil {
		return nil, err
	}

	rates := make(map[string]float64, len(acc))
	for host, a := range acc {
		if a.totalWeight > 0 {
			rates[host] = a.weightedRate / a.totalWeight
		}
	}
	return rates, nil
}

// Ranks the given hosts from most to least promising: sampled hosts in
// decreasing rate order, then unsampled ("cold") hosts in their given order.
// With the configured exploration probability, one cold host is instead
// promoted to the front so new hosts eventually acquire samples.
func (l *Ledger) Rank(hosts []string) ([]string, error) {
	rates, err := l.Rates()
	if err != nil {
		return nil, err
	}

	sampled := make([]string, 0, len(hosts))
	cold := make([]string, 0)
	for _, host := range hosts {
		if _, found := rates[host]; found {
			sampled = append(sampled, host)
		} else {
			cold = append(cold, host)
		}
	}
	sort.SliceStable(sampled, func(i, j int) bool {
		return rates[sampled[i]] > rates[sampled[j]]
	})

	ranked := append(sampled, cold...)
	if len(cold) > 0 && len(sampled) > 0 && l.rand() < l.exploration {
		// promote the first cold host to the front
		promoted := ranked[len(sampled)]
		copy(ranked[1:len(sampled)+1], ranked[:len(sampled)])
		ranked[0] = promoted
	}
	return ranked, nil
}

// per-host aggregate statistics reported by Summary
type HostSummary struct {
	Host      string  `json:"host"`
	Samples   int     `json:"samples"`
	Megabytes float64 `json:"megabytes"`
	// recency-weighted mean rate (MB/s)
	Rate float64 `json:"rate"`
}

// returns aggregate statistics for every host in the ledger, fastest first
func (l *Ledger) Summary() ([]HostSummary, error) {
	rates, err := l.Rates()
	if err != nil {
		return nil, err
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()
	totals := make(map[string]*HostSummary)
	err = sqlitex.Execute(l.conn,
		`SELECT host, COUNT(*), SUM(transfer_size) FROM transfers GROUP BY host`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				host := stmt.ColumnText(0)
				totals[host] = &HostSummary{
					Host:      host,
					Samples:   stmt.ColumnInt(1),
					Megabytes: stmt.ColumnFloat(2),
					Rate:      rates[host],
				}
				return nil
			},
		})
	if err != nil {
		return nil, err
	}

	summaries := make([]HostSummary, 0, len(totals))
	for _, summary := range totals {
		summaries = append(summaries, *summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Rate > summaries[j].Rate
	})
	return summaries, nil
}
