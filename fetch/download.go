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

package fetch

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/esgf2-us/esgcat/catalog"
	"github.com/esgf2-us/esgcat/ledger"
)

// interval at which the slow-transfer monitor samples progress
const monitorInterval = time.Second

// Downloads a file from the given candidate into dest, hashing as it
// copies. The transfer lands in a temporary sibling of dest and is renamed
// into place only after its size and checksum verify, so dest never holds a
// partial or corrupt file. A transfer whose rate stays below the configured
// threshold for a full slow window is cancelled early. Outcomes (elapsed
// time, payload) are recorded in the performance ledger either way.
func (s *Scheduler) download(ctx context.Context, candidate catalog.AccessCandidate,
	file catalog.FileRecord, dest string) error {
	started := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet,
		candidate.Location, http.NoBody)
	if err != nil {
		return &TransferError{Location: candidate.Location, Message: err.Error()}
	}
	response, err := s.client.Do(request)
	if err != nil {
		s.recordFailure(candidate.Host, time.Since(started).Seconds())
		return &TransferError{Location: candidate.Location, Message: err.Error()}
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		s.recordFailure(candidate.Host, time.Since(started).Seconds())
		return &TransferError{
			Location: candidate.Location,
			Message:  fmt.Sprintf("status %d", response.StatusCode),
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return &TransferError{Location: candidate.Location, Message: err.Error()}
	}
	temp := fmt.Sprintf("%s.part-%s", dest, uuid.New().String())
	writer, err := os.Create(temp)
	if err != nil {
		return &TransferError{Location: candidate.Location, Message: err.Error()}
	}

	// copy with the slow-transfer monitor watching progress
	var transferred atomic.Int64
	var tooSlow atomic.Bool
	monitorDone := make(chan struct{})
	go s.monitorRate(ctx, &transferred, &tooSlow, cancel, monitorDone)

	hasher := hashFor(file.ChecksumType)
	var sink io.Writer = writer
	if hasher != nil {
		sink = io.MultiWriter(writer, hasher)
	}
	_, copyErr := io.Copy(&countingWriter{sink, &transferred}, response.Body)
	cancel()
	<-monitorDone
	closeErr := writer.Close()
	elapsed := time.Since(started).Seconds()

	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(temp)
		s.recordFailure(candidate.Host, elapsed)
		if tooSlow.Load() {
			rate := float64(transferred.Load()) / 1e6 / elapsed
			return &SlowTransferError{Location: candidate.Location, Rate: rate}
		}
		return &TransferError{Location: candidate.Location, Message: copyErr.Error()}
	}

	if err := verifyTransfer(temp, transferred.Load(), hasher, file); err != nil {
		os.Remove(temp)
		s.recordFailure(candidate.Host, elapsed)
		return err
	}
	if err := os.Rename(temp, dest); err != nil {
		os.Remove(temp)
		return &TransferError{Location: candidate.Location, Message: err.Error()}
	}

	s.ledger.RecordSample(ledger.Sample{
		Host:      candidate.Host,
		Seconds:   elapsed,
		Megabytes: float64(transferred.Load()) / 1e6,
	})
	return nil
}

// Cancels the transfer when its rate over the trailing slow window stays
// below the configured threshold (MB/s). A threshold of zero disables the
// monitor. Closes done on exit.
func (s *Scheduler) monitorRate(ctx context.Context, transferred *atomic.Int64,
	tooSlow *atomic.Bool, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	threshold := s.conf.Fetch.SlowThreshold
	window := s.conf.Fetch.SlowWindow
	if threshold <= 0 || window <= 0 {
		return
	}

	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	progress := []int64{0}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		progress = append(progress, transferred.Load())
		if len(progress) <= window {
			continue
		}
		first := progress[len(progress)-1-window]
		last := progress[len(progress)-1]
		rate := float64(last-first) / 1e6 / (float64(window) * monitorInterval.Seconds())
		if rate < threshold {
			tooSlow.Store(true)
			cancel()
			return
		}
	}
}

// checks a completed transfer's size and checksum against the file record
func verifyTransfer(path string, size int64, hasher hash.Hash,
	file catalog.FileRecord) error {
	if file.Size > 0 && size != file.Size {
		return &VerificationError{
			Path:     file.Path,
			Expected: fmt.Sprintf("%d bytes", file.Size),
			Actual:   fmt.Sprintf("%d bytes", size),
		}
	}
	if hasher != nil && file.Checksum != "" {
		actual := hex.EncodeToString(hasher.Sum(nil))
		if actual != file.Checksum {
			return &VerificationError{
				Path:     file.Path,
				Expected: file.Checksum,
				Actual:   actual,
			}
		}
	}
	return nil
}

// Checks whether path already holds a verified copy of the file: its size
// must match when known, and its checksum must match when both a checksum
// and a supported checksum type are known. A zero-size record with no
// checksum verifies on existence alone.
func verifyLocal(path string, file catalog.FileRecord) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if file.Size > 0 && info.Size() != file.Size {
		return &VerificationError{
			Path:     file.Path,
			Expected: fmt.Sprintf("%d bytes", file.Size),
			Actual:   fmt.Sprintf("%d bytes", info.Size()),
		}
	}
	hasher := hashFor(file.ChecksumType)
	if hasher == nil || file.Checksum == "" {
		return nil
	}
	reader, err := os.Open(path)
	if err != nil {
		return err
	}
	defer reader.Close()
	if _, err := io.Copy(hasher, reader); err != nil {
		return err
	}
	actual := hex.EncodeToString(hasher.Sum(nil))
	if actual != file.Checksum {
		return &VerificationError{Path: file.Path, Expected: file.Checksum, Actual: actual}
	}
	return nil
}

// returns a hasher for the given checksum type (nil if unsupported)
func hashFor(checksumType string) hash.Hash {
	switch checksumType {
	case "md5":
		return md5.New()
	case "sha1":
		return sha1.New()
	case "sha256":
		return sha256.New()
	case "sha512":
		return sha512.New()
	}
	return nil
}

// counts bytes as they pass through to the underlying writer
type countingWriter struct {
	writer io.Writer
	count  *atomic.Int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n, err := w.writer.Write(p)
	w.count.Add(int64(n))
	return n, err
}
