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
	"time"

	"github.com/google/uuid"

	"github.com/esgf2-us/esgcat/catalog"
	"github.com/esgf2-us/esgcat/ledger"
)

// The bulk side channel hands batches of files to a managed-transfer
// service (Globus) instead of the worker pool: eligible files are
// partitioned out up front, submitted as one task, and awaited after the
// pool has drained.

// status codes for bulk transfer tasks
type TaskStatusCode int

const (
	TaskUnknown TaskStatusCode = iota
	TaskStaging
	TaskActive
	TaskSucceeded
	TaskFailed
)

// the status of a bulk transfer task
type TaskStatus struct {
	Code    TaskStatusCode
	Message string
}

// one file within a bulk transfer request
type BulkFile struct {
	// source location (globus:<endpoint>/<path>)
	Source string
	// absolute local destination path
	Destination string
}

// BulkClient defines the interface to a managed bulk-transfer service.
type BulkClient interface {
	// submits a batch transfer, returning its task ID
	Submit(ctx context.Context, files []BulkFile) (uuid.UUID, error)
	// reports the status of the task with the given ID
	Status(ctx context.Context, taskId uuid.UUID) (TaskStatus, error)
	// cancels the task with the given ID (best effort)
	Cancel(ctx context.Context, taskId uuid.UUID) error
}

// an in-flight bulk task and the files riding on it
type bulkJob struct {
	taskId    uuid.UUID
	files     []catalog.FileRecord
	dests     map[string]string // logical path -> destination
	hosts     map[string]string // logical path -> endpoint host
	submitted time.Time
}

// Submits the given files as one bulk task. Each file's first globus
// candidate supplies the source location.
func (s *Scheduler) submitBulk(ctx context.Context, files []catalog.FileRecord) (*bulkJob, error) {
	job := &bulkJob{
		files: files,
		dests: make(map[string]string),
		hosts: make(map[string]string),
	}
	request := make([]BulkFile, 0, len(files))
	for _, file := range files {
		candidate, found := globusCandidate(file)
		if !found {
			continue
		}
		dest := s.destination(file.Path)
		job.dests[file.Path] = dest
		job.hosts[file.Path] = candidate.Host
		request = append(request, BulkFile{
			Source:      candidate.Location,
			Destination: dest,
		})
	}

	taskId, err := s.bulk.Submit(ctx, request)
	if err != nil {
		return nil, err
	}
	job.taskId = taskId
	job.submitted = time.Now()
	s.session.Log("transfer", "submitted bulk task %s (%d files)",
		taskId.String(), len(request))
	return job, nil
}

// Blocks until the job reaches a terminal state, polling at the configured
// interval, then verifies every file it carried with the same rule as
// pool transfers. Per-file ledger samples are keyed by the source endpoint.
func (s *Scheduler) awaitBulk(ctx context.Context, job *bulkJob, result *Result) {
	interval := time.Duration(s.conf.Service.PollInterval) * time.Millisecond
	var status TaskStatus
	var err error
	for {
		status, err = s.bulk.Status(ctx, job.taskId)
		if err == nil && (status.Code == TaskSucceeded || status.Code == TaskFailed) {
			break
		}
		select {
		case <-ctx.Done():
			s.bulk.Cancel(context.Background(), job.taskId)
			status = TaskStatus{Code: TaskFailed, Message: ctx.Err().Error()}
		case <-time.After(interval):
			continue
		}
		break
	}
	elapsed := time.Since(job.submitted).Seconds()

	for _, file := range job.files {
		dest := job.dests[file.Path]
		host := job.hosts[file.Path]

		if status.Code != TaskSucceeded {
			taskErr := &BulkTaskError{TaskId: job.taskId.String(), Message: status.Message}
			s.session.Warn("bulk transfer of %s failed: %s", file.Path, taskErr.Error())
			s.recordFailure(host, elapsed)
			result.fail(file.Path, taskErr)
			continue
		}
		if err := verifyLocal(dest, file); err != nil {
			s.session.Warn("bulk transfer of %s failed verification: %s",
				file.Path, err.Error())
			s.recordFailure(host, elapsed)
			result.fail(file.Path, err)
			continue
		}
		s.ledger.RecordSample(ledger.Sample{
			Host:      host,
			Seconds:   elapsed,
			Megabytes: float64(file.Size) / 1e6,
		})
		s.session.Log("transfer", "bulk transfer of %s verified", file.Path)
		result.satisfy(file.Path, dest, true)
	}
}

// returns a file's first globus access candidate
func globusCandidate(file catalog.FileRecord) (catalog.AccessCandidate, bool) {
	for _, candidate := range file.Candidates {
		if candidate.Kind == catalog.KindGlobus {
			return candidate, true
		}
	}
	return catalog.AccessCandidate{}, false
}

// reports whether the scheduler would route a file through the bulk channel
func (s *Scheduler) bulkEligible(file catalog.FileRecord) bool {
	if s.bulk == nil {
		return false
	}
	_, found := globusCandidate(file)
	return found
}
