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
	"fmt"
)

// indicates that one transfer attempt against one candidate failed (the
// scheduler retries the next-ranked candidate)
type TransferError struct {
	Location string
	Message  string
}

func (e TransferError) Error() string {
	return fmt.Sprintf("Transfer from %s failed: %s", e.Location, e.Message)
}

// indicates that a transfer was cancelled early because its measured rate
// stayed below the configured threshold for the sustained window
type SlowTransferError struct {
	Location string
	Rate     float64 // MB/s at cancellation
}

func (e SlowTransferError) Error() string {
	return fmt.Sprintf("Transfer from %s cancelled: rate %.2f MB/s stayed below threshold",
		e.Location, e.Rate)
}

// indicates that a transferred file failed checksum or size verification
// (treated like a transfer failure; the corrupt bytes are discarded)
type VerificationError struct {
	Path     string
	Expected string
	Actual   string
}

func (e VerificationError) Error() string {
	return fmt.Sprintf("Verification of %s failed: expected %s, got %s",
		e.Path, e.Expected, e.Actual)
}

// indicates that every access candidate for a file failed
type ExhaustedError struct {
	Path     string
	Attempts int
}

func (e ExhaustedError) Error() string {
	return fmt.Sprintf("All %d access candidates for %s failed", e.Attempts, e.Path)
}

// indicates that a bulk transfer task reached a failed terminal state
type BulkTaskError struct {
	TaskId  string
	Message string
}

func (e BulkTaskError) Error() string {
	return fmt.Sprintf("Bulk transfer task %s failed: %s", e.TaskId, e.Message)
}
