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
	"fmt"
)

// This error type is returned when an index provider is sought but not found.
type NotFoundError struct {
	Provider string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("The index provider '%s' was not found", e.Provider)
}

// indicates that a provider is already registered and an attempt has been
// made to register it again
type AlreadyRegisteredError struct {
	Provider string
}

func (e AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("Cannot register index provider '%s': already registered", e.Provider)
}

// indicates that an index failed to respond or timed out; the federation
// engine recovers from this locally and surfaces it only as a warning
type UnavailableError struct {
	Index, Message string
}

func (e UnavailableError) Error() string {
	return fmt.Sprintf("Index '%s' is unavailable: %s", e.Index, e.Message)
}

// indicates that a request to an index was redirected from HTTPS to HTTP
type DowngradedRedirectError struct {
	Endpoint string
}

func (e DowngradedRedirectError) Error() string {
	return fmt.Sprintf("Request redirected to insecure endpoint %s", e.Endpoint)
}

// indicates that an index returned a payload the adapter could not interpret
type InvalidResponseError struct {
	Index, Message string
}

func (e InvalidResponseError) Error() string {
	return fmt.Sprintf("Index '%s' returned an invalid response: %s", e.Index, e.Message)
}
