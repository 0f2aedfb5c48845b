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

package globus

import (
	"fmt"
)

// indicates that the side channel is not configured (no destination endpoint)
type NotConfiguredError struct {
}

func (e NotConfiguredError) Error() string {
	return "No Globus destination endpoint is configured"
}

// indicates a failure to obtain a Globus Transfer API access token
type AuthenticationError struct {
	Message string
}

func (e AuthenticationError) Error() string {
	return fmt.Sprintf("Couldn't authenticate with Globus Auth: %s", e.Message)
}

// indicates an error reported by the Globus Transfer API
type ApiError struct {
	Code    string
	Message string
}

func (e ApiError) Error() string {
	return fmt.Sprintf("Globus Transfer API error %s: %s", e.Code, e.Message)
}

// indicates a source location that isn't a valid globus:<endpoint>/<path>
type InvalidSourceError struct {
	Source string
}

func (e InvalidSourceError) Error() string {
	return fmt.Sprintf("Invalid Globus source location: %s", e.Source)
}
