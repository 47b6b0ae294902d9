package verify

import (
	"context"
	"net/http"
	"sync"
)

// CaptureProvider records provider calls and replays scripted results, for
// use in handler and integration tests.
type CaptureProvider struct {
	mu sync.Mutex

	// Unconfigured makes Configured report false.
	Unconfigured bool

	// IssueResult and CheckResult are returned by the respective calls. A
	// nil result yields a 2xx pending (issue) or approved (check) result.
	IssueResult *Result
	CheckResult *Result
	// IssueErr and CheckErr, when set, are returned instead of a result.
	IssueErr error
	CheckErr error

	Issues []CaptureCall
	Checks []CaptureCall
}

// CaptureCall records a single provider invocation.
type CaptureCall struct {
	Phone string
	Code  string
}

func (c *CaptureProvider) Configured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.Unconfigured
}

func (c *CaptureProvider) IssueCode(_ context.Context, phone string) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Issues = append(c.Issues, CaptureCall{Phone: phone})
	if c.IssueErr != nil {
		return nil, c.IssueErr
	}
	if c.IssueResult != nil {
		return c.IssueResult, nil
	}
	return &Result{OK: true, HTTPStatus: http.StatusCreated, Status: StatusPending}, nil
}

func (c *CaptureProvider) CheckCode(_ context.Context, phone, code string) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Checks = append(c.Checks, CaptureCall{Phone: phone, Code: code})
	if c.CheckErr != nil {
		return nil, c.CheckErr
	}
	if c.CheckResult != nil {
		return c.CheckResult, nil
	}
	return &Result{OK: true, HTTPStatus: http.StatusOK, Status: StatusApproved}, nil
}

// Calls returns the total number of provider calls made.
func (c *CaptureProvider) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Issues) + len(c.Checks)
}

// Reset clears all recorded calls.
func (c *CaptureProvider) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Issues = nil
	c.Checks = nil
}
