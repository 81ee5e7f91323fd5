package loginlimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
	"github.com/google/uuid"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body any) error
	GetLastResponseStatus() int
}

// Subject is the identifier and client IP a scenario logs in as. Each
// scenario gets its own so scenarios never share counters on a live server.
type Subject struct {
	Identifier string
	IP         string
}

// RegisterSteps registers login attempt step definitions and returns the
// scenario's subject for other step packages to act on.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) *Subject {
	steps := &loginlimitSteps{tc: tc, subject: &Subject{}}

	ctx.Step(`^a fresh login subject$`, steps.freshSubject)
	ctx.Step(`^the subject moves to a new IP$`, steps.newIP)

	ctx.Step(`^I check the login attempt$`, steps.check)
	ctx.Step(`^I check a login attempt from IP "([^"]*)"$`, steps.checkFromIP)
	ctx.Step(`^I record (\d+) failed logins?$`, steps.recordFailures)
	ctx.Step(`^I record a successful login$`, steps.recordSuccess)

	ctx.Step(`^every failure before the last should have returned (\d+)$`, steps.earlierFailuresReturned)

	return steps.subject
}

type loginlimitSteps struct {
	tc       TestContext
	subject  *Subject
	statuses []int
}

func (s *loginlimitSteps) freshSubject(ctx context.Context) error {
	id := uuid.NewString()
	s.subject.Identifier = fmt.Sprintf("user-%s@example.com", id)
	return s.newIP(ctx)
}

// newIP picks an address in the IPv6 documentation range.
func (s *loginlimitSteps) newIP(ctx context.Context) error {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	s.subject.IP = fmt.Sprintf("2001:db8:%s:%s:%s:%s::1", hex[0:4], hex[4:8], hex[8:12], hex[12:16])
	return nil
}

func (s *loginlimitSteps) body(ip string) map[string]any {
	return map[string]any{
		"identifier": s.subject.Identifier,
		"ip":         ip,
	}
}

func (s *loginlimitSteps) check(ctx context.Context) error {
	return s.tc.POST("/v1/login-attempts/check", s.body(s.subject.IP))
}

func (s *loginlimitSteps) checkFromIP(ctx context.Context, ip string) error {
	return s.tc.POST("/v1/login-attempts/check", s.body(ip))
}

func (s *loginlimitSteps) recordFailures(ctx context.Context, n int) error {
	s.statuses = s.statuses[:0]
	for range n {
		if err := s.tc.POST("/v1/login-attempts/failure", s.body(s.subject.IP)); err != nil {
			return err
		}
		s.statuses = append(s.statuses, s.tc.GetLastResponseStatus())
	}
	return nil
}

func (s *loginlimitSteps) recordSuccess(ctx context.Context) error {
	return s.tc.POST("/v1/login-attempts/success", s.body(s.subject.IP))
}

func (s *loginlimitSteps) earlierFailuresReturned(ctx context.Context, expected int) error {
	if len(s.statuses) < 2 {
		return nil
	}
	for i, status := range s.statuses[:len(s.statuses)-1] {
		if status != expected {
			return fmt.Errorf("failure %d returned %d, expected %d", i+1, status, expected)
		}
	}
	return nil
}
