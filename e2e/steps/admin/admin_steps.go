package admin

import (
	"context"
	"net/url"

	"github.com/cucumber/godog"

	"bruteguard/e2e/steps/loginlimit"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(path string, headers map[string]string) error
	DELETE(path string, headers map[string]string) error
	GetAdminToken() string
}

// RegisterSteps registers operator step definitions acting on subject.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext, subject *loginlimit.Subject) {
	steps := &adminSteps{tc: tc, subject: subject}

	ctx.Step(`^an operator requests the lockout status$`, steps.lockoutStatus)
	ctx.Step(`^an operator clears the lockout$`, steps.clearLockout)
	ctx.Step(`^an operator resets the subject's IP$`, steps.resetIP)
	ctx.Step(`^I clear the lockout without an admin token$`, steps.clearWithoutToken)
}

type adminSteps struct {
	tc      TestContext
	subject *loginlimit.Subject
}

func (s *adminSteps) headers() map[string]string {
	return map[string]string{
		"X-Admin-Token":    s.tc.GetAdminToken(),
		"X-Admin-Actor-ID": "e2e-operator",
	}
}

func (s *adminSteps) lockoutPath() string {
	return "/admin/v1/lockouts/" + url.PathEscape(s.subject.Identifier)
}

func (s *adminSteps) lockoutStatus(ctx context.Context) error {
	return s.tc.GET(s.lockoutPath(), s.headers())
}

func (s *adminSteps) clearLockout(ctx context.Context) error {
	return s.tc.DELETE(s.lockoutPath(), s.headers())
}

func (s *adminSteps) resetIP(ctx context.Context) error {
	return s.tc.DELETE("/admin/v1/rate-limits/ip/"+url.PathEscape(s.subject.IP), s.headers())
}

func (s *adminSteps) clearWithoutToken(ctx context.Context) error {
	return s.tc.DELETE(s.lockoutPath(), nil)
}
