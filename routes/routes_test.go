package routes

import (
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestMailRouteTable(t *testing.T) {
	app := fiber.New()
	SetupMailRoutes(app, nil, nil, nil)

	routes := app.GetRoutes()
	has := func(method, path string) bool {
		for _, r := range routes {
			if r.Method == method && r.Path == path {
				return true
			}
		}
		return false
	}

	want := []struct {
		method string
		path   string
	}{
		{fiber.MethodPost, "/api/v1/mail/send"},
		{fiber.MethodPost, "/api/v1/mail/schedule"},
		{fiber.MethodGet, "/api/v1/mail/scheduled"},
		{fiber.MethodDelete, "/api/v1/mail/scheduled"},
		{fiber.MethodGet, "/api/v1/mail/failed"},
		{fiber.MethodGet, "/api/v1/oauth/callback"},
		{fiber.MethodPost, "/api/v1/oauth/connect"},
		{fiber.MethodPost, "/api/v1/senders/"},
		{fiber.MethodGet, "/api/v1/events"},
	}
	for _, w := range want {
		if !has(w.method, w.path) {
			t.Errorf("missing route %s %s", w.method, w.path)
		}
	}

	// Scheduled mails are deleted by ids in the request body, never by a
	// path parameter.
	for _, r := range routes {
		if strings.HasPrefix(r.Path, "/api/v1/mail/scheduled/") {
			t.Errorf("unexpected path-parameter route %s %s", r.Method, r.Path)
		}
	}
}
