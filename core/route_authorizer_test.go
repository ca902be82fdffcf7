package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func authedUser() *AuthState {
	return &AuthState{IsAuthenticated: true, UserType: UserTypeUser}
}

func authedAdmin() *AuthState {
	return &AuthState{IsAuthenticated: true, UserType: UserTypeAdmin}
}

func TestAuthorizeBypassedPaths(t *testing.T) {
	rules := DefaultRouteRules()
	for _, p := range []string{
		"/_next/static/chunks/main.js",
		"/api/courses",
		"/image/banner",
		"/favicon.ico",
		"/logo.png",
		"/fonts/inter.woff2",
	} {
		d := rules.Authorize(p, nil)
		assert.Equal(t, ActionAllow, d.Action, "path %s should bypass", p)
	}
}

func TestAuthorizeProtectedUnauthenticated(t *testing.T) {
	rules := DefaultRouteRules()
	d := rules.Authorize("/courses/5", nil)
	assert.Equal(t, ActionRedirect, d.Action)
	assert.Equal(t, "/login", d.Target)
	assert.Equal(t, "/courses/5", d.Query.Get("redirect"))
	assert.Equal(t, "/login?redirect=%2Fcourses%2F5", d.Location())
}

func TestAuthorizeProtectedLoggedOutState(t *testing.T) {
	rules := DefaultRouteRules()
	d := rules.Authorize("/dashboard", &AuthState{IsAuthenticated: false, UserType: UserTypeUser})
	assert.Equal(t, ActionRedirect, d.Action)
	assert.Equal(t, "/login", d.Target)
}

func TestAuthorizeProtectedAuthenticated(t *testing.T) {
	rules := DefaultRouteRules()
	for _, p := range []string{"/courses/5", "/dashboard", "/community/posts", "/questions-forum"} {
		d := rules.Authorize(p, authedUser())
		assert.Equal(t, ActionAllow, d.Action, "path %s", p)
	}
}

func TestAuthorizeActionSuffixes(t *testing.T) {
	rules := DefaultRouteRules()

	d := rules.Authorize("/events/3/book", nil)
	assert.Equal(t, ActionRedirect, d.Action)
	assert.Equal(t, "/events/3/book", d.Query.Get("redirect"))

	// trailing slash still matches
	d = rules.Authorize("/events/3/enroll/", nil)
	assert.Equal(t, ActionRedirect, d.Action)

	d = rules.Authorize("/events/3/book", authedUser())
	assert.Equal(t, ActionAllow, d.Action)
}

func TestAuthorizeAdminArea(t *testing.T) {
	rules := DefaultRouteRules()

	d := rules.Authorize("/admin/settings", nil)
	assert.Equal(t, ActionRedirect, d.Action)
	assert.Equal(t, "/admin/login", d.Target)
	assert.Equal(t, "/admin/settings", d.Query.Get("redirect"))

	// a plain user is not enough
	d = rules.Authorize("/admin/settings", authedUser())
	assert.Equal(t, ActionRedirect, d.Action)
	assert.Equal(t, "/admin/login", d.Target)

	d = rules.Authorize("/admin/settings", authedAdmin())
	assert.Equal(t, ActionAllow, d.Action)
}

func TestAuthorizeAdminLogin(t *testing.T) {
	rules := DefaultRouteRules()

	d := rules.Authorize("/admin/login", nil)
	assert.Equal(t, ActionAllow, d.Action)

	d = rules.Authorize("/admin/login", authedAdmin())
	assert.Equal(t, ActionRedirect, d.Action)
	assert.Equal(t, "/admin/dashboard", d.Target)
	assert.Empty(t, d.Query.Get("redirect"))
}

func TestAuthorizeAuthOnlyPaths(t *testing.T) {
	rules := DefaultRouteRules()

	for _, p := range []string{"/login", "/register"} {
		d := rules.Authorize(p, nil)
		assert.Equal(t, ActionAllow, d.Action, "path %s", p)

		d = rules.Authorize(p, authedUser())
		assert.Equal(t, ActionRedirect, d.Action, "path %s", p)
		assert.Equal(t, "/profile", d.Target)

		d = rules.Authorize(p, authedAdmin())
		assert.Equal(t, ActionRedirect, d.Action, "path %s", p)
		assert.Equal(t, "/admin/dashboard", d.Target)
	}
}

func TestAuthorizeAdminHasNoProfile(t *testing.T) {
	rules := DefaultRouteRules()
	d := rules.Authorize("/profile", authedAdmin())
	assert.Equal(t, ActionRedirect, d.Action)
	assert.Equal(t, "/admin/dashboard", d.Target)
	assert.Empty(t, d.Query.Get("redirect"))
}

func TestAuthorizeUnlistedPathAllowed(t *testing.T) {
	rules := DefaultRouteRules()
	for _, state := range []*AuthState{nil, authedUser(), authedAdmin()} {
		d := rules.Authorize("/about", state)
		assert.Equal(t, ActionAllow, d.Action)
	}
}

func TestAuthorizeLiteralPrefixMatching(t *testing.T) {
	rules := DefaultRouteRules()
	// Prefixes match literally: /coursesXYZ falls under /courses.
	d := rules.Authorize("/coursesXYZ", nil)
	assert.Equal(t, ActionRedirect, d.Action)
}

func TestRedirectParamOnlyOnLoginRedirects(t *testing.T) {
	rules := DefaultRouteRules()

	withReturn := rules.Authorize("/courses/5", nil)
	assert.NotEmpty(t, withReturn.Query.Get("redirect"))

	withoutReturn := rules.Authorize("/login", authedUser())
	assert.Empty(t, withoutReturn.Query.Get("redirect"))
}
