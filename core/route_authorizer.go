package core

import (
	"net/url"
	"path"
	"strings"
)

// DecisionAction distinguishes pass-through from redirect.
type DecisionAction int

const (
	ActionAllow DecisionAction = iota
	ActionRedirect
)

// Decision is the outcome of authorizing one request path.
type Decision struct {
	Action DecisionAction
	Target string
	Query  url.Values
}

// Allow is the pass-through decision.
func Allow() Decision {
	return Decision{Action: ActionAllow}
}

// RedirectTo builds a redirect decision without a return parameter.
func RedirectTo(target string) Decision {
	return Decision{Action: ActionRedirect, Target: target}
}

// RedirectToWithReturn builds a redirect decision carrying the originally
// requested path in the redirect query parameter.
func RedirectToWithReturn(target, original string) Decision {
	q := url.Values{}
	q.Set("redirect", original)
	return Decision{Action: ActionRedirect, Target: target, Query: q}
}

// Location renders the decision target including its query string.
func (d Decision) Location() string {
	if len(d.Query) == 0 {
		return d.Target
	}
	return d.Target + "?" + d.Query.Encode()
}

// RouteRules holds the path classification inputs for the authorizer.
// Matching is by literal prefix, so /courses also protects /coursesXYZ;
// sub-path matching (/courses/5) depends on it.
type RouteRules struct {
	BuildAssetPrefix  string   `yaml:"build_asset_prefix"`
	APIPrefix         string   `yaml:"api_prefix"`
	ImagePrefix       string   `yaml:"image_prefix"`
	AdminPrefix       string   `yaml:"admin_prefix"`
	AdminLoginPath    string   `yaml:"admin_login_path"`
	AdminHomePath     string   `yaml:"admin_home_path"`
	LoginPath         string   `yaml:"login_path"`
	AuthOnlyPaths     []string `yaml:"auth_only_paths"`
	ProfilePrefix     string   `yaml:"profile_prefix"`
	UserHomePath      string   `yaml:"user_home_path"`
	ProtectedPrefixes []string `yaml:"protected_prefixes"`
	ActionSuffixes    []string `yaml:"action_suffixes"`
}

// DefaultRouteRules returns the compiled-in classification rules.
func DefaultRouteRules() RouteRules {
	return RouteRules{
		BuildAssetPrefix: "/_next/",
		APIPrefix:        "/api/",
		ImagePrefix:      "/image/",
		AdminPrefix:      "/admin/",
		AdminLoginPath:   "/admin/login",
		AdminHomePath:    "/admin/dashboard",
		LoginPath:        "/login",
		AuthOnlyPaths:    []string{"/login", "/register"},
		ProfilePrefix:    "/profile",
		UserHomePath:     "/profile",
		ProtectedPrefixes: []string{
			"/profile",
			"/dashboard",
			"/community",
			"/courses",
			"/practice-quiz",
			"/questions-forum",
		},
		ActionSuffixes: []string{"/enroll", "/book"},
	}
}

// Authorize classifies a request path against the auth state and returns the
// single decision for it. It is a pure function: no I/O, no clock.
func (r RouteRules) Authorize(reqPath string, state *AuthState) Decision {
	if r.isBypassed(reqPath) {
		return Allow()
	}

	if reqPath == r.AdminLoginPath {
		if state.IsAdmin() {
			return RedirectTo(r.AdminHomePath)
		}
		return Allow()
	}
	if strings.HasPrefix(reqPath, r.AdminPrefix) {
		if !state.IsAdmin() {
			return RedirectToWithReturn(r.AdminLoginPath, reqPath)
		}
		return Allow()
	}

	for _, p := range r.AuthOnlyPaths {
		if reqPath != p {
			continue
		}
		if state.IsAdmin() {
			return RedirectTo(r.AdminHomePath)
		}
		if state.IsUser() {
			return RedirectTo(r.UserHomePath)
		}
		return Allow()
	}

	if r.isProtected(reqPath) {
		if state == nil || !state.IsAuthenticated {
			return RedirectToWithReturn(r.LoginPath, reqPath)
		}
		// Admins have no profile view of their own.
		if state.IsAdmin() && strings.HasPrefix(reqPath, r.ProfilePrefix) {
			return RedirectTo(r.AdminHomePath)
		}
		return Allow()
	}

	return Allow()
}

func (r RouteRules) isBypassed(reqPath string) bool {
	if r.BuildAssetPrefix != "" && strings.HasPrefix(reqPath, r.BuildAssetPrefix) {
		return true
	}
	if r.APIPrefix != "" && strings.HasPrefix(reqPath, r.APIPrefix) {
		return true
	}
	if r.ImagePrefix != "" && strings.HasPrefix(reqPath, r.ImagePrefix) {
		return true
	}
	if reqPath == "/favicon.ico" {
		return true
	}
	return path.Ext(reqPath) != ""
}

func (r RouteRules) isProtected(reqPath string) bool {
	for _, p := range r.ProtectedPrefixes {
		if strings.HasPrefix(reqPath, p) {
			return true
		}
	}
	trimmed := strings.TrimSuffix(reqPath, "/")
	for _, s := range r.ActionSuffixes {
		if strings.HasSuffix(trimmed, s) {
			return true
		}
	}
	return false
}
