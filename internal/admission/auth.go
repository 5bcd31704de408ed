package admission

// CheckAuth implements spec.md §4.1 level 2 AUTH_GATEWAY: when authRequired
// is set, a request without an Authorization header is rejected. This
// gateway only gates on header presence — it does not itself validate
// credentials, unlike the teacher's rbacMiddleware/auth.Middleware, which
// authenticates API keys/JWTs for its own control-plane routes.
func CheckAuth(authRequired bool, authHeader string) bool {
	if !authRequired {
		return true
	}
	return authHeader != ""
}
