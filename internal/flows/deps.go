package flows

// Deps groups the dependency sets. The engine builds it once and delegates
// each request to the matching Run function.
type Deps struct {
	SignIn       SignInDeps
	Issue        IssueDeps
	Refresh      RefreshDeps
	Authenticate AuthenticateDeps
	Logout       LogoutDeps
}
