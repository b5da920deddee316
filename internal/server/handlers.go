package server

import (
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net/http"

	"github.com/terraconstructs/gridauth/internal/auth"
)

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// HandleHome shows the session identity.
func HandleHome(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeText(w, http.StatusOK, "not authenticated")
		return
	}
	claims := auth.ClaimsFromContext(r.Context())
	email := claims.String("email")
	if email == "" {
		email = p.Email
	}
	writeText(w, http.StatusOK, fmt.Sprintf("userId: %s\nname: %s\nemail: %s", p.Subject, p.Name, email))
}

// HandleLoginSuccess is reached only once a login has completed.
func HandleLoginSuccess(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "success")
}

// HandleAdmin is the role-protected page.
func HandleAdmin(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	name := "anonymous"
	if p != nil {
		name = p.Name
	}
	writeText(w, http.StatusOK, "admin: "+name)
}

// HandleError is the error page authenticators redirect rejected clients to.
func HandleError(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "not authorized")
}

// HandleLogout invalidates the session and sends the client home.
func HandleLogout(d *auth.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := auth.SessionFromContext(r.Context())
		if ok {
			if err := d.Logout(r.Context(), r, sess); err != nil {
				log.Printf("logout failed: %v", err)
				http.Error(w, "logout failed", http.StatusInternalServerError)
				return
			}
		}
		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, "/", http.StatusFound)
	}
}

var signInTemplate = template.Must(template.New("signin").Parse(`<!DOCTYPE html>
<html>
<head><title>Sign in</title></head>
<body>
<form method="POST" action="{{.Action}}">
  <label>Username <input type="text" name="{{.UserParam}}" autocomplete="username"></label>
  <label>Password <input type="password" name="{{.PassParam}}" autocomplete="current-password"></label>
  <button type="submit">Sign in</button>
</form>
</body>
</html>
`))

// HandleSignInForm renders the form login page.
func HandleSignInForm(action, userParam, passParam string) http.HandlerFunc {
	data := struct{ Action, UserParam, PassParam string }{action, userParam, passParam}
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		if err := signInTemplate.Execute(w, data); err != nil {
			log.Printf("render sign-in form: %v", err)
		}
	}
}

// WhoamiResponse is the JSON shape of GET /api/auth/whoami.
type WhoamiResponse struct {
	Subject    string         `json:"sub"`
	Name       string         `json:"name,omitempty"`
	Email      string         `json:"email,omitempty"`
	Roles      []string       `json:"roles"`
	AuthMethod string         `json:"auth_method"`
	Claims     map[string]any `json:"claims,omitempty"`
}

// HandleWhoAmI returns the current principal and its raw claims.
func HandleWhoAmI(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	roles := p.Roles
	if roles == nil {
		roles = []string{}
	}
	resp := WhoamiResponse{
		Subject:    p.Subject,
		Name:       p.Name,
		Email:      p.Email,
		Roles:      roles,
		AuthMethod: p.AuthMethod,
		Claims:     auth.ClaimsFromContext(r.Context()),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("failed to encode whoami response: %v", err)
	}
}
