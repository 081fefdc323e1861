package authtest

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// tokenPair is the success body of the sign-in and refresh endpoints. It
// carries both the OAuth2 field names and the short access/refresh names.
type tokenPair struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	UserID           string `json:"user_id,omitempty"`
	Access           string `json:"access"`
	Refresh          string `json:"refresh"`
}

type errorBody struct {
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
	Detail           string `json:"detail,omitempty"`
	Code             string `json:"code,omitempty"`
}

// handleLogin handles POST /api/auth/login/
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.loginCalls++
	s.mu.Unlock()

	var req struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, errorBody{Error: "invalid_request", Detail: "Invalid request body"}, http.StatusBadRequest)
		return
	}

	login := req.Email
	if login == "" {
		login = req.Username
	}
	u := s.checkPassword(login, req.Password)
	if u == nil {
		s.errorResponse(w, errorBody{
			Error:  "invalid_grant",
			Detail: "No active account found with the given credentials",
		}, http.StatusUnauthorized)
		return
	}

	refresh, err := s.newRefreshToken(u.ID, s.Now().Add(s.RefreshTokenExpiry))
	if err != nil {
		log.Printf("Error creating refresh token: %v", err)
		s.errorResponse(w, errorBody{Error: "server_error"}, http.StatusInternalServerError)
		return
	}
	s.tokenResponse(w, u.ID, refresh)
}

// handleRegister handles POST /api/auth/registration/
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string `json:"email"`
		Username  string `json:"username"`
		Password1 string `json:"password1"`
		Password2 string `json:"password2"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, errorBody{Error: "invalid_request", Detail: "Invalid request body"}, http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password1 == "" {
		s.errorResponse(w, errorBody{Error: "invalid_request", Detail: "Email and password are required"}, http.StatusBadRequest)
		return
	}
	if req.Password1 != req.Password2 {
		s.errorResponse(w, errorBody{Error: "invalid_request", Detail: "The two password fields didn't match"}, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	_, err := s.addUserLocked(req.Email, req.Username, req.Password1)
	s.mu.Unlock()
	if err != nil {
		s.errorResponse(w, errorBody{Error: "invalid_request", Detail: err.Error()}, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"detail": "Verification e-mail sent."})
}

// handleRefresh handles POST /api/auth/token/refresh/ with a JSON or
// form-encoded body.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.refreshCalls++
	mode, delay := s.refreshMode, s.refreshDelay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		case <-s.closing:
			return
		}
	}

	switch mode {
	case RefreshHang:
		select {
		case <-r.Context().Done():
		case <-s.closing:
		}
		return
	case RefreshError:
		s.errorResponse(w, errorBody{Error: "temporarily_unavailable"}, http.StatusServiceUnavailable)
		return
	case RefreshReject:
		s.errorResponse(w, errorBody{
			Error:            "invalid_grant",
			ErrorDescription: "Token is invalid or expired",
			Code:             "token_not_valid",
		}, http.StatusUnauthorized)
		return
	}

	presented, ok := readRefreshToken(r)
	if !ok {
		s.errorResponse(w, errorBody{Error: "invalid_request", ErrorDescription: "Refresh token required"}, http.StatusBadRequest)
		return
	}

	userID, next, _, err := s.rotate(presented)
	if err != nil {
		s.errorResponse(w, errorBody{
			Error:            "invalid_grant",
			ErrorDescription: err.Error(),
			Code:             "token_not_valid",
		}, http.StatusUnauthorized)
		return
	}
	s.tokenResponse(w, userID, next)
}

func readRefreshToken(r *http.Request) (string, bool) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return "", false
		}
		tok := r.PostForm.Get("refresh_token")
		return tok, tok != ""
	}

	var req struct {
		RefreshToken string `json:"refresh_token"`
		Refresh      string `json:"refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", false
	}
	if req.RefreshToken != "" {
		return req.RefreshToken, true
	}
	return req.Refresh, req.Refresh != ""
}

// handleProtected guards everything else under /api/. A valid bearer token
// gets a JSON echo of the request; anything else gets a 401.
func (s *Server) handleProtected(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	seen := SeenRequest{
		Method:        r.Method,
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
		Body:          string(body),
	}

	token, hasBearer := strings.CutPrefix(seen.Authorization, "Bearer ")
	if hasBearer {
		seen.AccessExpiresAt = claimedExpiry(token)
	}

	var userID string
	var err error
	if hasBearer && token != "" {
		userID, err = s.ValidateAccessToken(token)
	}

	if !hasBearer || token == "" || err != nil {
		seen.Status = http.StatusUnauthorized
		s.record(seen)
		detail := "Authentication credentials were not provided."
		if err != nil {
			detail = "Given token not valid for any token type"
		}
		s.errorResponse(w, errorBody{Detail: detail, Code: "token_not_valid"}, http.StatusUnauthorized)
		return
	}

	seen.Status = http.StatusOK
	s.record(seen)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"user_id": userID,
		"path":    r.URL.Path,
		"body":    string(body),
	})
}

func (s *Server) record(seen SeenRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, seen)
}

// tokenResponse sends a fresh access token for userID along with refresh
func (s *Server) tokenResponse(w http.ResponseWriter, userID, refresh string) {
	access, err := s.MintAccessToken(userID, s.Now().Add(s.AccessTokenExpiry))
	if err != nil {
		log.Printf("Error creating access token: %v", err)
		s.errorResponse(w, errorBody{Error: "server_error"}, http.StatusInternalServerError)
		return
	}
	resp := tokenPair{
		AccessToken:      access,
		TokenType:        "Bearer",
		ExpiresIn:        int64(s.AccessTokenExpiry.Seconds()),
		RefreshToken:     refresh,
		RefreshExpiresIn: int64(s.RefreshTokenExpiry.Seconds()),
		UserID:           userID,
		Access:           access,
		Refresh:          refresh,
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	json.NewEncoder(w).Encode(resp)
}

// errorResponse sends an error body in both OAuth2 and short form
func (s *Server) errorResponse(w http.ResponseWriter, body errorBody, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
