package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Context keys read by the socket manager and the handlers.
const (
	KeyUserID   = "userId"
	KeyUsername = "username"
)

type verifyErrResp struct {
	Error string `json:"error"`
}

// flexID accepts both "42" and 42 from the verify endpoint.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type VerifyClaims struct {
	UserID   flexID `json:"userId"`
	Username string `json:"username"`
	Type     string `json:"type"` // "access"
}

// Auth resolves the caller's identity and stores it under KeyUserID/KeyUsername.
// It never rejects a request on its own; pair it with RequireUser on routes
// that need a user.
//
// With authBaseURL set, the bearer token (header, or ?token= for browsers
// opening a socket) is checked against <authBaseURL>/v1/auth/verify.
// Without it, the identity is taken as-is from X-User-Id/X-Username or the
// userId/username query parameters, for local development.
func Auth(authBaseURL string, log zerolog.Logger) gin.HandlerFunc {
	if strings.TrimSpace(authBaseURL) == "" {
		return trustedIdentity
	}
	client := &http.Client{}
	verifyURL := strings.TrimRight(authBaseURL, "/") + "/v1/auth/verify"

	return func(c *gin.Context) {
		token := extractBearer(c.Request.Header.Get("Authorization"))
		if token == "" {
			token = strings.TrimSpace(c.Query("token"))
		}
		if token == "" {
			c.Next()
			return
		}

		claims, status, err := verify(c.Request.Context(), client, verifyURL, token)
		if err != nil {
			log.Warn().Err(err).Int("status", status).Msg("token verify failed")
			if status == http.StatusUnauthorized {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHENTICATED", "message": err.Error()})
			} else {
				c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"code": "AUTH_UPSTREAM_ERROR", "message": "auth-service verify failed"})
			}
			return
		}
		c.Set(KeyUserID, string(claims.UserID))
		c.Set(KeyUsername, claims.Username)
		c.Next()
	}
}

type verifyError string

func (e verifyError) Error() string { return string(e) }

func verify(ctx context.Context, client *http.Client, url, token string) (*VerifyClaims, int, error) {
	ctx, cancel := context.WithTimeout(ctx, 1200*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, http.StatusBadGateway, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		var e verifyErrResp
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = "invalid token"
		}
		return nil, http.StatusUnauthorized, verifyError(e.Error)
	default:
		return nil, http.StatusBadGateway, verifyError("verify returned " + strconv.Itoa(resp.StatusCode))
	}

	var claims VerifyClaims
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, http.StatusBadGateway, err
	}
	if claims.Type != "" && claims.Type != "access" {
		return nil, http.StatusUnauthorized, verifyError("access token required")
	}
	if claims.UserID == "" {
		return nil, http.StatusUnauthorized, verifyError("token has no user")
	}
	return &claims, http.StatusOK, nil
}

func trustedIdentity(c *gin.Context) {
	uid := firstNonEmpty(c.GetHeader("X-User-Id"), c.Query("userId"))
	if uid != "" {
		c.Set(KeyUserID, uid)
		c.Set(KeyUsername, firstNonEmpty(c.GetHeader("X-Username"), c.Query("username")))
	}
	c.Next()
}

// RequireUser aborts with 401 when Auth found no identity.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(KeyUserID) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHENTICATED",
				"message": "Authorization header is missing or invalid",
			})
			return
		}
		c.Next()
	}
}

func extractBearer(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
