package middleware

import (
	"net/http"
	"path"
	"strings"
	"time"

	"sosband-backend/models"
	"sosband-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	LoginPath     = "/login"
	DashboardPath = "/dashboard"
	AdminPath     = "/admin"
	PartnerPath   = "/partner"
)

// Context keys set for authenticated requests.
const (
	ContextUserID    = "user_id"
	ContextUserEmail = "user_email"
	ContextUserRole  = "user_role"
)

type Outcome int

const (
	Allow Outcome = iota
	AllowWithIdentity
	Redirect
	Reject
)

// Identity is the caller resolved from a valid session token.
type Identity struct {
	UserID uuid.UUID
	Email  string
	Role   models.Role
}

// Decision is the guard's verdict for one request. Target is set for
// Redirect, Status for Reject and Identity for AllowWithIdentity.
type Decision struct {
	Outcome  Outcome
	Target   string
	Status   int
	Identity *Identity
}

var publicPaths = map[string]bool{
	"/":            true,
	LoginPath:      true,
	"/logout":      true,
	"/health":      true,
	"/metrics":     true,
	"/favicon.ico": true,
	"/icon.svg":    true,
}

var publicNamespaces = []string{"/auth", "/sos", "/static"}

// under reports whether p is ns itself or lies below it. Matching is by
// whole segment, so /administrator is not under /admin.
func under(p, ns string) bool {
	return p == ns || strings.HasPrefix(p, ns+"/")
}

func isPublic(p string) bool {
	if publicPaths[p] {
		return true
	}
	for _, ns := range publicNamespaces {
		if under(p, ns) {
			return true
		}
	}
	return false
}

func redirectTo(target string) Decision {
	return Decision{Outcome: Redirect, Target: target}
}

// Decide classifies a request path given the raw session token. It has no
// side effects; an empty token means no session.
func Decide(p, token string, now time.Time) Decision {
	if p == "" || path.Clean(p) != p {
		return Decision{Outcome: Reject, Status: http.StatusBadRequest}
	}
	if isPublic(p) {
		return Decision{Outcome: Allow}
	}
	if token == "" {
		return redirectTo(LoginPath)
	}

	claims, err := utils.ValidateTokenAt(token, now)
	if err != nil || claims.UserID == uuid.Nil {
		return redirectTo(LoginPath)
	}
	id := &Identity{UserID: claims.UserID, Email: claims.Email, Role: claims.Role}

	switch id.Role {
	case models.RoleAdmin:
		if under(p, DashboardPath) {
			return redirectTo(AdminPath)
		}
	case models.RolePartner:
		if under(p, AdminPath) {
			return redirectTo(DashboardPath)
		}
		if under(p, DashboardPath) {
			return redirectTo(PartnerPath)
		}
	case models.RoleCustomer:
		if under(p, AdminPath) || under(p, PartnerPath) {
			return redirectTo(DashboardPath)
		}
	default:
		// blocked or a role this build does not know
		return redirectTo(LoginPath)
	}

	return Decision{Outcome: AllowWithIdentity, Identity: id}
}

// SessionToken returns the session token from the auth cookie, falling back
// to an Authorization: Bearer header.
func SessionToken(c *gin.Context) string {
	if token, err := c.Cookie(utils.SessionCookieName); err == nil && token != "" {
		return token
	}
	parts := strings.Fields(c.GetHeader("Authorization"))
	if len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}
	return ""
}

// SessionGuard admits, redirects or rejects every request before routing to
// a handler.
func SessionGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		d := Decide(c.Request.URL.Path, SessionToken(c), time.Now())
		switch d.Outcome {
		case Allow:
			c.Next()
		case AllowWithIdentity:
			setIdentity(c, d.Identity)
			c.Next()
		case Redirect:
			c.Redirect(http.StatusFound, d.Target)
			c.Abort()
		default:
			c.AbortWithStatusJSON(d.Status, gin.H{"error": http.StatusText(d.Status)})
		}
	}
}

func setIdentity(c *gin.Context, id *Identity) {
	c.Set(ContextUserID, id.UserID)
	c.Set(ContextUserEmail, id.Email)
	c.Set(ContextUserRole, id.Role)
}

// CurrentIdentity returns the identity attached by SessionGuard or
// RequireSession.
func CurrentIdentity(c *gin.Context) (Identity, bool) {
	userID, ok := c.Get(ContextUserID)
	if !ok {
		return Identity{}, false
	}
	id, ok := userID.(uuid.UUID)
	if !ok {
		return Identity{}, false
	}
	role, _ := c.Get(ContextUserRole)
	r, _ := role.(models.Role)
	return Identity{UserID: id, Email: c.GetString(ContextUserEmail), Role: r}, true
}

// RequireSession is for API routes the guard treats as public but which
// still need a caller, such as /auth/me. It answers 401 JSON instead of
// redirecting.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := CurrentIdentity(c); ok {
			c.Next()
			return
		}

		claims, err := utils.ValidateToken(SessionToken(c))
		if err != nil || !claims.Role.CanSignIn() {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			c.Abort()
			return
		}
		setIdentity(c, &Identity{UserID: claims.UserID, Email: claims.Email, Role: claims.Role})
		c.Next()
	}
}

// RequireRole rejects callers whose role is not among roles with 403.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := CurrentIdentity(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			c.Abort()
			return
		}
		for _, r := range roles {
			if id.Role == r {
				c.Next()
				return
			}
		}
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied for role " + id.Role.String()})
		c.Abort()
	}
}
