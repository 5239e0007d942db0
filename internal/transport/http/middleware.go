package http

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/you/club-membership/internal/domain"
	"github.com/you/club-membership/internal/infra"
	"github.com/you/club-membership/internal/repository"
)

type contextKey string

const userContextKey contextKey = "currentUser"

// WithUser stores the authenticated user id on ctx.
func WithUser(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userContextKey, userID)
}

func UserFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userContextKey).(uuid.UUID)
	return id, ok
}

// Auth verifies HS256 bearer tokens. The sub claim is the user id; the
// display claims are copied into the users table on every request.
type Auth struct {
	Secret []byte
	Users  repository.UserStore
	Log    infra.Logger
}

func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			errorResp(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			return
		}
		token, err := jwt.Parse(strings.TrimPrefix(header, "Bearer "), func(*jwt.Token) (interface{}, error) {
			return a.Secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			errorResp(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			errorResp(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token claims")
			return
		}
		sub, err := claims.GetSubject()
		if err != nil {
			errorResp(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid subject")
			return
		}
		userID, err := uuid.Parse(sub)
		if err != nil {
			errorResp(w, http.StatusUnauthorized, "UNAUTHORIZED", "subject is not a user id")
			return
		}

		if email, _ := claims["email"].(string); email != "" && a.Users != nil {
			first, _ := claims["given_name"].(string)
			last, _ := claims["family_name"].(string)
			u := domain.User{ID: userID, Email: email, FirstName: first, LastName: last}
			if err := a.Users.UpsertUser(r.Context(), u); err != nil {
				a.Log.Errorf("upsert user %s: %v", userID, err)
				errorResp(w, http.StatusInternalServerError, "INTERNAL", "internal error")
				return
			}
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
	})
}

// SignToken issues a token the Auth middleware accepts.
func SignToken(secret []byte, user domain.User, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":         user.ID.String(),
		"email":       user.Email,
		"given_name":  user.FirstName,
		"family_name": user.LastName,
		"exp":         time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// IPRateLimiter keeps one token bucket per client address.
type IPRateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[string]*visitor
	sweptAt  time.Time
}

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

const visitorTTL = 10 * time.Minute

func NewIPRateLimiter(perMinute, burst int) *IPRateLimiter {
	return &IPRateLimiter{
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
		visitors: map[string]*visitor{},
		sweptAt:  time.Now(),
	}
}

func (l *IPRateLimiter) Allow(ip string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.sweptAt) > visitorTTL {
		for k, v := range l.visitors {
			if now.Sub(v.seen) > visitorTTL {
				delete(l.visitors, k)
			}
		}
		l.sweptAt = now
	}
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.seen = now
	return v.lim.AllowN(now, 1)
}

func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			errorResp(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades through the recorder.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// metricsMiddleware records latency per route template so ids do not
// explode label cardinality.
func metricsMiddleware(m *infra.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			route := "unmatched"
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			m.RequestDuration.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Observe(time.Since(start).Seconds())
		})
	}
}
