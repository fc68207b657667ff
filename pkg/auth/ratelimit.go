package auth

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/chaoschain/chaoscore/pkg/api"
)

// ActorLimiter tracks a token-bucket limiter per actor. Authenticated
// requests are keyed by principal id, anonymous ones by remote IP.
type ActorLimiter struct {
	mu     sync.Mutex
	actors map[string]*actorEntry
	rps    rate.Limit
	burst  int
}

type actorEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewActorLimiter creates a limiter allowing rps requests per second with
// the given burst per actor. Stale actor entries are evicted in the
// background.
func NewActorLimiter(rps int, burst int) *ActorLimiter {
	l := &ActorLimiter{
		actors: make(map[string]*actorEntry),
		rps:    rate.Limit(rps),
		burst:  burst,
	}
	go l.evictStale()
	return l
}

func (l *ActorLimiter) get(actor string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.actors[actor]
	if !ok {
		entry = &actorEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.actors[actor] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

func (l *ActorLimiter) evictStale() {
	for {
		time.Sleep(1 * time.Minute)
		l.mu.Lock()
		for actor, entry := range l.actors {
			if time.Since(entry.lastSeen) > 3*time.Minute {
				delete(l.actors, actor)
			}
		}
		l.mu.Unlock()
	}
}

// Middleware enforces the per-actor rate limit, answering 429 with a
// Retry-After header when exceeded.
func (l *ActorLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := remoteIP(r)
		if principal, err := GetPrincipal(r.Context()); err == nil {
			actor = principal.GetID()
		}

		if !l.get(actor).Allow() {
			api.WriteTooManyRequests(w, 1)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func remoteIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = strings.Trim(r.RemoteAddr, "[]")
	}
	return ip
}
