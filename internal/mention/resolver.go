// Package mention rewrites human-readable @user and @^group references in
// outgoing text into the platform's internal ID syntax, so the referenced
// people are actually notified. Resolution is best effort: anything that
// cannot be resolved unambiguously is left exactly as written.
package mention

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/slack-go/slack"
	"golang.org/x/sync/singleflight"

	"github.com/flowrelay/flowrelay/internal/logger"
)

// listAPI is the slice of the Slack Web API client the Resolver depends on.
// GetUsersContext follows cursor pagination internally until the platform
// signals no more pages.
type listAPI interface {
	GetUsersContext(ctx context.Context, options ...slack.GetUsersOption) ([]slack.User, error)
	GetUserGroupsContext(ctx context.Context, options ...slack.GetUserGroupsOption) ([]slack.UserGroup, error)
}

var errFetchFailed = fmt.Errorf("directory fetch previously failed")

var (
	// Group references are written "@^handle"; user references "@handle".
	groupRe = regexp.MustCompile(`@\^([A-Za-z0-9][A-Za-z0-9._-]*)`)
	userRe  = regexp.MustCompile(`(^|[^@<])@([A-Za-z0-9][A-Za-z0-9._-]*)`)

	// Internal ID shapes are passed through untouched.
	userIDRe  = regexp.MustCompile(`^[UW][A-Z0-9]{5,}$`)
	groupIDRe = regexp.MustCompile(`^S[A-Z0-9]{5,}$`)
)

// Resolver caches the platform's user and group lists for one run and
// rewrites mentions against them. Each list is fetched at most once; a
// failed fetch is sticky and degrades resolution to pass-through.
type Resolver struct {
	api   listAPI
	log   *slog.Logger
	dedup *logger.Dedup

	sf   singleflight.Group
	memo *ristretto.Cache[string, string]

	mu           sync.Mutex
	users        []slack.User
	groups       []slack.UserGroup
	usersLoaded  bool
	usersFailed  bool
	groupsLoaded bool
	groupsFailed bool
}

// New creates a Resolver over the given API client.
func New(api listAPI, log *slog.Logger) (*Resolver, error) {
	memo, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("mention memo cache: %w", err)
	}
	return &Resolver{api: api, log: log, dedup: logger.NewDedup(), memo: memo}, nil
}

// Close releases the memo cache.
func (r *Resolver) Close() {
	r.memo.Close()
}

// Rewrite replaces resolvable mentions in text and returns the result.
// Rewriting the same text twice yields identical output.
func (r *Resolver) Rewrite(ctx context.Context, text string) string {
	if !strings.Contains(text, "@") {
		return text
	}

	text = groupRe.ReplaceAllStringFunc(text, func(m string) string {
		token := m[2:] // strip "@^"
		return r.resolveGroup(ctx, token, m)
	})

	return userRe.ReplaceAllStringFunc(text, func(m string) string {
		prefix, token, _ := strings.Cut(m, "@")
		return prefix + r.resolveUser(ctx, token, "@"+token)
	})
}

// resolveUser maps one @token to <@ID>, or returns orig unchanged.
func (r *Resolver) resolveUser(ctx context.Context, token, orig string) string {
	if userIDRe.MatchString(token) {
		return "<@" + token + ">"
	}

	if hit, ok := r.memo.Get("u:" + token); ok {
		return hit
	}

	users, ok := r.userList(ctx)
	if !ok {
		return orig
	}

	result := orig
	switch matches := matchUsers(users, token); len(matches) {
	case 0:
		r.logOnce("mention left unchanged: no matching user", "mention", orig)
	case 1:
		result = "<@" + matches[0].ID + ">"
	default:
		ids := make([]string, len(matches))
		for i, u := range matches {
			ids[i] = u.ID
		}
		r.logOnce("mention left unchanged: ambiguous user", "mention", orig, "candidates", strings.Join(ids, ","))
	}

	r.memo.Set("u:"+token, result, int64(len(result)))
	return result
}

// matchUsers applies the priority tiers: handle, then display name, then
// real name. The first tier with any match wins. Deleted users never match.
func matchUsers(users []slack.User, token string) []slack.User {
	var byHandle, byDisplay, byReal []slack.User
	for _, u := range users {
		if u.Deleted {
			continue
		}
		switch {
		case strings.EqualFold(u.Name, token):
			byHandle = append(byHandle, u)
		case strings.EqualFold(u.Profile.DisplayName, token):
			byDisplay = append(byDisplay, u)
		case strings.EqualFold(u.RealName, token) || strings.EqualFold(u.Profile.RealName, token):
			byReal = append(byReal, u)
		}
	}

	switch {
	case len(byHandle) > 0:
		return byHandle
	case len(byDisplay) > 0:
		return byDisplay
	default:
		return byReal
	}
}

// resolveGroup maps one @^token to <!subteam^ID>, or returns orig unchanged.
func (r *Resolver) resolveGroup(ctx context.Context, token, orig string) string {
	if groupIDRe.MatchString(token) {
		return "<!subteam^" + token + ">"
	}

	if hit, ok := r.memo.Get("g:" + token); ok {
		return hit
	}

	groups, ok := r.groupList(ctx)
	if !ok {
		return orig
	}

	var matches []slack.UserGroup
	for _, g := range groups {
		if strings.EqualFold(g.Handle, token) || strings.EqualFold(g.Name, token) {
			matches = append(matches, g)
		}
	}

	result := orig
	switch len(matches) {
	case 0:
		r.logOnce("group mention left unchanged: no matching group", "mention", orig)
	case 1:
		result = "<!subteam^" + matches[0].ID + ">"
	default:
		ids := make([]string, len(matches))
		for i, g := range matches {
			ids[i] = g.ID
		}
		r.logOnce("group mention left unchanged: ambiguous group", "mention", orig, "candidates", strings.Join(ids, ","))
	}

	r.memo.Set("g:"+token, result, int64(len(result)))
	return result
}

// userList returns the cached user list, fetching it on first use.
// The second return is false while resolution is degraded.
func (r *Resolver) userList(ctx context.Context) ([]slack.User, bool) {
	r.mu.Lock()
	if r.usersFailed {
		r.mu.Unlock()
		return nil, false
	}
	if r.usersLoaded {
		users := r.users
		r.mu.Unlock()
		return users, true
	}
	r.mu.Unlock()

	_, err, _ := r.sf.Do("users", func() (any, error) {
		r.mu.Lock()
		if r.usersLoaded || r.usersFailed {
			done := r.usersLoaded
			r.mu.Unlock()
			if done {
				return nil, nil
			}
			return nil, errFetchFailed
		}
		r.mu.Unlock()

		users, err := r.api.GetUsersContext(ctx)

		r.mu.Lock()
		defer r.mu.Unlock()
		if err != nil {
			r.usersFailed = true
			r.logFetchFailure("user list fetch failed, mentions degrade to pass-through", err)
			return nil, err
		}
		r.users = users
		r.usersLoaded = true
		return nil, nil
	})
	if err != nil {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users, r.usersLoaded
}

// groupList returns the cached group list, fetching it on first use.
func (r *Resolver) groupList(ctx context.Context) ([]slack.UserGroup, bool) {
	r.mu.Lock()
	if r.groupsFailed {
		r.mu.Unlock()
		return nil, false
	}
	if r.groupsLoaded {
		groups := r.groups
		r.mu.Unlock()
		return groups, true
	}
	r.mu.Unlock()

	_, err, _ := r.sf.Do("groups", func() (any, error) {
		r.mu.Lock()
		if r.groupsLoaded || r.groupsFailed {
			done := r.groupsLoaded
			r.mu.Unlock()
			if done {
				return nil, nil
			}
			return nil, errFetchFailed
		}
		r.mu.Unlock()

		groups, err := r.api.GetUserGroupsContext(ctx)

		r.mu.Lock()
		defer r.mu.Unlock()
		if err != nil {
			r.groupsFailed = true
			r.logFetchFailure("group list fetch failed, group mentions degrade to pass-through", err)
			return nil, err
		}
		r.groups = groups
		r.groupsLoaded = true
		return nil, nil
	})
	if err != nil {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.groups, r.groupsLoaded
}

func (r *Resolver) logFetchFailure(msg string, err error) {
	if strings.Contains(err.Error(), "missing_scope") {
		r.log.Warn(msg+" (the users:read and usergroups:read OAuth scopes are required)", "error", err)
		return
	}
	r.log.Warn(msg, "error", err)
}

func (r *Resolver) logOnce(msg string, args ...any) {
	if r.dedup.First(fmt.Sprint(append([]any{msg}, args...)...)) {
		r.log.Debug(msg, args...)
	}
}
