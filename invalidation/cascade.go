package invalidation

import (
	"slices"
	"strings"
)

// Entity is a mutable domain entity as reported by the data layer.
type Entity string

// Mutable entities.
const (
	EntityArtist  Entity = "artist"
	EntityAlbum   Entity = "album"
	EntityTrack   Entity = "track"
	EntityGenre   Entity = "genre"
	EntityUser    Entity = "user"
	EntityFollow  Entity = "user-follow"
	EntityHistory Entity = "history"
)

// Op is a write operation.
type Op string

// Write operations.
const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Refs carries the foreign keys of a row that decide which other entities'
// caches a mutation touches.
type Refs struct {
	ArtistID   string
	AlbumID    string
	UserID     string
	FollowerID string
	FolloweeID string
}

// Event describes one committed mutation. Old holds the references read
// before the write, New those after it; either may be empty.
type Event struct {
	Entity        Entity
	Op            Op
	ID            string
	Old           Refs
	New           Refs
	Deactivated   bool
	PlayCompleted bool
}

// Scope selects which ids a Target is purged for.
type Scope int

// Target scopes.
const (
	// ScopeCollection purges the kind's listings only.
	ScopeCollection Scope = iota
	// ScopeSelf uses the mutated entity's own id.
	ScopeSelf
	// ScopeArtist uses the owning artist, old and new.
	ScopeArtist
	// ScopeAlbum uses the containing album, old and new.
	ScopeAlbum
	// ScopeUser uses the owning user, old and new.
	ScopeUser
	// ScopeFollower uses the following user of a follow edge.
	ScopeFollower
	// ScopeFollowee uses the followed user of a follow edge.
	ScopeFollowee
)

// Target is one kind a rule cascades into.
type Target struct {
	Kind   Kind
	Scope  Scope
	Search bool
	// Optional targets are dropped when the scope resolves to no id.
	// Others fall back to a collection-wide purge.
	Optional bool
}

// Rule is the cascade for one entity and operation.
type Rule struct {
	Targets []Target
	// Keys are exact key templates. {user}, {follower} and {followee}
	// expand to every id the scope resolves to.
	Keys []string
	// Derived are extra patterns for views that embed the entity without
	// belonging to its kind, such as chart and recommendation listings.
	Derived []Pattern
	// PlayOnly restricts the rule to completed plays.
	PlayOnly bool
	// RevokeOnDeactivate revokes the user's sessions when the event
	// deactivates the account.
	RevokeOnDeactivate bool
}

// Derived views. Charts embed track, album, genre and artist fields;
// recommendation listings embed artist names.
var (
	chartViews          = Pattern{Glob: "/api/top-*", Kind: KindStats}
	recommendationViews = Pattern{Glob: "/api/users/*/recommended-artists*", Kind: KindArtist}
)

var (
	artistRule = Rule{Targets: []Target{
		{Kind: KindArtist, Scope: ScopeSelf, Search: true},
		{Kind: KindArtistRequests},
		{Kind: KindStats},
	}}
	artistWithReleases = Rule{
		Targets: append(slices.Clone(artistRule.Targets),
			Target{Kind: KindAlbum},
			Target{Kind: KindTrack},
		),
		Derived: []Pattern{chartViews, recommendationViews},
	}
	albumTrackOwner = Target{Kind: KindArtist, Scope: ScopeArtist, Search: true}
	trackAlbum      = Target{Kind: KindAlbum, Scope: ScopeAlbum, Optional: true}
	genreRule       = Rule{
		Targets: []Target{
			{Kind: KindGenre, Scope: ScopeSelf, Search: true},
			{Kind: KindTrack},
			{Kind: KindStats},
		},
		Derived: []Pattern{chartViews},
	}
	userRule = Rule{
		Targets: []Target{
			{Kind: KindUser, Scope: ScopeSelf, Search: true},
			{Kind: KindStats},
		},
		RevokeOnDeactivate: true,
	}
	followRule = Rule{
		Targets: []Target{
			{Kind: KindUser, Scope: ScopeFollower},
			{Kind: KindUser, Scope: ScopeFollowee},
		},
		Keys: []string{
			"/api/users/{follower}/following",
			"/api/users/{follower}/followers",
			"/api/users/{followee}/following",
			"/api/users/{followee}/followers",
		},
	}
	historyRule = Rule{
		Targets: []Target{
			{Kind: KindHistory, Scope: ScopeUser},
		},
		Keys: []string{
			"/api/users/{user}/recommended-artists",
			"/api/top-tracks",
			"/api/top-albums",
			"/api/top-artists",
		},
		PlayOnly: true,
	}
)

// Cascade is the cross-entity invalidation table. Entity and operation
// pairs missing from it produce an empty plan.
var Cascade = map[Entity]map[Op]Rule{
	EntityArtist: {
		OpCreate: artistRule,
		// Album and track listings embed the artist name.
		OpUpdate: artistWithReleases,
		OpDelete: artistWithReleases,
	},
	EntityAlbum: {
		OpCreate: {Targets: []Target{albumTrackOwner, {Kind: KindAlbum, Search: true}, {Kind: KindStats}}},
		OpUpdate: {
			Targets: []Target{albumTrackOwner, {Kind: KindAlbum, Scope: ScopeSelf, Search: true}},
			Derived: []Pattern{chartViews},
		},
		OpDelete: {
			Targets: []Target{albumTrackOwner, {Kind: KindAlbum, Scope: ScopeSelf, Search: true}, {Kind: KindTrack}},
			Derived: []Pattern{chartViews},
		},
	},
	EntityTrack: {
		OpCreate: {
			Targets: []Target{albumTrackOwner, {Kind: KindTrack, Search: true}, {Kind: KindStats}, trackAlbum},
			Derived: []Pattern{chartViews},
		},
		OpUpdate: {
			Targets: []Target{albumTrackOwner, {Kind: KindTrack, Scope: ScopeSelf, Search: true}, trackAlbum},
			Derived: []Pattern{chartViews},
		},
		OpDelete: {
			Targets: []Target{albumTrackOwner, {Kind: KindTrack, Scope: ScopeSelf, Search: true}, trackAlbum},
			Derived: []Pattern{chartViews},
		},
	},
	EntityGenre: {
		OpCreate: genreRule,
		OpUpdate: genreRule,
		OpDelete: genreRule,
	},
	EntityUser: {
		OpUpdate: userRule,
		OpDelete: userRule,
	},
	EntityFollow: {
		OpCreate: followRule,
		OpDelete: followRule,
	},
	EntityHistory: {
		OpCreate: historyRule,
		OpUpdate: historyRule,
	},
}

// PlanFor resolves ev against the cascade table.
func PlanFor(ev Event) Plan {
	var plan Plan

	rule, ok := Cascade[ev.Entity][ev.Op]
	if !ok {
		return plan
	}
	if rule.PlayOnly && !ev.PlayCompleted {
		return plan
	}

	for _, t := range rule.Targets {
		ids := ev.ids(t.Scope)
		if len(ids) == 0 {
			if t.Optional {
				continue
			}
			plan.Add(Request{Kind: t.Kind, CascadeSearch: t.Search})
			continue
		}
		for _, id := range ids {
			plan.Add(Request{Kind: t.Kind, ID: id, CascadeSearch: t.Search})
		}
	}

	for _, tmpl := range rule.Keys {
		plan.AddKeys(ev.expand(tmpl)...)
	}
	plan.AddPatterns(rule.Derived...)

	if rule.RevokeOnDeactivate && ev.Deactivated && ev.ID != "" {
		plan.Revoke = append(plan.Revoke, ev.ID)
	}
	return plan
}

// ids returns the distinct non-empty ids a scope resolves to.
func (ev Event) ids(s Scope) []string {
	var candidates []string
	switch s {
	case ScopeCollection:
		return nil
	case ScopeSelf:
		candidates = []string{ev.ID}
	case ScopeArtist:
		candidates = []string{ev.Old.ArtistID, ev.New.ArtistID}
	case ScopeAlbum:
		candidates = []string{ev.Old.AlbumID, ev.New.AlbumID}
	case ScopeUser:
		candidates = []string{ev.Old.UserID, ev.New.UserID}
	case ScopeFollower:
		candidates = []string{ev.Old.FollowerID, ev.New.FollowerID}
	case ScopeFollowee:
		candidates = []string{ev.Old.FolloweeID, ev.New.FolloweeID}
	}

	var out []string
	for _, id := range candidates {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

var placeholders = map[string]Scope{
	"{user}":     ScopeUser,
	"{follower}": ScopeFollower,
	"{followee}": ScopeFollowee,
}

// expand fills the placeholder of tmpl once per resolved id. A template
// whose placeholder resolves to nothing yields no key.
func (ev Event) expand(tmpl string) []string {
	for ph, scope := range placeholders {
		if !strings.Contains(tmpl, ph) {
			continue
		}
		var out []string
		for _, id := range ev.ids(scope) {
			out = append(out, strings.ReplaceAll(tmpl, ph, id))
		}
		return out
	}
	return []string{tmpl}
}
