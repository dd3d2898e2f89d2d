// Package domain defines the entities shared by the auth, ingest,
// replication, and async subsystems: refs, users, origins, and the
// tag-keyed metadata records (ext, plugin, template).
//
// Entities are plain structs. All persistence goes through the store
// port; there is no implicit lazy loading.
package domain

import (
	"time"

	"github.com/roach88/weft/internal/tag"
)

// PublicTag is the literal tag that marks a ref readable by anyone.
const PublicTag = "public"

// LockedTag marks a ref as read-only for ordinary edits.
const LockedTag = "locked"

// Ref is a content item. Identity is (URL, Origin), globally unique and
// immutable after creation. An empty Origin means the local deployment.
type Ref struct {
	URL     string   `json:"url"`
	Origin  string   `json:"origin,omitempty"`
	Title   string   `json:"title,omitempty"`
	Comment string   `json:"comment,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Sources []string `json:"sources,omitempty"`

	// Plugins holds plugin-data blobs keyed by tag.
	Plugins map[string][]byte `json:"plugins,omitempty"`

	Published time.Time `json:"published"`
	Created   time.Time `json:"created"`
	Modified  time.Time `json:"modified"`
}

// Local reports whether the ref belongs to the local origin.
func (r *Ref) Local() bool {
	return r.Origin == ""
}

// QualifiedTags returns the ref's tags, each qualified with the ref's
// origin so foreign tags never collide with local selectors.
func (r *Ref) QualifiedTags() []string {
	return tag.QualifyAll(r.Tags, r.Origin)
}

// QualifiedNonPublicTags returns the protected and private tags,
// qualified with the ref's origin.
func (r *Ref) QualifiedNonPublicTags() []string {
	return tag.QualifiedNonPublic(r.Tags, r.Origin)
}

// AddTags merges toAdd into the ref's tags with set semantics.
// A "-tag" entry removes instead of adding.
func (r *Ref) AddTags(toAdd []string) {
	r.Tags = tag.AddAll(r.Tags, toAdd)
}

// AddHierarchicalTags expands every hierarchical tag with its ancestors.
// Run before storage so ancestor queries match without path scans.
func (r *Ref) AddHierarchicalTags() {
	r.Tags = tag.AddHierarchical(r.Tags)
}

// RemovePrefixTags strips ancestor tags, leaving only the longest paths.
// Applied before tag migration so removals match the authored tags.
func (r *Ref) RemovePrefixTags() {
	r.Tags = tag.RemovePrefix(r.Tags)
}

// HasTag reports whether the ref carries the exact tag.
func (r *Ref) HasTag(t string) bool {
	return tag.Contains(r.Tags, t)
}

// HasPluginResponse reports whether plugin data is recorded under the
// given tag. The async drainer uses this to detect handled responses.
func (r *Ref) HasPluginResponse(t string) bool {
	_, ok := r.Plugins[t]
	return ok
}

// SetPlugin records a plugin-data blob under the given tag.
func (r *Ref) SetPlugin(t string, data []byte) {
	if r.Plugins == nil {
		r.Plugins = make(map[string][]byte)
	}
	r.Plugins[t] = data
}

// User is an identity record. Identity is (Tag, Origin); the tag is the
// user's qualified tag, e.g. "+user/alice" or "_user/alice".
type User struct {
	Tag    string `json:"tag"`
	Origin string `json:"origin,omitempty"`
	Name   string `json:"name,omitempty"`

	// ReadAccess and WriteAccess are tag selectors granting visibility
	// and edit rights beyond the baseline rules. Public selectors are
	// rejected on write: public is always readable and writable by the
	// baseline, so listing it is meaningless.
	ReadAccess  []string `json:"readAccess,omitempty"`
	WriteAccess []string `json:"writeAccess,omitempty"`

	LastLogin time.Time `json:"lastLogin,omitempty"`
	Modified  time.Time `json:"modified"`
}

// Local reports whether the user belongs to the local origin.
func (u *User) Local() bool {
	return u.Origin == ""
}

// QualifiedTag returns the user's tag qualified with its origin.
func (u *User) QualifiedTag() string {
	return tag.Qualify(u.Tag, u.Origin)
}

// Ext is tag-extension metadata: display configuration attached to a
// tag. Identity is (Tag, Origin).
type Ext struct {
	Tag      string    `json:"tag"`
	Origin   string    `json:"origin,omitempty"`
	Name     string    `json:"name,omitempty"`
	Config   []byte    `json:"config,omitempty"`
	Modified time.Time `json:"modified"`
}

// Plugin declares a plugin schema under a tag. Identity is (Tag, Origin).
type Plugin struct {
	Tag      string    `json:"tag"`
	Origin   string    `json:"origin,omitempty"`
	Name     string    `json:"name,omitempty"`
	Schema   []byte    `json:"schema,omitempty"`
	Modified time.Time `json:"modified"`
}

// Template declares an ext schema for a tag prefix. Identity is
// (Tag, Origin).
type Template struct {
	Tag      string    `json:"tag"`
	Origin   string    `json:"origin,omitempty"`
	Name     string    `json:"name,omitempty"`
	Schema   []byte    `json:"schema,omitempty"`
	Modified time.Time `json:"modified"`
}

// Origin is a named remote deployment this one replicates with.
type Origin struct {
	// Name is the origin suffix, e.g. "@remote".
	Name string `json:"name"`

	// URL is the base URL of the remote deployment's replication API.
	URL string `json:"url"`

	// PullInterval is the delay between replication rounds.
	PullInterval time.Duration `json:"pullInterval"`

	// BatchSize bounds entities per pull/push request.
	BatchSize int `json:"batchSize"`

	// AddTags and RemoveTags form the migration policy applied to
	// incoming foreign refs before they are merged locally.
	AddTags    []string `json:"addTags,omitempty"`
	RemoveTags []string `json:"removeTags,omitempty"`

	Modified time.Time `json:"modified"`
}

// Migrate applies the origin's tag-migration policy to a foreign ref:
// prefix-tag cleanup, removals (including plugin data keyed by a removed
// tag), additions, then hierarchical regeneration.
func (o *Origin) Migrate(ref *Ref) {
	if len(o.RemoveTags) > 0 && len(ref.Tags) > 0 {
		ref.RemovePrefixTags()
		for i := len(ref.Tags) - 1; i >= 0; i-- {
			t := ref.Tags[i]
			if tag.Contains(o.RemoveTags, t) {
				ref.Tags = append(ref.Tags[:i], ref.Tags[i+1:]...)
				delete(ref.Plugins, t)
			}
		}
	}
	if len(o.AddTags) > 0 {
		ref.AddTags(o.AddTags)
	}
	ref.AddHierarchicalTags()
}

// MigrateUser applies tag removals to a foreign user's access lists.
func (o *Origin) MigrateUser(user *User) {
	user.ReadAccess = removeAll(user.ReadAccess, o.RemoveTags)
	user.WriteAccess = removeAll(user.WriteAccess, o.RemoveTags)
}

func removeAll(tags, toRemove []string) []string {
	if len(toRemove) == 0 {
		return tags
	}
	var result []string
	for _, t := range tags {
		if !tag.Contains(toRemove, t) {
			result = append(result, t)
		}
	}
	return result
}
