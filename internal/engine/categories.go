package engine

import (
	"sort"
	"time"
)

const (
	// DefaultSoundDuration is used when a category has no mapped duration.
	DefaultSoundDuration = 30 * time.Second

	// DefaultIcon marks rows whose category has no mapped icon.
	DefaultIcon = "🔔"
)

// Category holds the per-category display and alarm state. The enabled flag
// is user-controlled; everything else is fixed at seed time.
type Category struct {
	Code     int           `json:"code"`
	Desc     string        `json:"desc"`
	Icon     string        `json:"icon"`
	Sound    string        `json:"sound"`
	Duration time.Duration `json:"duration"`
	Enabled  bool          `json:"enabled"`
}

// defaultCategories is the seed set created at startup and on every reset.
// Unknown categories appearing in the feed are deliberately never auto-added:
// their rows render hidden and they are alarm-ineligible.
func defaultCategories() map[int]*Category {
	return map[int]*Category{
		1:  {Code: 1, Desc: "Missiles", Icon: "🚀", Sound: "audio/missiles.mp3", Duration: 30 * time.Second, Enabled: true},
		2:  {Code: 2, Desc: "Hostile aircraft", Icon: "✈️", Sound: "audio/hostileAircraft.mp3", Duration: 30 * time.Second, Enabled: true},
		14: {Code: 14, Desc: "Flash", Icon: "⚡", Sound: "audio/flash.mp3", Duration: 30 * time.Second, Enabled: true},
		13: {Code: 13, Desc: "Update", Icon: "📢", Sound: "audio/update.mp3", Duration: 5 * time.Second, Enabled: true},
	}
}

// CategoryRegistry owns the category set for one session.
type CategoryRegistry struct {
	cats map[int]*Category
}

// NewCategoryRegistry creates a registry pre-populated with the default set.
func NewCategoryRegistry() *CategoryRegistry {
	return &CategoryRegistry{cats: defaultCategories()}
}

// Get returns a copy of the category state for a code.
func (r *CategoryRegistry) Get(code int) (Category, bool) {
	c, ok := r.cats[code]
	if !ok {
		return Category{}, false
	}
	return *c, true
}

// Enabled reports whether a category is known and enabled. Unknown
// categories are always disabled.
func (r *CategoryRegistry) Enabled(code int) bool {
	c, ok := r.cats[code]
	return ok && c.Enabled
}

// SetEnabled flips the enabled flag. Returns false for unknown codes.
func (r *CategoryRegistry) SetEnabled(code int, enabled bool) bool {
	c, ok := r.cats[code]
	if !ok {
		return false
	}
	c.Enabled = enabled
	return true
}

// Sound returns the sound asset reference for a code, empty when unmapped.
func (r *CategoryRegistry) Sound(code int) string {
	if c, ok := r.cats[code]; ok {
		return c.Sound
	}
	return ""
}

// Duration returns the alarm duration for a code, falling back to the
// default for unmapped categories.
func (r *CategoryRegistry) Duration(code int) time.Duration {
	if c, ok := r.cats[code]; ok && c.Duration > 0 {
		return c.Duration
	}
	return DefaultSoundDuration
}

// Icon returns the display icon for a code, falling back to the default.
func (r *CategoryRegistry) Icon(code int) string {
	if c, ok := r.cats[code]; ok && c.Icon != "" {
		return c.Icon
	}
	return DefaultIcon
}

// All returns the categories ordered by code.
func (r *CategoryRegistry) All() []Category {
	out := make([]Category, 0, len(r.cats))
	for _, c := range r.cats {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Reset re-seeds the default set, discarding enablement changes.
func (r *CategoryRegistry) Reset() {
	r.cats = defaultCategories()
}
