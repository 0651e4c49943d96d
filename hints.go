package notify

import (
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	// ExpireTimeoutSetByNotificationServer leaves the expiration to the server's settings.
	ExpireTimeoutSetByNotificationServer = -1 * time.Millisecond
	// ExpireTimeoutNever keeps the notification on screen until it is closed.
	ExpireTimeoutNever time.Duration = 0
)

// Well known hint names.
// See: https://specifications.freedesktop.org/notification-spec/latest/hints.html
const (
	hintUrgency      = "urgency"
	hintCategory     = "category"
	hintDesktopEntry = "desktop-entry"
	hintImagePath    = "image-path"
	hintResident     = "resident"
	hintTransient    = "transient"
	hintSoundFile    = "sound-file"
	hintSoundName    = "sound-name"
	hintSuppressSnd  = "suppress-sound"
)

// Action is a button shown on the notification.
// Key is reported back through ActionInvoked, Label is what the user sees.
type Action struct {
	Key   string
	Label string
}

// actionPairs flattens actions into the (key, label) sequence the Notify call expects.
func actionPairs(actions []Action) []string {
	pairs := make([]string, 0, len(actions)*2)
	for _, a := range actions {
		pairs = append(pairs, a.Key, a.Label)
	}
	return pairs
}

// Urgency is the priority hint of a notification.
type Urgency byte

// Urgency levels, as sent in the urgency hint.
const (
	UrgencyLow      Urgency = 0
	UrgencyNormal   Urgency = 1
	UrgencyCritical Urgency = 2
)

func (u Urgency) String() string {
	switch u {
	case UrgencyLow:
		return "low"
	case UrgencyNormal:
		return "normal"
	case UrgencyCritical:
		return "critical"
	default:
		return "normal"
	}
}

// ParseUrgency accepts "low", "normal", "critical", the integers 0 to 2 or an Urgency.
// Anything else is coerced to UrgencyNormal.
func ParseUrgency(v interface{}) Urgency {
	switch u := v.(type) {
	case Urgency:
		if u <= UrgencyCritical {
			return u
		}
	case string:
		switch strings.ToLower(u) {
		case "low":
			return UrgencyLow
		case "critical":
			return UrgencyCritical
		}
	default:
		if n, ok := toInt64(v); ok && n >= 0 && n <= int64(UrgencyCritical) {
			return Urgency(n)
		}
	}
	return UrgencyNormal
}

// Hint is a single named value to send in the hints dictionary.
type Hint struct {
	ID    string
	Value interface{}
}

// HintUrgency sets the urgency level.
func HintUrgency(u Urgency) Hint {
	return Hint{ID: hintUrgency, Value: int(u)}
}

// HintCategory sets the type of notification, e.g. "email.arrived".
func HintCategory(category string) Hint {
	return Hint{ID: hintCategory, Value: category}
}

// HintDesktopEntry names the desktop file of the sending application, without the .desktop suffix.
func HintDesktopEntry(name string) Hint {
	return Hint{ID: hintDesktopEntry, Value: name}
}

// HintImageFilePath shows the image at an absolute path in place of the icon.
func HintImageFilePath(path string) Hint {
	return Hint{ID: hintImagePath, Value: path}
}

// HintResident keeps the notification around after an action is invoked.
func HintResident(resident bool) Hint {
	return Hint{ID: hintResident, Value: resident}
}

// HintTransient asks the server to bypass its persistence capability.
func HintTransient(transient bool) Hint {
	return Hint{ID: hintTransient, Value: transient}
}

// HintSoundWithName plays a themeable named sound, e.g. "message-new-instant".
func HintSoundWithName(name string) Hint {
	return Hint{ID: hintSoundName, Value: name}
}

// HintSoundWithFile plays the sound file at path.
func HintSoundWithFile(path string) Hint {
	return Hint{ID: hintSoundFile, Value: path}
}

// HintSuppressSound asks the server not to play any sound.
func HintSuppressSound(suppress bool) Hint {
	return Hint{ID: hintSuppressSnd, Value: suppress}
}

// soundHint picks sound-name or sound-file depending on whether sound looks like a path.
func soundHint(sound string) Hint {
	if strings.ContainsRune(sound, filepath.Separator) {
		return HintSoundWithFile(sound)
	}
	return HintSoundWithName(sound)
}

// Hints keeps hint values in insertion order.
// The zero value is ready to use.
type Hints struct {
	keys   []string
	values map[string]interface{}
}

// Set stores value under name. Setting an existing name keeps its position.
func (h *Hints) Set(name string, value interface{}) {
	if h.values == nil {
		h.values = make(map[string]interface{})
	}
	if _, ok := h.values[name]; !ok {
		h.keys = append(h.keys, name)
	}
	h.values[name] = value
}

// Get returns the value stored under name.
func (h *Hints) Get(name string) (interface{}, bool) {
	v, ok := h.values[name]
	return v, ok
}

// Delete removes name. Missing names are ignored.
func (h *Hints) Delete(name string) {
	if _, ok := h.values[name]; !ok {
		return
	}
	delete(h.values, name)
	for i, k := range h.keys {
		if k == name {
			h.keys = append(h.keys[:i:i], h.keys[i+1:]...)
			break
		}
	}
}

// Len is the number of hints.
func (h *Hints) Len() int { return len(h.keys) }

// Keys returns the hint names in insertion order.
func (h *Hints) Keys() []string {
	return append([]string(nil), h.keys...)
}

// TypedHint is a hint tagged with its D-Bus signature:
// "s" for strings, "i" for integral numbers, "d" for other numbers, "b" for booleans.
type TypedHint struct {
	ID    string
	Type  string
	Value interface{}
}

// Variant wraps the value for the a{sv} hints dictionary.
func (t TypedHint) Variant() dbus.Variant {
	return dbus.MakeVariant(t.Value)
}

// EncodeHints tags every hint with its wire type, in insertion order.
// Values of any other type are skipped.
func EncodeHints(h *Hints) []TypedHint {
	if h == nil {
		return nil
	}
	out := make([]TypedHint, 0, h.Len())
	for _, k := range h.keys {
		if t, ok := encodeHint(k, h.values[k]); ok {
			out = append(out, t)
		}
	}
	return out
}

func encodeHint(name string, v interface{}) (TypedHint, bool) {
	switch val := v.(type) {
	case string:
		return TypedHint{ID: name, Type: "s", Value: val}, true
	case bool:
		return TypedHint{ID: name, Type: "b", Value: val}, true
	case float32:
		return encodeNumber(name, float64(val)), true
	case float64:
		return encodeNumber(name, val), true
	}
	if n, ok := toInt64(v); ok {
		return encodeNumber(name, float64(n)), true
	}
	return TypedHint{}, false
}

// encodeNumber sends integral values that fit an int32 as "i", everything else as "d".
func encodeNumber(name string, f float64) TypedHint {
	if f == math.Trunc(f) && f >= math.MinInt32 && f <= math.MaxInt32 {
		return TypedHint{ID: name, Type: "i", Value: int32(f)}
	}
	return TypedHint{ID: name, Type: "d", Value: f}
}

func hintVariants(hints []TypedHint) map[string]dbus.Variant {
	m := make(map[string]dbus.Variant, len(hints))
	for _, h := range hints {
		m[h.ID] = h.Variant()
	}
	return m
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case Urgency:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}
