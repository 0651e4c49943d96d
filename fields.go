package notify

import (
	"sort"
	"time"
)

// Fields is a set of notification fields used to create or update a Notification.
//
// The keys appName, icon, summary, body, actions, timeout, antiLeakTimeout,
// fireAndForget, urgency and sound are recognised. Any other key is a hint,
// and a nil value removes that hint. Values of the wrong type are ignored.
type Fields map[string]interface{}

// Keys recognised in Fields.
const (
	FieldAppName         = "appName"
	FieldIcon            = "icon"
	FieldSummary         = "summary"
	FieldBody            = "body"
	FieldActions         = "actions"
	FieldTimeout         = "timeout"
	FieldAntiLeakTimeout = "antiLeakTimeout"
	FieldFireAndForget   = "fireAndForget"
	FieldUrgency         = "urgency"
	FieldSound           = "sound"
)

// apply sets fields on n. The caller holds n.mu.
func (n *Notification) apply(fields Fields) {
	if actions, ok := toActions(fields[FieldActions]); ok && len(actions) > 0 {
		_, hasUrgency := fields[FieldUrgency]
		if _, set := n.hints.Get(hintUrgency); !hasUrgency && !set {
			n.hints.Set(hintUrgency, int(UrgencyCritical))
		}
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := fields[k]
		switch k {
		case FieldAppName:
			if s, ok := v.(string); ok && s != "" {
				n.appName = s
			}
		case FieldIcon:
			if s, ok := v.(string); ok {
				n.icon = s
			}
		case FieldSummary:
			if s, ok := v.(string); ok {
				n.summary = s
			}
		case FieldBody:
			if s, ok := v.(string); ok {
				n.body = s
			}
		case FieldActions:
			if actions, ok := toActions(v); ok {
				n.actions = actions
			}
		case FieldTimeout:
			if d, ok := toDuration(v); ok {
				n.timeout = d
			}
		case FieldAntiLeakTimeout:
			if d, ok := toDuration(v); ok {
				n.antiLeakTimeout = d
			}
		case FieldFireAndForget:
			if b, ok := v.(bool); ok {
				n.fireAndForget = b
			}
		case FieldUrgency:
			if v == nil {
				n.hints.Delete(hintUrgency)
				continue
			}
			n.hints.Set(hintUrgency, int(ParseUrgency(v)))
		case FieldSound:
			if s, ok := v.(string); ok && s != "" {
				h := soundHint(s)
				n.hints.Set(h.ID, h.Value)
			}
		default:
			if v == nil {
				n.hints.Delete(k)
				continue
			}
			n.hints.Set(k, v)
		}
	}
}

// toActions accepts []Action, []string pairs or a map of key to label.
// Duplicate keys keep their first position and their last label.
func toActions(v interface{}) ([]Action, bool) {
	var in []Action
	switch a := v.(type) {
	case []Action:
		in = a
	case []string:
		if len(a)%2 != 0 {
			return nil, false
		}
		for i := 0; i < len(a); i += 2 {
			in = append(in, Action{Key: a[i], Label: a[i+1]})
		}
	case map[string]string:
		keys := make([]string, 0, len(a))
		for k := range a {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			in = append(in, Action{Key: k, Label: a[k]})
		}
	default:
		return nil, false
	}

	out := make([]Action, 0, len(in))
	index := make(map[string]int, len(in))
	for _, a := range in {
		if i, ok := index[a.Key]; ok {
			out[i].Label = a.Label
			continue
		}
		index[a.Key] = len(out)
		out = append(out, a)
	}
	return out, true
}

// toDuration accepts a time.Duration or a number of milliseconds.
func toDuration(v interface{}) (time.Duration, bool) {
	switch d := v.(type) {
	case time.Duration:
		return d, true
	case float64:
		return time.Duration(d * float64(time.Millisecond)), true
	}
	if ms, ok := toInt64(v); ok {
		return time.Duration(ms) * time.Millisecond, true
	}
	return 0, false
}
