// Package router maps recognized text to the plugin that should handle it.
package router

import (
	log "log/slog"
	"strings"
	"unicode"

	"murmur/internal/plugin"
)

type route struct {
	key string
	d   *plugin.Descriptor
}

// Router matches text against a sealed registry. Plugin names are normalized
// once; a Router is safe for concurrent use.
type Router struct {
	routes []route
}

// New snapshots reg in insertion order.
func New(reg *plugin.Registry) *Router {
	r := &Router{}
	if reg == nil {
		return r
	}
	for _, d := range reg.All() {
		key := Normalize(d.Name)
		if key == "" {
			continue
		}
		if strings.ContainsAny(key, "_-") {
			log.Debug("plugin name has '_' or '-' and will not match spoken text", "plugin", d.Name)
		}
		r.routes = append(r.routes, route{key: key, d: d})
	}
	return r
}

// Route returns the first plugin whose name matches text, ignoring case.
// Most plugins match when their name occurs anywhere in the text; plugins
// with plugin.MatchUtterance need the utterance to be exactly their name.
func (r *Router) Route(text string) (*plugin.Descriptor, bool) {
	text = Normalize(text)
	if text == "" {
		return nil, false
	}
	bare := stripPunct(text)
	for _, rt := range r.routes {
		switch rt.d.Match {
		case plugin.MatchUtterance:
			if bare == rt.key {
				return rt.d, true
			}
		default:
			if strings.Contains(text, rt.key) {
				return rt.d, true
			}
		}
	}
	return nil, false
}

// Names returns the routable plugin names in match order.
func (r *Router) Names() []string {
	names := make([]string, 0, len(r.routes))
	for _, rt := range r.routes {
		names = append(names, rt.d.Name)
	}
	return names
}

// Route is New(reg).Route(text) without keeping the router.
func Route(text string, reg *plugin.Registry) (*plugin.Descriptor, bool) {
	return New(reg).Route(text)
}

// Normalize lower-cases text and collapses runs of whitespace to one space.
func Normalize(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// stripPunct drops punctuation around each word, so "Stop." reads as "stop".
func stripPunct(text string) string {
	words := strings.Fields(text)
	out := words[:0]
	for _, w := range words {
		if w = strings.TrimFunc(w, unicode.IsPunct); w != "" {
			out = append(out, w)
		}
	}
	return strings.Join(out, " ")
}
