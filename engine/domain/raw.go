package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ShopFromRaw translates a loosely typed record, as produced by the scraper
// or decoded from arbitrary JSON, into a Shop.
func ShopFromRaw(raw map[string]any) (Shop, error) {
	s := Shop{
		ID:          firstString(raw, "_id", "id"),
		Name:        strings.TrimSpace(firstString(raw, "name")),
		Tag:         strings.TrimSpace(firstString(raw, "tag", "category")),
		Description: strings.TrimSpace(firstString(raw, "desc", "description")),
		Specialties: stringList(raw["specialties"]),
		Images:      stringList(raw["images"]),
		MapLink:     firstString(raw, "mapLink", "map_link"),
	}
	if s.ID == "" && s.Name == "" {
		return Shop{}, NewValidationError("name", "", ErrInvalidShop)
	}

	switch loc := raw["location"].(type) {
	case map[string]any:
		s.Location.ID = firstString(loc, "id")
		s.Location.Label = firstString(loc, "label", "name")
	case string:
		s.Location.ID = slug(loc)
		s.Location.Label = loc
	}
	if s.Location.Label == "" && s.Location.ID != "" {
		s.Location.Label = LocationLabel(s.Location.ID)
	}

	if v, ok := raw["rating"]; ok && v != nil {
		r, err := toFloat(v)
		if err != nil || r < 0 || r > 5 {
			return Shop{}, NewValidationError("rating", fmt.Sprint(v), ErrInvalidShop)
		}
		s.Rating = &r
	}
	if v, ok := firstPresent(raw, "reviewCount", "review_count", "reviews"); ok {
		n, err := toFloat(v)
		if err != nil || n < 0 {
			return Shop{}, NewValidationError("reviewCount", fmt.Sprint(v), ErrInvalidShop)
		}
		c := int(n)
		s.ReviewCount = &c
	}
	if v, ok := firstPresent(raw, "createdAt", "created_at"); ok {
		t, err := toTime(v)
		if err != nil {
			return Shop{}, NewValidationError("createdAt", fmt.Sprint(v), ErrInvalidShop)
		}
		s.CreatedAt = &t
	}
	return s, nil
}

// ShopsFromRaw translates a list of records, failing on the first bad one.
func ShopsFromRaw(raws []map[string]any) ([]Shop, error) {
	shops := make([]Shop, 0, len(raws))
	for i, raw := range raws {
		s, err := ShopFromRaw(raw)
		if err != nil {
			return nil, fmt.Errorf("domain: shop %d: %w", i, err)
		}
		shops = append(shops, s)
	}
	return shops, nil
}

// UserFromRaw translates a loosely typed user profile.
func UserFromRaw(raw map[string]any) (User, error) {
	u := User{
		ID:        firstString(raw, "_id", "id", "userId"),
		Favorites: stringList(raw["favorites"]),
	}
	if u.ID == "" {
		return User{}, NewValidationError("id", "", ErrInvalidUser)
	}
	prefs, _ := raw["preferences"].(map[string]any)
	if prefs == nil {
		return u, nil
	}
	u.Preferences.FavoriteLocations = stringList(prefs["favoriteLocations"])
	u.Preferences.Style = stringList(prefs["style"])
	u.Preferences.FavoriteCategories = stringList(prefs["favoriteCategories"])
	if b, ok := prefs["budget"].(map[string]any); ok && b["max"] != nil {
		max, err := toFloat(b["max"])
		if err != nil || max < 0 {
			return User{}, NewValidationError("budget.max", fmt.Sprint(b["max"]), ErrInvalidUser)
		}
		u.Preferences.Budget.Max = max
	}
	return u, nil
}

var locationLabels = map[string]string{
	"hsr-layout":   "HSR Layout",
	"koramangala":  "Koramangala",
	"jayanagar":    "Jayanagar",
	"indiranagar":  "Indiranagar",
	"central":      "Commercial Street",
	"whitefield":   "Whitefield",
	"jpnagar":      "JP Nagar",
	"malleshwaram": "Malleshwaram",
	"btm":          "BTM Layout",
}

// LocationLabel maps a location id to its display label.
func LocationLabel(id string) string {
	if l, ok := locationLabels[id]; ok {
		return l
	}
	words := strings.Fields(strings.ReplaceAll(id, "-", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func slug(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "-")
}

func firstPresent(raw map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func firstString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			return strconv.Itoa(v)
		case int64:
			return strconv.FormatInt(v, 10)
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func stringList(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if vv == "" {
			return nil
		}
		parts := strings.Split(vv, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}

func toFloat(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		x, err := n.Float64()
		if err != nil {
			return 0, err
		}
		f = x
	case string:
		x, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, err
		}
		f = x
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number")
	}
	return f, nil
}

var timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func toTime(v any) (time.Time, error) {
	if s, ok := v.(string); ok {
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized time %q", s)
	}
	secs, err := toFloat(v)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(secs), 0).UTC(), nil
}
