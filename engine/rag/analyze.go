package rag

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Intent is what the user wants from a question.
type Intent string

const (
	IntentFindStore      Intent = "find_store"
	IntentRecommendation Intent = "recommendation"
	IntentBudget         Intent = "budget_find"
	IntentComparison     Intent = "comparison"
	IntentInformation    Intent = "information"
	IntentGeneral        Intent = "general"
)

// PriceRange is a price bound in rupees. Zero Min means no lower bound.
type PriceRange struct {
	Min int `json:"min,omitempty"`
	Max int `json:"max"`
}

// Analysis is the structured reading of a question.
type Analysis struct {
	Intent    Intent      `json:"intent"`
	Locations []string    `json:"locations"`
	Styles    []string    `json:"styles"`
	Price     *PriceRange `json:"price_intent,omitempty"`
	ItemTypes []string    `json:"item_types"`
}

// CheapMax is the price ceiling implied by words like "cheap".
const CheapMax = 500

type alias struct{ phrase, id string }

// Intents are checked in order; the first with a matching word wins.
var intentWords = []struct {
	intent Intent
	words  []string
}{
	{IntentFindStore, []string{"where", "find", "looking for", "get"}},
	{IntentRecommendation, []string{"best", "top", "recommend", "suggest"}},
	{IntentBudget, []string{"cheap", "budget", "affordable", "under"}},
	{IntentComparison, []string{"compare", "vs", "versus", "or"}},
	{IntentInformation, []string{"what", "which", "how"}},
}

var locationAliases = []alias{
	{"hsr", "hsr-layout"},
	{"koramangala", "koramangala"},
	{"jayanagar", "jayanagar"},
	{"jp nagar", "jpnagar"},
	{"jpnagar", "jpnagar"},
	{"indiranagar", "indiranagar"},
	{"commercial", "central"},
	{"brigade", "central"},
	{"whitefield", "whitefield"},
	{"marathahalli", "whitefield"},
	{"malleshwaram", "malleshwaram"},
	{"btm", "btm"},
}

var styleAliases = []alias{
	{"vintage", "vintage"},
	{"y2k", "y2k"},
	{"grunge", "grunge"},
	{"streetwear", "streetwear"},
	{"minimalist", "minimalist"},
	{"korean", "korean"},
	{"aesthetic", "aesthetic"},
	{"cottagecore", "cottagecore"},
	{"old money", "old-money"},
}

var itemWords = []string{
	"jacket", "jackets",
	"jeans", "denim",
	"shirt", "shirts",
	"tshirt", "t-shirt", "tees",
	"hoodie", "hoodies",
	"cargo", "cargos",
	"dress", "dresses",
	"shoes", "sneakers",
	"kurta", "ethnic",
}

var pricePatterns = []*regexp.Regexp{
	regexp.MustCompile(`under\s*₹?\s*(\d+)`),
	regexp.MustCompile(`below\s*₹?\s*(\d+)`),
	regexp.MustCompile(`less\s*than\s*₹?\s*(\d+)`),
	regexp.MustCompile(`(\d+)\s*-\s*(\d+)`),
}

// Analyze extracts intent, locations, styles, a price range and item types
// from a question. Intents and item types match whole words; locations and
// styles match anywhere so "hsr layout" and "hsr-layout" both resolve.
func Analyze(question string) Analysis {
	q := strings.ToLower(question)
	words := wordSet(q)
	return Analysis{
		Intent:    detectIntent(q, words),
		Locations: resolve(q, locationAliases),
		Styles:    resolve(q, styleAliases),
		Price:     priceRange(q, words),
		ItemTypes: itemTypes(words),
	}
}

// Specific reports whether the analysis found anything to filter by.
func (a Analysis) Specific() bool {
	return len(a.Locations) > 0 || len(a.Styles) > 0 || len(a.ItemTypes) > 0 || a.Price != nil
}

func wordSet(q string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, w := range strings.Fields(q) {
		w = strings.Trim(w, "?.,!;:'\"()")
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}

func hasWord(q string, words map[string]struct{}, w string) bool {
	if strings.Contains(w, " ") {
		return strings.Contains(q, w)
	}
	_, ok := words[w]
	return ok
}

func detectIntent(q string, words map[string]struct{}) Intent {
	for _, iw := range intentWords {
		for _, w := range iw.words {
			if hasWord(q, words, w) {
				return iw.intent
			}
		}
	}
	return IntentGeneral
}

func resolve(q string, aliases []alias) []string {
	out := []string{}
	for _, a := range aliases {
		if strings.Contains(q, a.phrase) && !slices.Contains(out, a.id) {
			out = append(out, a.id)
		}
	}
	return out
}

func priceRange(q string, words map[string]struct{}) *PriceRange {
	for _, re := range pricePatterns {
		m := re.FindStringSubmatch(q)
		if m == nil {
			continue
		}
		if len(m) == 3 {
			lo, _ := strconv.Atoi(m[1])
			hi, _ := strconv.Atoi(m[2])
			return &PriceRange{Min: lo, Max: hi}
		}
		hi, _ := strconv.Atoi(m[1])
		return &PriceRange{Max: hi}
	}
	for _, w := range []string{"cheap", "budget", "affordable"} {
		if _, ok := words[w]; ok {
			return &PriceRange{Max: CheapMax}
		}
	}
	return nil
}

func itemTypes(words map[string]struct{}) []string {
	out := []string{}
	for _, w := range itemWords {
		if _, ok := words[w]; ok {
			out = append(out, w)
		}
	}
	return out
}
