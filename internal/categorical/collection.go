package categorical

import (
	"slices"
	"sort"
)

// TokenSet is an entity's categorical value before transformation.
type TokenSet struct {
	ID       string
	Tokens   []string
	Original string
}

// IntSet is a TokenSet with tokens replaced by ids and sorted ascending.
type IntSet struct {
	ID     string
	Tokens []int
}

// Dictionary assigns token ids by ascending document frequency, so the
// rarest token gets id 0. Ties are broken by the token string.
type Dictionary struct {
	ids map[string]int
}

// BuildDictionary counts the sets each token occurs in and numbers tokens
// rarest first.
func BuildDictionary(sets []TokenSet) *Dictionary {
	freq := make(map[string]int)
	for _, set := range sets {
		for _, tok := range set.Tokens {
			freq[tok]++
		}
	}
	tokens := make([]string, 0, len(freq))
	for tok := range freq {
		tokens = append(tokens, tok)
	}
	sort.Slice(tokens, func(i, j int) bool {
		if freq[tokens[i]] != freq[tokens[j]] {
			return freq[tokens[i]] < freq[tokens[j]]
		}
		return tokens[i] < tokens[j]
	})
	ids := make(map[string]int, len(tokens))
	for i, tok := range tokens {
		ids[tok] = i
	}
	return &Dictionary{ids: ids}
}

func (d *Dictionary) Len() int { return len(d.ids) }

func (d *Dictionary) ID(token string) (int, bool) {
	id, ok := d.ids[token]
	return id, ok
}

// Transform maps tokens to sorted ids. Tokens missing from the dictionary get
// negative ids, stable within one call, so they still count towards the set
// size but never match a posting list.
func (d *Dictionary) Transform(tokens []string) []int {
	unknown := make(map[string]int)
	out := make([]int, 0, len(tokens))
	for _, tok := range tokens {
		if id, ok := d.ids[tok]; ok {
			out = append(out, id)
			continue
		}
		id, ok := unknown[tok]
		if !ok {
			id = -(len(unknown) + 1)
			unknown[tok] = id
		}
		out = append(out, id)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Collection holds transformed sets ordered by (length, tokens, id).
type Collection struct {
	Sets      [][]int
	Keys      []string
	Originals map[string]string
}

// Transform builds the ordered collection for sets under dictionary d.
func Transform(sets []TokenSet, d *Dictionary) *Collection {
	items := make([]IntSet, len(sets))
	originals := make(map[string]string, len(sets))
	for i, set := range sets {
		items[i] = IntSet{ID: set.ID, Tokens: d.Transform(set.Tokens)}
		originals[set.ID] = set.Original
	}
	sort.Slice(items, func(i, j int) bool {
		return compareIntSets(items[i], items[j]) < 0
	})
	c := &Collection{
		Sets:      make([][]int, len(items)),
		Keys:      make([]string, len(items)),
		Originals: originals,
	}
	for i, item := range items {
		c.Sets[i] = item.Tokens
		c.Keys[i] = item.ID
	}
	return c
}

func (c *Collection) Len() int { return len(c.Sets) }

func compareIntSets(a, b IntSet) int {
	if len(a.Tokens) != len(b.Tokens) {
		return len(a.Tokens) - len(b.Tokens)
	}
	if cmp := slices.Compare(a.Tokens, b.Tokens); cmp != 0 {
		return cmp
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

// TransformQuery maps already tokenized query tokens with d. Unknown tokens
// get negative ids.
func TransformQuery(tokens []string, d *Dictionary) []int {
	return d.Transform(tokens)
}
