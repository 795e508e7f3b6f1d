package categorical

// InvertedIndex maps a token id to the positions, in collection order, of
// the sets containing it.
type InvertedIndex [][]int

// BuildInvertedIndex walks c in order, so every posting list inherits the
// collection's (length, tokens) ordering.
func BuildInvertedIndex(c *Collection, numTokens int) InvertedIndex {
	idx := make(InvertedIndex, numTokens)
	for pos, set := range c.Sets {
		for _, tok := range set {
			if tok < 0 || tok >= numTokens {
				continue
			}
			idx[tok] = append(idx[tok], pos)
		}
	}
	return idx
}

// Postings returns the posting list of tok, or nil for unknown tokens.
func (idx InvertedIndex) Postings(tok int) []int {
	if tok < 0 || tok >= len(idx) {
		return nil
	}
	return idx[tok]
}

// Index bundles everything a categorical search reads. It is immutable once
// built and safe for concurrent searches.
type Index struct {
	Dict       *Dictionary
	Collection *Collection
	Inverted   InvertedIndex
	Delimiter  string
}

// BuildIndex constructs dictionary, collection and inverted index over sets.
func BuildIndex(sets []TokenSet, delimiter string) *Index {
	dict := BuildDictionary(sets)
	coll := Transform(sets, dict)
	return &Index{
		Dict:       dict,
		Collection: coll,
		Inverted:   BuildInvertedIndex(coll, dict.Len()),
		Delimiter:  delimiter,
	}
}

// Query tokenizes a raw query value and transforms it with the index's
// dictionary.
func (ix *Index) Query(raw string) []int {
	return ix.Dict.Transform(Tokenize(raw, ix.Delimiter))
}

func (ix *Index) Len() int { return ix.Collection.Len() }
