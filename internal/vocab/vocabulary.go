// Package vocab maps tokens and status labels to dense integer ids.
package vocab

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	PadToken = "<PAD>"
	UnkToken = "<UNK>"

	PadID = 0
	UnkID = 1
)

// Vocabulary is append-only while it is being built and read-only afterwards.
// It is not safe for concurrent mutation.
type Vocabulary struct {
	wordToID map[string]int
	idToWord []string
	counts   map[string]int
}

func NewVocabulary() *Vocabulary {
	return &Vocabulary{
		wordToID: map[string]int{PadToken: PadID, UnkToken: UnkID},
		idToWord: []string{PadToken, UnkToken},
		counts:   make(map[string]int),
	}
}

// Add inserts word with the next free id if absent and bumps its frequency.
func (v *Vocabulary) Add(word string) int {
	v.counts[word]++
	if id, ok := v.wordToID[word]; ok {
		return id
	}
	id := len(v.idToWord)
	v.wordToID[word] = id
	v.idToWord = append(v.idToWord, word)
	return id
}

// BuildFromTexts adds every lowercased whitespace token of texts.
func (v *Vocabulary) BuildFromTexts(texts []string) {
	for _, text := range texts {
		for _, word := range Tokenize(text) {
			v.Add(word)
		}
	}
}

// Encode maps text to exactly maxLen ids, truncating or right-padding with PadID.
func (v *Vocabulary) Encode(text string, maxLen int) []int {
	ids := make([]int, maxLen)
	for i, word := range Tokenize(text) {
		if i == maxLen {
			break
		}
		if id, ok := v.wordToID[word]; ok {
			ids[i] = id
		} else {
			ids[i] = UnkID
		}
	}
	return ids
}

// Decode joins the known words of ids. PAD and UNK are dropped, so it is lossy.
func (v *Vocabulary) Decode(ids []int) string {
	words := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == PadID || id == UnkID || id < 0 || id >= len(v.idToWord) {
			continue
		}
		words = append(words, v.idToWord[id])
	}
	return strings.Join(words, " ")
}

// Size counts the reserved ids too.
func (v *Vocabulary) Size() int {
	return len(v.idToWord)
}

func (v *Vocabulary) Count(word string) int {
	return v.counts[word]
}

// Tokenize lowercases and splits on whitespace.
func Tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

type vocabularyJSON struct {
	Tokens []string       `json:"tokens"`
	Counts map[string]int `json:"counts"`
}

func (v *Vocabulary) MarshalJSON() ([]byte, error) {
	return json.Marshal(vocabularyJSON{Tokens: v.idToWord, Counts: v.counts})
}

func (v *Vocabulary) UnmarshalJSON(data []byte) error {
	var raw vocabularyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Tokens) < 2 || raw.Tokens[PadID] != PadToken || raw.Tokens[UnkID] != UnkToken {
		return fmt.Errorf("vocabulary is missing reserved tokens")
	}

	wordToID := make(map[string]int, len(raw.Tokens))
	for id, word := range raw.Tokens {
		if _, dup := wordToID[word]; dup {
			return fmt.Errorf("duplicate vocabulary token %q", word)
		}
		wordToID[word] = id
	}
	if raw.Counts == nil {
		raw.Counts = make(map[string]int)
	}

	v.wordToID = wordToID
	v.idToWord = raw.Tokens
	v.counts = raw.Counts
	return nil
}
