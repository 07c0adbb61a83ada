package vocab

import (
	"encoding/json"
	"fmt"
	"sort"
)

// LabelEncoder assigns dense ids to the sorted set of labels seen by Fit.
type LabelEncoder struct {
	labelToID map[string]int
	labels    []string
}

func NewLabelEncoder() *LabelEncoder {
	return &LabelEncoder{labelToID: make(map[string]int)}
}

// Fit replaces any previous mapping. Ids follow sorted label order, so the
// result does not depend on input order.
func (e *LabelEncoder) Fit(labels []string) {
	seen := make(map[string]struct{}, len(labels))
	unique := make([]string, 0, len(labels))
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		unique = append(unique, l)
	}
	sort.Strings(unique)

	e.labels = unique
	e.labelToID = make(map[string]int, len(unique))
	for id, l := range unique {
		e.labelToID[l] = id
	}
}

// Encode returns 0 for labels that were never fitted. Use Lookup to tell the
// difference.
func (e *LabelEncoder) Encode(label string) int {
	return e.labelToID[label]
}

func (e *LabelEncoder) Lookup(label string) (int, bool) {
	id, ok := e.labelToID[label]
	return id, ok
}

// Decode rejects ids outside 0..NumClasses-1.
func (e *LabelEncoder) Decode(id int) (string, error) {
	if id < 0 || id >= len(e.labels) {
		return "", fmt.Errorf("unknown label id %d (num classes %d)", id, len(e.labels))
	}
	return e.labels[id], nil
}

func (e *LabelEncoder) NumClasses() int {
	return len(e.labels)
}

// Classes returns the labels in id order.
func (e *LabelEncoder) Classes() []string {
	out := make([]string, len(e.labels))
	copy(out, e.labels)
	return out
}

func (e *LabelEncoder) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Classes []string `json:"classes"`
	}{e.labels})
}

func (e *LabelEncoder) UnmarshalJSON(data []byte) error {
	var raw struct {
		Classes []string `json:"classes"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !sort.StringsAreSorted(raw.Classes) {
		return fmt.Errorf("label classes are not sorted")
	}
	e.Fit(raw.Classes)
	if len(e.labels) != len(raw.Classes) {
		return fmt.Errorf("duplicate label classes")
	}
	return nil
}
