package study

import (
	"slices"
	"sort"
)

// Metadata maps (namespace, key) to a string value. Iteration helpers return
// namespaces and keys in sorted order so encodings are stable.
type Metadata map[string]map[string]string

// Get returns the value stored under (ns, key).
func (m Metadata) Get(ns, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m[ns][key]
	return v, ok
}

// Set assigns (ns, key) = value. The receiver must be non-nil.
func (m Metadata) Set(ns, key, value string) {
	inner, ok := m[ns]
	if !ok {
		inner = make(map[string]string)
		m[ns] = inner
	}
	inner[key] = value
}

// Namespace returns a copy of all key/value pairs in ns. The result is never nil.
func (m Metadata) Namespace(ns string) map[string]string {
	out := make(map[string]string, len(m[ns]))
	for k, v := range m[ns] {
		out[k] = v
	}
	return out
}

// Namespaces returns the namespaces in sorted order.
func (m Metadata) Namespaces() []string {
	out := make([]string, 0, len(m))
	for ns := range m {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// Keys returns the keys of ns in sorted order.
func (m Metadata) Keys(ns string) []string {
	out := make([]string, 0, len(m[ns]))
	for k := range m[ns] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for ns, inner := range m {
		cp := make(map[string]string, len(inner))
		for k, v := range inner {
			cp[k] = v
		}
		out[ns] = cp
	}
	return out
}

// MetadataItem is one staged assignment.
type MetadataItem struct {
	Namespace string `json:"ns"`
	Key       string `json:"key"`
	Value     string `json:"value"`
}

// MetadataDelta is a batch of uncommitted metadata assignments. It is kept
// apart from any committed snapshot; a store applies it atomically through
// UpdateMetadata and readers never observe it before that.
type MetadataDelta struct {
	OnStudy  []MetadataItem         `json:"on_study,omitempty"`
	OnTrials map[int][]MetadataItem `json:"on_trials,omitempty"`
}

// Assign stages a study-scoped assignment.
func (d *MetadataDelta) Assign(ns, key, value string) {
	d.OnStudy = append(d.OnStudy, MetadataItem{Namespace: ns, Key: key, Value: value})
}

// AssignTrial stages a trial-scoped assignment.
func (d *MetadataDelta) AssignTrial(trialID int, ns, key, value string) {
	if d.OnTrials == nil {
		d.OnTrials = make(map[int][]MetadataItem)
	}
	d.OnTrials[trialID] = append(d.OnTrials[trialID], MetadataItem{Namespace: ns, Key: key, Value: value})
}

// Empty reports whether nothing is staged.
func (d MetadataDelta) Empty() bool {
	return len(d.OnStudy) == 0 && len(d.OnTrials) == 0
}

// TrialIDs returns the referenced trial ids in ascending order.
func (d MetadataDelta) TrialIDs() []int {
	ids := make([]int, 0, len(d.OnTrials))
	for id := range d.OnTrials {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Validate rejects malformed assignments before any store is touched.
func (d MetadataDelta) Validate() error {
	for _, it := range d.OnStudy {
		if it.Key == "" {
			return InvalidArgument("study metadata key is empty (namespace %q)", it.Namespace)
		}
	}
	for id, items := range d.OnTrials {
		if id <= 0 {
			return InvalidArgument("metadata references invalid trial id %d", id)
		}
		for _, it := range items {
			if it.Key == "" {
				return InvalidArgument("trial %d metadata key is empty (namespace %q)", id, it.Namespace)
			}
		}
	}
	return nil
}

// ApplyStudy writes the study-scoped items into m, allocating it if needed.
func (d MetadataDelta) ApplyStudy(m Metadata) Metadata {
	return applyItems(m, d.OnStudy)
}

// ApplyTrial writes the items staged for trialID into m, allocating it if needed.
func (d MetadataDelta) ApplyTrial(trialID int, m Metadata) Metadata {
	return applyItems(m, d.OnTrials[trialID])
}

func applyItems(m Metadata, items []MetadataItem) Metadata {
	if len(items) == 0 {
		return m
	}
	if m == nil {
		m = make(Metadata)
	}
	for _, it := range items {
		m.Set(it.Namespace, it.Key, it.Value)
	}
	return m
}
