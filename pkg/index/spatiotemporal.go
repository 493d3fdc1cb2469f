// Package index implements a spatiotemporal hierarchy: a
// domain -> task_type -> time_bucket -> set<EpisodeId> nested map plus a
// reverse index for O(1) removal.
package index

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jordigilh/episodic-memory/pkg/episode"
)

// Granularity selects the bucket width insertion computes from an
// episode's end time.
type Granularity int

const (
	GranularityDay Granularity = iota
	GranularityMonth
	GranularityQuarter
)

// Bucket derives the time bucket key for t at the given granularity
// (default: per day). The index itself inserts and queries by day only;
// no monthly or quarterly aggregates are maintained.
func Bucket(t time.Time, g Granularity) string {
	t = t.UTC()
	switch g {
	case GranularityMonth:
		return fmt.Sprintf("%04d-%02d", t.Year(), t.Month())
	case GranularityQuarter:
		q := (int(t.Month())-1)/3 + 1
		return fmt.Sprintf("%04d-Q%d", t.Year(), q)
	default:
		return t.Format("2006-01-02")
	}
}

// Coords locates one episode within the hierarchy.
type Coords struct {
	Domain   string
	TaskType episode.TaskType
	Bucket   string
}

// Index is the readers-writer-lock-guarded three-level nested map plus its
// reverse episode_id -> Coords index.
type Index struct {
	mu  sync.RWMutex
	leaves  map[string]map[episode.TaskType]map[string]map[uuid.UUID]struct{}
	reverse map[uuid.UUID]Coords
}

// New constructs an empty Index.
func New() *Index {
	return &Index{
		leaves:  make(map[string]map[episode.TaskType]map[string]map[uuid.UUID]struct{}),
		reverse: make(map[uuid.UUID]Coords),
	}
}

// Insert adds a completed episode's id to its (domain, task_type, bucket)
// leaf, computed at day granularity from its context and end time.
func (idx *Index) Insert(ep *episode.Episode) {
	if !ep.IsComplete() {
		return
	}
	coords := Coords{
		Domain:   ep.Context.Domain,
		TaskType: ep.Context.TaskType,
		Bucket:   Bucket(*ep.EndTime, GranularityDay),
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if prev, ok := idx.reverse[ep.ID]; ok {
		idx.removeLocked(ep.ID, prev)
	}

	byTaskType, ok := idx.leaves[coords.Domain]
	if !ok {
		byTaskType = make(map[episode.TaskType]map[string]map[uuid.UUID]struct{})
		idx.leaves[coords.Domain] = byTaskType
	}
	byBucket, ok := byTaskType[coords.TaskType]
	if !ok {
		byBucket = make(map[string]map[uuid.UUID]struct{})
		byTaskType[coords.TaskType] = byBucket
	}
	leaf, ok := byBucket[coords.Bucket]
	if !ok {
		leaf = make(map[uuid.UUID]struct{})
		byBucket[coords.Bucket] = leaf
	}
	leaf[ep.ID] = struct{}{}
	idx.reverse[ep.ID] = coords
}

// Remove deletes id from its leaf using the reverse index for O(1)
// cleanup, deleting any leaf/branch left empty.
func (idx *Index) Remove(id uuid.UUID) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	coords, ok := idx.reverse[id]
	if !ok {
		return
	}
	idx.removeLocked(id, coords)
}

func (idx *Index) removeLocked(id uuid.UUID, coords Coords) {
	delete(idx.reverse, id)

	byTaskType, ok := idx.leaves[coords.Domain]
	if !ok {
		return
	}
	byBucket, ok := byTaskType[coords.TaskType]
	if !ok {
		return
	}
	leaf, ok := byBucket[coords.Bucket]
	if !ok {
		return
	}
	delete(leaf, id)
	if len(leaf) == 0 {
		delete(byBucket, coords.Bucket)
	}
	if len(byBucket) == 0 {
		delete(byTaskType, coords.TaskType)
	}
	if len(byTaskType) == 0 {
		delete(idx.leaves, coords.Domain)
	}
}

// Query filter. A zero TaskType (TaskTypeUnknown) or empty Domain means
// "all" for that dimension; a zero time.Time in Since/Until means
// unbounded on that side.
type Query struct {
	Domain   string
	TaskType episode.TaskType
	Since    time.Time
	Until    time.Time
}

// hasTaskType reports whether q constrains the task-type dimension.
func (q Query) hasTaskType() bool { return q.TaskType != episode.TaskTypeUnknown }

// hasTimeRange reports whether q constrains the time dimension.
func (q Query) hasTimeRange() bool { return !q.Since.IsZero() || !q.Until.IsZero() }

// Query returns the set of candidate episode ids matching the filter.
// Specifying domain and/or task_type prunes to the relevant subtree
// (O(log n) in the number of distinct leaves touched); omitting all
// dimensions scans every leaf (worst-case linear, matching prior flat
// retrieval).
func (idx *Index) Query(q Query) []uuid.UUID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	domains := idx.domainsFor(q.Domain)
	var results []uuid.UUID
	for _, domain := range domains {
		byTaskType, ok := idx.leaves[domain]
		if !ok {
			continue
		}
		taskTypes := taskTypesFor(byTaskType, q)
		for _, tt := range taskTypes {
			byBucket, ok := byTaskType[tt]
			if !ok {
				continue
			}
			for bucket, leaf := range byBucket {
				if q.hasTimeRange() && !bucketInRange(bucket, q) {
					continue
				}
				for id := range leaf {
					results = append(results, id)
				}
			}
		}
	}
	return results
}

func (idx *Index) domainsFor(domain string) []string {
	if domain != "" {
		return []string{domain}
	}
	domains := make([]string, 0, len(idx.leaves))
	for d := range idx.leaves {
		domains = append(domains, d)
	}
	return domains
}

func taskTypesFor(byTaskType map[episode.TaskType]map[string]map[uuid.UUID]struct{}, q Query) []episode.TaskType {
	if q.hasTaskType() {
		return []episode.TaskType{q.TaskType}
	}
	types := make([]episode.TaskType, 0, len(byTaskType))
	for tt := range byTaskType {
		types = append(types, tt)
	}
	return types
}

// bucketInRange reparses a day-granularity bucket key and compares it
// against the query's Since/Until bounds.
func bucketInRange(bucket string, q Query) bool {
	t, err := time.Parse("2006-01-02", bucket)
	if err != nil {
		return true
	}
	if !q.Since.IsZero() && t.Before(q.Since.UTC().Truncate(24*time.Hour)) {
		return false
	}
	if !q.Until.IsZero() && t.After(q.Until.UTC()) {
		return false
	}
	return true
}

// Len reports the total number of indexed episode ids.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.reverse)
}

// Contains reports whether id currently appears in the index.
func (idx *Index) Contains(id uuid.UUID) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.reverse[id]
	return ok
}
