package roadmap

import (
	"fmt"

	"pbroadmap/internal/logger"
	"pbroadmap/internal/pkg/text"
)

const (
	featureTypeFeature    = "feature"
	featureTypeSubfeature = "subfeature"
)

// Skip describes a row that was left out of the tree.
type Skip struct {
	Collection string
	Index      int
	Reason     string
	Row        string
}

func (s Skip) String() string {
	return fmt.Sprintf("%s[%d]: %s", s.Collection, s.Index, s.Reason)
}

// Report collects the diagnostics of one Aggregate call.
type Report struct {
	Skipped []Skip
	// Orphans lists subfeature ids whose parent is not a top-level feature.
	Orphans []string
	// Ignored counts feature rows of any type other than feature/subfeature.
	Ignored int
}

// Warnings is the number of skipped rows plus dropped orphans.
func (r Report) Warnings() int {
	return len(r.Skipped) + len(r.Orphans)
}

type featureBuilder struct {
	title    string
	timeline []Lookup
	team     *Lookup
	subs     map[string]*Subfeature
}

func (b *featureBuilder) build() *Feature {
	return &Feature{
		Title:    b.title,
		Timeline: b.timeline,
		Team:     b.team,
		Features: b.subs,
	}
}

type subfeatureBuilder struct {
	id       string
	parentID string
	title    string
	timeline *Lookup
}

type aggregation struct {
	releases map[string]Lookup
	teams    map[string]Lookup

	features    map[string]*featureBuilder
	featureIDs  []string
	subfeatures map[string]*subfeatureBuilder
	subIDs      []string

	report Report
}

// Aggregate turns the flat collections into the feature tree. It never fails: malformed rows are
// skipped and recorded in the Report (and logged as warnings). Descriptions are left nil.
func Aggregate(c Collections) (Tree, Report) {
	a := &aggregation{
		features:    make(map[string]*featureBuilder),
		subfeatures: make(map[string]*subfeatureBuilder),
	}
	a.releases = a.nameTable(KeyReleases, c.Releases, "name")
	a.teams = a.nameTable(KeyListColumnItems, c.ListColumnItems, "label")
	a.partition(c.Features)
	a.attachTeams(c.ColumnValues)
	a.attachReleases(c.ReleaseAssignments)
	a.graft()
	return a.finish(), a.report
}

func (a *aggregation) skip(collection string, idx int, row Record, reason string) {
	s := Skip{Collection: collection, Index: idx, Reason: reason, Row: row.Raw()}
	a.report.Skipped = append(a.report.Skipped, s)
	logger.Warn("roadmap row skipped", "collection", collection, "index", idx, "reason", reason, "row", text.Truncate(row.Raw(), 160))
}

// nameTable maps ids to the field named field. A present id whose name is missing still resolves,
// to an unresolved Lookup.
func (a *aggregation) nameTable(collection string, rows []Record, field string) map[string]Lookup {
	out := make(map[string]Lookup, len(rows))
	for idx, row := range rows {
		id, ok := row.Get("id").ID()
		if !ok {
			a.skip(collection, idx, row, "invalid id")
			continue
		}
		name := row.Get(field)
		if !name.Exists() {
			out[id] = Lookup{}
			continue
		}
		out[id] = Resolved(name.Text())
	}
	return out
}

func (a *aggregation) partition(rows []Record) {
	for idx, row := range rows {
		kind, _ := row.Get("featureType").ID()
		if kind != featureTypeFeature && kind != featureTypeSubfeature {
			a.report.Ignored++
			continue
		}
		id, ok := row.Get("id").ID()
		if !ok {
			a.skip(KeyFeatures, idx, row, "invalid id")
			continue
		}
		title := row.Get("name").Text()
		if kind == featureTypeFeature {
			if _, seen := a.features[id]; !seen {
				a.featureIDs = append(a.featureIDs, id)
			}
			a.features[id] = &featureBuilder{title: title, timeline: []Lookup{}}
			continue
		}
		parentID, _ := row.Get("parentId").ID()
		if _, seen := a.subfeatures[id]; !seen {
			a.subIDs = append(a.subIDs, id)
		}
		a.subfeatures[id] = &subfeatureBuilder{id: id, parentID: parentID, title: title}
	}
}

// edgeIDs validates the two scalar ids of an edge row.
func (a *aggregation) edgeIDs(collection string, idx int, row Record, targetField string) (string, string, bool) {
	featureID, okFeature := row.Get("featureId").ID()
	target, okTarget := row.Get(targetField).ID()
	if !okFeature || !okTarget {
		a.skip(collection, idx, row, fmt.Sprintf("invalid featureId or %s", targetField))
		return "", "", false
	}
	return featureID, target, true
}

func (a *aggregation) attachTeams(rows []Record) {
	for idx, row := range rows {
		featureID, value, ok := a.edgeIDs(KeyColumnValues, idx, row, "value")
		if !ok {
			continue
		}
		if f, exists := a.features[featureID]; exists {
			team := a.teams[value]
			f.team = &team
		}
	}
}

// attachReleases appends to a feature's timeline and overwrites a subfeature's single slot.
func (a *aggregation) attachReleases(rows []Record) {
	for idx, row := range rows {
		featureID, releaseID, ok := a.edgeIDs(KeyReleaseAssignments, idx, row, "releaseId")
		if !ok {
			continue
		}
		release := a.releases[releaseID]
		if f, exists := a.features[featureID]; exists {
			f.timeline = append(f.timeline, release)
		}
		if s, exists := a.subfeatures[featureID]; exists {
			r := release
			s.timeline = &r
		}
	}
}

// graft attaches subfeatures to their parents; orphans are dropped with a warning.
func (a *aggregation) graft() {
	for _, id := range a.subIDs {
		s := a.subfeatures[id]
		parent, ok := a.features[s.parentID]
		if !ok {
			a.report.Orphans = append(a.report.Orphans, id)
			logger.Warn("orphan subfeature dropped", "subfeatureId", id, "parentId", s.parentID)
			continue
		}
		if parent.subs == nil {
			parent.subs = make(map[string]*Subfeature)
		}
		parent.subs[id] = &Subfeature{Title: s.title, Timeline: s.timeline}
	}
}

func (a *aggregation) finish() Tree {
	tree := make(Tree, len(a.features))
	for _, id := range a.featureIDs {
		tree[id] = a.features[id].build()
	}
	return tree
}
