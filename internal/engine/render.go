package engine

import (
	"sort"
	"time"

	"github.com/redalert-live/alertmon/internal/feed"
)

// NationwideLabel replaces the category description on rows that came from
// the nationwide feed.
const NationwideLabel = "Across the country"

// Row is one rendered alert entry.
type Row struct {
	Identity string    `json:"identity"`
	Time     time.Time `json:"time"`
	Category int       `json:"category"`
	Label    string    `json:"label"`
	Icon     string    `json:"icon"`
	Visible  bool      `json:"visible"`
}

// RowSink receives render output. The production sink broadcasts to
// connected browsers; tests record calls.
type RowSink interface {
	// AppendRows delivers newly rendered rows.
	AppendRows(rows []Row)
	// ReplaceRows delivers the full row list after a reorder.
	ReplaceRows(rows []Row)
	// CategoryVisibility announces a visibility flip for one category.
	CategoryVisibility(code int, visible bool)
	// Clear drops all rendered rows.
	Clear()
}

// RenderPipeline keeps the ordered list of rendered rows. Rendering is
// append-only; a resort reorders all current rows without touching their
// visibility or content, and visibility is governed solely by the row's
// category enabled flag.
type RenderPipeline struct {
	cats     *CategoryRegistry
	sink     RowSink
	rows     []Row
	sortDesc bool
}

// NewRenderPipeline creates a pipeline rendering into the given sink,
// sorted newest-first.
func NewRenderPipeline(cats *CategoryRegistry, sink RowSink) *RenderPipeline {
	return &RenderPipeline{cats: cats, sink: sink, sortDesc: true}
}

// Append renders new records as rows. Records whose event time failed to
// parse are skipped; order is fixed up by the following Resort.
func (p *RenderPipeline) Append(records []feed.AlertRecord) {
	appended := make([]Row, 0, len(records))
	for _, rec := range records {
		if rec.EventTime.IsZero() {
			continue
		}

		label := rec.CategoryDesc
		if rec.Nationwide {
			label = NationwideLabel
		} else if label == "" {
			label = "Unknown"
		}

		appended = append(appended, Row{
			Identity: rec.Identity(),
			Time:     rec.EventTime,
			Category: rec.Category,
			Label:    label,
			Icon:     p.cats.Icon(rec.Category),
			Visible:  p.cats.Enabled(rec.Category),
		})
	}

	if len(appended) == 0 {
		return
	}

	p.rows = append(p.rows, appended...)
	p.sink.AppendRows(appended)
}

// Resort reorders all rendered rows by event time in the current direction
// and pushes the full list to the sink. The sort is stable so rows with
// equal times keep their arrival order.
func (p *RenderPipeline) Resort() {
	if len(p.rows) == 0 {
		return
	}

	sort.SliceStable(p.rows, func(i, j int) bool {
		if p.sortDesc {
			return p.rows[i].Time.After(p.rows[j].Time)
		}
		return p.rows[i].Time.Before(p.rows[j].Time)
	})

	p.sink.ReplaceRows(p.Rows())
}

// SortDesc reports the current sort direction.
func (p *RenderPipeline) SortDesc() bool {
	return p.sortDesc
}

// SetSortDesc sets the direction for subsequent resorts.
func (p *RenderPipeline) SetSortDesc(desc bool) {
	p.sortDesc = desc
}

// SetCategoryVisible updates visibility on rendered rows of one category.
func (p *RenderPipeline) SetCategoryVisible(code int, visible bool) {
	for i := range p.rows {
		if p.rows[i].Category == code {
			p.rows[i].Visible = visible
		}
	}
	p.sink.CategoryVisibility(code, visible)
}

// Rows returns a copy of the current row list.
func (p *RenderPipeline) Rows() []Row {
	out := make([]Row, len(p.rows))
	copy(out, p.rows)
	return out
}

// Reset drops all rendered rows.
func (p *RenderPipeline) Reset() {
	p.rows = nil
	p.sink.Clear()
}
