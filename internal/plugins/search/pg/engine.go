// Package pg provides a Postgres full text search engine.
package pg

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"

	"github.com/GriffinCanCode/devportal/backend/internal/plugins/search"
)

const (
	tsvector  = "to_tsvector('english', coalesce(title, '') || ' ' || coalesce(text, ''))"
	batchSize = 500
)

type documentModel struct {
	ID       uint   `gorm:"column:id;primaryKey"`
	Type     string `gorm:"column:type;index;size:128;not null"`
	Title    string `gorm:"column:title;type:text"`
	Text     string `gorm:"column:text;type:text"`
	Location string `gorm:"column:location;type:text"`
	Fields   string `gorm:"column:fields;type:jsonb;not null;default:'{}'"`
}

type hitRow struct {
	documentModel
	Rank float64 `gorm:"column:rank"`
}

// Engine stores documents in one table and ranks them with ts_rank
type Engine struct {
	db    *gorm.DB
	table string
}

// NewEngine migrates the documents table and its text index
func NewEngine(ctx context.Context, db *gorm.DB, tablePrefix string) (*Engine, error) {
	e := &Engine{db: db, table: tablePrefix + "documents"}
	if err := db.WithContext(ctx).Table(e.table).AutoMigrate(&documentModel{}); err != nil {
		return nil, err
	}
	idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_tsv_idx ON %s USING GIN (%s)", e.table, e.table, tsvector)
	if err := db.WithContext(ctx).Exec(idx).Error; err != nil {
		return nil, fmt.Errorf("failed to create text index: %w", err)
	}
	return e, nil
}

func (e *Engine) Name() string { return "postgres" }

func (e *Engine) Index(ctx context.Context, docType string, docs []search.Document) error {
	rows := make([]documentModel, 0, len(docs))
	for _, d := range docs {
		fields := "{}"
		if len(d.Fields) > 0 {
			raw, err := sonic.MarshalString(d.Fields)
			if err != nil {
				return err
			}
			fields = raw
		}
		rows = append(rows, documentModel{
			Type:     docType,
			Title:    d.Title,
			Text:     d.Text,
			Location: d.Location,
			Fields:   fields,
		})
	}

	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Table(e.table).Where("type = ?", docType).Delete(&documentModel{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Table(e.table).CreateInBatches(rows, batchSize).Error
	})
}

func (e *Engine) Query(ctx context.Context, q search.Query) (*search.ResultSet, error) {
	page, err := search.DecodeCursor(q.PageCursor)
	if err != nil {
		return nil, err
	}
	limit := search.PageLimit(q.PageLimit)

	base := e.filtered(e.db.WithContext(ctx), q).Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, err
	}

	var rows []hitRow
	if err := e.ranked(base, q).Offset(page * limit).Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}

	set := &search.ResultSet{Results: make([]search.Result, 0, len(rows))}
	for i, r := range rows {
		doc := search.Document{Title: r.Title, Text: r.Text, Location: r.Location}
		if r.Fields != "" && r.Fields != "{}" {
			if err := sonic.UnmarshalString(r.Fields, &doc.Fields); err != nil {
				return nil, err
			}
		}
		set.Results = append(set.Results, search.Result{
			Type:     r.Type,
			Document: doc,
			Rank:     page*limit + i + 1,
		})
	}
	search.Paginate(set, page, limit, int(total))
	return set, nil
}

// filtered applies the type, field and term conditions
func (e *Engine) filtered(tx *gorm.DB, q search.Query) *gorm.DB {
	tx = tx.Table(e.table)
	if len(q.Types) > 0 {
		tx = tx.Where("type IN ?", q.Types)
	}
	for k, v := range q.Filters {
		tx = tx.Where("lower(fields ->> ?) = lower(?)", k, v)
	}
	if q.Term != "" {
		tx = tx.Where(tsvector+" @@ plainto_tsquery('english', ?)", q.Term)
	}
	return tx
}

// ranked orders by relevance, or by title for an empty term
func (e *Engine) ranked(tx *gorm.DB, q search.Query) *gorm.DB {
	if q.Term == "" {
		return tx.Select("*, 0 AS rank").Order("title, location")
	}
	return tx.
		Select("*, ts_rank("+tsvector+", plainto_tsquery('english', ?)) AS rank", q.Term).
		Order("rank DESC, title")
}
