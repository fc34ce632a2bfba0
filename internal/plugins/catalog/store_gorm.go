package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type entityModel struct {
	UID       string    `gorm:"column:uid;primaryKey;size:64"`
	Ref       string    `gorm:"column:ref;uniqueIndex;size:512"`
	Kind      string    `gorm:"column:kind;index;size:128"`
	Source    string    `gorm:"column:source;index;size:1024"`
	Body      string    `gorm:"column:body;type:text"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

type locationModel struct {
	ID        string    `gorm:"column:id;primaryKey;size:64"`
	Type      string    `gorm:"column:type;size:32"`
	Target    string    `gorm:"column:target;uniqueIndex;size:1024"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// GormStore persists the catalog in Postgres. Table names carry the
// plugin prefix of the database client.
type GormStore struct {
	db        *gorm.DB
	entities  string
	locations string
}

// NewGormStore migrates the catalog tables and returns the store
func NewGormStore(ctx context.Context, db *gorm.DB, tablePrefix string) (*GormStore, error) {
	s := &GormStore{db: db, entities: tablePrefix + "entities", locations: tablePrefix + "locations"}
	if err := db.WithContext(ctx).Table(s.entities).AutoMigrate(&entityModel{}); err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Table(s.locations).AutoMigrate(&locationModel{}); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *GormStore) Upsert(ctx context.Context, e *Entity, source string) error {
	body, err := sonic.MarshalString(e)
	if err != nil {
		return err
	}
	row := entityModel{
		UID:       e.Metadata.UID,
		Ref:       e.Ref().String(),
		Kind:      e.Ref().Kind,
		Source:    source,
		Body:      body,
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Table(s.entities).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ref"}},
		DoUpdates: clause.AssignmentColumns([]string{"uid", "kind", "source", "body", "updated_at"}),
	}).Create(&row).Error
}

func (s *GormStore) take(ctx context.Context, query string, arg interface{}) (*Entity, error) {
	var row entityModel
	err := s.db.WithContext(ctx).Table(s.entities).Where(query, arg).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeEntity([]byte(row.Body))
}

func (s *GormStore) Get(ctx context.Context, ref EntityRef) (*Entity, error) {
	return s.take(ctx, "ref = ?", ref.String())
}

func (s *GormStore) GetByUID(ctx context.Context, uid string) (*Entity, error) {
	return s.take(ctx, "uid = ?", uid)
}

func (s *GormStore) List(ctx context.Context) ([]*Entity, error) {
	var rows []entityModel
	if err := s.db.WithContext(ctx).Table(s.entities).Order("ref").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*Entity, 0, len(rows))
	for _, row := range rows {
		e, err := decodeEntity([]byte(row.Body))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *GormStore) DeleteByUID(ctx context.Context, uid string) error {
	res := s.db.WithContext(ctx).Table(s.entities).Where("uid = ?", uid).Delete(&entityModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) RefsBySource(ctx context.Context, source string) ([]EntityRef, error) {
	var refs []string
	if err := s.db.WithContext(ctx).Table(s.entities).Where("source = ?", source).Order("ref").Pluck("ref", &refs).Error; err != nil {
		return nil, err
	}
	out := make([]EntityRef, 0, len(refs))
	for _, r := range refs {
		ref, err := ParseEntityRef(r, "", "")
		if err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, nil
}

func (s *GormStore) AddLocation(ctx context.Context, loc Location) error {
	res := s.db.WithContext(ctx).Table(s.locations).Clauses(clause.OnConflict{DoNothing: true}).Create(&locationModel{
		ID:        loc.ID,
		Type:      loc.Type,
		Target:    loc.Target,
		CreatedAt: time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLocationExists
	}
	return nil
}

func (s *GormStore) Locations(ctx context.Context) ([]Location, error) {
	var rows []locationModel
	if err := s.db.WithContext(ctx).Table(s.locations).Order("target").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Location, 0, len(rows))
	for _, row := range rows {
		out = append(out, Location{ID: row.ID, Type: row.Type, Target: row.Target})
	}
	return out, nil
}

func (s *GormStore) DeleteLocation(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Table(s.locations).Where("id = ?", id).Delete(&locationModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLocationNotFound
	}
	return nil
}
