// Package ormstore persists snapshots through the teacher's kit/orm.DB
// facade, one row per (name, position). It reuses kit/orm's dbType
// dialect switch (mysql/sqlite/postgres) and query-builder surface
// (Where/Order/First/Transaction/Create) instead of driving gorm
// directly, the same way the teacher's repository packages sit on top
// of kit/orm rather than importing gorm themselves.
package ormstore

import (
	"context"

	"github.com/pkg/errors"
	ormKit "github.com/superj80820/streamproc/kit/orm"
	"github.com/superj80820/streamproc/logstream"
	"github.com/superj80820/streamproc/snapshotstore"
	"gorm.io/gorm"
)

// snapshotRow is the gorm model backing the snapshots table. Unlike a
// general-purpose row store, LastSnapshot is an ORDER BY position DESC
// LIMIT 1 query, so no separate pruning job is required to keep only the
// latest row visible; older rows are simply never read.
type snapshotRow struct {
	ID       uint `gorm:"primarykey"`
	Name     string `gorm:"index:idx_name_position"`
	Position int64  `gorm:"index:idx_name_position"`
	Blob     []byte
}

func (snapshotRow) TableName() string { return "snapshots" }

// Store is a kit/orm-backed snapshotstore.Store.
type Store struct {
	db *ormKit.DB
}

// Open dials the configured dialect via kit/orm.CreateDB and migrates the
// snapshots table. useDB and options are kit/orm.UseMySQL/UsePostgres/
// UseSQLite and friends, passed straight through.
func Open(useDB ormKit.Option, options ...ormKit.Option) (*Store, error) {
	db, err := ormKit.CreateDB(useDB, options...)
	if err != nil {
		return nil, errors.Wrap(err, "create snapshot db failed")
	}
	if err := db.AutoMigrate(&snapshotRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate snapshots table failed")
	}
	return &Store{db: db}, nil
}

var _ snapshotstore.Store = (*Store)(nil)

func (s *Store) LastSnapshot(ctx context.Context, name string) (*snapshotstore.Snapshot, error) {
	var row snapshotRow
	result := s.db.Where("name = ?", name).Order("position desc").First(&row)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "query last snapshot failed")
	}

	return &snapshotstore.Snapshot{
		Name:     row.Name,
		Position: logstream.Position(row.Position),
		Blob:     row.Blob,
	}, nil
}

func (s *Store) CreateSnapshot(ctx context.Context, name string, position logstream.Position) (snapshotstore.Writer, error) {
	return &writer{
		db:       s.db,
		name:     name,
		position: position,
	}, nil
}

type writer struct {
	db       *ormKit.DB
	name     string
	position logstream.Position
	blob     []byte
}

var _ snapshotstore.Writer = (*writer)(nil)

func (w *writer) Write(blob []byte) (int64, error) {
	w.blob = blob
	return int64(len(blob)), nil
}

func (w *writer) Commit(ctx context.Context) error {
	row := snapshotRow{
		Name:     w.name,
		Position: int64(w.position),
		Blob:     w.blob,
	}
	if err := w.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&row).Error
	}); err != nil {
		return errors.Wrap(err, "commit snapshot failed")
	}
	return nil
}

func (w *writer) Abort() error {
	w.blob = nil
	return nil
}
