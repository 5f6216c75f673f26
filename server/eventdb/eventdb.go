package eventdb

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

// DefaultMaxDetections is the number of detection records that we keep before purging the oldest
const DefaultMaxDetections = 100000

// EventDB is the durable store for camera feeds, detections, and alert attempts
type EventDB struct {
	Log   logs.Log
	DB    *gorm.DB
	Clock clock.Clock

	// OnPurge, if set, receives the frame paths of purged detections.
	// It is called with the purge lock held, so it must not block.
	OnPurge func(framePaths []string)

	purgeLock         sync.Mutex
	maxDetections     int64
	purgeInterval     int // Check for purge after this many appends
	appendsSincePurge int
}

// Open or create the event database.
// If clk is nil, the wall clock is used.
func NewEventDB(logger logs.Log, config dbh.DBConfig, clk clock.Clock) (*EventDB, error) {
	if config.Driver == dbh.DriverSqlite {
		os.MkdirAll(filepath.Dir(config.Database), 0770)
	}
	db, err := dbh.OpenDB(logger, config, Migrations(logger), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open database %v: %w", config.Database, err)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &EventDB{
		Log:           logger,
		DB:            db,
		Clock:         clk,
		maxDetections: DefaultMaxDetections,
		purgeInterval: 100,
	}, nil
}

// Open or create an sqlite event database
func NewEventDBSqlite(logger logs.Log, dbFilename string, clk clock.Clock) (*EventDB, error) {
	return NewEventDB(logger, dbh.MakeSqliteConfig(dbFilename), clk)
}

// SetRetention changes the maximum number of detection records kept
func (e *EventDB) SetRetention(maxDetections int64) {
	e.purgeLock.Lock()
	defer e.purgeLock.Unlock()
	e.maxDetections = maxDetections
}

func (e *EventDB) Close() error {
	sqlDB, err := e.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Delete the oldest detections (and their alerts) once we exceed maxDetections.
// We allow a little slack, so that we're not deleting on every insert.
func (e *EventDB) purgeOldRecords() {
	e.purgeLock.Lock()
	defer e.purgeLock.Unlock()
	e.appendsSincePurge++
	if e.appendsSincePurge < e.purgeInterval {
		return
	}
	e.appendsSincePurge = 0

	count := int64(0)
	if err := e.DB.Model(&Detection{}).Count(&count).Error; err != nil {
		e.Log.Errorf("Failed to count detections: %v", err)
		return
	}
	if count <= e.maxDetections {
		return
	}
	// Find the ID of the newest record that must go
	excess := count - e.maxDetections
	var cutoff int64
	if err := e.DB.Model(&Detection{}).Select("id").Order("id").Offset(int(excess - 1)).Limit(1).Scan(&cutoff).Error; err != nil {
		e.Log.Errorf("Failed to find detection purge cutoff: %v", err)
		return
	}
	e.Log.Infof("Purging %v old detections (id <= %v)", excess, cutoff)
	framePaths := []string{}
	if e.OnPurge != nil {
		if err := e.DB.Model(&Detection{}).Where("id <= ? AND frame_path != ''", cutoff).Order("id").Pluck("frame_path", &framePaths).Error; err != nil {
			e.Log.Errorf("Failed to find frames of old detections: %v", err)
		}
	}
	if err := e.DB.Where("detection_id <= ?", cutoff).Delete(&Alert{}).Error; err != nil {
		e.Log.Errorf("Failed to purge old alerts: %v", err)
	}
	if err := e.DB.Where("id <= ?", cutoff).Delete(&Detection{}).Error; err != nil {
		e.Log.Errorf("Failed to purge old detections: %v", err)
		return
	}
	if len(framePaths) != 0 {
		e.OnPurge(framePaths)
	}
}
