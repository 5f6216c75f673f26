package eventdb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE camera_feed(
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			stream_url TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at INT NOT NULL
		);

		CREATE TABLE detection(
			id INTEGER PRIMARY KEY,
			camera_id INT NOT NULL,
			time INT NOT NULL,
			label TEXT NOT NULL,
			confidence REAL NOT NULL,
			frame_path TEXT,
			detail TEXT
		);

		CREATE INDEX idx_detection_camera_time ON detection(camera_id, time);
		CREATE INDEX idx_detection_time ON detection(time);

		CREATE TABLE alert(
			id INTEGER PRIMARY KEY,
			detection_id INT NOT NULL,
			time INT NOT NULL,
			alert_type TEXT NOT NULL,
			status TEXT NOT NULL,
			recipient TEXT NOT NULL,
			error TEXT
		);

		CREATE INDEX idx_alert_detection_id ON alert(detection_id);
	`))

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE INDEX idx_detection_label ON detection(label);
	`))

	return migs
}
