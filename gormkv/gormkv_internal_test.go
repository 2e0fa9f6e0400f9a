package gormkv

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// dialect reports a fixed name and defers everything else to sqlite.
type dialect struct {
	gorm.Dialector
	name string
}

func (d dialect) Name() string {
	return d.name
}

func TestKeyColumnType(t *testing.T) {
	tests := map[string]string{
		"mysql":  "varchar(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin",
		"sqlite": "varchar(255)",
	}

	for name, expected := range tests {
		db := &gorm.DB{Config: &gorm.Config{Dialector: dialect{sqlite.Open(":memory:"), name}}}
		got := binaryKey("").GormDBDataType(db, nil)
		if got != expected {
			t.Fatalf("%s: expected '%s' got '%s'", name, expected, got)
		}
	}
}
