// Package models contains the data structures used throughout savekeeper.
package models

import (
	"encoding/json"
	"fmt"
)

// SaveUnitType tells whether a save unit is a single file or a whole folder.
type SaveUnitType string

const (
	SaveUnitFile   SaveUnitType = "File"
	SaveUnitFolder SaveUnitType = "Folder"
)

// UnmarshalJSON rejects unit types other than File and Folder.
func (t *SaveUnitType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch SaveUnitType(s) {
	case SaveUnitFile, SaveUnitFolder:
		*t = SaveUnitType(s)
		return nil
	default:
		return fmt.Errorf("unknown save unit type %q", s)
	}
}

// SaveUnit declares one file or folder that belongs to a game's save data.
type SaveUnit struct {
	UnitType          SaveUnitType `json:"unit_type" validate:"required,oneof=File Folder"`
	Path              string       `json:"path" validate:"required"`
	DeleteBeforeApply bool         `json:"delete_before_apply"`
}

// Game is a named set of save units plus an optional launcher path.
type Game struct {
	Name      string     `json:"name" validate:"required,excludesall=/\\"`
	SavePaths []SaveUnit `json:"save_paths" validate:"dive"`
	GamePath  *string    `json:"game_path,omitempty"`
}

// ResolvedUnit is a save unit mapped to an absolute path on disk.
type ResolvedUnit struct {
	Index     int
	Unit      SaveUnit
	AbsPath   string
	EntryName string // name of the unit's root inside the archive
}

// ResolvePlan is the outcome of resolving a game's save units for a snapshot.
type ResolvePlan struct {
	Game     string
	Units    []ResolvedUnit // existing entries to include
	Missing  []ResolvedUnit // declared but absent at backup time
	Warnings []Event
}

// RestorePlan lists the targets of a restore.
type RestorePlan struct {
	Game        string
	Units       []ResolvedUnit
	DeleteFirst []ResolvedUnit
}
