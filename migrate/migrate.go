// Package migrate computes the additive schema changes that bring a backend
// in line with a declared model.
//
// Planning is pure: it compares column descriptors against a live schema
// snapshot and emits create/add steps only. Nothing in the live schema is
// ever dropped, so partial model definitions cannot destroy data. Applying
// the steps is the backing store's concern.
package migrate

import (
	"fmt"

	"github.com/stratumdb/stratum/model"
)

// Column is one column as reported by the live schema.
type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// Index is one index as reported by the live schema.
type Index struct {
	Name   string
	Unique bool
}

// Snapshot is the backend-reported physical schema of one table or
// collection. Snapshots are fetched fresh per reconcile call and never
// cached; the schema can change underneath the process.
type Snapshot struct {
	Exists  bool
	Columns map[string]Column
	Indexes map[string]Index
}

// StepKind discriminates plan steps.
type StepKind string

const (
	CreateTable StepKind = "CreateTable"
	AddColumn   StepKind = "AddColumn"
	CreateIndex StepKind = "CreateIndex"
)

// IndexSpec names one single-column index to create.
type IndexSpec struct {
	Name   string
	Column string
	Unique bool
}

// Step is one DDL operation of a reconcile plan.
type Step struct {
	Kind    StepKind
	Table   string
	Columns []model.Descriptor // CreateTable
	Column  model.Descriptor   // AddColumn
	Index   IndexSpec          // CreateIndex
}

// IndexName derives the deterministic name of the index backing a column's
// unique or indexed flag.
func IndexName(table, column string, unique bool) string {
	if unique {
		return fmt.Sprintf("%s_%s_key", table, column)
	}
	return fmt.Sprintf("%s_%s_idx", table, column)
}

// Plan computes the steps that reconcile the live snapshot with the model.
// It is idempotent: planning against a snapshot that already satisfies the
// model yields no steps. Columns or indexes present in the snapshot but
// absent from the model are left alone.
func Plan(table string, cols []model.Descriptor, snap Snapshot) []Step {
	var steps []Step

	if !snap.Exists {
		steps = append(steps, Step{Kind: CreateTable, Table: table, Columns: cols})
	} else {
		for _, d := range cols {
			if _, ok := snap.Columns[d.Column]; !ok {
				steps = append(steps, Step{Kind: AddColumn, Table: table, Column: d})
			}
		}
	}

	for _, d := range cols {
		if !d.Unique && !d.Indexed {
			continue
		}
		name := IndexName(table, d.Column, d.Unique)
		if snap.Exists {
			if _, ok := snap.Indexes[name]; ok {
				continue
			}
		}
		steps = append(steps, Step{Kind: CreateIndex, Table: table, Index: IndexSpec{
			Name:   name,
			Column: d.Column,
			Unique: d.Unique,
		}})
	}

	return steps
}
