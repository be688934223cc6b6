// Package db wraps the MongoDB driver with the query, projection, and
// atomic-modify conventions the rest of the module builds on. Queries
// are described by immutable Q values, field selection by FieldList,
// and server-generation differences are absorbed by Capabilities fixed
// once at connect time.
package db

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Database is a handle on one logical database plus the capability
// tier detected for the deployment serving it. It is read-only after
// construction and safe for concurrent use.
type Database struct {
	db   *mongo.Database
	caps Capabilities
}

// NewDatabase wraps a driver database with the capabilities detected
// for its deployment.
func NewDatabase(database *mongo.Database, caps Capabilities) *Database {
	return &Database{db: database, caps: caps}
}

// Name returns the database name.
func (d *Database) Name() string { return d.db.Name() }

// Capabilities returns the tier selections fixed at connect time.
func (d *Database) Capabilities() Capabilities { return d.caps }

// Mongo exposes the underlying driver database for operations this
// layer does not cover.
func (d *Database) Mongo() *mongo.Database { return d.db }

func (d *Database) collection(name string) *mongo.Collection {
	return d.db.Collection(name)
}

// notNilFilter substitutes an empty document for nil filters, which
// the driver rejects.
func notNilFilter(filter any) any {
	if filter == nil {
		return bson.D{}
	}
	return filter
}
