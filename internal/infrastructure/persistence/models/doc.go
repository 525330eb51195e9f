// Package models contains GORM persistence models that map to database tables.
// Domain types stay free of GORM tags; mappers on each model convert in both
// directions.
package models
