package config

import (
	dbm "github.com/cometbft/cometbft-db"
)

// DBContext specifies config information for loading a new DB.
type DBContext struct {
	ID     string
	Config *Config
}

// DBProvider takes a DBContext and returns an instantiated DB.
type DBProvider func(*DBContext) (dbm.DB, error)

// DefaultDBProvider returns a database using the DBBackend and DBDir
// specified in the ctx.Config.
func DefaultDBProvider(ctx *DBContext) (dbm.DB, error) {
	dbType := dbm.BackendType(ctx.Config.DBBackend)
	return dbm.NewDB(ctx.ID, dbType, ctx.Config.DBDir())
}

// InMemDBProvider ignores the configured backend and always returns a fresh
// in-memory database.
func InMemDBProvider(*DBContext) (dbm.DB, error) {
	return dbm.NewMemDB(), nil
}
