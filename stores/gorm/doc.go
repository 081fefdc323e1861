//go:build !wasm
// +build !wasm

// Package gorm provides a GORM-based implementation of tokenpipe.ServerCredentialStore.
// It supports any database that GORM supports (PostgreSQL, MySQL, SQLite, etc.)
// and suits deployments where several processes share one set of credentials.
//
// # Database Schema
//
// The package auto-migrates the following table:
//   - credentials: one row per normalized server URL
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{})
//	gormstore.AutoMigrate(db)
//	store := gormstore.NewCredentialStore(db)
//	creds := tokenpipe.Bind(store, "https://api.example.com")
package gorm
