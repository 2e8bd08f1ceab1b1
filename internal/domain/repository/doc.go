// Package repository define las entidades persistidas del core y las interfaces
// de acceso a datos. Los adapters (pg, sqlite, memory) viven en internal/store.
//
// Todas las filas cuelgan de una Application replicada: borrar la Application
// borra en cascada usuarios, emails, credenciales, tokens, TOTP y metadata.
package repository
