// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package postgres sets up the connection to the PostgreSQL instance
// backing the token-issuance audit log, applying migrations on
// startup.
package postgres
