// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small shared helpers for the riggate gateway.
//
// This package contains common helper functions used throughout the
// application for string truncation and file operations.
//
// # Key Functions
//
// String Utilities:
//   - Preview: single-line, display-width bounded truncation for log lines
//   - TruncateRunes: UTF-8 safe string truncation with ellipsis
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync
//
// # Usage
//
//	// Keep log lines readable regardless of message content
//	log.Printf("MESSAGE_RECV | content=%q", util.Preview(content, 50))
//
//	// Write files atomically to prevent data loss
//	err := util.AtomicWriteFile(path, data, 0644)
package util
