// Package util provides identifier helpers for SchedulePipe.
package util

import "github.com/google/uuid"

// NewGUID allocates a random guid for plans, activities, and event records.
func NewGUID() string {
	return uuid.NewString()
}
