// Package domain defines the core types shared across the planforge service.
package domain

import (
	"time"
)

// Plan status values persisted in the plans table.
const (
	PlanStatusApproved = "approved"
)

// Agent status values persisted in the agents table.
const (
	AgentStatusInitialized = "initialized"
)

// PlanDocument is the evolving document produced by a planning session.
// The server replaces it wholesale on every document.update event; Version
// is server-assigned and advisory.
type PlanDocument struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url,omitempty"`
	Version int    `json:"version"`
}

// Plan is an approved plan document record.
type Plan struct {
	ID           string
	UserID       string
	Title        string
	DocumentURL  string
	DocumentPath string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Agent is the next-phase record created alongside an approved plan.
type Agent struct {
	ID        string
	UserID    string
	PlanID    string
	Name      string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}
