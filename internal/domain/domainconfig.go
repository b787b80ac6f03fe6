package domain

import "time"

// Domain classification.
const (
	DomainTypeSubdomain = "subdomain"
	DomainTypeCustom    = "custom"
)

// Domain status values.
const (
	DomainPending = "pending"
	DomainActive  = "active"
	DomainError   = "error"
)

// DNSRecord is one provider-side record attached to a domain.
type DNSRecord struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl,omitempty"`
}

// DomainConfig binds a human domain name to a project environment.
type DomainConfig struct {
	Domain      string
	Type        string
	ProjectName string
	Environment Environment
	SSL         bool
	Records     []DNSRecord
	Status      string
	CreatedAt   time.Time
	VerifiedAt  *time.Time
}
