package controlplane

import (
	"fmt"
	"time"
)

// Instance is a compute instance as the control plane sees it.
type Instance struct {
	ID       string `json:"id"`
	State    string `json:"state"`
	PublicIP string `json:"public_ip"`
	Region   string `json:"region"`
}

// Database is a managed relational database instance.
type Database struct {
	Name   string `json:"name"`
	State  string `json:"state"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
	DBName string `json:"db_name"`
}

// Credential is a database credential fetched live from the control plane.
// It is never cached between runs so provider-side rotation takes effect
// on the next resolution.
type Credential struct {
	Username  string    `json:"username"`
	Password  string    `json:"password"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Bucket is a managed object-storage bucket.
type Bucket struct {
	Name   string `json:"name"`
	State  string `json:"state"`
	Region string `json:"region"`
}

// States the control plane reports for lifecycle polling.
const (
	StateRunning   = "running"
	StateAvailable = "available"
	StateActive    = "active"
)

// APIError is a non-2xx response from the control plane.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("control plane returned %d: %s", e.StatusCode, e.Message)
}

// NotFound reports whether the resource named in the request does not exist.
func (e *APIError) NotFound() bool {
	return e.StatusCode == 404
}
