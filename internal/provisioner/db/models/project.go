package models

import (
	"time"
)

type Project struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Owner     int64     `json:"owner"`
	Plugins   []string  `json:"plugins"`
	CreatedAt time.Time `json:"created_at"`
}

// ProjectUpdate carries the editable fields; zero values are left unchanged.
type ProjectUpdate struct {
	Name    string   `json:"name,omitempty"`
	Owner   int64    `json:"owner,omitempty"`
	Plugins []string `json:"plugins,omitempty"`
}

type ListOptions struct {
	Offset int
	Limit  int
	Search string
}
