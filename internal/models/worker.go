package models

import (
	"slices"
	"time"
)

type Worker struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Role           Role       `json:"role"`
	Active         bool       `json:"active"`
	Verified       bool       `json:"verified"`
	DailyCapacity  int        `json:"daily_capacity"`
	LastAssignedAt *time.Time `json:"last_assigned_at,omitempty"`
	SkillTags      []string   `json:"skill_tags"`
	AreaTags       []string   `json:"area_tags"`
	Senior         bool       `json:"senior"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// HasSkill reports whether the worker carries tag. An empty tag always matches.
func (w *Worker) HasSkill(tag string) bool {
	return tag == "" || slices.Contains(w.SkillTags, tag)
}

// ServesArea reports whether the worker covers area. An empty area always matches.
func (w *Worker) ServesArea(area string) bool {
	return area == "" || slices.Contains(w.AreaTags, area)
}

func (w *Worker) Clone() *Worker {
	if w == nil {
		return nil
	}
	c := *w
	c.SkillTags = append([]string(nil), w.SkillTags...)
	c.AreaTags = append([]string(nil), w.AreaTags...)
	c.LastAssignedAt = cloneTime(w.LastAssignedAt)
	return &c
}
