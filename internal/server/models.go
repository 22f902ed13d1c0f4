package server

import "mailcheck/internal"

type ErrorResponse struct {
	Request string         `json:"request"`
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

type TextRequest struct {
	Text string `json:"text"`
}

type NormalizeResponse struct {
	Emails []string `json:"emails"`
}

type TaskResponse struct {
	Task   *internal.TaskDetail `json:"task"`
	Counts internal.JobCounts   `json:"counts"`
	Status internal.FileStatus  `json:"status"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name" binding:"required"`
}

type HealthResponse struct {
	Status          string  `json:"status"`
	PollerLastCycle *string `json:"pollerLastCycle"`
}

type SignOutResponse struct {
	Evicted int `json:"evicted"`
}
