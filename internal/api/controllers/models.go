package controllers

import "github.com/datallboy/gotubedl/internal/domain"

type SubmitRequest struct {
	URLs []string `json:"urls"`
}

type SubmitResponse struct {
	RunID string            `json:"run_id"`
	Items []domain.WorkItem `json:"items"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func errorBody(err error) ErrorResponse {
	return ErrorResponse{Error: err.Error()}
}
