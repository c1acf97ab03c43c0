package engine

import "fmt"

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func NewAppError(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFoundError(entity, id string) *AppError {
	return NewAppError("NOT_FOUND", 404, fmt.Sprintf("%s with id %s not found", entity, id))
}

func UnauthorizedError(msg string) *AppError {
	if msg == "" {
		msg = "Authentication required"
	}
	return NewAppError("UNAUTHORIZED", 401, msg)
}

func ForbiddenError(msg string) *AppError {
	if msg == "" {
		msg = "Insufficient permissions"
	}
	return NewAppError("FORBIDDEN", 403, msg)
}
