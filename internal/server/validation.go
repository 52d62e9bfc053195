package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"songmap/internal/apperr"
)

// maxBodyBytes caps JSON request bodies
const maxBodyBytes = 1 << 20

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// ValidationError represents a validation error with details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid   bool              `json:"valid"`
	Success bool              `json:"success"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

// credentialsRequest is the body of register and login
type credentialsRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,min=4,max=128"`
}

// createGraphRequest is the body of graph creation
type createGraphRequest struct {
	Type string `json:"type" validate:"omitempty,oneof=empty template"`
	Name string `json:"name" validate:"max=255"`
}

// listenRequest is the body of listen and newlisten
type listenRequest struct {
	Name       string `json:"name" validate:"required,max=512"`
	Artist     string `json:"artist" validate:"max=512"`
	IsRandom   bool   `json:"isRandom"`
	IsFullPlay bool   `json:"isFullPlay"`
	IsSkip     bool   `json:"isSkip"`
}

// propertyRequest is the body of a bulk property update. Value is the text
// form, parsed according to Type.
type propertyRequest struct {
	Key   string `json:"key" validate:"required"`
	Type  string `json:"type" validate:"required"`
	Value string `json:"value"`
}

// decodeAndValidate reads a JSON body into dst and validates it. It writes
// the error response itself and reports false on failure.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(body)
	if err := decoder.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		s.respondWithError(w, r, http.StatusBadRequest, "invalid JSON body", err)
		return false
	}

	if err := getValidator().Struct(dst); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) {
			s.respondWithValidationError(w, r, translateValidationErrors(fieldErrors))
			return false
		}
		s.respondWithError(w, r, http.StatusBadRequest, "invalid request", err)
		return false
	}
	return true
}

func translateValidationErrors(fieldErrors validator.ValidationErrors) []ValidationError {
	out := make([]ValidationError, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		var message string
		switch fe.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", fe.Field())
		case "max":
			message = fmt.Sprintf("%s too long (max %s characters)", fe.Field(), fe.Param())
		case "min":
			message = fmt.Sprintf("%s too short (min %s characters)", fe.Field(), fe.Param())
		case "oneof":
			message = fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
		default:
			message = fmt.Sprintf("%s is invalid", fe.Field())
		}
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Message: message,
			Code:    strings.ToUpper(fe.Field() + "_" + fe.Tag()),
		})
	}
	return out
}

// respondWithValidationError sends a structured validation error response
func (s *Server) respondWithValidationError(w http.ResponseWriter, r *http.Request, errs []ValidationError) {
	s.logger.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"errors": errs,
	}).Warn("Validation failed")

	s.respondJSON(w, http.StatusBadRequest, ValidationResult{Valid: false, Errors: errs})
}

// respondWithError sends a structured error response
func (s *Server) respondWithError(w http.ResponseWriter, r *http.Request, statusCode int, message string, err error) {
	logEntry := s.logger.WithFields(logrus.Fields{
		"method":      r.Method,
		"path":        r.URL.Path,
		"status_code": statusCode,
		"message":     message,
	})

	if err != nil {
		logEntry = logEntry.WithError(err)
	}

	if statusCode >= 500 {
		logEntry.Error("Server error")
	} else {
		logEntry.Warn("Client error")
	}

	s.respondJSON(w, statusCode, map[string]any{
		"error":   message,
		"code":    statusCode,
		"success": false,
	})
}

// respondWithAppError maps err's kind to a status code
func (s *Server) respondWithAppError(w http.ResponseWriter, r *http.Request, err error) {
	s.respondWithError(w, r, apperr.HTTPStatus(apperr.KindOf(err)), apperr.Message(err), err)
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

// graphIDParam parses the {graphID} URL parameter
func graphIDParam(r *http.Request) (int64, *ValidationError) {
	return positiveID(chi.URLParam(r, "graphID"), "graph_id", true)
}

// optionalIDQuery parses an optional positive id query parameter. Absent
// values parse as zero.
func optionalIDQuery(r *http.Request, name string) (int64, *ValidationError) {
	return positiveID(r.URL.Query().Get(name), name, false)
}

func positiveID(raw, field string, required bool) (int64, *ValidationError) {
	code := strings.ToUpper(field)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if !required {
			return 0, nil
		}
		return 0, &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("%s is required", field),
			Code:    "MISSING_" + code,
		}
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("%s must be a valid integer", field),
			Code:    "INVALID_" + code + "_FORMAT",
		}
	}
	if id <= 0 {
		return 0, &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("%s must be positive", field),
			Code:    "INVALID_" + code + "_VALUE",
		}
	}
	return id, nil
}

// boolQuery reads a boolean flag; anything but a parseable true is false
func boolQuery(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

// sanitizeInput removes null bytes and surrounding whitespace
func sanitizeInput(input string) string {
	return strings.TrimSpace(strings.ReplaceAll(input, "\x00", ""))
}
