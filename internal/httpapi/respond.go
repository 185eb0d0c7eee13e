package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"prompt-rag/internal/apperr"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

type errorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

type dataResponse struct {
	Data interface{} `json:"data"`
}

var validate = validator.New()

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, dataResponse{Data: data})
}

func statusFor(t apperr.Type) int {
	switch t {
	case apperr.TypeNotFound:
		return http.StatusNotFound
	case apperr.TypeValidation:
		return http.StatusBadRequest
	case apperr.TypeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps categorized errors to a status code. Uncategorized errors are 500s
// and their message is not exposed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   string(apperr.TypeInternal),
			Message: "internal server error",
		})
		return
	}

	status := statusFor(appErr.Type)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	message := appErr.Message
	if appErr.Type == apperr.TypeInternal {
		message = "internal server error"
	}
	var details map[string]interface{}
	if len(appErr.Details) > 0 {
		details = appErr.Details
	}
	writeJSON(w, status, errorResponse{Error: string(appErr.Type), Message: message, Details: details})
}

// decodeBody decodes a JSON body into dst and validates its tags
func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation(fmt.Sprintf("invalid request body: %v", err))
	}
	return validateStruct(dst)
}

func validateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperr.Validation(err.Error())
	}
	appErr := apperr.Validation("validation failed")
	names := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		appErr.WithDetail(strings.ToLower(fe.Field()), fieldMessage(fe))
		names = append(names, strings.ToLower(fe.Field()))
	}
	appErr.Message = fmt.Sprintf("validation failed: %s", strings.Join(names, ", "))
	return appErr
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	default:
		return fmt.Sprintf("failed on '%s'", fe.Tag())
	}
}
