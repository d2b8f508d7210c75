package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/miradorstack/defect-analyzer/internal/models"
	"github.com/miradorstack/defect-analyzer/internal/utils"
)

// AnalyzeRequest is the wire form of an analysis request shared by HTTP and gRPC.
// Dates accept RFC 3339 and the common spreadsheet layouts.
type AnalyzeRequest struct {
	DateFrom string   `json:"dateFrom" validate:"required"`
	DateTo   string   `json:"dateTo" validate:"required"`
	ModelIDs []string `json:"modelIds" validate:"required,min=1,dive,required"`
}

// ProcessRequest is the wire form of the data-processing echo request.
type ProcessRequest struct {
	From     string   `json:"from" validate:"required"`
	To       string   `json:"to" validate:"required"`
	ModelIDs []string `json:"modelIds" validate:"required,min=1,dive,required"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Use JSON tag names in error messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ToDomain validates the wire request and converts it into a domain request.
// Every returned error wraps models.ErrInvalidRequest.
func (r AnalyzeRequest) ToDomain() (models.AnalysisRequest, error) {
	if err := validateStruct(r); err != nil {
		return models.AnalysisRequest{}, err
	}

	from, err := utils.ParseTimestamp(r.DateFrom)
	if err != nil {
		return models.AnalysisRequest{}, fmt.Errorf("%w: dateFrom: %v", models.ErrInvalidRequest, err)
	}
	to, err := utils.ParseTimestamp(r.DateTo)
	if err != nil {
		return models.AnalysisRequest{}, fmt.Errorf("%w: dateTo: %v", models.ErrInvalidRequest, err)
	}

	req := models.AnalysisRequest{
		DateFrom: from,
		DateTo:   to,
		ModelIDs: append([]string(nil), r.ModelIDs...),
	}
	if err := req.Validate(); err != nil {
		return models.AnalysisRequest{}, err
	}
	return req, nil
}

func validateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, formatFieldError(fe))
	}
	return fmt.Errorf("%w: %s", models.ErrInvalidRequest, strings.Join(msgs, "; "))
}

func formatFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must contain at least %s item(s)", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag())
	}
}

// splitIDs parses a comma-separated query value, dropping blanks.
func splitIDs(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
