package middleware

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/domain/entitlement"
	"github.com/galerianinuxe/gestorxl0809-1411-sub000/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var setupOnce sync.Once

// SetupValidator configures gin's validator with JSON field names and the
// entitlement tags:
//   - plan_type: any recognised plan
//   - paid_plan: a recognised plan other than the trial
func SetupValidator() {
	setupOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				name = strings.SplitN(fld.Tag.Get("uri"), ",", 2)[0]
			}
			if name == "" {
				name = strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
			}
			return name
		})
		_ = v.RegisterValidation("plan_type", validatePlanType)
		_ = v.RegisterValidation("paid_plan", validatePaidPlan)
	})
}

func validatePlanType(fl validator.FieldLevel) bool {
	_, err := entitlement.ParsePlanType(fl.Field().String())
	return err == nil
}

func validatePaidPlan(fl validator.FieldLevel) bool {
	p, err := entitlement.ParsePlanType(fl.Field().String())
	return err == nil && p != entitlement.PlanTrial
}

// FormatValidationErrors formats binding errors into a standard response
func FormatValidationErrors(err error, requestID string) dto.Response {
	var details []dto.ValidationDetail

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, e := range validationErrors {
			details = append(details, dto.ValidationDetail{
				Field:   e.Field(),
				Message: getValidationMessage(e),
			})
		}
	} else {
		details = append(details, dto.ValidationDetail{Field: "body", Message: "Malformed request body"})
	}

	return dto.NewValidationErrorResponse("Request validation failed", requestID, details)
}

// HandleValidationError returns a 400 validation error response
func HandleValidationError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, FormatValidationErrors(err, GetRequestID(c)))
}

func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "uuid":
		return "Invalid UUID format"
	case "plan_type":
		return "Unrecognised plan type"
	case "paid_plan":
		return "Must be one of: " + joinPlans(entitlement.PaidPlanTypes())
	case "min":
		return "Must be at least " + e.Param()
	case "max":
		return "Must be at most " + e.Param()
	case "gt":
		return "Must be greater than " + e.Param()
	case "required_without":
		return "Required when " + e.Param() + " is not set"
	case "excluded_with":
		return "Cannot be combined with " + e.Param()
	default:
		return "Invalid value"
	}
}

func joinPlans(plans []entitlement.PlanType) string {
	names := make([]string, len(plans))
	for i, p := range plans {
		names[i] = p.String()
	}
	return strings.Join(names, ", ")
}
