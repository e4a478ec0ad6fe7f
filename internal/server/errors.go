package server

import (
	"errors"
	"net/http"

	effectdomain "github.com/comandahub/paycore/internal/effect/domain"
	ingestdomain "github.com/comandahub/paycore/internal/ingest/domain"
	ledgerdomain "github.com/comandahub/paycore/internal/ledger/domain"
	notificationdomain "github.com/comandahub/paycore/internal/notification/domain"
	contextdomain "github.com/comandahub/paycore/internal/paymentcontext/domain"
	payoutdomain "github.com/comandahub/paycore/internal/payout/domain"
	providerdomain "github.com/comandahub/paycore/internal/providers/payment/domain"
	reconciliationdomain "github.com/comandahub/paycore/internal/reconciliation/domain"
	settlementdomain "github.com/comandahub/paycore/internal/settlement/domain"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, providerdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "invalid_signature",
			Message: "webhook signature verification failed",
		}
	case errors.Is(err, providerdomain.ErrUnknownProvider):
		return http.StatusNotFound, errorPayload{
			Type:    "unknown_provider",
			Message: "unknown payment provider",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, settlementdomain.ErrSettlementImmutable):
		return http.StatusConflict, errorPayload{
			Type:    "settlement_immutable",
			Message: "paid settlements cannot change",
		}
	case errors.Is(err, settlementdomain.ErrInvalidStatusChange),
		errors.Is(err, reconciliationdomain.ErrRecommendationClosed):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "state transition not allowed",
		}
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, gorm.ErrRecordNotFound) ||
		errors.Is(err, effectdomain.ErrEventNotFound) ||
		errors.Is(err, ledgerdomain.ErrEventNotFound) ||
		errors.Is(err, settlementdomain.ErrSettlementNotFound) ||
		errors.Is(err, payoutdomain.ErrJobNotFound) ||
		errors.Is(err, reconciliationdomain.ErrRecommendationNotFound) ||
		errors.Is(err, notificationdomain.ErrOutboxNotFound) ||
		errors.Is(err, notificationdomain.ErrTemplateNotFound)
}

func isValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ingestdomain.ErrInvalidPayload) ||
		errors.Is(err, ingestdomain.ErrInvalidProvider) ||
		errors.Is(err, providerdomain.ErrMalformedEvent) ||
		errors.Is(err, ledgerdomain.ErrInvalidEvent) ||
		errors.Is(err, ledgerdomain.ErrInvalidProvider) ||
		errors.Is(err, ledgerdomain.ErrInvalidAmount) ||
		errors.Is(err, ledgerdomain.ErrInvalidOccurredAt) ||
		errors.Is(err, ledgerdomain.ErrInvalidPayload) ||
		errors.Is(err, ledgerdomain.ErrUnknownEventType) ||
		errors.Is(err, contextdomain.ErrInvalidProvider) ||
		errors.Is(err, contextdomain.ErrInvalidPaymentID) ||
		errors.Is(err, contextdomain.ErrInvalidSource) ||
		errors.Is(err, settlementdomain.ErrInvalidPeriod) ||
		errors.Is(err, notificationdomain.ErrInvalidChannel) ||
		errors.Is(err, notificationdomain.ErrInvalidTemplate) ||
		errors.Is(err, notificationdomain.ErrInvalidAddress) ||
		errors.Is(err, notificationdomain.ErrInvalidDedupeKey) ||
		errors.Is(err, notificationdomain.ErrNotDead) ||
		errors.Is(err, reconciliationdomain.ErrMissingEventReference)
}
