package server

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vitwit/chainpay/types"
)

// StatusFor maps an error code to an HTTP status.
func StatusFor(code string) int {
	switch code {
	case types.ErrUnknownNetwork, types.ErrUnsupportedAsset, types.ErrInvalidRequest:
		return fiber.StatusBadRequest
	case types.ErrInvoiceNotFound:
		return fiber.StatusNotFound
	case types.ErrInvoiceExpired:
		return fiber.StatusGone
	case types.ErrTransactionNotFound, types.ErrTransactionFailed, types.ErrTransactionHashMismatch,
		types.ErrWrongRecipient, types.ErrInsufficientAmount, types.ErrInvoiceWalletMismatch:
		return fiber.StatusUnprocessableEntity
	case types.ErrChainUnavailable, types.ErrServiceUnavailable, types.ErrPriceUnavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func Success(c *fiber.Ctx, status int, message string, data interface{}) error {
	return c.Status(status).JSON(fiber.Map{
		"message": message,
		"data":    data,
	})
}

func Error(c *fiber.Ctx, status int, code, message string) error {
	body := fiber.Map{"error": message}
	if code != "" {
		body["code"] = code
	}
	return c.Status(status).JSON(body)
}

// BadRequest reports an invalid request. Non-nil details are returned as
// the data field.
func BadRequest(c *fiber.Ctx, message string, details interface{}) error {
	body := fiber.Map{"error": message, "code": types.ErrInvalidRequest}
	if details != nil {
		body["data"] = details
	}
	return c.Status(fiber.StatusBadRequest).JSON(body)
}

func ServerError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, "", message)
}

// Rejected reports a verification that completed but did not accept the
// transaction. The result is returned so clients can show what was found.
func Rejected(c *fiber.Ctx, res *types.VerificationResult) error {
	return c.Status(StatusFor(res.ErrorCode)).JSON(fiber.Map{
		"error": res.InvalidReason,
		"code":  res.ErrorCode,
		"data":  res,
	})
}
