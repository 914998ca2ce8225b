package api

import "github.com/gofiber/fiber/v3"

// ErrInvalidQueryParameters indicates that the request query string could not
// be parsed into the expected structure.
var ErrInvalidQueryParameters = fiber.NewError(fiber.StatusBadRequest, "invalid query parameters")

// ErrAmountRequired is returned when the amount parameter is missing.
var ErrAmountRequired = fiber.NewError(fiber.StatusBadRequest, "amount is required")

var ErrInvalidSide = fiber.NewError(fiber.StatusBadRequest, "side must be pay or receive")

// ErrSameToken is returned when both sides name the same token.
var ErrSameToken = fiber.NewError(fiber.StatusBadRequest, "from and to tokens cannot be the same")

// ErrQuoteFailed signals that the node could not be reached for a quote.
var ErrQuoteFailed = fiber.NewError(fiber.StatusBadGateway, "quote failed")

// NewInvalidAmount wraps an amount parsing error into a 400 Bad Request.
func NewInvalidAmount(err error) error {
	return fiber.NewError(fiber.StatusBadRequest, "invalid amount: "+err.Error())
}

// NewUnknownToken returns a 404 for a symbol that is not configured.
func NewUnknownToken(symbol string) error {
	return fiber.NewError(fiber.StatusNotFound, "unknown token "+symbol)
}
