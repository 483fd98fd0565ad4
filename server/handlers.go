package server

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/vitwit/chainpay/types"
	"github.com/vitwit/chainpay/utils"
)

type verifyBody struct {
	TransactionHash string `json:"transaction_hash" validate:"required,max=128"`
}

func (s *Server) createInvoice(c *fiber.Ctx) error {
	req, err := utils.ParseCreateInvoiceRequest(c.Body())
	if err != nil {
		return err
	}
	resp, err := s.svc.CreateInvoice(c.UserContext(), *req)
	if err != nil {
		return err
	}
	return Success(c, fiber.StatusCreated, "invoice created", resp)
}

func (s *Server) getInvoice(c *fiber.Ctx) error {
	resp, err := s.svc.GetInvoice(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return Success(c, fiber.StatusOK, "invoice", resp)
}

func (s *Server) verifyPayment(c *fiber.Ctx) error {
	body, err := utils.ParseRequest[verifyBody](c.Body())
	if err != nil {
		return err
	}
	res, err := s.svc.VerifyPayment(c.UserContext(), c.Params("id"), body.TransactionHash)
	if err != nil {
		return err
	}
	if !res.IsValid {
		return Rejected(c, res)
	}
	msg := "payment pending confirmation"
	if res.Confirmed {
		msg = "payment confirmed"
	}
	return Success(c, fiber.StatusOK, msg, res)
}

// checkPayment scans for candidate transactions. A previous response's
// checkpoint is resumed by passing its head, next, remaining and skip values.
func (s *Server) checkPayment(c *fiber.Ctx) error {
	id := c.Params("id")
	depth, err := queryInt(c, "depth")
	if err != nil {
		return err
	}

	var checkpoint *types.ScanCheckpoint
	if c.Query("next") != "" {
		checkpoint, err = parseCheckpoint(c)
		if err != nil {
			return err
		}
	}

	res, err := s.svc.CheckPayment(c.UserContext(), id, depth, checkpoint)
	if err != nil {
		return err
	}
	return Success(c, fiber.StatusOK, "scan finished", res)
}

// parseCheckpoint leaves the network empty; the scanner fills in the
// invoice's network.
func parseCheckpoint(c *fiber.Ctx) (*types.ScanCheckpoint, error) {
	next, err := queryUint(c, "next")
	if err != nil {
		return nil, err
	}
	head, err := queryUint(c, "head")
	if err != nil {
		return nil, err
	}
	remaining, err := queryInt(c, "remaining")
	if err != nil {
		return nil, err
	}
	skip, err := queryInt(c, "skip")
	if err != nil {
		return nil, err
	}
	if head < next {
		return nil, types.NewError(types.ErrInvalidRequest, "checkpoint head is below next")
	}
	return &types.ScanCheckpoint{
		Head:      head,
		Next:      next,
		Remaining: remaining,
		Skip:      skip,
	}, nil
}

func (s *Server) listNetworks(c *fiber.Ctx) error {
	return Success(c, fiber.StatusOK, "networks", s.svc.Networks())
}

func queryInt(c *fiber.Ctx, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, types.Errorf(types.ErrInvalidRequest, "%s must be a non-negative integer", key)
	}
	return n, nil
}

func queryUint(c *fiber.Ctx, key string) (uint64, error) {
	n, err := strconv.ParseUint(c.Query(key), 10, 64)
	if err != nil {
		return 0, types.Errorf(types.ErrInvalidRequest, "%s must be a non-negative integer", key)
	}
	return n, nil
}
