package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"tuscoin/internal/analytics"
	"tuscoin/internal/asset"
	"tuscoin/internal/engine"
	"tuscoin/internal/events"
	"tuscoin/internal/session"
)

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type sellRequest struct {
	Coins decimal.Decimal `json:"coins"`
}

type exchangeRequest struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

type credentialsRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type operationResponse struct {
	Balances    events.BalancesView     `json:"balances"`
	Transaction *events.TransactionView `json:"transaction,omitempty"`
}

type quoteResponse struct {
	From         asset.Asset `json:"from"`
	To           asset.Asset `json:"to"`
	Amount       string      `json:"amount"`
	Result       string      `json:"result"`
	Display      string      `json:"display"`
	Rate         string      `json:"rate"`
	BelowMinimum bool        `json:"belowMinimum"`
	Dust         bool        `json:"dust"`
}

type accountResponse struct {
	Balances   events.BalancesView  `json:"balances"`
	Portfolio  analytics.Portfolio  `json:"portfolio"`
	ProfitLoss analytics.ProfitLoss `json:"profitLoss"`
	Auth       session.State        `json:"auth"`
}

func (s *Server) getPrice(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"price":     s.deps.Prices.CurrentPrice().StringFixed(2),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) getPriceHistory(c *fiber.Ctx) error {
	days := c.QueryInt("days", 1)
	if days <= 0 || (s.deps.RetentionDays > 0 && days > s.deps.RetentionDays) {
		return badRequest("days must be between 1 and the retention window")
	}
	samples := make([]events.PriceView, 0)
	for sample := range s.deps.Prices.History(days) {
		samples = append(samples, events.Price(sample))
	}
	return c.JSON(fiber.Map{"days": days, "samples": samples})
}

func (s *Server) getRates(c *fiber.Ctx) error {
	snap := s.deps.Rates.Snapshot()
	euroRates := make(map[asset.Asset]string, len(asset.All))
	pairs := make(map[asset.Asset]string, len(asset.All))
	for _, a := range asset.All {
		euroRates[a] = snap.Rate(a).String()
		pairs[a] = snap.PairRate(asset.Arvirium, a).String()
	}
	return c.JSON(fiber.Map{
		"price": snap.Price.StringFixed(2),
		"rates": euroRates,
		"pairs": pairs,
	})
}

func (s *Server) getQuote(c *fiber.Ctx) error {
	from, err := asset.Parse(c.Query("from"))
	if err != nil {
		return badRequest(err.Error())
	}
	to, err := asset.Parse(c.Query("to"))
	if err != nil {
		return badRequest(err.Error())
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(c.Query("amount")))
	if err != nil {
		return badRequest("amount must be a decimal number")
	}

	q := s.deps.Rates.Snapshot().Quote(amount, from, to)
	return c.JSON(quoteResponse{
		From:         q.From,
		To:           q.To,
		Amount:       q.Amount.String(),
		Result:       q.Result.String(),
		Display:      to.Format(q.Result),
		Rate:         q.Rate.String(),
		BelowMinimum: q.BelowMinimum,
		Dust:         q.Dust,
	})
}

func (s *Server) getAccount(c *fiber.Ctx) error {
	acc, err := s.deps.Ledger.Read(c.UserContext())
	if err != nil {
		return err
	}
	snap := s.deps.Rates.Snapshot()
	return c.JSON(accountResponse{
		Balances:   events.Balances(acc),
		Portfolio:  analytics.ComputePortfolio(acc, snap),
		ProfitLoss: analytics.ComputeProfitLoss(acc, snap.Price),
		Auth:       s.deps.Sessions.State(),
	})
}

func (s *Server) getTransactions(c *fiber.Ctx) error {
	acc, err := s.deps.Ledger.Read(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"transactions": events.Transactions(acc.Transactions)})
}

func (s *Server) postDeposit(c *fiber.Ctx) error {
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	acc, err := s.deps.Trader.Deposit(c.UserContext(), req.Amount)
	if err != nil {
		return err
	}
	return c.JSON(operationResponse{Balances: events.Balances(acc)})
}

func (s *Server) postBuy(c *fiber.Ctx) error {
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	res, err := s.deps.Trader.Buy(c.UserContext(), req.Amount)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(operation(res))
}

func (s *Server) postSell(c *fiber.Ctx) error {
	var req sellRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	res, err := s.deps.Trader.Sell(c.UserContext(), req.Coins)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(operation(res))
}

func (s *Server) postExchange(c *fiber.Ctx) error {
	var req exchangeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	from, err := asset.Parse(req.From)
	if err != nil {
		return badRequest(err.Error())
	}
	to, err := asset.Parse(req.To)
	if err != nil {
		return badRequest(err.Error())
	}
	res, err := s.deps.Trader.Exchange(c.UserContext(), from, req.Amount, to)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(operation(res))
}

func (s *Server) getAuth(c *fiber.Ctx) error {
	return c.JSON(s.deps.Sessions.State())
}

func (s *Server) postRegister(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		return badRequest("username, email and password are required")
	}
	if err := s.deps.Sessions.Register(c.UserContext(), req.Username, req.Email, req.Password); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"registered": true})
}

func (s *Server) postLogin(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return badRequest("email and password are required")
	}
	state, err := s.deps.Sessions.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(state)
}

func (s *Server) postLogout(c *fiber.Ctx) error {
	if err := s.deps.Sessions.Logout(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(s.deps.Sessions.State())
}

func (s *Server) getTicker(c *fiber.Ctx) error {
	if s.deps.Ticker == nil {
		return fiber.ErrNotFound
	}
	return c.JSON(fiber.Map{"running": s.deps.Ticker.Running()})
}

func (s *Server) postTickerPause(c *fiber.Ctx) error {
	if s.deps.Ticker == nil {
		return fiber.ErrNotFound
	}
	changed := s.deps.Ticker.Pause()
	return c.JSON(fiber.Map{"running": s.deps.Ticker.Running(), "changed": changed})
}

func (s *Server) postTickerResume(c *fiber.Ctx) error {
	if s.deps.Ticker == nil {
		return fiber.ErrNotFound
	}
	changed := s.deps.Ticker.Resume()
	return c.JSON(fiber.Map{"running": s.deps.Ticker.Running(), "changed": changed})
}

func operation(res engine.Result) operationResponse {
	out := operationResponse{Balances: events.Balances(res.Account)}
	if res.Transaction != nil {
		view := events.Transaction(*res.Transaction)
		out.Transaction = &view
	}
	return out
}
