package paygate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Command is an inbound chat message reduced to what the dispatcher needs.
type Command struct {
	ChatID int64
	UserID string
	Text   string
}

// Units names the currencies in user-facing text.
type Units struct {
	Crypto string
	Fiat   string
}

// Dispatcher routes chat commands to registration, profile and priced
// operations.
type Dispatcher struct {
	svc     Service
	catalog *Catalog
	op      Operator
	units   Units
	log     *zerolog.Logger
}

func NewDispatcher(svc Service, catalog *Catalog, op Operator, units Units, log *zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		svc:     svc,
		catalog: catalog,
		op:      op,
		units:   units,
		log:     log,
	}
}

// splitCommand returns the lower-cased command name without the leading
// slash or an @botname suffix, and the trimmed remainder.
func splitCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	name, rest, _ := strings.Cut(text[1:], " ")
	if i := strings.IndexByte(name, '\n'); i >= 0 {
		rest = name[i+1:] + " " + rest
		name = name[:i]
	}
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name), strings.TrimSpace(rest)
}

func (d *Dispatcher) Handle(ctx context.Context, cmd Command) []Message {
	name, rest := splitCommand(cmd.Text)
	switch name {
	case "start", "help":
		commandsHandled.WithLabelValues(name).Inc()
		return d.reply(cmd, d.welcome())
	case "register":
		commandsHandled.WithLabelValues(name).Inc()
		return d.register(ctx, cmd)
	case "myprofile":
		commandsHandled.WithLabelValues(name).Inc()
		return d.profile(ctx, cmd)
	}

	op, err := d.catalog.Lookup(name)
	if name == "" || err != nil {
		commandsHandled.WithLabelValues("unknown").Inc()
		return d.reply(cmd, "I don't understand that command. Use /start to see available commands.")
	}
	commandsHandled.WithLabelValues(op.Kind).Inc()
	return d.operation(ctx, cmd, op, rest)
}

func (d *Dispatcher) reply(cmd Command, lines ...string) []Message {
	return []Message{{ChatID: cmd.ChatID, Text: strings.Join(lines, "\n")}}
}

func (d *Dispatcher) welcome() string {
	var b strings.Builder
	b.WriteString("Welcome!\n\n")
	b.WriteString("Register and fund your account to use the paid operations.\n\n")
	b.WriteString("Commands:\n")
	b.WriteString("/register - create your account\n")
	b.WriteString("/myprofile - view your balance and deposit address\n")
	for _, kind := range d.catalog.Kinds() {
		op, _ := d.catalog.Lookup(kind)
		fmt.Fprintf(&b, "/%s - %s ($%s)\n", op.Kind, op.Description, op.Price.StringFixed(2))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (d *Dispatcher) register(ctx context.Context, cmd Command) []Message {
	reg, err := d.svc.Register(ctx, RegisterReq{AcctID: cmd.UserID})
	if err != nil {
		if errors.Is(err, ErrProvisioningFailed) {
			return d.reply(cmd,
				"Registration failed.",
				"We couldn't create a deposit address for you at this time. Please try again later.")
		}
		return d.reply(cmd, d.unexpected(cmd, "register", err))
	}
	if reg.AlreadyRegistered {
		return d.reply(cmd,
			"You're already registered.",
			"Use /myprofile to view your account details and deposit address.")
	}
	return d.reply(cmd,
		"Registration successful.",
		"",
		"Your deposit address:",
		reg.Account.DepositAddress,
		"",
		fmt.Sprintf("Send %s to this address to fund your account. Your balance updates after the deposit is confirmed.", d.units.Crypto),
		"Use /myprofile to check your balance.")
}

func (d *Dispatcher) profile(ctx context.Context, cmd Command) []Message {
	prof, err := d.svc.Profile(ctx, ProfileReq{AcctID: cmd.UserID})
	if err != nil {
		if errors.Is(err, ErrNotRegistered) {
			return d.reply(cmd, "Profile not found. Please register with /register")
		}
		return d.reply(cmd, d.unexpected(cmd, "profile", err))
	}
	fiat := "unknown"
	if prof.FiatValue != nil {
		fiat = "$" + prof.FiatValue.StringFixed(2)
	}
	lines := []string{
		"User ID: " + prof.AcctID,
		fmt.Sprintf("Balance: %s %s (≈ %s %s)", prof.Balance.StringFixed(CryptoPlaces), d.units.Crypto, fiat, d.units.Fiat),
		"Deposit address: " + prof.DepositAddress,
		fmt.Sprintf("Credits used: %d", prof.UsageCount),
	}
	if prof.Stale {
		lines = append(lines, "", "The balance could not be refreshed and may be out of date.")
	}
	return d.reply(cmd, lines...)
}

func (d *Dispatcher) operation(ctx context.Context, cmd Command, op Operation, rest string) []Message {
	if rest == "" {
		return d.reply(cmd,
			op.Description,
			"",
			"Price: $"+op.Price.StringFixed(2),
			"Required parameters: "+strings.Join(op.Params, ", "),
			"",
			"Example: "+op.Example())
	}

	parsed := ParseParams(rest)
	attempt, err := d.svc.Authorize(ctx, ChargeReq{
		AcctID: cmd.UserID,
		Kind:   op.Kind,
		Params: parsed,
	})
	if err != nil {
		return d.reply(cmd, d.unexpected(cmd, op.Kind, err))
	}
	if reason := attempt.Reason(); reason != nil {
		return d.reply(cmd, d.rejection(op, attempt, reason))
	}

	params := make(map[string]string, len(op.Params))
	for _, p := range op.Params {
		params[p] = parsed[p]
	}
	msgs := d.reply(cmd, "Processing your request...")
	res, err := d.op.Execute(ctx, op.Kind, params)
	if err != nil {
		d.log.Err(err).
			Str("acct", cmd.UserID).
			Str("kind", op.Kind).
			Str("charge", attempt.ID.String()).
			Msg("downstream operation failed")
		return append(msgs, d.reply(cmd,
			"The operation failed.",
			"Please contact support with charge id "+attempt.ID.String()+".")...)
	}
	lines := append([]string{op.Description + " results", ""}, res.Lines()...)
	lines = append(lines, "", "Charge id: "+attempt.ID.String())
	return append(msgs, d.reply(cmd, lines...)...)
}

func (d *Dispatcher) rejection(op Operation, attempt *ChargeAttempt, reason error) string {
	var (
		unknown ErrUnknownOperation
		missing ErrMissingParameters
		short   ErrInsufficientBalance
	)
	switch {
	case errors.Is(reason, ErrNotRegistered):
		return "Account required.\nYou need to register before you can use this service. Please use /register to create your account."
	case errors.As(reason, &unknown):
		return fmt.Sprintf("Unknown operation /%s.", unknown.Kind)
	case errors.As(reason, &missing):
		return fmt.Sprintf("Missing required parameters: %s\n\nExample: %s", strings.Join(missing.Names, ", "), op.Example())
	case errors.Is(reason, ErrPricingUnavailable):
		return "Unable to get the current exchange rate. Please try again later."
	case errors.As(reason, &short):
		q := attempt.Quote
		lines := []string{
			"Insufficient balance.",
			"",
			fmt.Sprintf("This operation costs $%s (≈ %s %s).", q.Fiat.StringFixed(2), q.Crypto.StringFixed(CryptoPlaces), d.units.Crypto),
			fmt.Sprintf("Your balance: %s %s.", short.Available.StringFixed(CryptoPlaces), d.units.Crypto),
			fmt.Sprintf("You need %s %s more (≈ $%s).", short.Shortfall.StringFixed(CryptoPlaces), d.units.Crypto, short.Shortfall.Mul(q.Rate).StringFixed(2)),
			"",
			"Please deposit funds and try again. Use /myprofile to see your deposit address.",
		}
		return strings.Join(lines, "\n")
	default:
		return "Request rejected: " + reason.Error()
	}
}

func (d *Dispatcher) unexpected(cmd Command, what string, err error) string {
	if errors.Is(err, ErrOverloaded) {
		return "The service is busy right now. Please try again in a moment."
	}
	d.log.Err(err).
		Str("acct", cmd.UserID).
		Str("command", what).
		Msg("error handling command")
	return "An error occurred. Please try again later."
}
