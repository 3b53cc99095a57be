package settings

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/taxdesk/taxdesk/internal/shared"
	"github.com/taxdesk/taxdesk/internal/tax"
)

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ChangeNotifier is told when values feeding reports change.
type ChangeNotifier interface {
	Bump(ctx context.Context) error
}

// Service resolves runtime settings over configured defaults.
type Service struct {
	repo     Repository
	defaults Settings
	audit    AuditRecorder
	notifier ChangeNotifier
	logger   *slog.Logger
}

// NewService constructs the settings service. defaults fill any key missing
// from storage.
func NewService(repo Repository, defaults Settings, audit AuditRecorder, notifier ChangeNotifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		defaults: defaults,
		audit:    audit,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "settings")),
	}
}

// Defaults returns the configured fallback snapshot.
func (s *Service) Defaults() Settings {
	return s.defaults
}

// Snapshot reads stored settings. Unparseable stored values fall back to the
// default and are logged.
func (s *Service) Snapshot(ctx context.Context) (Settings, error) {
	stored, err := s.repo.All(ctx)
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	out := s.defaults
	if v, ok := stored[KeyVATRate]; ok {
		out.Rates.VAT = s.rate(KeyVATRate, v, s.defaults.Rates.VAT)
	}
	if v, ok := stored[KeyWithholdingRate]; ok {
		out.Rates.Withholding = s.rate(KeyWithholdingRate, v, s.defaults.Rates.Withholding)
	}
	if v := strings.TrimSpace(stored[KeyInvoicePrefix]); v != "" {
		out.InvoicePrefix = v
	}
	if v, ok := stored[KeyInvoiceStartNumber]; ok {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || n < 1 {
			s.logger.Warn("ignore stored setting", slog.String("key", KeyInvoiceStartNumber), slog.String("value", v))
		} else {
			out.InvoiceStartNumber = n
		}
	}
	if v, ok := stored[KeyCompanyName]; ok {
		out.Company.Name = v
	}
	if v, ok := stored[KeyCompanyAddress]; ok {
		out.Company.Address = v
	}
	if v, ok := stored[KeyCompanyTaxID]; ok {
		out.Company.TaxID = v
	}
	return out, nil
}

func (s *Service) rate(key, raw string, fallback decimal.Decimal) decimal.Decimal {
	rate, err := parseRate(raw)
	if err == nil {
		err = tax.ValidateStoredRate(rate)
	}
	if err != nil || !rate.IsPositive() {
		s.logger.Warn("ignore stored setting", slog.String("key", key), slog.String("value", raw))
		return fallback
	}
	return rate
}

// InvoiceNumbering returns the prefix and first sequence for invoice numbers.
func (s *Service) InvoiceNumbering(ctx context.Context) (string, int64, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return "", 0, err
	}
	return snap.InvoicePrefix, snap.InvoiceStartNumber, nil
}

// Rates returns the current category default rates.
func (s *Service) Rates(ctx context.Context) (tax.Rates, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return tax.Rates{}, err
	}
	return snap.Rates, nil
}

// Update validates and stores a full settings snapshot.
func (s *Service) Update(ctx context.Context, next Settings, actorID int64) (Settings, error) {
	next.InvoicePrefix = strings.TrimSpace(next.InvoicePrefix)
	next.Company.Name = strings.TrimSpace(next.Company.Name)
	next.Company.TaxID = strings.TrimSpace(next.Company.TaxID)
	if err := next.Validate(); err != nil {
		return Settings{}, err
	}
	previous, err := s.Snapshot(ctx)
	if err != nil {
		return Settings{}, err
	}
	if err := s.repo.Upsert(ctx, next.values(), actorID); err != nil {
		return Settings{}, fmt.Errorf("store settings: %w", err)
	}
	s.logger.Info("settings updated", slog.Int64("actor_id", actorID), slog.String("vat_rate", next.Rates.VAT.String()), slog.String("withholding_rate", next.Rates.Withholding.String()))

	if s.audit != nil {
		err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "settings.update",
			Entity:   "settings",
			EntityID: "system",
			Meta:     diff(previous.values(), next.values()),
			At:       time.Now().UTC(),
		})
		if err != nil {
			s.logger.Warn("record audit log", slog.String("action", "settings.update"), slog.Any("error", err))
		}
	}
	if !previous.Rates.VAT.Equal(next.Rates.VAT) || !previous.Rates.Withholding.Equal(next.Rates.Withholding) {
		s.bump(ctx)
	}
	return next, nil
}

func (s *Service) bump(ctx context.Context) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Bump(ctx); err != nil {
		s.logger.Warn("invalidate report cache", slog.Any("error", err))
	}
}

// EnsureDefaults stores the configured defaults for keys that are not yet set.
func (s *Service) EnsureDefaults(ctx context.Context) error {
	inserted, err := s.repo.InsertMissing(ctx, s.defaults.values())
	if err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}
	if inserted > 0 {
		s.logger.Info("seeded default settings", slog.Int("keys", inserted))
	}
	return nil
}

func diff(before, after map[string]string) map[string]any {
	out := make(map[string]any)
	for key, value := range after {
		if before[key] != value {
			out[key] = map[string]string{"from": before[key], "to": value}
		}
	}
	return out
}
