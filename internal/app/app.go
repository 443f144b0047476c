// Package app assembles the ledger adapters from configuration. Both the
// server and ledgerctl start from here.
package app

import (
	"fmt"
	"net/http"

	"kafer/internal/adapters/codec"
	"kafer/internal/adapters/sheet"
	"kafer/internal/application/projections"
	"kafer/internal/config"
	"kafer/internal/domain/currency"
	"kafer/internal/domain/systemconfig"
)

// Defaults returns the site configuration in force before any config record.
func Defaults(cfg *config.Config) systemconfig.Config {
	return systemconfig.Config{
		EmergencyLockdown: cfg.Ledger.Defaults.EmergencyLockdown,
		BaseMonthlyFeeYen: cfg.Ledger.Defaults.BaseMonthlyFeeYen,
	}
}

// Settings builds the projection settings.
// PRE: cfg passed Validate
func Settings(cfg *config.Config) (projections.Settings, error) {
	rates, err := currency.NewConverter(cfg.Ledger.KafPerYen)
	if err != nil {
		return projections.Settings{}, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return projections.Settings{}, fmt.Errorf("load timezone: %w", err)
	}
	return projections.Settings{
		Rates:        rates,
		Defaults:     Defaults(cfg),
		RefundFeeYen: cfg.Ledger.RefundFeeYen,
		Location:     loc,
	}, nil
}

// Codec builds the versioned payload codec.
func Codec(cfg *config.Config) (*codec.Versioned, error) {
	return codec.New(codec.Options{
		MasterPassphrase: cfg.Codec.MasterPassphrase,
		WriteScheme:      cfg.Codec.WriteScheme,
		LegacySchemes:    cfg.Codec.LegacySchemes,
	})
}

// Ledger builds the sheet client. httpClient may be nil.
func Ledger(cfg *config.Config, cd sheet.Codec, httpClient *http.Client) *sheet.Client {
	var opts []sheet.Option
	if httpClient != nil {
		opts = append(opts, sheet.WithHTTPClient(httpClient))
	}
	return sheet.New(sheet.Config{
		ReadEndpoint:  cfg.Sheet.ReadEndpoint,
		WriteEndpoint: cfg.Sheet.WriteEndpoint,
		PayloadField:  cfg.Sheet.PayloadField,
		FormEntry:     cfg.Sheet.FormEntry,
		BlankEntries:  cfg.Sheet.BlankEntries,
		SettleDelay:   cfg.Sheet.SettleDelay,
		Timeout:       cfg.Sheet.Timeout,
		Defaults:      Defaults(cfg),
	}, cd, opts...)
}
