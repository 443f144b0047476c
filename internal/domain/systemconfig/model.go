package systemconfig

import "kafer/internal/domain/record"

// Default values used when the ledger holds no configuration records.
const (
	DefaultBaseMonthlyFeeYen = 1000
	DefaultRefundFeeYen      = 100
)

// Config is the resolved site configuration.
// Lockdown is set by system_config records; Email and BaseMonthlyFeeYen by
// config records. Each source resolves latest-wins over Defaults.
type Config struct {
	EmergencyLockdown bool
	BaseMonthlyFeeYen int64
	Email             string
}

// Defaults returns the configuration in force before any config record.
func Defaults() Config {
	return Config{
		EmergencyLockdown: false,
		BaseMonthlyFeeYen: DefaultBaseMonthlyFeeYen,
	}
}

// LockdownBlocks reports whether a non-exempt reader must be refused.
// INVARIANT: admins and explicitly exempt reads are never blocked
func (c Config) LockdownBlocks(isAdmin, exempt bool) bool {
	return c.EmergencyLockdown && !isAdmin && !exempt
}

// Resolve folds config and system_config records over base. Each source is
// latest-wins in ledger order; fields absent from a config record keep their
// previous value.
// INVARIANT: records is not mutated
func Resolve(records []record.Record, base Config) Config {
	out := base
	for _, r := range record.Sorted(records) {
		switch p := r.Payload.(type) {
		case record.SystemConfig:
			if p.EmergencyLockdown != nil {
				out.EmergencyLockdown = *p.EmergencyLockdown
			}
		case record.Config:
			if p.Email != nil {
				out.Email = *p.Email
			}
			if p.BaseMonthlyFeeYen != nil {
				out.BaseMonthlyFeeYen = int64(*p.BaseMonthlyFeeYen)
			}
		}
	}
	return out
}
