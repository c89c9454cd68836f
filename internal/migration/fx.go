package migration

import (
	bookingdomain "github.com/smallbiznis/warmline/internal/booking/domain"
	calleventdomain "github.com/smallbiznis/warmline/internal/callevent/domain"
	queuedomain "github.com/smallbiznis/warmline/internal/callqueue/domain"
	capacitydomain "github.com/smallbiznis/warmline/internal/capacity/domain"
	"github.com/smallbiznis/warmline/internal/config"
	paymentdomain "github.com/smallbiznis/warmline/internal/payment/domain"
	"github.com/smallbiznis/warmline/internal/seed"
	trialdomain "github.com/smallbiznis/warmline/internal/trial/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if _, err := Apply(sqlDB); err != nil {
				return err
			}
		} else {
			// sqlite is for local development only; the embedded SQL
			// targets postgres.
			if err := conn.AutoMigrate(
				&bookingdomain.Booking{},
				&capacitydomain.Account{},
				&capacitydomain.ActiveCall{},
				&queuedomain.Entry{},
				&calleventdomain.Event{},
				&paymentdomain.EventRecord{},
				&trialdomain.Redemption{},
			); err != nil {
				return err
			}
		}

		return seed.EnsureCapacityAccounts(conn, cfg)
	}),
)
