package migration

import (
	"github.com/smallbiznis/payrail/internal/config"
	"github.com/smallbiznis/payrail/internal/installment"
	invoicedomain "github.com/smallbiznis/payrail/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/payrail/internal/ledger/domain"
	taxdomain "github.com/smallbiznis/payrail/internal/tax/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		// The versioned SQL migrations target postgres. Other dialects
		// (sqlite for local runs, mysql) derive the schema from the models.
		if cfg.DBType != "postgres" {
			return conn.AutoMigrate(
				&invoicedomain.Invoice{},
				&invoicedomain.InvoiceItem{},
				&installment.Installment{},
				&ledgerdomain.PaymentTransaction{},
				&taxdomain.TaxDefinition{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
