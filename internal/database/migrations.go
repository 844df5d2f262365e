package database

import (
	"errors"
	"time"

	"github.com/sitetrail/leadsync/internal/crm"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const migrationSeedCountries = "2026-08-12_seed_countries"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationSeedCountries, apply: seedCountries},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// seedCountries loads the code-to-name table the address importer
// resolves remote country codes against.
func seedCountries(db *gorm.DB) error {
	countries := []crm.Country{
		{Code: "at", Name: "Austria"},
		{Code: "be", Name: "Belgium"},
		{Code: "bg", Name: "Bulgaria"},
		{Code: "ch", Name: "Switzerland"},
		{Code: "cz", Name: "Czech Republic"},
		{Code: "de", Name: "Germany"},
		{Code: "dk", Name: "Denmark"},
		{Code: "ee", Name: "Estonia"},
		{Code: "es", Name: "Spain"},
		{Code: "fi", Name: "Finland"},
		{Code: "fr", Name: "France"},
		{Code: "gb", Name: "United Kingdom"},
		{Code: "gr", Name: "Greece"},
		{Code: "hr", Name: "Croatia"},
		{Code: "hu", Name: "Hungary"},
		{Code: "ie", Name: "Ireland"},
		{Code: "it", Name: "Italy"},
		{Code: "li", Name: "Liechtenstein"},
		{Code: "lt", Name: "Lithuania"},
		{Code: "lu", Name: "Luxembourg"},
		{Code: "lv", Name: "Latvia"},
		{Code: "nl", Name: "Netherlands"},
		{Code: "no", Name: "Norway"},
		{Code: "pl", Name: "Poland"},
		{Code: "pt", Name: "Portugal"},
		{Code: "ro", Name: "Romania"},
		{Code: "se", Name: "Sweden"},
		{Code: "si", Name: "Slovenia"},
		{Code: "sk", Name: "Slovakia"},
		{Code: "us", Name: "United States"},
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&countries).Error
}
