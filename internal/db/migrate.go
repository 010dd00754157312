package db

import (
	"log"

	"atome-store/internal/domain"

	"gorm.io/gorm"
)

// Migrate applies the ledger schema.
func Migrate(database *gorm.DB) error {
	err := database.AutoMigrate(
		&domain.Atome{},
		&domain.Particle{},
		&domain.ParticleVersion{},
		&domain.Permission{},
	)
	if err != nil {
		return err
	}
	log.Println("Database migrated")
	return nil
}
