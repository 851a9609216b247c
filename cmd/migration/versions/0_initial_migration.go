package versions

import (
	"log"

	"gorm.io/gorm"
)

/*
 * The previous backend used its own names for indexes/constraints. For
 * simplicity these migrations just delete the old indexes/constraints and
 * let gorm recreate them.
 */
func dropIndexes(model interface{}, txn *gorm.DB, indexes ...string) error {
	for _, idx := range indexes {
		if err := txn.Migrator().DropIndex(model, idx); err != nil {
			return err
		}
	}
	return nil
}

func dropConstraints(model interface{}, txn *gorm.DB, constraints ...string) error {
	for _, constraint := range constraints {
		if err := txn.Migrator().DropConstraint(model, constraint); err != nil {
			return err
		}
	}
	return nil
}

func renameLayerColumns(txn *gorm.DB) error {
	type Layer struct{}

	if err := txn.Migrator().RenameColumn(&Layer{}, "provider_type", "provider"); err != nil {
		return err
	}

	if err := txn.Migrator().RenameColumn(&Layer{}, "layer_type", "type"); err != nil {
		return err
	}

	return nil
}

func addLayerEnv(txn *gorm.DB) error {
	type Layer struct {
		Env string `gorm:"size:100;not null;default:'production'"`
	}

	if err := txn.Migrator().AddColumn(&Layer{}, "Env"); err != nil {
		return err
	}

	return txn.Model(&Layer{}).Where("env IS NULL OR env = ?", "").Update("env", "production").Error
}

func addUserSortColumns(txn *gorm.DB) error {
	type Layer struct {
		UserRole string `gorm:"size:100"`
		UserName string `gorm:"size:255"`
	}

	if err := txn.Migrator().AddColumn(&Layer{}, "UserRole"); err != nil {
		return err
	}

	return txn.Migrator().AddColumn(&Layer{}, "UserName")
}

func migrateLayer(txn *gorm.DB) error {
	log.Println("migrating table 'layers'")

	if err := renameLayerColumns(txn); err != nil {
		return err
	}

	if err := addLayerEnv(txn); err != nil {
		return err
	}

	if err := addUserSortColumns(txn); err != nil {
		return err
	}

	type Layer struct{}

	// The old slug index was non-unique, so duplicate slugs could slip in under
	// concurrent creates. Deduplicate before gorm rebuilds the index as unique.
	err := txn.Exec(`UPDATE layers SET slug = slug || '_' || id WHERE id NOT IN (SELECT MIN(id) FROM layers GROUP BY slug)`).Error
	if err != nil {
		return err
	}

	if err := dropIndexes(&Layer{}, txn, "layer_slug_index", "layer_dataset_index"); err != nil {
		return err
	}

	if err := dropConstraints(&Layer{}, txn, "layers_dataset_fkey"); err != nil {
		return err
	}

	log.Println("table 'layers' migration complete")

	return nil
}

func dropUnusedTables(txn *gorm.DB) error {
	tables := []string{"layer_vocabularies", "layer_statistics"}
	for _, table := range tables {
		err := txn.Migrator().DropTable(table)
		if err != nil {
			return err
		}
	}

	return nil
}

func Migration_0_initial_migration(txn *gorm.DB) error {
	log.Println("performing initial migration to new backend schema")

	if err := migrateLayer(txn); err != nil {
		return err
	}

	if err := dropUnusedTables(txn); err != nil {
		return err
	}

	log.Println("initial migration to new backend schema complete")

	return nil
}
