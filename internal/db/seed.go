package db

import (
	"errors"
	"fmt"

	"github.com/Kodeloom/spacovers-admin/internal/models"
	"gorm.io/gorm"
)

// DefaultStations are the production stations and the stage each one moves
// an order item into.
var DefaultStations = []models.Station{
	{Name: "Cutting", Stage: models.ItemStatusCutting, Position: 1},
	{Name: "Sewing", Stage: models.ItemStatusSewing, Position: 2},
	{Name: "Foam Cutting", Stage: models.ItemStatusFoamCutting, Position: 3},
	{Name: "Stuffing", Stage: models.ItemStatusStuffing, Position: 4},
	{Name: "Packaging", Stage: models.ItemStatusPackaging, Position: 5},
	{Name: "Office", Stage: models.ItemStatusProductFinished, Position: 6},
}

var permissions = []struct {
	ResourceType string
	Action       string
	Description  string
}{
	{"*", "*", "Full system access"},
	{"order", "*", "All order actions"},
	{"order", "view", "View orders"},
	{"order", "update", "Add, edit and remove order items"},
	{"order", "approve", "Approve orders"},
	{"order_item", "*", "All order item actions"},
	{"order_item", "scan", "Start and complete station work"},
	{"order_item", "override", "Set production status manually"},
	{"print_queue", "*", "All print queue actions"},
	{"print_queue", "view", "View the print queue"},
	{"print_queue", "update", "Queue and mark labels"},
	{"quickbooks", "*", "All QuickBooks actions"},
	{"quickbooks", "view", "View connection status"},
	{"quickbooks", "manage", "Connect, disconnect and sync"},
	{"isolation", "view", "Run order isolation diagnostics"},
	{"logs", "view", "View recent application logs"},
}

var profiles = []struct {
	Name        string
	Description string
	Permissions []string
}{
	{"admin", "Full system administrator", []string{"*:*"}},
	{"office", "Office staff: orders, labels and QuickBooks", []string{
		"order:*", "order_item:override", "print_queue:*", "quickbooks:*", "isolation:view",
	}},
	{"warehouse", "Station workers scanning barcodes", []string{
		"order:view", "order_item:scan", "print_queue:view",
	}},
}

// Seed creates permissions, system profiles and stations. It is idempotent.
func Seed(db *gorm.DB) error {
	byCode := make(map[string]models.Permission, len(permissions))
	for _, p := range permissions {
		perm := models.Permission{ResourceType: p.ResourceType, Action: p.Action, Description: p.Description}
		if err := db.Where("resource_type = ? AND action = ?", p.ResourceType, p.Action).
			FirstOrCreate(&perm).Error; err != nil {
			return fmt.Errorf("seed permission %s:%s: %w", p.ResourceType, p.Action, err)
		}
		byCode[perm.Code()] = perm
	}

	for _, p := range profiles {
		var profile models.Profile
		err := db.Where("name = ?", p.Name).First(&profile).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			profile = models.Profile{Name: p.Name, Description: p.Description, IsSystem: true}
			if err := db.Create(&profile).Error; err != nil {
				return fmt.Errorf("seed profile %s: %w", p.Name, err)
			}
		} else if err != nil {
			return err
		}
		perms := make([]models.Permission, 0, len(p.Permissions))
		for _, code := range p.Permissions {
			perm, ok := byCode[code]
			if !ok {
				return fmt.Errorf("profile %s references unknown permission %s", p.Name, code)
			}
			perms = append(perms, perm)
		}
		if err := db.Model(&profile).Association("Permissions").Replace(perms); err != nil {
			return fmt.Errorf("seed profile %s permissions: %w", p.Name, err)
		}
	}

	for _, st := range DefaultStations {
		station := st
		if err := db.Where("name = ?", st.Name).
			Attrs(models.Station{Stage: st.Stage, Position: st.Position}).
			FirstOrCreate(&station).Error; err != nil {
			return fmt.Errorf("seed station %s: %w", st.Name, err)
		}
	}
	return nil
}
